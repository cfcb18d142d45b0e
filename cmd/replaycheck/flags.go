package main

import (
	"github.com/spf13/cobra"

	"github.com/odvcencio/replaycheck/pkg/harness"
)

// harnessFlags are the flags shared by every replaying subcommand. Values
// layer as defaults < config file < flags.
type harnessFlags struct {
	configPath string
	stubBundle string
	analyzer   string
	retries    int
	debug      bool
}

func (f *harnessFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configPath, "config", "", "path to a replaycheck TOML config file")
	cmd.Flags().StringVar(&f.stubBundle, "stub-bundle", "", "path to the stub-library archive (.zip or .tar.zst)")
	cmd.Flags().StringVar(&f.analyzer, "analyzer", "", "analysis service executable (overrides config and $REPLAYCHECK_ANALYZER)")
	cmd.Flags().IntVar(&f.retries, "retries", 0, "retry budget for infrastructure failures")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "stop at the first discrepancy and log verbosely")
}

// runner resolves the layered configuration and builds the harness runner
// for commitsDir.
func (f *harnessFlags) runner(cmd *cobra.Command, commitsDir string) (*harness.Runner, error) {
	setupLogging(f.debug)

	cfg := harness.Default()
	if f.configPath != "" {
		var err error
		cfg, err = harness.Load(f.configPath)
		if err != nil {
			return nil, err
		}
	}
	if f.stubBundle != "" {
		cfg.Stubs.Bundle = f.stubBundle
	}
	if f.analyzer != "" {
		cfg.Service.Bin = f.analyzer
	}
	if cmd.Flags().Changed("retries") {
		cfg.Retries = f.retries
	}

	return &harness.Runner{
		Config:     cfg,
		CommitsDir: commitsDir,
		Debug:      f.debug,
	}, nil
}
