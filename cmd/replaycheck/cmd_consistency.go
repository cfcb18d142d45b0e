package main

import (
	"github.com/spf13/cobra"
)

func newConsistencyCmd() *cobra.Command {
	var flags harnessFlags

	cmd := &cobra.Command{
		Use:   "consistency <commits-dir>",
		Short: "Run only the incremental-vs-full consistency replay (no retry)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := flags.runner(cmd, args[0])
			if err != nil {
				return err
			}
			return r.RunConsistency()
		},
	}

	flags.register(cmd)
	return cmd
}
