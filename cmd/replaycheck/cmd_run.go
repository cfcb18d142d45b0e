package main

import (
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var flags harnessFlags

	cmd := &cobra.Command{
		Use:   "run <commits-dir>",
		Short: "Run the consistency replay and the saved-state round trip under the retry policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := flags.runner(cmd, args[0])
			if err != nil {
				return err
			}
			return r.Run()
		},
	}

	flags.register(cmd)
	return cmd
}
