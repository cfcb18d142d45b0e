package main

import (
	"github.com/spf13/cobra"
)

func newSavedStateCmd() *cobra.Command {
	var flags harnessFlags

	cmd := &cobra.Command{
		Use:   "saved-state <commits-dir>",
		Short: "Run only the saved-state round-trip test (no retry)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := flags.runner(cmd, args[0])
			if err != nil {
				return err
			}
			return r.RunSavedState()
		},
	}

	flags.register(cmd)
	return cmd
}
