package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func addVersion(root *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the skyc version.",
		Args:  cobra.NoArgs,
		// No config, server or journal needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(*cobra.Command, []string) {
			if a.jsonOut {
				printJSON(a.out, map[string]string{"version": version})
				return
			}
			fmt.Fprintln(a.out, "skyc", version)
		},
	}
	root.AddCommand(cmd)
}
