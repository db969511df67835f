package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daviddao/skyclock/pkg/session"
)

func addProp(root *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "prop",
		Short: "Set server properties.",
	}
	set := &cobra.Command{
		Use:   "set ID VALUE",
		Short: "Set a property, e.g. actionShowGrid true.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, value := args[0], args[1]
			sess, err := a.edit(cmd.Context(), func(s *session.Session) error {
				s.SetProperty(id, value)
				return nil
			})
			if err != nil {
				return err
			}
			defer sess.Close()
			if a.jsonOut {
				printJSON(a.out, map[string]string{"id": id, "value": value})
				return nil
			}
			fmt.Fprintf(a.out, "%s = %s\n", id, value)
			return nil
		},
	}
	cmd.AddCommand(set)
	root.AddCommand(cmd)
}
