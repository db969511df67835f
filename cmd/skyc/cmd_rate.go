package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daviddao/skyclock/pkg/calendar"
	"github.com/daviddao/skyclock/pkg/session"
)

func addRate(root *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "rate",
		Short: "Change how fast simulation time runs.",
		Example: `
skyc rate faster
skyc rate toggle
skyc rate set 60       # one simulated minute per second
skyc rate set -- -10   # ten times real time, backwards
`,
	}

	step := func(use, short string, fn func(*session.Session) float64) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.timeEdit(cmd, func(s *session.Session) error {
					fn(s)
					return nil
				})
			},
		}
	}

	set := &cobra.Command{
		Use:   "set MULTIPLIER",
		Short: "Set the rate as a multiple of real time (0 stops the clock).",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, err := parseFinite(args[0])
			if err != nil {
				return err
			}
			return a.timeEdit(cmd, func(s *session.Session) error {
				if !s.SetRate(x * calendar.JDSecond) {
					return fmt.Errorf("invalid rate %v", x)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(
		step("faster", "Step the rate up.", (*session.Session).IncreaseRate),
		step("slower", "Step the rate down.", (*session.Session).DecreaseRate),
		step("toggle", "Stop a running clock, or run a stopped one at real time.", (*session.Session).TogglePlayPause),
		set,
	)
	root.AddCommand(cmd)
}
