package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/daviddao/skyclock/pkg/poll"
	"github.com/daviddao/skyclock/pkg/session"
)

var locationFields = []string{"latitude", "longitude", "altitude", "planet", "name", "country"}

func addLocation(root *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "location",
		Short: "Show, edit and search the observer location.",
	}

	set := &cobra.Command{
		Use:   "set FIELD=VALUE...",
		Short: "Set location fields: latitude, longitude, altitude, planet, name, country.",
		Example: `
skyc location set latitude=48.2 longitude=16.37
skyc location set planet=Mars
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			type kv struct{ field, value string }
			var edits []kv
			for _, arg := range args {
				field, value, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("expected FIELD=VALUE, got %q", arg)
				}
				field = strings.ToLower(strings.TrimSpace(field))
				if !knownLocationField(field) {
					return fmt.Errorf("unknown field %q (want %s)", field, strings.Join(locationFields, ", "))
				}
				edits = append(edits, kv{field, value})
			}

			sess, err := a.edit(cmd.Context(), func(s *session.Session) error {
				for _, e := range edits {
					ref := session.LocationField(e.field)
					s.BeginEdit(ref)
					changed := s.SetLocationField(e.field, e.value)
					s.EndEdit(ref)
					if !changed && !a.locationHolds(s, e.field, e.value) {
						return fmt.Errorf("invalid %s %q", e.field, e.value)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			defer sess.Close()
			if a.jsonOut {
				printJSON(a.out, sess.Location())
				return nil
			}
			printLocation(a.out, color.New(color.Bold).Sprint("location"), sess.Location())
			return nil
		},
	}

	search := &cobra.Command{
		Use:   "search TERM",
		Short: "List known places starting with TERM.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess := a.newSession(nil, nil, nil)
			defer sess.Close()
			names, err := sess.SearchLocations(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.printNames(names)
			return nil
		},
	}

	var radius float64
	nearby := &cobra.Command{
		Use:   "nearby",
		Short: "List known places near the current location.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess := a.newSession(nil, nil, nil)
			defer sess.Close()
			loop := poll.New(a.client, sess, poll.Config{Timeout: a.cfg.RequestTimeout, Logger: a.log})
			if err := loop.PollOnce(cmd.Context()); err != nil {
				return fmt.Errorf("read server state: %w", err)
			}
			names, err := sess.NearbyLocations(cmd.Context(), radius)
			if err != nil {
				return err
			}
			a.printNames(names)
			return nil
		},
	}
	nearby.Flags().Float64Var(&radius, "radius", 5, "search radius in degrees")

	cmd.AddCommand(set, search, nearby)
	root.AddCommand(cmd)
}

func knownLocationField(field string) bool {
	for _, f := range locationFields {
		if f == field {
			return true
		}
	}
	return false
}

// locationHolds reports whether an unchanged field already had value, as
// opposed to value having been refused.
func (a *app) locationHolds(s *session.Session, field, value string) bool {
	for _, u := range s.ForceRefresh() {
		if u.Ref != session.LocationField(field) {
			continue
		}
		value = strings.TrimSpace(value)
		if x, err := strconv.ParseFloat(value, 64); err == nil {
			y, err := strconv.ParseFloat(u.Value, 64)
			return err == nil && x == y
		}
		return strings.EqualFold(u.Value, value)
	}
	return false
}

func (a *app) printNames(names []string) {
	if a.jsonOut {
		if names == nil {
			names = []string{}
		}
		printJSON(a.out, names)
		return
	}
	if len(names) == 0 {
		fmt.Fprintln(a.out, color.New(color.Faint, color.Italic).Sprint("no matches"))
		return
	}
	for _, n := range names {
		fmt.Fprintln(a.out, n)
	}
}
