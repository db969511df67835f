package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daviddao/skyclock/pkg/calendar"
	"github.com/daviddao/skyclock/pkg/model"
	"github.com/daviddao/skyclock/pkg/session"
)

var dateTimeFields = map[string]model.EditRef{
	"year":   session.Year,
	"month":  session.Month,
	"day":    session.Day,
	"hour":   session.Hour,
	"minute": session.Minute,
	"second": session.Second,
}

// dateTimeOrder applies fields from the largest unit down. Each field rolls
// over on its own, so a day being set is parked on the 1st until the month
// is in place.
var dateTimeOrder = []string{"year", "month", "day", "hour", "minute", "second"}

func addTime(root *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "time",
		Short: "Edit the simulation time.",
	}

	set := &cobra.Command{
		Use:   "set FIELD=VALUE...",
		Short: "Set local calendar fields. Out-of-range values roll over.",
		Example: `
skyc time set hour=21 minute=30
skyc time set year=1969 month=7 day=20
skyc time set minute=75        # 1h15 past the current hour
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vals, err := parseDateTimeArgs(args)
			if err != nil {
				return err
			}
			return a.timeEdit(cmd, func(s *session.Session) error {
				var refs []model.EditRef
				for _, name := range dateTimeOrder {
					if _, ok := vals[name]; ok {
						refs = append(refs, dateTimeFields[name])
					}
				}
				for _, ref := range refs {
					s.BeginEdit(ref)
				}
				if _, ok := vals["day"]; ok && len(vals) > 1 {
					s.SetDateTimeField(session.Day, 1)
				}
				for _, name := range dateTimeOrder {
					if v, ok := vals[name]; ok {
						s.SetDateTimeField(dateTimeFields[name], v)
					}
				}
				for _, ref := range refs {
					s.EndEdit(ref)
				}
				return nil
			})
		},
	}

	jd := &cobra.Command{
		Use:   "jd VALUE",
		Short: "Set the time as a Julian Day.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseFinite(args[0])
			if err != nil {
				return err
			}
			return a.timeEdit(cmd, func(s *session.Session) error {
				s.SetJD(v)
				return nil
			})
		},
	}

	mjd := &cobra.Command{
		Use:   "mjd VALUE",
		Short: "Set the time as a Modified Julian Day.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseFinite(args[0])
			if err != nil {
				return err
			}
			return a.timeEdit(cmd, func(s *session.Session) error {
				s.SetMJD(v)
				return nil
			})
		},
	}

	now := &cobra.Command{
		Use:   "now",
		Short: "Jump to the current wall-clock time.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.timeEdit(cmd, func(s *session.Session) error {
				s.SetNow()
				return nil
			})
		},
	}

	cmd.AddCommand(set, jd, mjd, now)
	root.AddCommand(cmd)
}

// timeEdit runs fn in an edit session and prints the resulting time.
func (a *app) timeEdit(cmd *cobra.Command, fn func(*session.Session) error) error {
	sess, err := a.edit(cmd.Context(), fn)
	if err != nil {
		return err
	}
	defer sess.Close()
	a.printTime(sess.TimeState())
	return nil
}

func (a *app) printTime(t model.TimeState) {
	if a.jsonOut {
		printJSON(a.out, map[string]interface{}{
			"jd":       t.JD,
			"mjd":      calendar.JDToMJD(t.JD),
			"utc":      calendar.FormatISO(t.JD) + "Z",
			"timerate": t.TimeRate,
		})
		return
	}
	fmt.Fprintf(a.out, "jd %.5f  %sZ  %s\n", t.JD, calendar.FormatISO(t.JD),
		describeRate(t.TimeRate, false))
}

// parseDateTimeArgs parses field=value pairs. Values may be any finite
// number; fractions are truncated when applied.
func parseDateTimeArgs(args []string) (map[string]float64, error) {
	vals := make(map[string]float64, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("expected FIELD=VALUE, got %q", arg)
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if _, known := dateTimeFields[name]; !known {
			return nil, fmt.Errorf("unknown field %q (want year, month, day, hour, minute or second)", name)
		}
		v, err := parseFinite(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		vals[name] = v
	}
	return vals, nil
}

// parseFinite parses a number, refusing NaN and infinities.
func parseFinite(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number: %q", raw)
	}
	return v, nil
}
