package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/daviddao/skyclock/pkg/calendar"
	"github.com/daviddao/skyclock/pkg/model"
	"github.com/daviddao/skyclock/pkg/store"
)

func addStatus(root *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the server's time, rate and location.",
		Example: `
skyc status
skyc status --json
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.cmdStatus(cmd)
		},
	}
	root.AddCommand(cmd)
}

// statusView is the JSON shape of status output.
type statusView struct {
	Server   string          `json:"server"`
	Online   bool            `json:"online"`
	SeenAt   *time.Time      `json:"seen_at,omitempty"`
	Time     model.TimeState `json:"time"`
	MJD      float64         `json:"mjd"`
	UTC      string          `json:"utc"`
	Local    string          `json:"local"`
	Rate     float64         `json:"rate_x"`
	Location model.Location  `json:"location"`
}

func newStatusView(server string, t model.TimeState, loc model.Location) statusView {
	return statusView{
		Server:   server,
		Online:   true,
		Time:     t,
		MJD:      calendar.JDToMJD(t.JD),
		UTC:      calendar.FormatISO(t.JD) + "Z",
		Local:    calendar.FormatISO(t.JD + t.GMTShift),
		Rate:     t.TimeRate / calendar.JDSecond,
		Location: loc,
	}
}

func (a *app) cmdStatus(cmd *cobra.Command) error {
	ctx := cmd.Context()
	st, err := a.client.Status(ctx, -1, -1)
	if err != nil {
		// Fall back to the last state this machine saw.
		if j := a.journal(); j != nil {
			snap, serr := j.LatestSnapshot(ctx, a.client.Server())
			if serr == nil {
				v := newStatusView(snap.Server, snap.Time, snap.Location)
				v.Online = false
				v.SeenAt = &snap.SeenAt
				a.printStatus(v)
			} else if !errors.Is(serr, store.ErrNotFound) {
				a.log.Warn().Err(serr).Msg("status: snapshot lookup failed")
			}
		}
		return fmt.Errorf("status: %w", err)
	}

	if j := a.journal(); j != nil {
		if err := j.SaveSnapshot(ctx, a.client.Server(), st); err != nil {
			a.log.Warn().Err(err).Msg("status: snapshot not saved")
		}
	}
	a.printStatus(newStatusView(a.client.Server(), st.Time, st.Location))
	return nil
}

func (a *app) printStatus(v statusView) {
	if a.jsonOut {
		printJSON(a.out, v)
		return
	}
	w := a.out
	bold := color.New(color.Bold)
	if v.Online {
		fmt.Fprintf(w, "%s %s %s\n", bold.Sprint("server  "), v.Server, color.GreenString("[+] online"))
	} else {
		seen := "never"
		if v.SeenAt != nil {
			seen = humanize.Time(*v.SeenAt)
		}
		fmt.Fprintf(w, "%s %s %s\n", bold.Sprint("server  "), v.Server,
			color.RedString("[-] unreachable, last seen %s", seen))
	}
	zone := v.Time.TimeZone
	if zone == "" {
		zone = fmt.Sprintf("UTC%+.1fh", v.Time.GMTShift*24)
	}
	fmt.Fprintf(w, "%s %s UTC  (local %s, %s)\n", bold.Sprint("time    "), v.UTC, v.Local, zone)
	fmt.Fprintf(w, "%s %.5f  mjd %.5f\n", bold.Sprint("jd      "), v.Time.JD, v.MJD)
	fmt.Fprintf(w, "%s %s\n", bold.Sprint("rate    "), describeRate(v.Time.TimeRate, v.Time.IsTimeNow))
	printLocation(w, bold.Sprint("location"), v.Location)
}

// describeRate renders a rate in JD per second as a multiple of real time.
func describeRate(rate float64, isNow bool) string {
	x := rate / calendar.JDSecond
	var s string
	switch {
	case rate == 0:
		s = color.YellowString("stopped")
	case x > 0.999999 && x < 1.000001:
		s = "real time"
	default:
		s = humanize.FtoaWithDigits(x, 3) + "x real time"
	}
	if isNow {
		s += color.GreenString(" [now]")
	}
	return s
}

func printLocation(w io.Writer, label string, loc model.Location) {
	place := loc.Name
	if loc.Country != "" {
		place += ", " + loc.Country
	}
	fmt.Fprintf(w, "%s %s (%s) %.4f, %.4f, %d m\n",
		label, place, loc.Planet, loc.Latitude, loc.Longitude, loc.Altitude)
}
