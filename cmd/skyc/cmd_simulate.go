package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/daviddao/skyclock/pkg/calendar"
	"github.com/daviddao/skyclock/pkg/model"
	"github.com/daviddao/skyclock/pkg/simulator"
)

func addSimulate(root *cobra.Command, a *app) {
	var addr string
	var startJD, rate float64
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a local server that speaks the remote control API.",
		Long: `simulate serves the status, time, location and property endpoints
from an in-memory clock, for trying skyc without a planetarium program.`,
		Example: `
skyc simulate --addr :8090
skyc simulate --jd 2451545 --rate 0
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := simulator.Options{Logger: a.log}
			if startJD != 0 {
				opts.Start = model.TimeState{JD: startJD, TimeRate: rate * calendar.JDSecond}
			}
			return a.simulate(cmd.Context(), addr, simulator.New(opts))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8090", "listen address")
	cmd.Flags().Float64Var(&startJD, "jd", 0, "start time as a Julian Day (default now)")
	cmd.Flags().Float64Var(&rate, "rate", 1, "start rate as a multiple of real time, with --jd")
	root.AddCommand(cmd)
}

func (a *app) simulate(ctx context.Context, addr string, sim *simulator.Server) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("simulate: %w", err)
	}
	srv := &http.Server{Handler: sim.Handler(), ReadHeaderTimeout: 5 * time.Second}
	fmt.Fprintf(a.errOut, "simulating on http://%s (ctrl-c to stop)\n", ln.Addr())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return fmt.Errorf("simulate: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("simulate: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("simulate: %w", err)
	}
	fmt.Fprintln(a.errOut, "stopped")
	return nil
}
