// Command skyc drives the clock of a remote planetarium program: it shows
// the predicted time, edits date, time, rate and location through the
// remote control API, and keeps a local journal of every write.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/daviddao/skyclock/pkg/config"
)

const version = "1.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	a := newApp(os.Stdout, os.Stderr)
	err := newRootCmd(a).ExecuteContext(ctx)
	a.Close()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "skyc",
		Short: "Remote clock and location control for a planetarium server.",
		Long: `skyc mirrors the clock of a planetarium program running the remote
control plugin. Time is kept as a Julian Day; edits are applied locally at
once and sent to the server through a debounced write queue.

Configuration is read from .skyclock.yaml (working directory, then home),
SKYCLOCK_* environment variables and flags, in increasing priority.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default .skyclock.yaml)")
	pf.BoolVar(&a.jsonOut, "json", false, "JSON output")
	pf.String("server", "", "server URL, e.g. http://localhost:8090")
	pf.String("db", "", "journal database path")
	pf.String("log-level", "", "log level (debug, info, warn, error, disabled)")
	pf.Duration("edit-update-delay", 0, "debounce delay of edits")
	pf.Duration("poll-interval", 0, "status poll interval")
	pf.Duration("request-timeout", 0, "per-request timeout")
	pf.String("otlp-endpoint", "", "OTLP/HTTP trace endpoint, e.g. http://localhost:4318")
	for flag, key := range map[string]string{
		"server":            config.KeyServer,
		"db":                config.KeyDB,
		"log-level":         config.KeyLogLevel,
		"edit-update-delay": config.KeyEditUpdateDelay,
		"poll-interval":     config.KeyPollInterval,
		"request-timeout":   config.KeyRequestTimeout,
		"otlp-endpoint":     config.KeyOTLPEndpoint,
	} {
		if err := a.v.BindPFlag(key, pf.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}

	addStatus(root, a)
	addTime(root, a)
	addRate(root, a)
	addLocation(root, a)
	addProp(root, a)
	addWatch(root, a)
	addLog(root, a)
	addSimulate(root, a)
	addVersion(root, a)
	return root
}
