package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/daviddao/skyclock/pkg/model"
	"github.com/daviddao/skyclock/pkg/poll"
	"github.com/daviddao/skyclock/pkg/queue"
	"github.com/daviddao/skyclock/pkg/session"
)

func addWatch(root *cobra.Command, a *app) {
	var metricsAddr string
	var renderInterval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the server clock and print fields as they change.",
		Example: `
skyc watch
skyc watch --json --render-interval 100ms
skyc watch --metrics-addr :9090
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.cmdWatch(cmd.Context(), metricsAddr, renderInterval)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().DurationVar(&renderInterval, "render-interval", 0, "also refresh the display between polls")
	root.AddCommand(cmd)
}

func (a *app) cmdWatch(ctx context.Context, metricsAddr string, renderInterval time.Duration) error {
	reg := prometheus.NewRegistry()
	metrics := queue.NewMetrics(reg)
	pollMetrics := newWatchMetrics(reg)

	pr := &fieldPrinter{a: a}
	sess := a.newSession(nil, nil, metrics)
	defer sess.Close()
	pr.sess = sess

	server := a.client.Server()
	journal := a.journal()
	loop := poll.New(a.client, sess, poll.Config{
		Interval:       a.cfg.PollInterval,
		Timeout:        a.cfg.RequestTimeout,
		RenderInterval: renderInterval,
		Logger:         a.log,
		Render:         pr.print,
		OnError: func(error) {
			pollMetrics.observe(sess.Connection())
			pr.checkConnection()
		},
		OnStatus: func(st *model.Status) {
			pollMetrics.observe(sess.Connection())
			pr.checkConnection()
			if journal == nil {
				return
			}
			if err := journal.SaveSnapshot(ctx, server, st); err != nil {
				a.log.Warn().Err(err).Msg("watch: snapshot not saved")
			}
		},
	})

	fmt.Fprintf(a.errOut, "watching %s (poll every %s, ctrl-c to stop)\n", server, a.cfg.PollInterval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(ctx) })
	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: metricsHandler(reg)}
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		fmt.Fprintln(a.errOut, "stopped")
		return nil
	}
	return err
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

// watchMetrics exports the connection state seen by watch.
type watchMetrics struct {
	lost        prometheus.Gauge
	lastContact prometheus.Gauge
}

func newWatchMetrics(reg prometheus.Registerer) *watchMetrics {
	m := &watchMetrics{
		lost: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "skyclock",
			Name:      "connection_lost",
			Help:      "1 while the server is unreachable.",
		}),
		lastContact: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "skyclock",
			Name:      "last_contact_timestamp_seconds",
			Help:      "Unix time of the last successful status poll.",
		}),
	}
	reg.MustRegister(m.lost, m.lastContact)
	return m
}

func (m *watchMetrics) observe(c session.Connection) {
	if c.Lost {
		m.lost.Set(1)
	} else {
		m.lost.Set(0)
	}
	if !c.LastContact.IsZero() {
		m.lastContact.Set(float64(c.LastContact.UnixNano()) / 1e9)
	}
}

// fieldPrinter writes field updates, and connection changes, to a.out.
type fieldPrinter struct {
	a    *app
	sess *session.Session

	mu   sync.Mutex
	lost bool
}

// checkConnection prints a line when the connection is lost or restored.
func (p *fieldPrinter) checkConnection() {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.sess.Connection()
	if c.Lost != p.lost {
		p.lost = c.Lost
		p.connection(c)
	}
}

func (p *fieldPrinter) print(updates []session.FieldUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, u := range updates {
		if p.a.jsonOut {
			b, _ := json.Marshal(map[string]string{"field": u.Ref.String(), "value": u.Value})
			fmt.Fprintln(p.a.out, string(b))
			continue
		}
		fmt.Fprintf(p.a.out, "%-18s %s\n", u.Ref.String(), u.Value)
	}
}

func (p *fieldPrinter) connection(c session.Connection) {
	if p.a.jsonOut {
		ev := map[string]interface{}{"connection": "restored"}
		if c.Lost {
			ev["connection"] = "lost"
			ev["error"] = fmt.Sprint(c.Err)
		}
		b, _ := json.Marshal(ev)
		fmt.Fprintln(p.a.out, string(b))
		return
	}
	if !c.Lost {
		fmt.Fprintln(p.a.out, color.GreenString("[+] connection restored"))
		return
	}
	since := "never reached"
	if !c.LastContact.IsZero() {
		since = "last contact " + humanize.Time(c.LastContact)
	}
	fmt.Fprintln(p.a.out, color.RedString("[-] connection lost (%s): %v", since, c.Err))
}
