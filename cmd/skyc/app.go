package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/daviddao/skyclock/pkg/config"
	"github.com/daviddao/skyclock/pkg/logging"
	"github.com/daviddao/skyclock/pkg/poll"
	"github.com/daviddao/skyclock/pkg/queue"
	"github.com/daviddao/skyclock/pkg/remote"
	"github.com/daviddao/skyclock/pkg/session"
	"github.com/daviddao/skyclock/pkg/store"
	"github.com/daviddao/skyclock/pkg/tracing"
)

// app holds shared state for all CLI subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	jsonOut bool

	cfg    *config.Config
	log    zerolog.Logger
	out    io.Writer
	errOut io.Writer

	client          *remote.Client
	store           store.StoreInterface
	shutdownTracing func(context.Context) error
}

func newApp(out, errOut io.Writer) *app {
	return &app{
		v:      config.NewViper(),
		log:    zerolog.Nop(),
		out:    out,
		errOut: errOut,
	}
}

// setup loads the configuration and builds the logger, tracer and client.
// It runs before every command.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.log, err = logging.New(cfg.LogLevel, a.errOut)
	if err != nil {
		return err
	}
	if f := config.ConfigFile(a.v); f != "" {
		a.log.Debug().Str("file", f).Msg("config loaded")
	}

	a.shutdownTracing, err = tracing.Setup(cmd.Context(), "skyc", cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	a.client, err = remote.New(cfg.Server,
		remote.WithTimeout(cfg.RequestTimeout),
		remote.WithLogger(a.log))
	return err
}

// openStore opens the journal, creating its directory on first use.
func (a *app) openStore() (store.StoreInterface, error) {
	if a.store != nil {
		return a.store, nil
	}
	if err := os.MkdirAll(filepath.Dir(a.cfg.DB), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create %s: %w", filepath.Dir(a.cfg.DB), err)
	}
	s, err := store.New(a.cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("cannot open database %q: %w", a.cfg.DB, err)
	}
	a.store = s
	return s, nil
}

// journal is openStore for callers that can run without one.
func (a *app) journal() store.StoreInterface {
	s, err := a.openStore()
	if err != nil {
		a.log.Warn().Err(err).Msg("journal unavailable")
		return nil
	}
	return s
}

// Close releases the database and flushes pending spans.
func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
		a.store = nil
	}
	if a.shutdownTracing != nil {
		_ = a.shutdownTracing(context.Background())
		a.shutdownTracing = nil
	}
}

// noticeLog collects write failures reported by a session.
type noticeLog struct {
	mu      sync.Mutex
	notices []session.Notice
}

func (n *noticeLog) Notify(x session.Notice) {
	n.mu.Lock()
	n.notices = append(n.notices, x)
	n.mu.Unlock()
}

func (n *noticeLog) err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var errs []error
	for _, x := range n.notices {
		errs = append(errs, fmt.Errorf("%s %s: %s", x.Endpoint, x.Outcome, x.Message))
	}
	return errors.Join(errs...)
}

// newSession returns a session wired to the server and the journal.
func (a *app) newSession(notices session.Notifier, render func([]session.FieldUpdate), metrics *queue.Metrics) *session.Session {
	cfg := session.Config{
		Server:   a.client.Server(),
		Poster:   a.client,
		Searcher: a.client,
		Delay:    a.cfg.EditUpdateDelay,
		Timeout:  a.cfg.RequestTimeout,
		Logger:   a.log,
		Notifier: notices,
		Render:   render,
		Metrics:  metrics,
	}
	if j := a.journal(); j != nil {
		cfg.Journal = j
	}
	return session.New(cfg)
}

// edit loads the server state into a fresh session, applies fn to it and
// waits until the server has answered every write fn caused. Write
// failures are returned as one error.
func (a *app) edit(ctx context.Context, fn func(*session.Session) error) (*session.Session, error) {
	notices := &noticeLog{}
	sess := a.newSession(notices, nil, nil)

	loop := poll.New(a.client, sess, poll.Config{Timeout: a.cfg.RequestTimeout, Logger: a.log})
	if err := loop.PollOnce(ctx); err != nil {
		sess.Close()
		return nil, fmt.Errorf("read server state: %w", err)
	}
	if err := fn(sess); err != nil {
		sess.Close()
		return nil, err
	}
	if err := sess.Sync(ctx); err != nil {
		sess.Close()
		return nil, err
	}
	if err := notices.err(); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

// printJSON writes v to w as indented JSON.
func printJSON(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
