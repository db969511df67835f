// Package poll drives a session from periodic status requests: each tick
// fetches the server status, hands it to the session and renders whatever
// display fields changed.
package poll

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/daviddao/skyclock/pkg/model"
	"github.com/daviddao/skyclock/pkg/remote"
	"github.com/daviddao/skyclock/pkg/session"
)

// DefaultInterval is the poll interval used when Config.Interval is zero.
const DefaultInterval = time.Second

// StatusSource fetches the server status. *remote.Client implements it.
type StatusSource interface {
	Status(ctx context.Context, actionID, propID int) (*model.Status, error)
}

// Target receives poll results. *session.Session implements it.
type Target interface {
	ApplyStatus(*model.Status)
	MarkConnectionLost(error)
	PropertyChangeID() int
	Refresh() []session.FieldUpdate
}

// Config configures a Loop.
type Config struct {
	Interval time.Duration // DefaultInterval if zero
	Timeout  time.Duration // per-poll timeout, Interval if zero

	// RenderInterval, if set, refreshes the display between polls too.
	RenderInterval time.Duration

	Logger zerolog.Logger

	// Render receives the changed fields after every poll and render tick.
	Render func([]session.FieldUpdate)

	// OnStatus is called with every status applied.
	OnStatus func(*model.Status)

	// OnError is called with every failed poll except cancellations.
	OnError func(error)
}

// Loop polls a StatusSource on a fixed interval.
type Loop struct {
	src    StatusSource
	target Target
	cfg    Config
	log    zerolog.Logger
}

// New returns a loop feeding target from src.
func New(src StatusSource, target Target, cfg Config) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	return &Loop{
		src:    src,
		target: target,
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "poll").Logger(),
	}
}

// PollOnce fetches one status and applies it. Failures other than
// cancellation mark the connection lost and are returned.
func (l *Loop) PollOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	st, err := l.src.Status(ctx, -1, l.target.PropertyChangeID())
	if err != nil {
		if remote.IsAborted(err) {
			return err
		}
		l.target.MarkConnectionLost(err)
		if l.cfg.OnError != nil {
			l.cfg.OnError(err)
		}
		return err
	}
	l.target.ApplyStatus(st)
	if l.cfg.OnStatus != nil {
		l.cfg.OnStatus(st)
	}
	return nil
}

// Run polls until ctx is done. The first poll happens at once.
func (l *Loop) Run(ctx context.Context) error {
	l.tick(ctx)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	var renderC <-chan time.Time
	if l.cfg.RenderInterval > 0 {
		rt := time.NewTicker(l.cfg.RenderInterval)
		defer rt.Stop()
		renderC = rt.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.tick(ctx)
		case <-renderC:
			l.render()
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	if err := l.PollOnce(ctx); err != nil && !remote.IsAborted(err) {
		l.log.Debug().Err(err).Msg("poll: status failed")
	}
	l.render()
}

func (l *Loop) render() {
	if l.cfg.Render == nil {
		return
	}
	if updates := l.target.Refresh(); len(updates) > 0 {
		l.cfg.Render(updates)
	}
}
