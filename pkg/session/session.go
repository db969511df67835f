// Package session ties the clock predictor, the calendar conversions and
// the write queues together into the edit-locally-then-persist flow.
//
// A field edit goes: input -> rollover normalization -> JD -> predictor
// resync -> queue enqueue -> forced display refresh. The server answer is
// persistence only. Status pushes from the poll loop never overwrite a
// field that is being edited or whose write is still queued.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/daviddao/skyclock/pkg/clock"
	"github.com/daviddao/skyclock/pkg/model"
	"github.com/daviddao/skyclock/pkg/queue"
	"github.com/daviddao/skyclock/pkg/remote"
)

// State is the edit state of a session.
type State int

const (
	Viewing State = iota
	Editing
)

func (s State) String() string {
	if s == Editing {
		return "editing"
	}
	return "viewing"
}

// Searcher looks up locations. *remote.Client implements it.
type Searcher interface {
	SearchLocations(ctx context.Context, term string) ([]string, error)
	NearbyLocations(ctx context.Context, planet string, lat, lon, radius float64) ([]string, error)
}

// Notice is a user-visible report of a write that did not succeed.
type Notice struct {
	Outcome  model.Outcome
	Endpoint string
	Message  string
}

// Notifier shows notices to the user.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notice) { f(n) }

// Journal records completed writes. *store.Store implements it.
type Journal interface {
	RecordEdit(ctx context.Context, rec model.EditRecord) error
}

// Config configures a Session. Poster is required.
type Config struct {
	Server   string // recorded in journal entries
	Poster   queue.Poster
	Searcher Searcher
	Clock    clock.Clock
	Delay    time.Duration // debounce delay of every queue
	Timeout  time.Duration // per-request timeout
	Logger   zerolog.Logger
	Metrics  *queue.Metrics
	Notifier Notifier
	Journal  Journal

	// Render, if set, receives the forced refresh that follows every edit.
	Render func([]FieldUpdate)
}

// Session is the edit session of one client. Safe for concurrent use.
type Session struct {
	cfg  Config
	clk  clock.Clock
	pred *clock.Predictor
	log  zerolog.Logger

	timeQ *queue.Queue[model.TimeUpdate]
	locQ  map[string]*queue.Queue[model.LocationUpdate]

	lookups lookups

	directWake chan struct{}
	directDone chan struct{}
	closeOnce  sync.Once

	mu          sync.Mutex
	paused      map[model.EditRef]bool
	editShift   *float64 // gmtShift snapshot of the current time edit
	civil       model.CivilDateTime
	civilValid  bool
	timePosts   int // direct time posts not yet answered
	directQ     []directPost
	directIdle  chan struct{} // closed when timePosts drops to 0
	closed      bool
	loc         model.Location
	props       map[string]string
	propQ       map[string]*queue.Queue[model.PropertyUpdate]
	propID      int
	view        model.View
	selection   string
	shown       map[model.EditRef]string
	force       bool
	haveStatus  bool
	lost        bool
	lostErr     error
	lastContact time.Time
}

// lookups holds one Superseder per logical lookup.
type lookups struct {
	search remote.Superseder
	nearby remote.Superseder
}

// New returns a session in the Viewing state.
func New(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	s := &Session{
		cfg:        cfg,
		clk:        cfg.Clock,
		pred:       clock.NewPredictor(cfg.Clock),
		log:        cfg.Logger.With().Str("component", "session").Logger(),
		locQ:       map[string]*queue.Queue[model.LocationUpdate]{},
		directWake: make(chan struct{}, 1),
		directDone: make(chan struct{}),
		paused:     map[model.EditRef]bool{},
		props:      map[string]string{},
		propQ:      map[string]*queue.Queue[model.PropertyUpdate]{},
		propID:     -2,
		shown:      map[model.EditRef]string{},
	}

	s.timeQ = queue.New(remote.TimeEndpoint, cfg.Poster, s.queueConfig(), completion[model.TimeUpdate](s))
	for _, g := range locationGroups {
		s.locQ[g] = queue.New(remote.LocationFieldsEndpoint, cfg.Poster, s.queueConfig(), completion[model.LocationUpdate](s))
	}
	go s.directLoop()
	return s
}

func (s *Session) queueConfig() queue.Config {
	return queue.Config{
		Delay:   s.cfg.Delay,
		Timeout: s.cfg.Timeout,
		Clock:   s.clk,
		Logger:  s.cfg.Logger,
		Metrics: s.cfg.Metrics,
	}
}

// Predictor returns the clock predictor of the session.
func (s *Session) Predictor() *clock.Predictor { return s.pred }

// State reports Editing while any field has focus.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.paused) > 0 {
		return Editing
	}
	return Viewing
}

// Paused reports whether display refreshes of ref are suspended.
func (s *Session) Paused(ref model.EditRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused[ref]
}

// BeginEdit marks ref as being edited. Refreshes skip it until EndEdit.
// Editing a time field also freezes the clock prediction and snapshots the
// timezone offset used to convert local input to JD.
func (s *Session) BeginEdit(ref model.EditRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused[ref] {
		return
	}
	if ref.IsTime() && !s.timeEditingLocked() {
		s.enterTimeEditLocked()
	}
	s.paused[ref] = true
	s.log.Debug().Stringer("field", ref).Msg("session: edit started")
}

// EndEdit releases ref. When the last time field is released prediction
// resumes from the edited value.
func (s *Session) EndEdit(ref model.EditRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused[ref] {
		return
	}
	delete(s.paused, ref)
	if ref.IsTime() && !s.timeEditingLocked() {
		s.editShift = nil
		s.pred.Resume()
	}
	s.log.Debug().Stringer("field", ref).Msg("session: edit ended")
}

func (s *Session) enterTimeEditLocked() {
	s.seedCivilLocked()
	shift := s.pred.State().GMTShift
	s.editShift = &shift
	s.pred.Suspend()
}

func (s *Session) timeEditingLocked() bool {
	for ref := range s.paused {
		if ref.IsTime() {
			return true
		}
	}
	return false
}

// Sync sends every pending edit without waiting for its debounce delay and
// waits until all writes, queued or direct, have been answered.
func (s *Session) Sync(ctx context.Context) error {
	if err := s.timeQ.Flush(ctx); err != nil {
		return err
	}
	for _, g := range locationGroups {
		if err := s.locQ[g].Flush(ctx); err != nil {
			return err
		}
	}
	s.mu.Lock()
	props := make([]*queue.Queue[model.PropertyUpdate], 0, len(s.propQ))
	for _, q := range s.propQ {
		props = append(props, q)
	}
	s.mu.Unlock()
	for _, q := range props {
		if err := q.Flush(ctx); err != nil {
			return err
		}
	}

	s.mu.Lock()
	idle := s.directIdle
	s.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drops pending edits, aborts lookups and stops the direct writer.
// Call Sync first to keep pending edits.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.timeQ.Close()
		for _, q := range s.locQ {
			q.Close()
		}
		s.mu.Lock()
		for _, q := range s.propQ {
			q.Close()
		}
		s.closed = true
		dropped := len(s.directQ)
		s.directQ = nil
		s.finishDirectLocked(dropped)
		s.mu.Unlock()
		s.lookups.search.Abort()
		s.lookups.nearby.Abort()
		close(s.directDone)
	})
}
