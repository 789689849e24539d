package verify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/attendmeet/internal/core"
	"github.com/dkeye/attendmeet/internal/domain"
	"github.com/dkeye/attendmeet/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

const ledgerTimeout = 10 * time.Second

// Subject is the participant side of a verification session.
type Subject interface {
	// Capture asks the participant for a live sample and waits for it.
	Capture(ctx context.Context) ([]byte, error)
	// Report tells the participant how an attempt went. It must not block.
	Report(domain.Attempt)
}

type Checker interface {
	Verify(ctx context.Context, identity domain.Identity, live []byte) Result
}

type Recorder interface {
	Record(ctx context.Context, a domain.Attempt) error
}

// State is where a session stands in its attempt cycle. Idle waits for the
// next tick, Scheduled waits for the participant's live sample and InFlight
// covers the gateway call and the ledger write.
type State int32

const (
	StateIdle State = iota
	StateScheduled
	StateInFlight
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateInFlight:
		return "in-flight"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type Options struct {
	InitialDelay   time.Duration
	Interval       time.Duration
	CaptureTimeout time.Duration
}

// Session is the verification schedule of one participant connection.
type Session struct {
	id       core.ConnID
	identity domain.Identity
	room     domain.RoomCode
	subject  Subject

	stop     chan struct{}
	once     sync.Once
	stopped   atomic.Bool
	capturing atomic.Int32
	inflight  atomic.Int32
}

func (s *Session) State() State {
	switch {
	case s.stopped.Load():
		return StateStopped
	case s.inflight.Load() > 0:
		return StateInFlight
	case s.capturing.Load() > 0:
		return StateScheduled
	}
	return StateIdle
}

func (s *Session) halt() bool {
	first := false
	s.once.Do(func() {
		s.stopped.Store(true)
		close(s.stop)
		first = true
	})
	return first
}

// Scheduler fires one verification attempt per session after InitialDelay
// and then every Interval, whatever the previous attempt did. Sessions never
// wait on each other, and a stopped session lets its in-flight attempt finish
// and get recorded.
type Scheduler struct {
	checker Checker
	ledger  Recorder
	opts    Options
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.Mutex
	sessions map[core.ConnID]*Session
	closed   bool
	wg       conc.WaitGroup
}

func NewScheduler(checker Checker, ledger Recorder, opts Options, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		checker:  checker,
		ledger:   ledger,
		opts:     opts,
		metrics:  m,
		now:      time.Now,
		sessions: make(map[core.ConnID]*Session),
	}
}

// Start begins a schedule for id, replacing any previous one.
func (sc *Scheduler) Start(id core.ConnID, identity domain.Identity, room domain.RoomCode, subject Subject) *Session {
	s := &Session{
		id:       id,
		identity: identity,
		room:     room,
		subject:  subject,
		stop:     make(chan struct{}),
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		s.halt()
		return s
	}
	if prev, ok := sc.sessions[id]; ok {
		sc.haltSession(prev)
	}
	sc.sessions[id] = s
	sc.metrics.SessionStarted()
	sc.wg.Go(func() { sc.loop(s) })

	log.Info().
		Str("module", "verify.scheduler").
		Str("conn", id.String()).
		Str("identity", identity.String()).
		Str("room", room.String()).
		Dur("initial_delay", sc.opts.InitialDelay).
		Dur("interval", sc.opts.Interval).
		Msg("verification scheduled")
	return s
}

// Stop ends the schedule of id. No-op if there is none.
func (sc *Scheduler) Stop(id core.ConnID) {
	sc.mu.Lock()
	s, ok := sc.sessions[id]
	if ok {
		delete(sc.sessions, id)
	}
	sc.mu.Unlock()
	if ok {
		sc.haltSession(s)
	}
}

// Session returns the live schedule of id.
func (sc *Scheduler) Session(id core.ConnID) (*Session, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	s, ok := sc.sessions[id]
	return s, ok
}

// Shutdown stops every schedule and waits for in-flight attempts.
func (sc *Scheduler) Shutdown() {
	sc.mu.Lock()
	sc.closed = true
	for id, s := range sc.sessions {
		sc.haltSession(s)
		delete(sc.sessions, id)
	}
	sc.mu.Unlock()
	sc.wg.Wait()
	log.Info().Str("module", "verify.scheduler").Msg("scheduler stopped")
}

func (sc *Scheduler) haltSession(s *Session) {
	if s.halt() {
		sc.metrics.SessionStopped()
		log.Info().Str("module", "verify.scheduler").Str("conn", s.id.String()).Msg("verification stopped")
	}
}

func (sc *Scheduler) loop(s *Session) {
	timer := time.NewTimer(sc.opts.InitialDelay)
	defer timer.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-timer.C:
		}
		// stop wins over a tick that raced it
		select {
		case <-s.stop:
			return
		default:
		}
		sc.fire(s)
		timer.Reset(sc.opts.Interval)
	}
}

func (sc *Scheduler) fire(s *Session) {
	firedAt := sc.now()
	s.capturing.Add(1)
	sc.wg.Go(func() { sc.attempt(s, firedAt) })
}

func (sc *Scheduler) attempt(s *Session, firedAt time.Time) {
	a := domain.Attempt{
		ID:        uuid.NewString(),
		Identity:  s.identity,
		Room:      s.room,
		Timestamp: firedAt,
	}

	captured := false
	defer func() {
		if captured {
			s.inflight.Add(-1)
		} else {
			s.capturing.Add(-1)
		}
	}()
	onCaptured := func() {
		captured = true
		s.inflight.Add(1)
		s.capturing.Add(-1)
	}

	var pc panics.Catcher
	pc.Try(func() {
		res := sc.check(s, onCaptured)
		a.Outcome, a.Detail = res.Outcome, res.Raw
	})
	if r := pc.Recovered(); r != nil {
		log.Error().Str("module", "verify.scheduler").Str("identity", s.identity.String()).Str("panic", r.String()).Msg("attempt panicked")
		a.Outcome = domain.OutcomeGatewayError
		a.Detail = fmt.Sprintf("panic: %v", r.Value)
	}
	sc.metrics.Attempt(string(a.Outcome))

	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()
	if err := sc.ledger.Record(ctx, a); err != nil {
		log.Error().Err(err).Str("module", "verify.scheduler").Str("attempt", a.ID).Msg("attendance not fully recorded")
	}

	pc.Try(func() { s.subject.Report(a) })

	log.Info().
		Str("module", "verify.scheduler").
		Str("attempt", a.ID).
		Str("identity", a.Identity.String()).
		Str("outcome", string(a.Outcome)).
		Msg("verification attempt")
}

func (sc *Scheduler) check(s *Session, onCaptured func()) Result {
	ctx, cancel := context.WithTimeout(context.Background(), sc.opts.CaptureTimeout)
	live, err := s.subject.Capture(ctx)
	cancel()
	onCaptured()
	if err != nil {
		log.Warn().Err(err).Str("module", "verify.scheduler").Str("identity", s.identity.String()).Msg("capture failed")
		return Result{Outcome: domain.OutcomeGatewayError, Raw: "capture: " + err.Error()}
	}
	return sc.checker.Verify(context.Background(), s.identity, live)
}
