package verify_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/attendmeet/internal/core"
	"github.com/dkeye/attendmeet/internal/domain"
	"github.com/dkeye/attendmeet/internal/mocks"
	"github.com/dkeye/attendmeet/internal/verify"
	"go.uber.org/mock/gomock"
)

type fakeSubject struct {
	sample  []byte
	block   chan struct{}
	started chan struct{}
	reports chan domain.Attempt

	mu       sync.Mutex
	captures int
}

func newSubject() *fakeSubject {
	return &fakeSubject{
		sample:  []byte("live"),
		started: make(chan struct{}, 64),
		reports: make(chan domain.Attempt, 64),
	}
}

func (f *fakeSubject) Capture(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	f.captures++
	f.mu.Unlock()
	select {
	case f.started <- struct{}{}:
	default:
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.sample, nil
}

func (f *fakeSubject) Report(a domain.Attempt) {
	select {
	case f.reports <- a:
	default:
	}
}

func (f *fakeSubject) captureCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captures
}

func (f *fakeSubject) waitReport(t *testing.T) domain.Attempt {
	t.Helper()
	select {
	case a := <-f.reports:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("no verification reported")
	}
	return domain.Attempt{}
}

type memLedger struct {
	mu      sync.Mutex
	entries []domain.Attempt
}

func (l *memLedger) Record(_ context.Context, a domain.Attempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, a)
	return nil
}

func (l *memLedger) snapshot() []domain.Attempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Attempt(nil), l.entries...)
}

func fastOptions() verify.Options {
	return verify.Options{
		InitialDelay:   10 * time.Millisecond,
		Interval:       time.Hour,
		CaptureTimeout: time.Second,
	}
}

func TestSchedulerMissingReferenceNeverCallsEngine(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockMatcher(ctrl)
	engine.EXPECT().Match(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	ledger := &memLedger{}
	gw := verify.NewGateway(newStore(t, "bob"), engine, time.Second, nil)
	sc := verify.NewScheduler(gw, ledger, fastOptions(), nil)

	subj := newSubject()
	sc.Start("c1", "alice", "AB12", subj)
	got := subj.waitReport(t)
	sc.Shutdown()

	if got.Identity != "alice" || got.Outcome != domain.OutcomeReferenceMissing {
		t.Fatalf("reported %+v", got)
	}
	entries := ledger.snapshot()
	if len(entries) != 1 {
		t.Fatalf("ledger has %d entries, want 1", len(entries))
	}
	if entries[0].Identity != "alice" || entries[0].Outcome != domain.OutcomeReferenceMissing {
		t.Fatalf("ledger entry %+v", entries[0])
	}
}

func TestSchedulerNotMatchedRecordedOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockMatcher(ctrl)
	engine.EXPECT().Match(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(verify.EngineResult{Raw: `{"status":"absent"}`}, nil).
		Times(1)

	ledger := &memLedger{}
	gw := verify.NewGateway(newStore(t, "bob"), engine, time.Second, nil)
	sc := verify.NewScheduler(gw, ledger, fastOptions(), nil)

	subj := newSubject()
	sc.Start("c1", "bob", "AB12", subj)
	subj.waitReport(t)
	sc.Shutdown()

	entries := ledger.snapshot()
	if len(entries) != 1 {
		t.Fatalf("ledger has %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Identity != "bob" || e.Room != "AB12" || e.Outcome != domain.OutcomeNotMatched {
		t.Fatalf("ledger entry %+v", e)
	}
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Fatalf("entry missing id or timestamp: %+v", e)
	}
}

func TestSchedulerKeepsCadence(t *testing.T) {
	ctrl := gomock.NewController(t)
	checker := mocks.NewMockChecker(ctrl)
	checker.EXPECT().Verify(gomock.Any(), domain.Identity("bob"), gomock.Any()).
		Return(verify.Result{Outcome: domain.OutcomeMatched}).
		MinTimes(3)

	ledger := &memLedger{}
	sc := verify.NewScheduler(checker, ledger, verify.Options{
		InitialDelay:   5 * time.Millisecond,
		Interval:       15 * time.Millisecond,
		CaptureTimeout: time.Second,
	}, nil)

	subj := newSubject()
	sc.Start("c1", "bob", "AB12", subj)
	for n := 0; n < 3; n++ {
		subj.waitReport(t)
	}
	sc.Shutdown()

	entries := ledger.snapshot()
	for i := 1; i < len(entries); i++ {
		if !entries[i].Timestamp.After(entries[i-1].Timestamp) {
			t.Fatalf("timestamps not increasing: %v then %v", entries[i-1].Timestamp, entries[i].Timestamp)
		}
	}
}

func TestSchedulerStopBeforeFirstTick(t *testing.T) {
	ctrl := gomock.NewController(t)
	checker := mocks.NewMockChecker(ctrl)
	checker.EXPECT().Verify(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	ledger := &memLedger{}
	sc := verify.NewScheduler(checker, ledger, verify.Options{
		InitialDelay:   30 * time.Millisecond,
		Interval:       30 * time.Millisecond,
		CaptureTimeout: time.Second,
	}, nil)

	subj := newSubject()
	s := sc.Start("c1", "bob", "AB12", subj)
	sc.Stop("c1")
	if s.State() != verify.StateStopped {
		t.Fatalf("state = %v, want stopped", s.State())
	}
	time.Sleep(100 * time.Millisecond)
	sc.Shutdown()

	if n := subj.captureCount(); n != 0 {
		t.Fatalf("%d captures after stop", n)
	}
	if n := len(ledger.snapshot()); n != 0 {
		t.Fatalf("%d ledger entries after stop", n)
	}
}

func TestSchedulerStopLetsInFlightAttemptFinish(t *testing.T) {
	ctrl := gomock.NewController(t)
	checker := mocks.NewMockChecker(ctrl)
	checker.EXPECT().Verify(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(verify.Result{Outcome: domain.OutcomeMatched}).
		Times(1)

	ledger := &memLedger{}
	sc := verify.NewScheduler(checker, ledger, verify.Options{
		InitialDelay:   5 * time.Millisecond,
		Interval:       10 * time.Millisecond,
		CaptureTimeout: time.Second,
	}, nil)

	subj := newSubject()
	subj.block = make(chan struct{})
	sc.Start("c1", "bob", "AB12", subj)

	select {
	case <-subj.started:
	case <-time.After(2 * time.Second):
		t.Fatal("capture never started")
	}
	sc.Stop("c1")
	time.Sleep(40 * time.Millisecond)
	close(subj.block)
	sc.Shutdown()

	if n := subj.captureCount(); n != 1 {
		t.Fatalf("%d captures, want 1", n)
	}
	entries := ledger.snapshot()
	if len(entries) != 1 || entries[0].Outcome != domain.OutcomeMatched {
		t.Fatalf("ledger = %+v", entries)
	}
}

func TestSchedulerCaptureTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	checker := mocks.NewMockChecker(ctrl)
	checker.EXPECT().Verify(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	ledger := &memLedger{}
	sc := verify.NewScheduler(checker, ledger, verify.Options{
		InitialDelay:   5 * time.Millisecond,
		Interval:       time.Hour,
		CaptureTimeout: 20 * time.Millisecond,
	}, nil)

	subj := newSubject()
	subj.block = make(chan struct{})
	sc.Start("c1", "bob", "AB12", subj)
	got := subj.waitReport(t)
	sc.Shutdown()

	if got.Outcome != domain.OutcomeGatewayError || !strings.HasPrefix(got.Detail, "capture:") {
		t.Fatalf("reported %+v", got)
	}
}

func TestSchedulerSessionsAreIndependent(t *testing.T) {
	const n = 20
	ctrl := gomock.NewController(t)
	checker := mocks.NewMockChecker(ctrl)
	checker.EXPECT().Verify(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(verify.Result{Outcome: domain.OutcomeNotMatched}).
		Times(n)

	ledger := &memLedger{}
	sc := verify.NewScheduler(checker, ledger, fastOptions(), nil)

	subjects := make([]*fakeSubject, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		subjects[i] = newSubject()
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("user%d", i)
			sc.Start(core.ConnID("c-"+id), domain.Identity(id), "AB12", subjects[i])
		}()
	}
	wg.Wait()
	for _, s := range subjects {
		s.waitReport(t)
	}
	sc.Shutdown()

	entries := ledger.snapshot()
	if len(entries) != n {
		t.Fatalf("ledger has %d entries, want %d", len(entries), n)
	}
	ids := make(map[string]bool, n)
	who := make(map[domain.Identity]bool, n)
	for _, e := range entries {
		if ids[e.ID] {
			t.Fatalf("duplicate attempt id %s", e.ID)
		}
		ids[e.ID] = true
		who[e.Identity] = true
	}
	if len(who) != n {
		t.Fatalf("entries cover %d identities, want %d", len(who), n)
	}
}

func TestSchedulerRestartReplacesSession(t *testing.T) {
	sc := verify.NewScheduler(nil, &memLedger{}, verify.Options{
		InitialDelay:   time.Hour,
		Interval:       time.Hour,
		CaptureTimeout: time.Second,
	}, nil)
	first := sc.Start("c1", "bob", "AB12", newSubject())
	second := sc.Start("c1", "bob", "CD34", newSubject())

	if first.State() != verify.StateStopped {
		t.Fatalf("first state = %v", first.State())
	}
	if second.State() != verify.StateIdle {
		t.Fatalf("second state = %v", second.State())
	}
	if s, ok := sc.Session("c1"); !ok || s != second {
		t.Fatal("Session(c1) is not the replacement")
	}
	sc.Shutdown()
	if second.State() != verify.StateStopped {
		t.Fatalf("after shutdown state = %v", second.State())
	}
	late := sc.Start("c2", "carol", "AB12", newSubject())
	if late.State() != verify.StateStopped {
		t.Fatalf("start after shutdown state = %v", late.State())
	}
}

func waitState(t *testing.T, s *verify.Session, want verify.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want %v", s.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSessionStateFollowsAttempt(t *testing.T) {
	ctrl := gomock.NewController(t)
	checker := mocks.NewMockChecker(ctrl)
	entered := make(chan struct{})
	release := make(chan struct{})
	checker.EXPECT().Verify(gomock.Any(), domain.Identity("bob"), []byte("live")).
		DoAndReturn(func(context.Context, domain.Identity, []byte) verify.Result {
			close(entered)
			<-release
			return verify.Result{Outcome: domain.OutcomeMatched}
		})

	sc := verify.NewScheduler(checker, &memLedger{}, verify.Options{
		InitialDelay:   10 * time.Millisecond,
		Interval:       time.Hour,
		CaptureTimeout: 2 * time.Second,
	}, nil)
	defer sc.Shutdown()

	subj := newSubject()
	subj.block = make(chan struct{})
	s := sc.Start("c1", "bob", "AB12", subj)

	<-subj.started
	if s.State() != verify.StateScheduled {
		t.Fatalf("awaiting sample: state = %v", s.State())
	}
	close(subj.block)
	<-entered
	if s.State() != verify.StateInFlight {
		t.Fatalf("verifying: state = %v", s.State())
	}
	close(release)
	subj.waitReport(t)
	waitState(t, s, verify.StateIdle)
}
