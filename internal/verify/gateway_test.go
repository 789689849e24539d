package verify_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/attendmeet/internal/domain"
	"github.com/dkeye/attendmeet/internal/mocks"
	"github.com/dkeye/attendmeet/internal/verify"
	"github.com/spf13/afero"
	"go.uber.org/mock/gomock"
)

func newStore(t *testing.T, enrolled ...string) *verify.SampleStore {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, id := range enrolled {
		if err := afero.WriteFile(fs, "/refs/"+id+".jpg", []byte("ref-"+id), 0o644); err != nil {
			t.Fatalf("enroll %s: %v", id, err)
		}
	}
	store, err := verify.NewSampleStore(fs, "/refs", "/staging")
	if err != nil {
		t.Fatalf("NewSampleStore: %v", err)
	}
	return store
}

func TestGatewayReferenceMissingSkipsEngine(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockMatcher(ctrl)
	engine.EXPECT().Match(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	gw := verify.NewGateway(newStore(t), engine, time.Second, nil)
	res := gw.Verify(context.Background(), "alice", []byte("live"))
	if res.Outcome != domain.OutcomeReferenceMissing {
		t.Fatalf("outcome = %q, want reference-missing", res.Outcome)
	}
}

func TestGatewayMapsEngineVerdict(t *testing.T) {
	cases := []struct {
		name    string
		matched bool
		want    domain.Outcome
	}{
		{"present", true, domain.OutcomeMatched},
		{"absent", false, domain.OutcomeNotMatched},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			engine := mocks.NewMockMatcher(ctrl)
			raw := `{"status":"` + tc.name + `"}`
			engine.EXPECT().
				Match(gomock.Any(), []byte("live"), []byte("ref-bob")).
				Return(verify.EngineResult{Matched: tc.matched, Raw: raw}, nil).
				Times(1)

			gw := verify.NewGateway(newStore(t, "bob"), engine, time.Second, nil)
			res := gw.Verify(context.Background(), "bob", []byte("live"))
			if res.Outcome != tc.want {
				t.Fatalf("outcome = %q, want %q", res.Outcome, tc.want)
			}
			if res.Raw != raw {
				t.Fatalf("raw = %q, want %q", res.Raw, raw)
			}
		})
	}
}

func TestGatewayEngineErrorIsGatewayError(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockMatcher(ctrl)
	engine.EXPECT().Match(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(verify.EngineResult{}, verify.ErrEngineStatus)

	gw := verify.NewGateway(newStore(t, "bob"), engine, time.Second, nil)
	res := gw.Verify(context.Background(), "bob", []byte("live"))
	if res.Outcome != domain.OutcomeGatewayError {
		t.Fatalf("outcome = %q, want gateway-error", res.Outcome)
	}
}

func TestGatewayTimesOutUnresponsiveEngine(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockMatcher(ctrl)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	engine.EXPECT().Match(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, []byte, []byte) (verify.EngineResult, error) {
			<-release
			return verify.EngineResult{Matched: true}, nil
		})

	gw := verify.NewGateway(newStore(t, "bob"), engine, 30*time.Millisecond, nil)
	start := time.Now()
	res := gw.Verify(context.Background(), "bob", []byte("live"))
	if res.Outcome != domain.OutcomeGatewayError {
		t.Fatalf("outcome = %q, want gateway-error", res.Outcome)
	}
	if !strings.Contains(res.Raw, context.DeadlineExceeded.Error()) {
		t.Fatalf("raw = %q, want deadline", res.Raw)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Verify took %v", elapsed)
	}
}

func TestGatewayRecoversEnginePanic(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockMatcher(ctrl)
	engine.EXPECT().Match(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, []byte, []byte) (verify.EngineResult, error) {
			panic("engine exploded")
		})

	gw := verify.NewGateway(newStore(t, "bob"), engine, time.Second, nil)
	res := gw.Verify(context.Background(), "bob", []byte("live"))
	if res.Outcome != domain.OutcomeGatewayError {
		t.Fatalf("outcome = %q, want gateway-error", res.Outcome)
	}
}

func TestGatewayReferenceReadFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	refs := mocks.NewMockReferences(ctrl)
	engine := mocks.NewMockMatcher(ctrl)
	refs.EXPECT().Reference(domain.Identity("bob")).Return(nil, errors.New("disk gone"))
	engine.EXPECT().Match(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	gw := verify.NewGateway(refs, engine, time.Second, nil)
	res := gw.Verify(context.Background(), "bob", []byte("live"))
	if res.Outcome != domain.OutcomeGatewayError {
		t.Fatalf("outcome = %q, want gateway-error", res.Outcome)
	}
}

func TestGatewayEmptySample(t *testing.T) {
	ctrl := gomock.NewController(t)
	engine := mocks.NewMockMatcher(ctrl)
	engine.EXPECT().Match(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	gw := verify.NewGateway(newStore(t, "bob"), engine, time.Second, nil)
	res := gw.Verify(context.Background(), "bob", nil)
	if res.Outcome != domain.OutcomeGatewayError || res.Raw != verify.ErrEmptySample.Error() {
		t.Fatalf("got %+v", res)
	}
}

func TestGatewayStagingFailureStillMatches(t *testing.T) {
	ctrl := gomock.NewController(t)
	refs := mocks.NewMockReferences(ctrl)
	engine := mocks.NewMockMatcher(ctrl)
	refs.EXPECT().Reference(domain.Identity("bob")).Return([]byte("ref"), nil)
	refs.EXPECT().Stage(domain.Identity("bob"), gomock.Any(), []byte("live")).Return("", errors.New("read-only"))
	engine.EXPECT().Match(gomock.Any(), []byte("live"), []byte("ref")).Return(verify.EngineResult{Matched: true}, nil)

	gw := verify.NewGateway(refs, engine, time.Second, nil)
	if res := gw.Verify(context.Background(), "bob", []byte("live")); res.Outcome != domain.OutcomeMatched {
		t.Fatalf("outcome = %q, want matched", res.Outcome)
	}
}
