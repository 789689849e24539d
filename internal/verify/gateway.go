// Package verify runs periodic identity checks against an external face
// matching engine.
package verify

//go:generate mockgen -destination=../mocks/verify_mocks.go -package=mocks github.com/dkeye/attendmeet/internal/verify Matcher,References,Checker,Recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/attendmeet/internal/domain"
	"github.com/dkeye/attendmeet/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
)

var ErrEmptySample = errors.New("empty live sample")

// Result is the gateway's answer for one live sample.
type Result struct {
	Outcome domain.Outcome
	// Raw is the engine's verdict or the reason of a gateway error.
	Raw string
}

// References resolves enrolled samples and stages live ones.
type References interface {
	Reference(identity domain.Identity) ([]byte, error)
	Stage(identity domain.Identity, at time.Time, live []byte) (string, error)
}

// Gateway converts a live sample into an Outcome. It never returns an error:
// every failure talking to the engine becomes OutcomeGatewayError.
type Gateway struct {
	refs    References
	engine  Matcher
	timeout time.Duration
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewGateway(refs References, engine Matcher, timeout time.Duration, m *metrics.Metrics) *Gateway {
	return &Gateway{
		refs:    refs,
		engine:  engine,
		timeout: timeout,
		metrics: m,
		now:     time.Now,
	}
}

type matchReply struct {
	res EngineResult
	err error
}

// Verify checks live against the reference sample of identity. Without a
// reference the engine is not contacted at all. The engine call is bounded
// by the gateway timeout even if the engine ignores cancellation.
func (g *Gateway) Verify(ctx context.Context, identity domain.Identity, live []byte) Result {
	ref, err := g.refs.Reference(identity)
	if errors.Is(err, ErrReferenceMissing) {
		log.Info().Str("module", "verify.gateway").Str("identity", identity.String()).Msg("no reference sample")
		return Result{Outcome: domain.OutcomeReferenceMissing}
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "verify.gateway").Str("identity", identity.String()).Msg("reference lookup failed")
		return Result{Outcome: domain.OutcomeGatewayError, Raw: err.Error()}
	}
	if len(live) == 0 {
		return Result{Outcome: domain.OutcomeGatewayError, Raw: ErrEmptySample.Error()}
	}

	if _, err := g.refs.Stage(identity, g.now(), live); err != nil {
		log.Warn().Err(err).Str("module", "verify.gateway").Str("identity", identity.String()).Msg("staging failed")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	replies := make(chan matchReply, 1)
	start := time.Now()
	go func() {
		var pc panics.Catcher
		var reply matchReply
		pc.Try(func() {
			reply.res, reply.err = g.engine.Match(ctx, live, ref)
		})
		if r := pc.Recovered(); r != nil {
			reply.err = r.AsError()
		}
		replies <- reply
	}()

	var reply matchReply
	select {
	case reply = <-replies:
	case <-ctx.Done():
		reply.err = fmt.Errorf("engine call: %w", ctx.Err())
	}
	g.metrics.GatewayCall(time.Since(start))

	if reply.err != nil {
		log.Warn().Err(reply.err).Str("module", "verify.gateway").Str("identity", identity.String()).Msg("engine call failed")
		return Result{Outcome: domain.OutcomeGatewayError, Raw: reply.err.Error()}
	}
	if reply.res.Matched {
		return Result{Outcome: domain.OutcomeMatched, Raw: reply.res.Raw}
	}
	return Result{Outcome: domain.OutcomeNotMatched, Raw: reply.res.Raw}
}
