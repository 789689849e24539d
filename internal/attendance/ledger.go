// Package attendance persists verification attempts. Every attempt goes to
// a structured store and to a flat append-only log.
package attendance

//go:generate mockgen -destination=../mocks/attendance_mocks.go -package=mocks github.com/dkeye/attendmeet/internal/attendance Sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/attendmeet/internal/domain"
	"github.com/dkeye/attendmeet/internal/metrics"
	"github.com/rs/zerolog/log"
)

// defaultSinkTimeout bounds a sink write when the caller sets no deadline.
const defaultSinkTimeout = 5 * time.Second

var (
	ErrLedgerWrite    = errors.New("ledger write failed")
	ErrInvalidAttempt = errors.New("invalid attempt")
)

// Sink is one persistence target of the ledger.
type Sink interface {
	Name() string
	Append(ctx context.Context, a domain.Attempt) error
}

// Ledger fans each attempt out to all sinks. A failing sink does not stop
// the others, and a slow one does not eat into their time: every sink gets
// the caller's full budget.
type Ledger struct {
	sinks   []Sink
	metrics *metrics.Metrics
}

func NewLedger(m *metrics.Metrics, sinks ...Sink) *Ledger {
	return &Ledger{sinks: sinks, metrics: m}
}

func (l *Ledger) Record(ctx context.Context, a domain.Attempt) error {
	if a.ID == "" || a.Identity == "" || !a.Outcome.Valid() || a.Timestamp.IsZero() {
		return fmt.Errorf("%w: %+v", ErrInvalidAttempt, a)
	}

	budget := defaultSinkTimeout
	if dl, ok := ctx.Deadline(); ok {
		budget = time.Until(dl)
	}

	var errs []error
	for _, s := range l.sinks {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), budget)
		err := s.Append(sctx, a)
		cancel()
		if err != nil {
			l.metrics.LedgerFailure(s.Name())
			log.Error().Err(err).
				Str("module", "attendance").
				Str("sink", s.Name()).
				Str("attempt", a.ID).
				Msg("append failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrLedgerWrite, errors.Join(errs...))
	}
	return nil
}

// Close closes every sink that holds a resource.
func (l *Ledger) Close() error {
	var errs []error
	for _, s := range l.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
