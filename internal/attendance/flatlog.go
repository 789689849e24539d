package attendance

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dkeye/attendmeet/internal/domain"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// errWriter remembers the last write error, which zerolog otherwise only
// reports to stderr.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err != nil {
		e.err = err
	}
	return n, err
}

// FlatLog appends one JSON line per attempt.
type FlatLog struct {
	mu     sync.Mutex
	out    *errWriter
	logger zerolog.Logger
	closer io.Closer
}

// OpenFlatLog opens path for appending, creating it and its directory.
func OpenFlatLog(fs afero.Fs, path string) (*FlatLog, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("attendance log dir: %w", err)
	}
	f, err := fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open attendance log: %w", err)
	}
	fl := NewFlatLog(f)
	fl.closer = f
	return fl, nil
}

func NewFlatLog(w io.Writer) *FlatLog {
	out := &errWriter{w: w}
	return &FlatLog{
		out:    out,
		logger: zerolog.New(out).With().Timestamp().Logger(),
	}
}

func (f *FlatLog) Name() string { return "flat" }

func (f *FlatLog) Append(ctx context.Context, a domain.Attempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.out.err = nil
	f.logger.Info().
		Str("attempt_id", a.ID).
		Str("identity", a.Identity.String()).
		Str("room", a.Room.String()).
		Str("outcome", string(a.Outcome)).
		Str("detail", a.Detail).
		Str("at", a.Timestamp.UTC().Format(time.RFC3339Nano)).
		Send()
	return f.out.err
}

func (f *FlatLog) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}
