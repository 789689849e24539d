package verify

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dkeye/attendmeet/internal/domain"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"
)

var ErrReferenceMissing = errors.New("reference sample missing")

var referenceExts = []string{".jpg", ".jpeg", ".png"}

// SampleStore reads enrolled reference samples and stages live samples.
// References are laid out as <referenceDir>/<identity>.<ext> and are
// read-only to this service.
type SampleStore struct {
	fs           afero.Fs
	referenceDir string
	stagingDir   string
	group        singleflight.Group
}

func NewSampleStore(fs afero.Fs, referenceDir, stagingDir string) (*SampleStore, error) {
	if stagingDir != "" {
		if err := fs.MkdirAll(stagingDir, 0o755); err != nil {
			return nil, fmt.Errorf("staging dir: %w", err)
		}
	}
	return &SampleStore{fs: fs, referenceDir: referenceDir, stagingDir: stagingDir}, nil
}

// Reference loads the enrolled sample for identity. Concurrent loads for the
// same identity share one read.
func (s *SampleStore) Reference(identity domain.Identity) ([]byte, error) {
	v, err, _ := s.group.Do(identity.String(), func() (any, error) {
		for _, ext := range referenceExts {
			path := filepath.Join(s.referenceDir, identity.String()+ext)
			data, err := afero.ReadFile(s.fs, path)
			if err == nil {
				return data, nil
			}
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read reference %s: %w", path, err)
			}
		}
		return nil, ErrReferenceMissing
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Stage persists a live sample for later audit and returns its path.
func (s *SampleStore) Stage(identity domain.Identity, at time.Time, live []byte) (string, error) {
	if s.stagingDir == "" {
		return "", nil
	}
	name := fmt.Sprintf("%s-%d.jpg", identity, at.UnixNano())
	path := filepath.Join(s.stagingDir, name)
	if err := afero.WriteFile(s.fs, path, live, 0o640); err != nil {
		return "", fmt.Errorf("stage live sample: %w", err)
	}
	return path, nil
}
