package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

var (
	ErrEngineStatus   = errors.New("engine returned non-success status")
	ErrEngineResponse = errors.New("engine response not understood")
)

const (
	enginePresent = "present"
	engineAbsent  = "absent"

	maxEngineResponse = 64 * 1024
)

// EngineResult is the verdict of the face matching engine.
type EngineResult struct {
	Matched bool
	// Raw is the engine's response body, kept for the attendance record.
	Raw string
}

// Matcher compares a live sample against a reference sample.
type Matcher interface {
	Match(ctx context.Context, live, reference []byte) (EngineResult, error)
}

// HTTPEngine talks to the face matching service over a multipart POST.
type HTTPEngine struct {
	url    string
	client *http.Client
}

// NewHTTPEngine returns a client for the engine at url. timeout bounds the
// whole request; callers may bound it further through the context.
func NewHTTPEngine(url string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type engineResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (e *HTTPEngine) Match(ctx context.Context, live, reference []byte) (EngineResult, error) {
	body, contentType, err := multipartBody(live, reference)
	if err != nil {
		return EngineResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, body)
	if err != nil {
		return EngineResult{}, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return EngineResult{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxEngineResponse))
	if err != nil {
		return EngineResult{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return EngineResult{Raw: string(raw)}, fmt.Errorf("%w: %s", ErrEngineStatus, resp.Status)
	}

	var r engineResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return EngineResult{Raw: string(raw)}, fmt.Errorf("%w: %v", ErrEngineResponse, err)
	}
	switch r.Status {
	case enginePresent:
		return EngineResult{Matched: true, Raw: string(raw)}, nil
	case engineAbsent:
		return EngineResult{Matched: false, Raw: string(raw)}, nil
	}
	return EngineResult{Raw: string(raw)}, fmt.Errorf("%w: status %q", ErrEngineResponse, r.Status)
}

func multipartBody(live, reference []byte) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for _, part := range []struct {
		field, file string
		data        []byte
	}{
		{"live_image", "live.jpg", live},
		{"original_image", "original.jpg", reference},
	} {
		fw, err := w.CreateFormFile(part.field, part.file)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(part.data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}
