// Package fetch downloads source images.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/caarmen/image-resizer/pkg/logging"
)

const (
	// ClientHeader marks requests sent by the resizer itself, so it can refuse to resize its own output
	ClientHeader = "X-Image-Resizer"
	// DefaultUserAgent is sent when the caller does not provide one
	DefaultUserAgent = "image-resizer"

	defaultMaxBytes = 64 << 20
	maxRedirects    = 10
)

// ErrFetch is returned when the source image could not be retrieved
var ErrFetch = errors.New("could not fetch image")

// StatusError is returned when the source server answered with a non-success status
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d fetching %s", e.StatusCode, e.URL)
}

// Unwrap lets errors.Is(err, ErrFetch) match upstream status failures too
func (e *StatusError) Unwrap() error {
	return ErrFetch
}

// Options configures a Fetcher
type Options struct {
	Timeout time.Duration
	Policy  *Policy
	// MaxBytes caps the size of a source image. Zero means 64 MiB.
	MaxBytes int64
}

// Fetcher retrieves source image bytes over HTTP(S), or from local files when the policy allows "file"
type Fetcher struct {
	client   *http.Client
	policy   *Policy
	maxBytes int64
}

// New creates a Fetcher
func New(opts Options) *Fetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))

	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	f := &Fetcher{
		policy:   opts.Policy,
		maxBytes: maxBytes,
	}
	f.client = &http.Client{
		Timeout:       opts.Timeout,
		Transport:     transport,
		CheckRedirect: f.checkRedirect,
	}
	return f
}

// checkRedirect applies the policy to every redirect target
func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if err := f.Check(req.URL.String()); err != nil {
		logging.Logger.Warn("Redirect rejected",
			zap.String("from", via[len(via)-1].URL.String()),
			zap.String("to", req.URL.String()),
			zap.Error(err))
		return err
	}
	return nil
}

// Check validates rawURL against the fetch policy without fetching it
func (f *Fetcher) Check(rawURL string) error {
	if f.policy == nil {
		return nil
	}
	_, err := f.policy.Check(rawURL)
	return err
}

// Fetch downloads rawURL with the given headers. The loop-prevention header is always set.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, headers http.Header) ([]byte, error) {
	if err := f.Check(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	for name, values := range headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", DefaultUserAgent)
	}
	req.Header.Set(ClientHeader, "true")

	start := time.Now()
	res, err := f.client.Do(req)
	if err != nil {
		logging.Logger.Warn("Fetch failed",
			zap.String("url", rawURL),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		logging.Logger.Warn("Fetch returned error status",
			zap.String("url", rawURL),
			zap.Int("status", res.StatusCode))
		return nil, &StatusError{URL: rawURL, StatusCode: res.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: error reading response: %v", ErrFetch, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: source image larger than %d bytes", ErrFetch, f.maxBytes)
	}

	logging.Logger.Debug("Fetched source image",
		zap.String("url", rawURL),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", time.Since(start)))
	return data, nil
}
