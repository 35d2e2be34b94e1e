package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"hlsmill/internal/domain/model"
)

// SourceInfo is the remote file metadata known before downloading.
type SourceInfo struct {
	Name string
	// Size is the byte size, 0 when the server does not report one.
	Size        int64
	ContentType string
}

// FetchProgress is one transfer progress sample.
type FetchProgress struct {
	// Fraction is in [0,1]; stays 0 when the total size is unknown.
	Fraction       float64
	BytesPerSecond float64
	// ETASeconds is the estimated remaining time, 0 when unknown.
	ETASeconds float64
}

// Fetcher retrieves a remote source file.
type Fetcher interface {
	// Analyze resolves the remote file's name, size and content type
	// without downloading it.
	Analyze(ctx context.Context, sourceURL string) (*SourceInfo, error)

	// Fetch downloads the file to destPath, reporting progress samples.
	// On any failure the partial output file is removed. Returns the number
	// of bytes written.
	Fetch(ctx context.Context, sourceURL, destPath string, onProgress func(FetchProgress)) (int64, error)
}

// HTTPFetcher implements Fetcher over plain HTTP(S). Redirects are followed
// by the underlying client.
type HTTPFetcher struct {
	client *http.Client
	// progressInterval throttles how often onProgress fires.
	progressInterval time.Duration
}

// Compile-time verification that HTTPFetcher implements Fetcher.
var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates an HTTPFetcher. A nil client uses http.DefaultClient
// semantics without a global timeout; downloads are bounded by ctx instead.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPFetcher{
		client:           client,
		progressInterval: 500 * time.Millisecond,
	}
}

// Analyze issues a HEAD request, falling back to a GET (with the body
// discarded) for servers that reject HEAD.
func (f *HTTPFetcher) Analyze(ctx context.Context, sourceURL string) (*SourceInfo, error) {
	parsed, err := parseSourceURL(sourceURL)
	if err != nil {
		return nil, err
	}

	resp, err := f.do(ctx, http.MethodHead, sourceURL)
	if err == nil && resp.StatusCode == http.StatusMethodNotAllowed {
		resp.Body.Close()
		resp, err = f.do(ctx, http.MethodGet, sourceURL)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: unexpected status %s", model.ErrFetchFailed, resp.Status)
	}

	info := &SourceInfo{
		Name:        fileNameFrom(resp, parsed),
		ContentType: resp.Header.Get("Content-Type"),
	}
	if resp.ContentLength > 0 {
		info.Size = resp.ContentLength
	}
	return info, nil
}

// Fetch streams the remote file to destPath.
func (f *HTTPFetcher) Fetch(ctx context.Context, sourceURL, destPath string, onProgress func(FetchProgress)) (int64, error) {
	if _, err := parseSourceURL(sourceURL); err != nil {
		return 0, err
	}

	resp, err := f.do(ctx, http.MethodGet, sourceURL)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("%w: unexpected status %s", model.ErrFetchFailed, resp.Status)
	}

	file, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("%w: create destination: %v", model.ErrFetchFailed, err)
	}

	counter := &progressWriter{
		total:      resp.ContentLength,
		interval:   f.progressInterval,
		onProgress: onProgress,
		started:    time.Now(),
		lastReport: time.Now(),
	}

	written, err := io.Copy(io.MultiWriter(file, counter), resp.Body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		// Never leave a partial file addressable.
		_ = os.Remove(destPath)
		if ctx.Err() != nil {
			return written, fmt.Errorf("fetch stopped: %w", ctx.Err())
		}
		return written, fmt.Errorf("%w: transfer: %v", model.ErrFetchFailed, err)
	}

	counter.reportFinal(written)
	return written, nil
}

func (f *HTTPFetcher) do(ctx context.Context, method, sourceURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, sourceURL, nil)
	if err != nil {
		return nil, err
	}
	return f.client.Do(req)
}

func parseSourceURL(sourceURL string) (*url.URL, error) {
	parsed, err := url.Parse(sourceURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, model.ErrInvalidSourceURL
	}
	return parsed, nil
}

// fileNameFrom prefers the Content-Disposition filename, then the final URL
// path after redirects, then a generic fallback.
func fileNameFrom(resp *http.Response, requested *url.URL) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				return name
			}
		}
	}

	u := requested
	if resp.Request != nil && resp.Request.URL != nil {
		u = resp.Request.URL
	}
	if name := path.Base(u.Path); name != "" && name != "." && name != "/" {
		return name
	}
	return "source"
}

// progressWriter counts bytes and emits throttled progress samples.
type progressWriter struct {
	total      int64
	written    int64
	started    time.Time
	lastReport time.Time
	interval   time.Duration
	onProgress func(FetchProgress)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))

	if w.onProgress != nil && time.Since(w.lastReport) >= w.interval {
		w.lastReport = time.Now()
		w.onProgress(w.sample())
	}
	return len(p), nil
}

func (w *progressWriter) reportFinal(written int64) {
	if w.onProgress == nil {
		return
	}
	w.written = written
	s := w.sample()
	if w.total > 0 {
		s.Fraction = 1
	}
	s.ETASeconds = 0
	w.onProgress(s)
}

func (w *progressWriter) sample() FetchProgress {
	s := FetchProgress{}
	elapsed := time.Since(w.started).Seconds()
	if elapsed > 0 {
		s.BytesPerSecond = float64(w.written) / elapsed
	}
	if w.total > 0 {
		s.Fraction = float64(w.written) / float64(w.total)
		if s.Fraction > 1 {
			s.Fraction = 1
		}
		if s.BytesPerSecond > 0 {
			s.ETASeconds = float64(w.total-w.written) / s.BytesPerSecond
		}
	}
	return s
}

// FormatSpeed renders a transfer rate for the job's speed hint, e.g. "1.2 MB/s".
func FormatSpeed(bytesPerSecond float64) string {
	switch {
	case bytesPerSecond >= 1<<20:
		return fmt.Sprintf("%.1f MB/s", bytesPerSecond/(1<<20))
	case bytesPerSecond >= 1<<10:
		return fmt.Sprintf("%.1f KB/s", bytesPerSecond/(1<<10))
	default:
		return fmt.Sprintf("%.0f B/s", bytesPerSecond)
	}
}

// FormatETA renders a remaining-time estimate, e.g. "2m05s".
func FormatETA(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	if d >= time.Hour {
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
	if d >= time.Minute {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}
