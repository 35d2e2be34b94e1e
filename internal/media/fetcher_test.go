package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hlsmill/internal/domain/model"
)

func newTestFetcher() *HTTPFetcher {
	f := NewHTTPFetcher(nil)
	f.progressInterval = 0 // report on every write in tests
	return f
}

func TestHTTPFetcher_Analyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/x-matroska")
		w.Header().Set("Content-Length", "1048576")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	info, err := newTestFetcher().Analyze(context.Background(), srv.URL+"/media/movie.mkv")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if info.Name != "movie.mkv" {
		t.Errorf("name: got %q, expected movie.mkv", info.Name)
	}
	if info.Size != 1048576 {
		t.Errorf("size: got %d, expected 1048576", info.Size)
	}
	if info.ContentType != "video/x-matroska" {
		t.Errorf("content type: got %q", info.ContentType)
	}
}

func TestHTTPFetcher_Analyze_ContentDisposition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="episode 01.mkv"`)
	}))
	defer srv.Close()

	info, err := newTestFetcher().Analyze(context.Background(), srv.URL+"/dl")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if info.Name != "episode 01.mkv" {
		t.Errorf("name: got %q, expected the disposition filename", info.Name)
	}
}

func TestHTTPFetcher_Analyze_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "ftp://example.com/a.mkv", "not a url", "/relative/path"} {
		_, err := newTestFetcher().Analyze(context.Background(), u)
		if !errors.Is(err, model.ErrInvalidSourceURL) {
			t.Errorf("Analyze(%q): got %v, expected ErrInvalidSourceURL", u, err)
		}
	}
}

func TestHTTPFetcher_Analyze_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newTestFetcher().Analyze(context.Background(), srv.URL+"/gone.mkv")
	if !errors.Is(err, model.ErrFetchFailed) {
		t.Errorf("got %v, expected ErrFetchFailed", err)
	}
}

func TestHTTPFetcher_Fetch(t *testing.T) {
	payload := strings.Repeat("x", 64*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "movie.mkv", time.Now(), strings.NewReader(payload))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "movie.mkv")

	var samples []FetchProgress
	written, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/movie.mkv", dest, func(p FetchProgress) {
		samples = append(samples, p)
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if written != int64(len(payload)) {
		t.Errorf("written: got %d, expected %d", written, len(payload))
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if string(data) != payload {
		t.Error("destination content mismatch")
	}

	if len(samples) == 0 {
		t.Fatal("expected at least one progress sample")
	}
	final := samples[len(samples)-1]
	if final.Fraction != 1 {
		t.Errorf("final fraction: got %f, expected 1", final.Fraction)
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].Fraction < samples[i-1].Fraction {
			t.Fatal("fractions should not decrease")
		}
	}
}

func TestHTTPFetcher_Fetch_FollowsRedirect(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("redirected payload"))
	}))
	defer target.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL+"/real.mkv", http.StatusFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.mkv")
	written, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/a.mkv", dest, nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if written != int64(len("redirected payload")) {
		t.Errorf("written: got %d", written)
	}
}

func TestHTTPFetcher_Fetch_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.mkv")
	_, err := newTestFetcher().Fetch(context.Background(), srv.URL+"/gone.mkv", dest, nil)
	if !errors.Is(err, model.ErrFetchFailed) {
		t.Errorf("got %v, expected ErrFetchFailed", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("no destination file should exist after a failed fetch")
	}
}

func TestHTTPFetcher_Fetch_CancellationCleansUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(make([]byte, 1024))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// Cancel mid-transfer, then stall until the client goes away.
		cancel()
		<-r.Context().Done()
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.mkv")
	_, err := newTestFetcher().Fetch(ctx, srv.URL+"/big.mkv", dest, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, expected context.Canceled", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("partial file should be removed on cancellation")
	}
}

func TestFormatSpeed(t *testing.T) {
	tests := []struct {
		bps      float64
		expected string
	}{
		{512, "512 B/s"},
		{2048, "2.0 KB/s"},
		{3 << 20, "3.0 MB/s"},
	}
	for _, tt := range tests {
		if got := FormatSpeed(tt.bps); got != tt.expected {
			t.Errorf("FormatSpeed(%f) = %q, expected %q", tt.bps, got, tt.expected)
		}
	}
}

func TestFormatETA(t *testing.T) {
	tests := []struct {
		seconds  float64
		expected string
	}{
		{0, ""},
		{42, "42s"},
		{125, "2m05s"},
		{3900, "1h05m"},
	}
	for _, tt := range tests {
		if got := FormatETA(tt.seconds); got != tt.expected {
			t.Errorf("FormatETA(%f) = %q, expected %q", tt.seconds, got, tt.expected)
		}
	}
}
