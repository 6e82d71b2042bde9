package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reelhouse/internal/api"
	"reelhouse/internal/ingestion"
	"reelhouse/internal/models"
	"reelhouse/internal/storage"
)

type stubPipeline struct{}

func (stubPipeline) Ingest(ctx context.Context, req ingestion.IngestRequest) (models.Asset, error) {
	return models.Asset{}, nil
}

func (stubPipeline) Reingest(ctx context.Context, assetID string) (models.Asset, error) {
	return models.Asset{}, nil
}

func (stubPipeline) Remove(ctx context.Context, assetID string) error {
	return nil
}

func newTestServer(t *testing.T, mutate func(cfg *Config)) *Server {
	t.Helper()

	store, err := storage.NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	handler := api.NewHandler(store, stubPipeline{})
	cfg := Config{Addr: "127.0.0.1:0"}
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := New(handler, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func TestServerHealthRoute(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestServerRequestIDHeader(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected a generated X-Request-Id header")
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "caller-supplied")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "caller-supplied" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}

func TestServerUploadRateLimit(t *testing.T) {
	srv := newTestServer(t, func(cfg *Config) {
		cfg.RateLimit = RateLimitConfig{UploadLimit: 1, UploadWindow: time.Minute}
	})

	post := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/videos", strings.NewReader("payload"))
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	// The first upload passes the limiter and is rejected downstream for not
	// being multipart.
	if rec := post("10.0.0.1:4100"); rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415 from the handler, got %d", rec.Code)
	}

	rec := post("10.0.0.1:4101")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for second upload from same IP, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on throttled upload")
	}

	if rec := post("10.0.0.2:4102"); rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected other IPs to be unaffected, got %d", rec.Code)
	}
}

func TestServerUploadRateLimitHonorsForwardedFor(t *testing.T) {
	srv := newTestServer(t, func(cfg *Config) {
		cfg.RateLimit = RateLimitConfig{UploadLimit: 1, UploadWindow: time.Minute}
	})

	post := func(forwardedFor string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/videos", nil)
		req.RemoteAddr = "127.0.0.1:9000"
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	if rec := post("203.0.113.7, 10.0.0.1"); rec.Code == http.StatusTooManyRequests {
		t.Fatalf("first upload should not be throttled, got %d", rec.Code)
	}
	if rec := post("203.0.113.7"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 keyed on forwarded client, got %d", rec.Code)
	}
	if rec := post("203.0.113.8"); rec.Code == http.StatusTooManyRequests {
		t.Fatalf("different forwarded client should pass, got %d", rec.Code)
	}
}

func TestServerGlobalRateLimit(t *testing.T) {
	srv := newTestServer(t, func(cfg *Config) {
		cfg.RateLimit = RateLimitConfig{GlobalRPS: 0.001, GlobalBurst: 1}
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the global bucket drains, got %d", rec.Code)
	}
}

func TestServerMediaFiles(t *testing.T) {
	mediaDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(mediaDir, "users", "alice"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	manifest := filepath.Join(mediaDir, "users", "alice", "manifest.mpd")
	if err := os.WriteFile(manifest, []byte("<MPD/>"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	srv := newTestServer(t, func(cfg *Config) {
		cfg.MediaDir = mediaDir
	})

	req := httptest.NewRequest(http.MethodGet, "/media/users/alice/manifest.mpd", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 serving media file, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "<MPD/>" {
		t.Fatalf("unexpected media body %q", body)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/media/users/alice/", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("directory paths should 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/media/users/alice/manifest.mpd", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST to media, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); !strings.Contains(allow, http.MethodGet) {
		t.Fatalf("expected Allow header listing GET, got %q", allow)
	}
}

func TestServerMediaDisabledWithoutDir(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/media/anything", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when media serving is disabled, got %d", rec.Code)
	}
}

func TestIsUploadRequest(t *testing.T) {
	cases := []struct {
		method string
		path   string
		want   bool
	}{
		{http.MethodPost, "/api/videos", true},
		{http.MethodPost, "/api/videos/abc/reingest", true},
		{http.MethodGet, "/api/videos", false},
		{http.MethodPost, "/api/videos/abc", false},
		{http.MethodPost, "/healthz", false},
		{http.MethodDelete, "/api/videos/abc", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if got := isUploadRequest(req); got != tc.want {
			t.Errorf("isUploadRequest(%s %s) = %v, want %v", tc.method, tc.path, got, tc.want)
		}
	}
}

func TestExtractClientIP(t *testing.T) {
	cases := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{name: "remote addr", remoteAddr: "192.0.2.10:5555", want: "192.0.2.10"},
		{name: "remote addr without port", remoteAddr: "192.0.2.10", want: "192.0.2.10"},
		{
			name:       "forwarded for wins",
			remoteAddr: "127.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"},
			want:       "203.0.113.9",
		},
		{
			name:       "real ip fallback",
			remoteAddr: "127.0.0.1:80",
			headers:    map[string]string{"X-Real-IP": "203.0.113.4"},
			want:       "203.0.113.4",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			for key, value := range tc.headers {
				req.Header.Set(key, value)
			}
			if got := extractClientIP(req); got != tc.want {
				t.Fatalf("extractClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
