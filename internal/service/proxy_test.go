package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"prefix-gateway/internal/client"
	"prefix-gateway/internal/config"
	"prefix-gateway/internal/gateway"
	"prefix-gateway/internal/metrics"
	"prefix-gateway/internal/model"
)

type fakeStore struct {
	entries map[string]string
	err     error
}

func (s *fakeStore) Get(_ context.Context, key string) (string, bool, error) {
	if s.err != nil {
		return "", false, s.err
	}
	v, ok := s.entries[key]
	return v, ok, nil
}

func (s *fakeStore) Ping(context.Context) error { return s.err }
func (s *fakeStore) Close() error               { return nil }
func (s *fakeStore) Backend() string            { return "fake" }

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{ServerName: "prefix-gateway"},
		Store:    config.StoreConfig{LookupTimeoutMs: 1000},
		Upstream: config.UpstreamConfig{TimeoutSeconds: 10, IdleConnections: 10},
		Rewrite:  config.RewriteConfig{MaxBufferBytes: 1 << 20, OverflowPolicy: config.OverflowAbort},
	}
}

// newTestService wires a ProxyService whose single route /svc/v1 points at upstreamURL.
func newTestService(cfg *config.Config, upstreamURL string) (*ProxyService, *gateway.Gateway) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &fakeStore{entries: map[string]string{
		"/svc/v1": `{"target":"` + upstreamURL + `"}`,
	}}
	m := metrics.New()
	gw := gateway.New(store, cfg, logger, m)
	uc := client.NewUpstreamClient(cfg, logger, m)
	return NewProxyService(uc, gw, logger), gw
}

func forward(t *testing.T, svc *ProxyService, in *http.Request) (int, http.Header, string, error) {
	t.Helper()
	rc := svc.NewContext()
	defer svc.Finish(in, rc, 0, nil)

	resp, err := svc.Forward(in, rc)
	if err != nil {
		return 0, nil, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, resp.Header, string(body), err
}

func TestForward_HappyPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/index.html" {
			t.Errorf("path = %q, want %q", r.URL.Path, "/index.html")
		}
		if r.URL.RawQuery != "q=1" {
			t.Errorf("query = %q, want %q", r.URL.RawQuery, "q=1")
		}
		if v := r.Header.Get("X-Forwarded-Host"); v != "gateway.example" {
			t.Errorf("X-Forwarded-Host = %q, want %q", v, "gateway.example")
		}
		if v := r.Header.Values("X-Forwarded-Path"); len(v) != 1 || v[0] != "/svc/v1" {
			t.Errorf("X-Forwarded-Path = %q, want [/svc/v1]", v)
		}
		if v := r.Header.Get("Accept-Encoding"); v != "identity" {
			t.Errorf("Accept-Encoding = %q, want identity", v)
		}
		if v := r.Header.Get("Proxy-Authorization"); v != "" {
			t.Errorf("Proxy-Authorization forwarded: %q", v)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Alt-Svc", `h3=":443"`)
		_, _ = w.Write([]byte(`<link href="/style.css"><img src="/logo.png">`))
	}))
	defer upstream.Close()

	svc, _ := newTestService(testConfig(), upstream.URL)

	in := httptest.NewRequest(http.MethodGet, "http://gateway.example/svc/v1/index.html?q=1", http.NoBody)
	in.Header.Set("Proxy-Authorization", "Basic abc")
	in.Header.Set("X-Forwarded-Path", "/spoofed/path")

	status, header, body, err := forward(t, svc, in)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("status = %d, want %d", status, http.StatusOK)
	}
	want := `<link href="/svc/v1/style.css"><img src="/svc/v1/logo.png">`
	if body != want {
		t.Errorf("body = %q, want %q", body, want)
	}
	if v := header.Get("Server"); v != "prefix-gateway" {
		t.Errorf("Server = %q, want %q", v, "prefix-gateway")
	}
	if v := header.Get("Alt-Svc"); v != "" {
		t.Errorf("Alt-Svc = %q, want removed", v)
	}
	if v := header.Get("Content-Length"); v != "" {
		t.Errorf("Content-Length = %q, want removed", v)
	}
}

func TestForward_EncodedPathReachesUpstream(t *testing.T) {
	var gotURI string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.RequestURI
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	svc, _ := newTestService(testConfig(), upstream.URL)
	in := httptest.NewRequest(http.MethodGet, "http://gateway.example/svc/v1/files/a%2Fb?q=1", http.NoBody)

	if _, _, _, err := forward(t, svc, in); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if gotURI != "/files/a%2Fb?q=1" {
		t.Errorf("upstream RequestURI = %q, want %q", gotURI, "/files/a%2Fb?q=1")
	}
}

func TestForward_BinaryBodyUnchanged(t *testing.T) {
	payload := bytes.Repeat([]byte("\x00\xff\"/"), 50000)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(payload)
	}))
	defer upstream.Close()

	svc, _ := newTestService(testConfig(), upstream.URL)
	in := httptest.NewRequest(http.MethodGet, "http://gateway.example/svc/v1/logo.png", http.NoBody)

	_, _, body, err := forward(t, svc, in)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if !bytes.Equal([]byte(body), payload) {
		t.Errorf("body changed: got %d bytes, want %d", len(body), len(payload))
	}
}

func TestForward_RedirectLocationRewritten(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Location", "http://127.0.0.1/login")
		w.WriteHeader(http.StatusFound)
	}))
	defer upstream.Close()

	svc, _ := newTestService(testConfig(), upstream.URL)
	in := httptest.NewRequest(http.MethodGet, "http://gateway.example/svc/v1/account", http.NoBody)

	status, header, _, err := forward(t, svc, in)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if status != http.StatusFound {
		t.Errorf("status = %d, want %d", status, http.StatusFound)
	}
	if v := header.Get("Location"); v != "http://gateway.example/svc/v1/login" {
		t.Errorf("Location = %q, want %q", v, "http://gateway.example/svc/v1/login")
	}
}

func TestForward_FailsBeforeDispatch(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	svc, _ := newTestService(testConfig(), upstream.URL)

	tests := []struct {
		name     string
		path     string
		wantKind gateway.Kind
	}{
		{"single segment", "/svc", gateway.KindClientRequestMalformed},
		{"root", "/", gateway.KindClientRequestMalformed},
		{"unknown prefix", "/svc/v9/x", gateway.KindRouteNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			_, _, _, err := forward(t, svc, in)

			var gwErr *gateway.Error
			if !errors.As(err, &gwErr) {
				t.Fatalf("error = %v, want *gateway.Error", err)
			}
			if gwErr.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", gwErr.Kind, tt.wantKind)
			}
		})
	}

	if n := hits.Load(); n != 0 {
		t.Errorf("upstream contacted %d times, want 0", n)
	}
}

func TestForward_UpstreamUnreachable(t *testing.T) {
	svc, _ := newTestService(testConfig(), "http://127.0.0.1:1")
	in := httptest.NewRequest(http.MethodGet, "/svc/v1/x", http.NoBody)

	_, _, _, err := forward(t, svc, in)
	if err == nil {
		t.Fatal("Forward() expected error for unreachable upstream")
	}
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		t.Errorf("error = %v, want a transport error", err)
	}
}

func TestForward_BodyTooLarge(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.Rewrite.MaxBufferBytes = 1024
	svc, _ := newTestService(cfg, upstream.URL)
	in := httptest.NewRequest(http.MethodGet, "/svc/v1/big.txt", http.NoBody)

	_, _, body, err := forward(t, svc, in)
	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) || gwErr.Kind != gateway.KindResponseBodyTooLarge {
		t.Fatalf("error = %v, want %v", err, gateway.KindResponseBodyTooLarge)
	}
	if body != "" {
		t.Errorf("emitted %d bytes before abort", len(body))
	}
}

func TestFilteredBody_EndOfStreamOnce(t *testing.T) {
	rec := &recordingHooks{}
	b := &filteredBody{
		src:   io.NopCloser(strings.NewReader(strings.Repeat("a", 100))),
		out:   httptest.NewRequest(http.MethodGet, "/", http.NoBody),
		rc:    gateway.NewRequestContext(),
		hooks: rec,
		chunk: make([]byte, 16),
	}

	got, err := io.ReadAll(b)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(got) != 100 {
		t.Errorf("read %d bytes, want 100", len(got))
	}
	if rec.eos != 1 {
		t.Errorf("end-of-stream delivered %d times, want 1", rec.eos)
	}
	if rec.calls < 7 {
		t.Errorf("body filter called %d times, want one per chunk", rec.calls)
	}

	// Further reads after EOF must not reach the filter again.
	if n, err := b.Read(make([]byte, 8)); n != 0 || err != io.EOF {
		t.Errorf("Read after EOF = %d, %v", n, err)
	}
	if rec.eos != 1 {
		t.Errorf("end-of-stream delivered %d times after extra read", rec.eos)
	}
}

// recordingHooks passes bodies through and counts body filter calls.
type recordingHooks struct {
	calls int
	eos   int
}

func (r *recordingHooks) NewContext() *gateway.RequestContext { return gateway.NewRequestContext() }

func (r *recordingHooks) UpstreamPeer(context.Context, *http.Request, *gateway.RequestContext) (*model.UpstreamTarget, error) {
	return nil, errors.New("not used")
}

func (r *recordingHooks) UpstreamRequestFilter(*http.Request, *gateway.RequestContext) error {
	return nil
}

func (r *recordingHooks) ResponseFilter(*http.Request, *http.Response, *gateway.RequestContext) error {
	return nil
}

func (r *recordingHooks) ResponseBodyFilter(_ *http.Request, chunk []byte, eos bool, _ *gateway.RequestContext) ([]byte, error) {
	r.calls++
	if eos {
		r.eos++
	}
	return append([]byte(nil), chunk...), nil
}

func (r *recordingHooks) Logging(*http.Request, int, error, *gateway.RequestContext) {}
