// Package service drives one proxied exchange through the gateway's pipeline
// hooks: peer selection, request rewriting, the upstream call, and response
// header and body filtering.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"prefix-gateway/internal/client"
	"prefix-gateway/internal/gateway"
	"prefix-gateway/internal/middleware"
	"prefix-gateway/internal/model"
)

// readChunkSize bounds each upstream read handed to the body filter.
const readChunkSize = 32 * 1024

// Hooks is the fixed set of per-phase callbacks invoked for every request.
// gateway.Gateway is the production implementation.
type Hooks interface {
	NewContext() *gateway.RequestContext
	UpstreamPeer(ctx context.Context, in *http.Request, rc *gateway.RequestContext) (*model.UpstreamTarget, error)
	UpstreamRequestFilter(out *http.Request, rc *gateway.RequestContext) error
	ResponseFilter(out *http.Request, resp *http.Response, rc *gateway.RequestContext) error
	ResponseBodyFilter(out *http.Request, chunk []byte, endOfStream bool, rc *gateway.RequestContext) ([]byte, error)
	Logging(in *http.Request, status int, err error, rc *gateway.RequestContext)
}

// ProxyService runs the hook pipeline around the upstream client.
type ProxyService struct {
	client *client.UpstreamClient
	hooks  Hooks
	logger *slog.Logger
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.UpstreamClient, hooks Hooks, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client: c,
		hooks:  hooks,
		logger: logger.With("component", "proxy_service"),
	}
}

// NewContext returns fresh per-request state. Pass it to Forward and Finish.
func (s *ProxyService) NewContext() *gateway.RequestContext {
	return s.hooks.NewContext()
}

// Forward sends in to its upstream and returns the filtered response. The
// returned body yields rewritten bytes; the caller must close it.
//
// Failures before dispatch return without contacting any upstream.
func (s *ProxyService) Forward(in *http.Request, rc *gateway.RequestContext) (*model.ProxyResponse, error) {
	target, err := s.hooks.UpstreamPeer(in.Context(), in, rc)
	if err != nil {
		return nil, err
	}

	out := in.Clone(in.Context())
	out.RequestURI = ""
	middleware.RemoveHopByHop(out.Header)

	if err := s.hooks.UpstreamRequestFilter(out, rc); err != nil {
		return nil, err
	}

	s.logger.Debug("forwarding request",
		"request_id", rc.ID,
		"method", out.Method,
		"upstream", target.DialAddress,
		"path", out.URL.Path,
	)

	resp, err := s.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	middleware.RemoveHopByHop(resp.Header)
	if err := s.hooks.ResponseFilter(out, resp, rc); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body: &filteredBody{
			src:   resp.Body,
			out:   out,
			rc:    rc,
			hooks: s.hooks,
			chunk: make([]byte, readChunkSize),
		},
	}, nil
}

// Finish runs the logging hook and releases rc. status is 0 when nothing was
// written to the client.
func (s *ProxyService) Finish(in *http.Request, rc *gateway.RequestContext, status int, err error) {
	s.hooks.Logging(in, status, err, rc)
	rc.Release()
}

// filteredBody passes every upstream chunk through the body filter and signals
// end-of-stream to it exactly once.
type filteredBody struct {
	src   io.ReadCloser
	out   *http.Request
	rc    *gateway.RequestContext
	hooks Hooks

	chunk   []byte
	pending []byte
	done    bool
	err     error
}

func (b *filteredBody) Read(p []byte) (int, error) {
	for len(b.pending) == 0 {
		if b.err != nil {
			return 0, b.err
		}
		if b.done {
			return 0, io.EOF
		}

		n, rerr := b.src.Read(b.chunk)
		eos := rerr == io.EOF
		if rerr != nil && !eos {
			b.err = fmt.Errorf("read upstream body: %w", rerr)
			return 0, b.err
		}
		if n == 0 && !eos {
			continue
		}

		data, err := b.hooks.ResponseBodyFilter(b.out, b.chunk[:n], eos, b.rc)
		if err != nil {
			b.err = err
			return 0, err
		}
		b.pending = data
		b.done = eos
	}

	n := copy(p, b.pending)
	b.pending = b.pending[n:]
	return n, nil
}

func (b *filteredBody) Close() error {
	return b.src.Close()
}
