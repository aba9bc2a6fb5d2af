// Package gateway implements the prefix-routed proxy core: it resolves a route
// prefix from the request path, finds the upstream in the route store, rewrites
// the outbound request, and rewrites response headers and buffered bodies so
// that links keep resolving through the gateway's prefix.
//
// Gateway exposes one method per pipeline phase; the host pipeline calls them in
// order for every request and threads a RequestContext through all of them.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"prefix-gateway/internal/config"
	"prefix-gateway/internal/metrics"
	"prefix-gateway/internal/model"
	"prefix-gateway/internal/routestore"
)

// Gateway holds the process-wide collaborators of the core. It is safe for
// concurrent use; all per-request state lives in RequestContext.
type Gateway struct {
	store   routestore.Store
	logger  *slog.Logger
	metrics *metrics.Metrics

	lookupTimeout  time.Duration
	serverName     string
	maxBuffer      int64
	overflowPolicy string
}

// New creates a Gateway. The metrics parameter is optional; pass nil to disable
// core metrics recording.
func New(store routestore.Store, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Gateway {
	return &Gateway{
		store:          store,
		logger:         logger.With("component", "gateway"),
		metrics:        m,
		lookupTimeout:  cfg.Store.LookupTimeout(),
		serverName:     cfg.Server.ServerName,
		maxBuffer:      cfg.Rewrite.MaxBufferBytes,
		overflowPolicy: cfg.Rewrite.OverflowPolicy,
	}
}

// NewContext returns the state for one request.
func (g *Gateway) NewContext() *RequestContext {
	return NewRequestContext()
}

// UpstreamPeer resolves the inbound request to its upstream. Every failure here
// happens before any upstream connection is attempted.
func (g *Gateway) UpstreamPeer(ctx context.Context, in *http.Request, rc *RequestContext) (*model.UpstreamTarget, error) {
	prefix, err := ResolvePrefix(in.URL.Path)
	if err != nil {
		return nil, err
	}
	rc.Prefix = prefix

	if g.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.lookupTimeout)
		defer cancel()
	}

	raw, found, err := g.store.Get(ctx, prefix)
	if err != nil {
		g.countLookup(metrics.LookupError)
		return nil, newError(KindRouteLookupFailed, "route store lookup failed", err)
	}
	if !found {
		g.countLookup(metrics.LookupMiss)
		return nil, newError(KindRouteNotFound, fmt.Sprintf("no upstream matches prefix %s", prefix), nil)
	}

	route, err := ParseRouteConfig(raw)
	if err != nil {
		g.countLookup(metrics.LookupMalformed)
		return nil, err
	}
	target, err := SelectPeer(route.Target)
	if err != nil {
		g.countLookup(metrics.LookupMalformed)
		return nil, err
	}
	g.countLookup(metrics.LookupHit)

	g.logger.Debug("connecting to upstream",
		"request_id", rc.ID,
		"prefix", prefix,
		"dial", target.DialAddress,
		"sni", target.SNI,
	)

	rc.Target = &target
	return &target, nil
}

// UpstreamRequestFilter rewrites the outbound request for the selected peer.
func (g *Gateway) UpstreamRequestFilter(out *http.Request, rc *RequestContext) error {
	if rc.Target == nil || rc.Prefix == "" {
		return newError(KindResponseContractViolated, "no upstream selected for request", nil)
	}
	RewriteRequest(out, rc.Prefix, *rc.Target)
	return nil
}

// ResponseFilter rewrites upstream response headers before any body is handled.
func (g *Gateway) ResponseFilter(out *http.Request, resp *http.Response, rc *RequestContext) error {
	prefix := out.Header.Get(HeaderForwardedPath)
	if prefix == "" {
		return newError(KindResponseContractViolated, "outbound request lost its route prefix", nil)
	}
	entry := rc.Entry(prefix)

	RewriteResponseHeader(out, resp, entry)
	markDecodable(resp.Header, entry)

	resp.Header.Set("Server", g.serverName)
	// No HTTP/3 listener to advertise.
	resp.Header.Del("Alt-Svc")
	return nil
}

// ResponseBodyFilter buffers chunk for the request's prefix and returns the bytes
// to emit. Nothing is emitted before end-of-stream unless the buffer cap was
// exceeded under the passthrough policy.
func (g *Gateway) ResponseBodyFilter(out *http.Request, chunk []byte, endOfStream bool, rc *RequestContext) ([]byte, error) {
	prefix := out.Header.Get(HeaderForwardedPath)
	if prefix == "" {
		return nil, newError(KindResponseContractViolated, "outbound request lost its route prefix", nil)
	}
	entry := rc.Entry(prefix)

	if entry.passthrough {
		if endOfStream {
			rc.Remove(prefix)
		}
		return chunk, nil
	}

	entry.buf = append(entry.buf, chunk...)
	if g.maxBuffer > 0 && int64(len(entry.buf)) > g.maxBuffer {
		return g.overflow(prefix, entry, endOfStream, rc)
	}
	if !endOfStream {
		return nil, nil
	}

	defer rc.Remove(prefix)
	return g.finalize(prefix, entry)
}

// overflow applies the configured policy once a buffer outgrows the cap.
func (g *Gateway) overflow(prefix string, entry *ResponseBufferEntry, endOfStream bool, rc *RequestContext) ([]byte, error) {
	if g.overflowPolicy != config.OverflowPassthrough {
		rc.Remove(prefix)
		g.countRewrite(metrics.RewriteAborted)
		return nil, newError(KindResponseBodyTooLarge,
			fmt.Sprintf("response body exceeds %d byte rewrite buffer", g.maxBuffer), nil)
	}

	g.logger.Warn("response body exceeds rewrite buffer, passing through unmodified",
		"request_id", rc.ID,
		"prefix", prefix,
		"limit", g.maxBuffer,
	)
	g.countRewrite(metrics.RewritePassthrough)

	if entry.encoding != "" && entry.header != nil {
		entry.header.Set("Content-Encoding", entry.encoding)
	}
	data := entry.buf
	entry.buf = nil
	entry.passthrough = true
	if endOfStream {
		rc.Remove(prefix)
	}
	return data, nil
}

func (g *Gateway) finalize(prefix string, entry *ResponseBufferEntry) ([]byte, error) {
	if g.metrics != nil {
		g.metrics.BufferedBodyBytes.Observe(float64(len(entry.buf)))
	}

	body := entry.buf
	if entry.opaque {
		g.countRewrite(metrics.RewriteUnchanged)
		return body, nil
	}
	if entry.encoding != "" {
		decoded, err := decodeBody(body, entry.encoding, g.maxBuffer)
		if err != nil {
			g.countRewrite(metrics.RewriteAborted)
			return nil, newError(KindResponseBodyUndecodable, "upstream response body could not be decoded", err)
		}
		body = decoded
	}

	out, rewritten := RewriteBody(body, entry.ContentType, prefix)
	if rewritten {
		g.countRewrite(metrics.RewriteRewritten)
	} else {
		g.countRewrite(metrics.RewriteUnchanged)
	}
	return out, nil
}

// Logging emits the single completion record for a request. status is 0 when no
// response was written.
func (g *Gateway) Logging(in *http.Request, status int, err error, rc *RequestContext) {
	attrs := []any{
		"request_id", rc.ID,
		"summary", Summary(in),
		"status", status,
		"duration_ms", time.Since(rc.Start).Milliseconds(),
	}
	if rc.Prefix != "" {
		attrs = append(attrs, "prefix", rc.Prefix)
	}
	if err != nil {
		attrs = append(attrs, "err", err)
		g.logger.Warn("request failed", attrs...)
		return
	}
	g.logger.Info("request completed", attrs...)
}

// Summary describes a request for logs: method, URI and Host.
func Summary(in *http.Request) string {
	return fmt.Sprintf("%s %s, Host: %s", in.Method, in.URL.RequestURI(), in.Host)
}

func (g *Gateway) countLookup(result string) {
	if g.metrics != nil {
		g.metrics.RouteLookups.WithLabelValues(result).Inc()
	}
}

func (g *Gateway) countRewrite(outcome string) {
	if g.metrics != nil {
		g.metrics.BodyRewrites.WithLabelValues(outcome).Inc()
	}
}
