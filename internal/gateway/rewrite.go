package gateway

import (
	"net/http"
	"net/url"
	"strings"

	"prefix-gateway/internal/model"
)

// Headers the gateway adds to outbound requests.
const (
	HeaderForwardedHost = "X-Forwarded-Host"
	HeaderForwardedPath = "X-Forwarded-Path"
)

// RewritePath removes the first occurrence of prefix from path. Only the first
// match is altered, so applying it twice strips a repeated prefix twice.
func RewritePath(path, prefix string) string {
	if strings.Contains(path, prefix+"/") {
		return strings.Replace(path, prefix+"/", "/", 1)
	}
	return strings.Replace(path, prefix, "/", 1)
}

// RewriteRequest points out at target and strips prefix from its path. The body
// is left untouched.
func RewriteRequest(out *http.Request, prefix string, target model.UpstreamTarget) {
	inboundHost := out.Host

	out.URL.Scheme = target.Scheme
	out.URL.Host = target.DialAddress
	rewriteURLPath(out.URL, prefix)
	out.Host = target.HostHeader

	out.Header.Set(HeaderForwardedHost, inboundHost)
	// Body rewriting works on plain bytes.
	out.Header.Set("Accept-Encoding", "identity")
	// Later phases read the first value, so a client-supplied one must not survive.
	out.Header.Del(HeaderForwardedPath)
	out.Header.Add(HeaderForwardedPath, prefix)
}

// rewriteURLPath strips prefix from the escaped form of u's path so that
// percent-encoded bytes such as %2F reach the upstream unchanged.
func rewriteURLPath(u *url.URL, prefix string) {
	raw := u.EscapedPath()
	rawPrefix := prefix
	if !strings.Contains(raw, prefix) {
		// The prefix itself was sent percent-encoded.
		if p, err := ResolvePrefix(raw); err == nil {
			rawPrefix = p
		}
	}

	rewritten := RewritePath(raw, rawPrefix)
	path, err := url.PathUnescape(rewritten)
	if err != nil {
		u.Path = RewritePath(u.Path, prefix)
		u.RawPath = ""
		return
	}
	u.Path = path
	u.RawPath = rewritten
}

// RewriteResponseHeader prepares resp for a rewritten body of unknown length,
// records its content type in entry and repairs redirects.
func RewriteResponseHeader(out *http.Request, resp *http.Response, entry *ResponseBufferEntry) {
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Header.Set("Transfer-Encoding", "chunked")

	entry.ContentType = resp.Header.Get("Content-Type")

	if resp.StatusCode == http.StatusMovedPermanently || resp.StatusCode == http.StatusFound {
		rewriteLocation(out, resp.Header)
	}
}

// rewriteLocation swaps the upstream host in Location for the gateway host and
// prefix. It is best-effort: without every input the header is left alone.
func rewriteLocation(out *http.Request, h http.Header) bool {
	loc := h.Get("Location")
	upstreamHost := out.Host
	fwdHost := out.Header.Get(HeaderForwardedHost)
	fwdPath := out.Header.Get(HeaderForwardedPath)
	if loc == "" || upstreamHost == "" || fwdHost == "" || fwdPath == "" {
		return false
	}
	h.Set("Location", strings.Replace(loc, upstreamHost, fwdHost+"/"+strings.TrimPrefix(fwdPath, "/"), 1))
	return true
}
