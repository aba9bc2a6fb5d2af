// Package model defines shared types for the gateway.
package model

import (
	"io"
	"net/http"
)

// RouteConfig is the routing entry stored for a route prefix.
type RouteConfig struct {
	Target string `json:"target"`
}

// UpstreamTarget is the resolved backend for one request.
type UpstreamTarget struct {
	// DialAddress is host:port, or the stored value verbatim when it carried no scheme.
	DialAddress string
	// SNI is set for https and wss targets.
	SNI bool
	// HostHeader is the dial host without its port.
	HostHeader string
	// Scheme is the transport scheme used for the outbound URL.
	Scheme string
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
