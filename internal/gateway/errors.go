package gateway

import (
	"fmt"
	"net/http"
)

// Kind classifies request-scoped gateway failures.
type Kind int

const (
	KindClientRequestMalformed Kind = iota + 1
	KindRouteLookupFailed
	KindRouteNotFound
	KindUpstreamTargetMalformed
	KindResponseContractViolated
	KindResponseBodyTooLarge
	KindResponseBodyUndecodable
)

func (k Kind) String() string {
	switch k {
	case KindClientRequestMalformed:
		return "client_request_malformed"
	case KindRouteLookupFailed:
		return "route_lookup_failed"
	case KindRouteNotFound:
		return "route_not_found"
	case KindUpstreamTargetMalformed:
		return "upstream_target_malformed"
	case KindResponseContractViolated:
		return "response_contract_violated"
	case KindResponseBodyTooLarge:
		return "response_body_too_large"
	case KindResponseBodyUndecodable:
		return "response_body_undecodable"
	default:
		return "unknown"
	}
}

// Status returns the HTTP status a failure of this kind is answered with.
func (k Kind) Status() int {
	switch k {
	case KindClientRequestMalformed, KindRouteLookupFailed, KindUpstreamTargetMalformed:
		return http.StatusBadRequest
	case KindRouteNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

// Error is a request-scoped failure. Msg is safe to show to clients; Err carries
// the underlying cause for logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// PrefixTooShortError reports a path with fewer than two usable segments.
type PrefixTooShortError struct {
	Segments []string
}

func (e *PrefixTooShortError) Error() string {
	return fmt.Sprintf("prefixes too short: %q", e.Segments)
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}
