package gateway

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"prefix-gateway/internal/model"
)

var (
	schemePattern = regexp.MustCompile(`^(?i)(https?|wss?)://`)
	portPattern   = regexp.MustCompile(`:\d+$`)
)

// defaultPorts is keyed by lower-cased scheme. ws and wss follow http and https.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
}

// ParseRouteConfig decodes a stored routing entry. The target must be a non-empty string.
func ParseRouteConfig(doc string) (model.RouteConfig, error) {
	if !gjson.Valid(doc) {
		return model.RouteConfig{}, newError(KindUpstreamTargetMalformed, "route config is not valid JSON", nil)
	}
	res := gjson.Get(doc, "target")
	switch {
	case !res.Exists():
		return model.RouteConfig{}, newError(KindUpstreamTargetMalformed, "route config has no target", nil)
	case res.Type != gjson.String:
		return model.RouteConfig{}, newError(KindUpstreamTargetMalformed, "route config target is not a string", nil)
	case res.Str == "":
		return model.RouteConfig{}, newError(KindUpstreamTargetMalformed, "route config target is empty", nil)
	}
	return model.RouteConfig{Target: res.Str}, nil
}

// SelectPeer turns a stored target into the address to dial, the SNI flag and
// the Host header value.
//
// A recognised scheme is stripped along with anything after the authority, and
// the scheme's default port is appended unless one is present. Targets without a
// scheme are dialed verbatim over plain HTTP.
func SelectPeer(target string) (model.UpstreamTarget, error) {
	if target == "" {
		return model.UpstreamTarget{}, newError(KindUpstreamTargetMalformed, "upstream target is empty", nil)
	}

	m := schemePattern.FindStringSubmatch(target)
	if m == nil {
		return model.UpstreamTarget{
			DialAddress: target,
			HostHeader:  stripPort(target),
			Scheme:      "http",
		}, nil
	}

	scheme := strings.ToLower(m[1])
	addr := target[len(m[0]):]
	if i := strings.IndexAny(addr, "/?#"); i >= 0 {
		addr = addr[:i]
	}
	if addr == "" {
		return model.UpstreamTarget{}, newError(KindUpstreamTargetMalformed, "upstream target has no host", nil)
	}

	dial := addr
	if !portPattern.MatchString(addr) {
		dial = addr + ":" + defaultPorts[scheme]
	}
	sni := scheme == "https" || scheme == "wss"
	transport := "http"
	if sni {
		transport = "https"
	}

	return model.UpstreamTarget{
		DialAddress: dial,
		SNI:         sni,
		HostHeader:  stripPort(addr),
		Scheme:      transport,
	}, nil
}

func stripPort(addr string) string {
	return portPattern.ReplaceAllString(addr, "")
}
