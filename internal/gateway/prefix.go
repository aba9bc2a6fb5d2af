package gateway

import (
	"fmt"
	"strings"
)

// ResolvePrefix derives the route prefix "/seg0/seg1" from the first two path
// segments. Both segments must be non-empty, so "//a/b" and "/a//b" are rejected
// rather than routed under an empty segment.
func ResolvePrefix(path string) (string, error) {
	segments := strings.Split(path, "/")[1:]
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return "", newError(KindClientRequestMalformed,
			fmt.Sprintf("request path needs at least two non-empty segments; got %q", segments),
			&PrefixTooShortError{Segments: segments})
	}
	return "/" + segments[0] + "/" + segments[1], nil
}
