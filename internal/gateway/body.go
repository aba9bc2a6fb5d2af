package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

var rewritableTypes = []string{"text/", "application/"}

// errDecodedTooLarge is returned when a decoded body exceeds the buffer cap.
var errDecodedTooLarge = errors.New("decoded body exceeds buffer limit")

func isRewritable(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	for _, p := range rewritableTypes {
		if strings.HasPrefix(ct, p) {
			return true
		}
	}
	return false
}

// RewriteBody prefixes root-relative references (="/ and "/) in textual bodies.
// Invalid UTF-8 is replaced rather than rejected. Other content types are returned
// unchanged. The second result reports whether the body was treated as text.
func RewriteBody(body []byte, contentType, prefix string) ([]byte, bool) {
	if !isRewritable(contentType) {
		return body, false
	}
	text := strings.ToValidUTF8(string(body), "\uFFFD")
	// One left-to-right pass: a reference matched by ="/ is not matched again by "/.
	r := strings.NewReplacer(
		`="/`, `="`+prefix+`/`,
		`"/`, `"`+prefix+`/`,
	)
	return []byte(r.Replace(text)), true
}

// markDecodable handles upstreams that compress despite Accept-Encoding: identity.
// For rewritable bodies in an encoding we can read, the encoding is recorded on
// entry and Content-Encoding is dropped, since the rewritten body goes out plain.
// Bodies in any other encoding are marked opaque and left as they are.
func markDecodable(h http.Header, entry *ResponseBufferEntry) {
	enc := strings.ToLower(strings.TrimSpace(h.Get("Content-Encoding")))
	if enc == "" || enc == "identity" || !isRewritable(entry.ContentType) {
		return
	}
	if enc != "gzip" && enc != "br" {
		entry.opaque = true
		return
	}
	entry.encoding = enc
	entry.header = h
	h.Del("Content-Encoding")
}

// decodeBody inflates buf. limit <= 0 means unbounded.
func decodeBody(buf []byte, encoding string, limit int64) ([]byte, error) {
	var r io.Reader
	switch encoding {
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(buf))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer func() { _ = zr.Close() }()
		r = zr
	case "br":
		r = brotli.NewReader(bytes.NewReader(buf))
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}

	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", encoding, err)
	}
	if limit > 0 && int64(len(out)) > limit {
		return nil, errDecodedTooLarge
	}
	return out, nil
}
