package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"prefix-gateway/internal/model"
)

// ResponseBufferEntry accumulates one prefix's response body until end-of-stream.
type ResponseBufferEntry struct {
	buf []byte
	// ContentType is the upstream Content-Type, empty when absent.
	ContentType string

	encoding    string      // upstream Content-Encoding to undo before rewriting
	header      http.Header // response header, kept to restore Content-Encoding
	passthrough bool        // cap exceeded; remaining chunks stream through raw
	opaque      bool        // encoded in a form we cannot decode; never rewritten
}

// Len returns the number of buffered bytes.
func (e *ResponseBufferEntry) Len() int { return len(e.buf) }

// RequestContext is the per-request state handed to every pipeline phase. It is
// created when a request arrives and released when the pipeline completes.
type RequestContext struct {
	ID    string
	Start time.Time

	// Prefix and Target are set once the upstream peer has been selected.
	Prefix string
	Target *model.UpstreamTarget

	mu      sync.Mutex
	entries map[string]*ResponseBufferEntry
}

// NewRequestContext returns an empty context stamped with a fresh id.
func NewRequestContext() *RequestContext {
	return &RequestContext{
		ID:      uuid.NewString(),
		Start:   time.Now(),
		entries: make(map[string]*ResponseBufferEntry),
	}
}

// Entry returns the buffer entry for prefix, creating it on first use.
func (rc *RequestContext) Entry(prefix string) *ResponseBufferEntry {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	e, ok := rc.entries[prefix]
	if !ok {
		e = &ResponseBufferEntry{}
		rc.entries[prefix] = e
	}
	return e
}

// Lookup returns the entry for prefix without creating one.
func (rc *RequestContext) Lookup(prefix string) (*ResponseBufferEntry, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	e, ok := rc.entries[prefix]
	return e, ok
}

// Remove drops the entry for prefix and its buffered bytes.
func (rc *RequestContext) Remove(prefix string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.entries, prefix)
}

// Len returns the number of live entries.
func (rc *RequestContext) Len() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.entries)
}

// Release discards every entry. Bytes buffered but not yet emitted are lost.
func (rc *RequestContext) Release() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	clear(rc.entries)
}
