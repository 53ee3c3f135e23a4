// Package handle owns the displayable in-memory handles (preview and processed
// result) of a workflow. Handles are released explicitly; a released handle
// drops its bytes and can no longer be looked up.
package handle

import (
	"encoding/base64"
	"strings"
	"sync"

	"github.com/segmentio/ksuid"
)

type Kind string

const (
	KindPreview Kind = "preview"
	KindResult  Kind = "result"
)

// Handle is an immutable blob of image bytes addressable by URL.
type Handle struct {
	id        string
	kind      Kind
	mediaType string
	size      int

	mu       sync.RWMutex
	data     []byte
	released bool
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) Kind() Kind { return h.kind }

func (h *Handle) MediaType() string { return h.mediaType }

// Size is the byte length at creation, kept after release.
func (h *Handle) Size() int { return h.size }

// URL returns the blob-style address of the handle.
func (h *Handle) URL() string { return "blob:" + h.id }

// Bytes returns the handle content, nil once released.
func (h *Handle) Bytes() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.data
}

// DataURI renders the content as a self-contained data URI, or "" once released.
func (h *Handle) DataURI() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.released {
		return ""
	}
	return "data:" + h.mediaType + ";base64," + base64.StdEncoding.EncodeToString(h.data)
}

func (h *Handle) Released() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.released
}

func (h *Handle) release() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return false
	}
	h.released = true
	h.data = nil
	return true
}

// Registry tracks every live handle it created.
type Registry struct {
	mu   sync.Mutex
	live map[string]*Handle
}

func NewRegistry() *Registry {
	return &Registry{live: make(map[string]*Handle)}
}

// Create registers a new handle over data. The registry takes ownership of data.
func (r *Registry) Create(kind Kind, mediaType string, data []byte) *Handle {
	h := &Handle{
		id:        ksuid.New().String(),
		kind:      kind,
		mediaType: mediaType,
		size:      len(data),
		data:      data,
	}

	r.mu.Lock()
	r.live[h.id] = h
	r.mu.Unlock()
	return h
}

// Release invalidates h. It is safe to call with nil or an already released handle.
func (r *Registry) Release(h *Handle) {
	if h == nil {
		return
	}

	r.mu.Lock()
	delete(r.live, h.id)
	r.mu.Unlock()
	h.release()
}

// Lookup resolves a live handle by id or by its blob URL.
func (r *Registry) Lookup(id string) (*Handle, bool) {
	id = strings.TrimPrefix(id, "blob:")

	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.live[id]
	return h, ok
}

// Live reports how many handles have been created and not yet released.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}
