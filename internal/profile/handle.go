package profile

import (
	"encoding/base64"
	"sync"
)

// Handle is an opaque reference to avatar bytes. Release drops the bytes;
// a released handle reports no data.
type Handle struct {
	contentType string

	mu   sync.RWMutex
	data []byte
}

// NewHandle wraps data. The handle takes ownership of the slice.
func NewHandle(contentType string, data []byte) *Handle {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Handle{contentType: contentType, data: data}
}

// ContentType is the media type reported by the server.
func (h *Handle) ContentType() string {
	return h.contentType
}

// Bytes returns a copy of the avatar bytes, or nil after Release.
func (h *Handle) Bytes() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.data == nil {
		return nil
	}
	return append([]byte(nil), h.data...)
}

// Size returns the number of bytes held.
func (h *Handle) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.data)
}

// DataURL renders the avatar as a data: URL, or "" after Release.
func (h *Handle) DataURL() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.data == nil {
		return ""
	}
	return "data:" + h.contentType + ";base64," + base64.StdEncoding.EncodeToString(h.data)
}

// Release frees the bytes. Safe to call more than once and on nil.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.data = nil
	h.mu.Unlock()
}

// Released reports whether Release has been called.
func (h *Handle) Released() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.data == nil
}
