package notification

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	nettextproto "net/textproto"
	"strings"

	"github.com/emersion/go-message/textproto"
)

// Headers is a case-insensitive header bag. The zero value is empty and
// ready to use.
type Headers struct {
	raw textproto.Header
}

// NewHeaders builds a Headers from a plain map, the shape webhook payloads
// and tests usually carry.
func NewHeaders(m map[string]string) *Headers {
	h := &Headers{}
	for k, v := range m {
		h.raw.Set(k, v)
	}
	return h
}

// Get returns the first value for key, trimmed. Missing keys return "".
func (h *Headers) Get(key string) string {
	if h == nil {
		return ""
	}
	return strings.TrimSpace(h.raw.Get(key))
}

// Values returns every value for key.
func (h *Headers) Values(key string) []string {
	if h == nil {
		return nil
	}
	var out []string
	for f := h.raw.FieldsByKey(key); f.Next(); {
		out = append(out, f.Value())
	}
	return out
}

// Has reports whether key is present.
func (h *Headers) Has(key string) bool {
	return h != nil && h.raw.Has(key)
}

// Set replaces the values for key.
func (h *Headers) Set(key, value string) { h.raw.Set(key, value) }

// Add appends a value for key.
func (h *Headers) Add(key, value string) { h.raw.Add(key, value) }

// Map returns a copy of all headers keyed by canonical name.
func (h *Headers) Map() map[string][]string {
	if h == nil {
		return nil
	}
	out := make(map[string][]string, h.raw.Len())
	for f := h.raw.Fields(); f.Next(); {
		k := nettextproto.CanonicalMIMEHeaderKey(f.Key())
		out[k] = append(out[k], f.Value())
	}
	return out
}

// ParseMessage splits a raw RFC 5322 message into its header block and body.
func ParseMessage(raw []byte) (*Headers, string, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	hdr, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, "", fmt.Errorf("read header: %w", err)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	return &Headers{raw: hdr}, string(body), nil
}
