// Package serializer provides the body encodings a task envelope may declare.
package serializer

import (
	"strings"
)

const (
	EncodingUTF8   = "utf-8"
	EncodingBinary = "binary"
)

// Serializer turns the body tuple into bytes and back.
// Unmarshal targets are *any; decoded maps are map[string]any and
// decoded sequences are []any.
type Serializer interface {
	ContentType() string
	ContentEncoding() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content types to serializers. It is read-only after
// construction and safe for concurrent use.
type Registry struct {
	byType map[string]Serializer
}

// NewRegistry returns a registry holding the given serializers.
func NewRegistry(ss ...Serializer) *Registry {
	r := &Registry{byType: make(map[string]Serializer, len(ss))}
	for _, s := range ss {
		r.byType[normalizeType(s.ContentType())] = s
	}
	return r
}

var defaultRegistry = NewRegistry(JSON(), YAML(), CBOR(), Protobuf())

// Default returns the registry with every built-in serializer.
func Default() *Registry { return defaultRegistry }

// Get returns the serializer for contentType, or nil.
func (r *Registry) Get(contentType string) Serializer {
	return r.byType[normalizeType(contentType)]
}

// ContentTypes lists the registered content types.
func (r *Registry) ContentTypes() []string {
	out := make([]string, 0, len(r.byType))
	for ct := range r.byType {
		out = append(out, ct)
	}
	return out
}

// NormalizeEncoding folds aliases of the known content encodings.
// Unknown names are returned lower-cased.
func NormalizeEncoding(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "utf-8", "utf8":
		return EncodingUTF8
	case "binary", "8bit":
		return EncodingBinary
	}
	return n
}

// KnownEncoding reports whether name is a content encoding this package handles.
func KnownEncoding(name string) bool {
	switch NormalizeEncoding(name) {
	case EncodingUTF8, EncodingBinary:
		return true
	}
	return false
}

func normalizeType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}
