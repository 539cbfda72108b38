// Package document provides helpers for the JSON documents held by the
// backing stores: copying, hiding the internal key field and applying
// dotted-path field updates.
package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// KeyField is the field a backend may use internally to hold the document key.
// It is never written from caller input nor returned to callers.
const KeyField = "_id"

var (
	// ErrPathConflict is returned when a dotted path walks through a value
	// that is not an object.
	ErrPathConflict = errors.New("document: path crosses a non-object value")
	// ErrInvalidPath is returned for paths with empty segments.
	ErrInvalidPath = errors.New("document: invalid field path")
)

// Clone returns a deep copy of a document by round-tripping through JSON.
func Clone(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	b, _ := json.Marshal(src)
	var dst map[string]any
	_ = json.Unmarshal(b, &dst)
	return dst
}

// StripKey returns a deep copy of doc without KeyField. A nil doc yields an
// empty document.
func StripKey(doc map[string]any) map[string]any {
	out := Clone(doc)
	if out == nil {
		return map[string]any{}
	}
	delete(out, KeyField)
	return out
}

// SetFields applies fields to dst in place. Each field name may be a dotted
// path ("a.b.c") addressing a nested object; missing intermediate objects
// are created. Fields are applied in sorted order so conflicts are reported
// deterministically. Paths rooted at KeyField are ignored.
func SetFields(dst map[string]any, fields map[string]any) error {
	for _, path := range sortedKeys(fields) {
		if IsKeyPath(path) {
			continue
		}
		if err := setPath(dst, path, fields[path]); err != nil {
			return err
		}
	}
	return nil
}

// IsKeyPath reports whether path is KeyField or a dotted path below it.
func IsKeyPath(path string) bool {
	return path == KeyField || strings.HasPrefix(path, KeyField+".")
}

func setPath(dst map[string]any, path string, value any) error {
	segments := strings.Split(path, ".")
	for _, s := range segments {
		if s == "" {
			return fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}

	cur := dst
	for i, seg := range segments[:len(segments)-1] {
		next, exists := cur[seg]
		if !exists || next == nil {
			child := map[string]any{}
			cur[seg] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %q at %q", ErrPathConflict, path, strings.Join(segments[:i+1], "."))
		}
		cur = child
	}
	cur[segments[len(segments)-1]] = value
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
