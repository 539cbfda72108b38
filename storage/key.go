package storage

import (
	"strings"

	"github.com/stevemurr/simple-storage-server/errors"
)

// Separator joins the prefix and suffix of a key. It may not appear in
// either component, which keeps the composition injective.
const Separator = "|"

// BuildKey creates a key from prefix and suffix as prefix + "|" + suffix.
//
// The prefix/suffix pair lets several clients use the same document name
// without colliding: client A stores ("A", "key") and client B ("B", "key").
func BuildKey(prefix, suffix string) (string, error) {
	if prefix == "" {
		return "", errors.MissingKeyComponent("prefix")
	}
	if suffix == "" {
		return "", errors.MissingKeyComponent("suffix")
	}
	if strings.Contains(prefix, Separator) {
		return "", errors.InvalidKeyComponent("prefix", prefix, Separator)
	}
	if strings.Contains(suffix, Separator) {
		return "", errors.InvalidKeyComponent("suffix", suffix, Separator)
	}
	return prefix + Separator + suffix, nil
}

// SplitKey is the inverse of BuildKey.
func SplitKey(key string) (prefix, suffix string, ok bool) {
	prefix, suffix, ok = strings.Cut(key, Separator)
	if !ok || prefix == "" || suffix == "" || strings.Contains(suffix, Separator) {
		return "", "", false
	}
	return prefix, suffix, true
}
