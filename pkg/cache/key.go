package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// Fingerprint derives the Semantic Cache's opaque key from spec.md §4.J:
// canonicalize the query (normalize whitespace, lowercase keywords),
// combine with the connection identity and salient parameters, then
// hash. The embedding-based semantic-similarity key spec.md gestures at
// is out of scope here — Fingerprint only implements the exact-match
// canonicalization path; callers needing semantic similarity supply
// their own key and the cache treats it as opaque either way.
func Fingerprint(connection, query string, params map[string]any) string {
	h := sha256.New()
	h.Write([]byte(connection))
	h.Write([]byte{0})
	h.Write([]byte(canonicalize(query)))
	h.Write([]byte{0})
	h.Write(canonicalizeParams(params))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalize collapses runs of whitespace and lowercases the query so
// semantically identical queries that differ only in formatting or
// keyword case share a cache entry.
func canonicalize(query string) string {
	fields := strings.Fields(query)
	return strings.ToLower(strings.Join(fields, " "))
}

// canonicalizeParams sorts the keys of params and marshals them as one
// flat [key, value, key, value, ...] list, so the fingerprint is stable
// regardless of map iteration order.
func canonicalizeParams(params map[string]any) []byte {
	if len(params) == 0 {
		return nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]any, 0, len(params)*2)
	for _, k := range keys {
		ordered = append(ordered, k, params[k])
	}
	b, _ := json.Marshal(ordered)
	return b
}
