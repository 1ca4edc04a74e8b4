package kemudi

import (
	"crypto/sha256"
	"fmt"
	"hash/fnv"
	"sort"
)

// Fingerprint derives the deterministic identity string for a request under
// the given field selection. It is the join key across the cache and the
// deduplication coordinator: two configs with the same fingerprint under the
// same KeyFields are interchangeable.
//
// Map-valued fields (params, headers) are folded in sorted key order so the
// result is independent of map iteration order. Bodies are folded as a SHA-256
// digest rather than raw bytes to keep the hash input bounded.
func Fingerprint(config *RequestConfig, fields KeyFields) string {
	h := fnv.New64a()

	if fields.Method {
		h.Write([]byte(config.Method))
		h.Write([]byte{0})
	}
	if fields.URL {
		h.Write([]byte(config.URL))
		h.Write([]byte{0})
	}
	if fields.Params && len(config.Params) > 0 {
		writeSortedMap(h, config.Params)
	}
	if fields.Body && len(config.Body) > 0 {
		digest := sha256.Sum256(config.Body)
		h.Write(digest[:])
	}
	if fields.Headers && len(config.Headers) > 0 {
		writeSortedMap(h, config.Headers)
	}

	return fmt.Sprintf("%x", h.Sum64())
}

func writeSortedMap(h interface{ Write([]byte) (int, error) }, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(m[k]))
		h.Write([]byte{0})
	}
}
