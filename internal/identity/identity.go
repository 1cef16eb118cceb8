// Package identity provides content-addressed identifiers for chunks and documents.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// hashPrefixLen is the number of hex characters kept from the full sha256
// digest. Truncation keeps stored keys compact; 64 bits of collision
// resistance per collection is far beyond realistic chunk counts.
const hashPrefixLen = 32

const linkPrefix = "link:"

// ChunkHash returns the stable content-addressed identifier of a chunk's
// text. Text is normalized (surrounding whitespace trimmed) so that identical
// content always yields the same hash across re-submissions.
func ChunkHash(text string) string {
	normalized := strings.TrimSpace(text)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:hashPrefixLen]
}

// CacheKey returns a deterministic key over several parts, used for
// request/response caches keyed by text+query pairs.
func CacheKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:hashPrefixLen]
}

// DocIDFromURL returns a stable document id for a crawled page so that
// re-crawling the same URL updates the same document. Trailing slashes and
// fragments are stripped before hashing so trivially different spellings of
// the same page converge.
func DocIDFromURL(raw string) string {
	normalized := raw
	if u, err := url.Parse(raw); err == nil {
		u.Fragment = ""
		u.Path = strings.TrimSuffix(u.Path, "/")
		normalized = u.String()
	}
	sum := sha256.Sum256([]byte(normalized))
	return linkPrefix + hex.EncodeToString(sum[:])[:hashPrefixLen]
}

// OrgHash returns the short hash of an organization name used inside
// collection names (vendor_orgHash_topic).
func OrgHash(org string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(org))))
	return hex.EncodeToString(sum[:])[:8]
}
