package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

const versionLength = 16

const defaultSentinel = "anonymous"

// Builder derives cache keys of the form "namespace/version/identity".
// The version changes whenever a query document changes, so entries written
// for an old query shape are never read back.
type Builder struct {
	sentinel string
}

// New returns a Builder that hashes sentinel in place of empty identities.
func New(sentinel string) Builder {
	if strings.TrimSpace(sentinel) == "" {
		sentinel = defaultSentinel
	}
	return Builder{sentinel: sentinel}
}

// Version returns the first 16 hex chars of the SHA-256 of the documents.
// Whitespace runs are collapsed first so reformatting a query does not
// change its version.
func Version(documents ...string) string {
	canonical := make([]string, len(documents))
	for i, doc := range documents {
		canonical[i] = strings.Join(strings.Fields(doc), " ")
	}
	// Marshalling a []string cannot fail.
	data, _ := json.Marshal(canonical)
	return digest(data)[:versionLength]
}

// Key returns "namespace/version/identity", where identity is the Identity
// hash of the given components.
func (b Builder) Key(namespace, version string, identity ...string) string {
	return namespace + "/" + version + "/" + b.Identity(identity...)
}

// Identity hashes each component on its own, then hashes the concatenation,
// so ("ab", "c") and ("a", "bc") never collide.
func (b Builder) Identity(components ...string) string {
	if len(components) == 0 {
		components = []string{""}
	}

	var sb strings.Builder
	for _, c := range components {
		sb.WriteString(b.component(c))
	}
	return digest([]byte(sb.String()))
}

func (b Builder) component(c string) string {
	normalized := strings.ToLower(strings.TrimSpace(c))
	if normalized == "" {
		return digest([]byte(b.sentinel))
	}
	return digest([]byte(normalized))
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
