package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
)

// Fingerprint is a hex-encoded SHA-256 over a stage's declared inputs.
type Fingerprint string

// Short returns a truncated fingerprint for logs.
func (f Fingerprint) Short() string {
	if len(f) > 12 {
		return string(f[:12])
	}
	return string(f)
}

// Compute derives a fingerprint from a stage kind and its ordered input
// identities. Every field is length-prefixed so adjacent inputs cannot
// collide by concatenation.
func Compute(kind Kind, parts ...string) Fingerprint {
	h := sha256.New()

	writeField := func(data []byte) {
		length := uint64(len(data))
		var prefix [8]byte
		for i := 0; i < 8; i++ {
			prefix[i] = byte(length >> (56 - 8*i))
		}
		h.Write(prefix[:])
		h.Write(data)
	}

	writeField([]byte(kind))
	for _, p := range parts {
		writeField([]byte(p))
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// ComputeSet derives a fingerprint where one group of inputs is a set:
// the set members are sorted before hashing so identity is order-free.
func ComputeSet(kind Kind, ordered []string, set []string) Fingerprint {
	sortedSet := make([]string, len(set))
	copy(sortedSet, set)
	sort.Strings(sortedSet)
	return Compute(kind, append(append([]string(nil), ordered...), sortedSet...)...)
}

// FileFingerprint hashes a file's content.
func FileFingerprint(path string) (Fingerprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("fingerprinting %s: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return Fingerprint(hex.EncodeToString(sum[:])), nil
}
