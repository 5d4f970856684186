package pii

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// IsHashed reports whether v already looks like a lowercase SHA-256 hex digest.
func IsHashed(v string) bool {
	if len(v) != 64 {
		return false
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// SHA256Hex hashes the lowercased, trimmed form of s.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(s))))
	return hex.EncodeToString(sum[:])
}

// Hash normalizes raw for f and returns its digest. Hashed input is
// returned unchanged.
func Hash(f Field, raw string) (string, bool) {
	if IsHashed(raw) {
		return raw, true
	}
	v, ok := Normalize(f, raw)
	if !ok {
		return "", false
	}
	return SHA256Hex(v), true
}

// Hasher adds server-side sanity bounds on top of Hash.
type Hasher struct {
	// MinBirthYear drops birth dates before this year. Zero disables the check.
	MinBirthYear int
	Now          func() time.Time
}

func (h Hasher) Hash(f Field, raw string) (string, bool) {
	if IsHashed(raw) {
		return raw, true
	}
	v, ok := Normalize(f, raw)
	if !ok {
		return "", false
	}
	if f == DateOfBirth && h.MinBirthYear > 0 && !h.birthYearInRange(v) {
		return "", false
	}
	return SHA256Hex(v), true
}

func (h Hasher) birthYearInRange(yyyymmdd string) bool {
	year, err := strconv.Atoi(yyyymmdd[:4])
	if err != nil {
		return false
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	return year >= h.MinBirthYear && year <= now().Year()
}

// HashAll hashes a list, dropping unusable values and duplicates while
// keeping first-seen order.
func (h Hasher) HashAll(f Field, raws []string) []string {
	var out []string
	seen := make(map[string]bool, len(raws))
	for _, r := range raws {
		d, ok := h.Hash(f, r)
		if !ok || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}
