// Package idutil generates stable entity IDs and timezone-aware time
// windows (spec §4.2). ID collision handling mirrors the teacher's
// per-field collision-suffix scheme (internal/storage/sqlite/collision.go)
// generalized from bd's short hash IDs to Kira's
// "<kind>-YYYYMMDD-HHmm-<slug>" scheme.
package idutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const maxSlugLen = 50
const maxIDLen = 100
const maxCollisionAttempts = 100

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases title, collapses runs of non-alphanumeric characters to
// a single hyphen, trims leading/trailing hyphens, and caps the result to
// maxSlugLen characters. An empty result (e.g. title was all punctuation)
// falls back to an 8-character random hex suffix so IDs remain non-empty.
func Slugify(title string) string {
	s := nonAlnum.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = strings.Trim(s[:maxSlugLen], "-")
	}
	if s == "" {
		s = randomSuffix(8)
	}
	return s
}

func randomSuffix(n int) string {
	buf := make([]byte, (n+1)/2)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure is effectively unrecoverable entropy
		// starvation; fall back to a fixed marker rather than panic.
		return strings.Repeat("x", n)
	}
	return hex.EncodeToString(buf)[:n]
}

// Generate builds an entity ID from (kind, title, timestamp, timezone):
// "<kind>-YYYYMMDD-HHmm-<slug>", truncated to maxIDLen total characters (the
// slug is shortened further if the kind+date+time prefix leaves no room).
func Generate(kind string, title string, ts time.Time, tz *time.Location) string {
	if tz == nil {
		tz = time.UTC
	}
	local := ts.In(tz)
	prefix := fmt.Sprintf("%s-%s-%s", kind, local.Format("20060102"), local.Format("1504"))
	slug := Slugify(title)
	id := prefix + "-" + slug
	if len(id) > maxIDLen {
		budget := maxIDLen - len(prefix) - 1
		if budget < 0 {
			budget = 0
		}
		if budget < len(slug) {
			slug = strings.TrimRight(slug[:budget], "-")
		}
		id = prefix + "-" + slug
	}
	return id
}

// CollisionDetector tracks used IDs within a vault and resolves conflicts by
// appending "-2", "-3", ... and, after maxCollisionAttempts, a short random
// suffix. It is not safe for concurrent use without external synchronization
// (the Host API serializes ID assignment through the same path that
// serializes writes).
type CollisionDetector struct {
	used map[string]bool
}

// NewCollisionDetector returns a detector pre-seeded with the given known IDs
// (typically every entity ID already present in the vault at startup).
func NewCollisionDetector(known []string) *CollisionDetector {
	d := &CollisionDetector{used: make(map[string]bool, len(known))}
	for _, id := range known {
		d.used[id] = true
	}
	return d
}

// Reserve marks id as used without conflict resolution, returning false if
// it was already reserved. Host API calls this after Resolve succeeds so
// subsequent Resolve calls see the reservation.
func (d *CollisionDetector) Reserve(id string) bool {
	if d.used[id] {
		return false
	}
	d.used[id] = true
	return true
}

// Resolve returns id unchanged if unused, otherwise a suffixed variant
// ("-2", "-3", ...) that is not yet used. It does not reserve the result;
// callers must call Reserve on the chosen ID to commit it.
func (d *CollisionDetector) Resolve(id string) string {
	if !d.used[id] {
		return id
	}
	for n := 2; n <= maxCollisionAttempts; n++ {
		candidate := fmt.Sprintf("%s-%d", id, n)
		if !d.used[candidate] {
			return candidate
		}
	}
	return id + "-" + randomSuffix(6)
}
