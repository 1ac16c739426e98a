// Package envelope implements C11's envelope half: deterministic event-ID
// construction from a normalized payload, and envelope validation (spec
// §4.11). The dedupe store lives in the sibling internal/dedupe package.
package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kira-vault/kira/internal/kernelerr"
)

// volatileFields are stripped before hashing: fields that vary across
// logically-identical redeliveries of the same event (spec §2 glossary).
var volatileFields = map[string]bool{
	"received_at":  true,
	"processed_at": true,
	"retry_count":  true,
	"trace_id":     true,
}

// Envelope is the canonical wrapper around one ingress event (spec §2).
type Envelope struct {
	EventID       string         `json:"event_id"`
	EventTS       string         `json:"event_ts"`
	Source        string         `json:"source"`
	Type          string         `json:"type"`
	Payload       map[string]any `json:"payload"`
	Seq           *int           `json:"seq,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// NormalizePayload strips volatile fields and returns a copy with keys that
// will marshal in sorted order (Go's encoding/json already sorts map keys,
// but we build the map fresh here so callers never accidentally retain a
// volatile field through aliasing).
func NormalizePayload(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if volatileFields[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// normalizedJSON renders payload as deterministic JSON: keys sorted, no
// volatile fields. encoding/json already sorts map[string]any keys on
// marshal, so NormalizePayload's fresh map plus json.Marshal is sufficient.
func normalizedJSON(payload map[string]any) (string, error) {
	normalized := NormalizePayload(payload)
	b, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("%w: marshal payload: %v", kernelerr.ErrIO, err)
	}
	return string(b), nil
}

// ComputeEventID returns sha256_hex(source|external_id|normalized_json)
// (spec §4.11 step 2).
func ComputeEventID(source, externalID string, payload map[string]any) (string, error) {
	nj, err := normalizedJSON(payload)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte("|"))
	h.Write([]byte(externalID))
	h.Write([]byte("|"))
	h.Write([]byte(nj))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CreateEventEnvelope builds a validated Envelope (spec §4.11).
func CreateEventEnvelope(source, typ string, payload map[string]any, externalID string, seq *int, correlationID string, metadata map[string]any) (*Envelope, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: payload must be a mapping", kernelerr.ErrValidation)
	}
	eventID, err := ComputeEventID(source, externalID, payload)
	if err != nil {
		return nil, err
	}
	env := &Envelope{
		EventID:       eventID,
		EventTS:       time.Now().UTC().Format(time.RFC3339),
		Source:        source,
		Type:          typ,
		Payload:       payload,
		Seq:           seq,
		CorrelationID: correlationID,
		Metadata:      metadata,
	}
	if err := Validate(env); err != nil {
		return nil, err
	}
	return env, nil
}

// Validate enforces the envelope's structural invariants (spec §4.11
// Validation): event_ts must be UTC ISO-8601, payload must be a mapping.
func Validate(env *Envelope) error {
	if env.Payload == nil {
		return fmt.Errorf("%w: payload must be a mapping", kernelerr.ErrValidation)
	}
	if !strings.HasSuffix(env.EventTS, "Z") && !strings.HasSuffix(env.EventTS, "+00:00") {
		return fmt.Errorf("%w: event_ts must be UTC ISO-8601, got %q", kernelerr.ErrValidation, env.EventTS)
	}
	if _, err := time.Parse(time.RFC3339, env.EventTS); err != nil {
		return fmt.Errorf("%w: event_ts not parseable: %v", kernelerr.ErrValidation, err)
	}
	return nil
}

// sortedKeys returns m's keys in sorted order, a deterministic key order
// without a full JSON round-trip (e.g. for logging). It is package-internal.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
