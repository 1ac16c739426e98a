// Package ingress implements C10: per-source shape validation and
// canonicalization of inbound payloads before they ever reach the event
// envelope (C11). Rejected payloads are never published (spec §4.10).
package ingress

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Source identifies where a raw payload originated.
type Source string

const (
	SourceTelegram Source = "telegram"
	SourceGCal     Source = "gcal"
	SourceCLI      Source = "cli"
	SourceGeneric  Source = "generic"
)

// Result is the outcome of validate-and-normalize.
type Result struct {
	Valid      bool
	Normalized map[string]any
	Errors     []string
	Source     Source
}

func reject(source Source, errs ...string) Result {
	return Result{Valid: false, Errors: errs, Source: source}
}

// Normalizer canonicalizes raw payloads per source (spec §4.10). A
// *zerolog.Logger is optional; when set, rejections are logged as
// structured warnings the way the teacher's daemon logs malformed sync
// payloads before dropping them.
type Normalizer struct {
	Log *zerolog.Logger
}

// New returns a Normalizer with no logger attached.
func New() *Normalizer {
	return &Normalizer{}
}

// WithLogger attaches a logger used for structured rejection warnings.
func (n *Normalizer) WithLogger(log zerolog.Logger) *Normalizer {
	n.Log = &log
	return n
}

// ValidateAndNormalize canonicalizes payload per source's contract.
func (n *Normalizer) ValidateAndNormalize(source Source, payload map[string]any) Result {
	var res Result
	switch source {
	case SourceTelegram:
		res = n.normalizeTelegram(payload)
	case SourceGCal:
		res = n.normalizeGCal(payload)
	case SourceCLI:
		res = n.normalizeCLI(payload)
	case SourceGeneric:
		res = n.normalizeGeneric(payload)
	default:
		res = reject(source, fmt.Sprintf("unknown ingress source %q", source))
	}
	if !res.Valid && n.Log != nil {
		n.Log.Warn().
			Str("source", string(source)).
			Strs("errors", res.Errors).
			Msg("ingress: rejected payload")
	}
	return res
}

func getString(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (n *Normalizer) normalizeTelegram(payload map[string]any) Result {
	var errs []string
	text, _ := getString(payload, "text")
	messageID, ok := payload["message_id"]
	if !ok {
		errs = append(errs, "telegram: missing message_id")
	}
	date, _ := getString(payload, "date")
	userID, _ := payload["user_id"]
	username, _ := getString(payload, "username")
	firstName, _ := getString(payload, "first_name")

	if len(errs) > 0 {
		return reject(SourceTelegram, errs...)
	}

	normalized := map[string]any{
		"source":      string(SourceTelegram),
		"type":        "message",
		"external_id": fmt.Sprintf("tg-%v", messageID),
		"text":        text,
		"message_id":  messageID,
		"date":        date,
		"user_id":     userID,
		"username":    username,
		"first_name":  firstName,
	}
	return Result{Valid: true, Normalized: normalized, Source: SourceTelegram}
}

func (n *Normalizer) normalizeGCal(payload map[string]any) Result {
	var errs []string
	id, ok := payload["id"]
	if !ok {
		errs = append(errs, "gcal: missing id")
	}
	title, _ := getString(payload, "summary")
	description, _ := getString(payload, "description")
	location, _ := getString(payload, "location")

	startTime, sok := extractDateTime(payload, "start")
	if !sok {
		errs = append(errs, "gcal: missing start.dateTime or start.date")
	}
	endTime, eok := extractDateTime(payload, "end")
	if !eok {
		errs = append(errs, "gcal: missing end.dateTime or end.date")
	}

	var attendees []string
	if raw, ok := payload["attendees"].([]any); ok {
		for _, a := range raw {
			if m, ok := a.(map[string]any); ok {
				if email, ok := getString(m, "email"); ok {
					attendees = append(attendees, email)
				}
			}
		}
	}

	if len(errs) > 0 {
		return reject(SourceGCal, errs...)
	}

	normalized := map[string]any{
		"source":      string(SourceGCal),
		"type":        "event",
		"external_id": fmt.Sprintf("gcal-%v", id),
		"title":       title,
		"description": description,
		"location":    location,
		"start_time":  startTime,
		"end_time":    endTime,
		"attendees":   attendees,
	}
	return Result{Valid: true, Normalized: normalized, Source: SourceGCal}
}

func extractDateTime(payload map[string]any, key string) (string, bool) {
	raw, ok := payload[key]
	if !ok {
		return "", false
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return "", false
	}
	if v, ok := getString(m, "dateTime"); ok {
		return v, true
	}
	if v, ok := getString(m, "date"); ok {
		return v, true
	}
	return "", false
}

func (n *Normalizer) normalizeCLI(payload map[string]any) Result {
	command, ok := getString(payload, "command")
	if !ok {
		return reject(SourceCLI, "cli: missing command")
	}
	normalized := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		normalized[k] = v
	}
	normalized["type"] = fmt.Sprintf("cli.%s", command)
	return Result{Valid: true, Normalized: normalized, Source: SourceCLI}
}

func (n *Normalizer) normalizeGeneric(payload map[string]any) Result {
	typ, ok := getString(payload, "type")
	if !ok || typ == "" {
		return reject(SourceGeneric, "generic: missing type")
	}
	normalized := make(map[string]any, len(payload))
	for k, v := range payload {
		normalized[k] = v
	}
	return Result{Valid: true, Normalized: normalized, Source: SourceGeneric}
}
