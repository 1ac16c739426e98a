package validation

import (
	"fmt"
	"regexp"
	"time"

	"github.com/kira-vault/kira/internal/entity"
)

// Result is the outcome of validating an entity (spec §4.3: "Validation
// returns {valid: bool, errors: [string]} and never mutates inputs").
type Result struct {
	Valid  bool
	Errors []string
}

func (r *Result) addf(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

var idPattern = regexp.MustCompile(`^[a-z]+-\d{8}-\d{4}-[a-z0-9][a-z0-9-]*$`)

// ValidID reports whether id matches the "<kind>-YYYYMMDD-HHmm-<slug>" shape
// (spec §3).
func ValidID(id string) bool {
	return idPattern.MatchString(id) && len(id) <= 100
}

var estimatePattern = regexp.MustCompile(`^\d+(\.\d+)?[hmd]$`)

// Validate runs JSON-schema validation followed by business rules for e's
// kind, against e's current metadata and content. It never mutates e.
func Validate(e *entity.Entity, now time.Time) (*Result, error) {
	res := &Result{Valid: true}

	schemaErrs, err := SchemaErrors(e.Kind, e.Metadata)
	if err != nil {
		return nil, err
	}
	for _, msg := range schemaErrs {
		res.addf("%s", msg)
	}

	if e.Metadata["title"] != "" {
		if title, ok := e.Metadata["title"].(string); ok {
			if len(title) == 0 || len(title) > 200 {
				res.addf("title must be 1-200 characters")
			}
		}
	}

	switch e.Kind {
	case entity.KindTask:
		validateTask(e, res, now)
	case entity.KindNote:
		validateNote(e, res)
	case entity.KindEvent:
		validateEvent(e, res)
	}

	validateLinkArrays(e, res)

	return res, nil
}

func validateTask(e *entity.Entity, res *Result, now time.Time) {
	status, _ := e.Metadata["status"].(string)
	switch status {
	case "blocked":
		if s, ok := e.Metadata["blocked_reason"].(string); !ok || s == "" {
			res.addf("task status 'blocked' requires non-empty blocked_reason")
		}
	case "done":
		if _, ok := e.Metadata["done_ts"]; !ok {
			res.addf("task status 'done' requires done_ts")
		}
	}

	if estimate, ok := e.Metadata["estimate"].(string); ok && estimate != "" {
		if !estimatePattern.MatchString(estimate) {
			res.addf("estimate %q does not match ^\\d+(\\.\\d+)?[hmd]$", estimate)
		}
	}

	if dueRaw, ok := e.Metadata["due_date"]; ok {
		if due, ok := parseTimeValue(dueRaw); ok {
			delta := due.Sub(now)
			minDelta := -365 * 24 * time.Hour
			maxDelta := 3650 * 24 * time.Hour
			if delta < minDelta || delta > maxDelta {
				res.addf("due_date must be within [-365, +3650] days from now")
			}
		} else {
			res.addf("due_date is not a valid timestamp")
		}
	}
}

func validateNote(e *entity.Entity, res *Result) {
	_, hasCategory := e.Metadata["category"]
	_, hasTags := e.Metadata["tags"]
	if !hasCategory && !hasTags {
		res.addf("note requires 'category' or 'tags' (an empty list counts as present)")
	}
}

func validateEvent(e *entity.Entity, res *Result) {
	startRaw, hasStart := e.Metadata["start_time"]
	if !hasStart {
		res.addf("event requires start_time")
		return
	}
	start, ok := parseTimeValue(startRaw)
	if !ok {
		res.addf("start_time is not a valid timestamp")
		return
	}
	if endRaw, hasEnd := e.Metadata["end_time"]; hasEnd {
		end, ok := parseTimeValue(endRaw)
		if !ok {
			res.addf("end_time is not a valid timestamp")
			return
		}
		if !end.After(start) {
			res.addf("end_time must be after start_time")
		}
	}
}

// linkArrayFields lists metadata keys treated as arrays of entity IDs.
var linkArrayFields = []string{
	"depends_on", "blocks", "relates_to", "references", "child_of", "part_of",
	"mentions", "links_to", "tagged_with", "follows", "precedes",
}

func validateLinkArrays(e *entity.Entity, res *Result) {
	for _, field := range linkArrayFields {
		raw, ok := e.Metadata[field]
		if !ok {
			continue
		}
		items, ok := toStringSlice(raw)
		if !ok {
			res.addf("%s must be a list of entity IDs", field)
			continue
		}
		for _, id := range items {
			if !ValidID(id) {
				res.addf("%s contains malformed entity ID %q", field, id)
			}
		}
	}
}

func toStringSlice(v any) ([]string, bool) {
	switch val := v.(type) {
	case []string:
		return val, true
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func parseTimeValue(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02"} {
			if t, err := time.Parse(layout, val); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
