// Package markdown implements C1: reading and deterministically writing
// Kira's "---\n<yaml>\n---\n\n<body>" Markdown entity files.
//
// Determinism is achieved by building an explicit yaml.v3 Node tree in
// canonical key order rather than marshaling a Go map directly (map
// iteration order is randomized by the runtime, and yaml.v3's default
// quoting heuristics, while safe, don't match the deterministic rules this
// format promises round-trip byte-stability under). Keeping control at the
// Node level lets the kernel guarantee spec invariant 3 ("any two
// equivalent metadata mappings serialize byte-identically") without forking
// the YAML library.
package markdown

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const delimiter = "---"

// timestampKeys are front-matter fields normalized to ISO-8601 UTC with a
// numeric offset wherever they appear, including nested under "x-kira".
var timestampKeys = map[string]bool{
	"created": true, "updated": true, "due_date": true,
	"start_time": true, "end_time": true, "done_ts": true,
	"last_write_ts": true,
}

// canonicalGroups defines the key ordering discipline (spec §4.1 rule 1):
// identity, metadata, timestamps, classification, relationships, optional.
// Keys not listed in any group are emitted afterward in alphabetical order,
// and "x-kira" is always emitted last regardless of group membership.
var canonicalGroups = [][]string{
	{"id"},                                                                      // identity
	{"title", "category", "tags"},                                              // metadata
	{"created", "updated", "due_date", "start_time", "end_time", "done_ts"},     // timestamps
	{"kind", "status", "priority", "estimate"},                                  // classification
	{"depends_on", "blocks", "relates_to", "references", "child_of", "part_of", // relationships
		"mentions", "links_to", "tagged_with", "follows", "precedes", "attendees"},
	{"assignee", "description", "notes", "blocked_reason", "location"}, // optional
}

const xKiraKey = "x-kira"

// Document is the parsed form of an entity Markdown file.
type Document struct {
	Frontmatter map[string]any
	Content     string
}

// ErrMalformedFrontmatter indicates a "---" opening delimiter was found
// without a matching closing delimiter, or the enclosed YAML failed to
// parse.
type ErrMalformedFrontmatter struct {
	Reason string
}

func (e *ErrMalformedFrontmatter) Error() string {
	return "malformed front matter: " + e.Reason
}

// Parse splits raw into front matter and body. A document with no leading
// "---" block is valid and returns an empty Frontmatter map with the whole
// input as Content.
func Parse(raw []byte) (*Document, error) {
	s := string(raw)
	if !strings.HasPrefix(s, delimiter) {
		return &Document{Frontmatter: map[string]any{}, Content: s}, nil
	}

	rest := s[len(delimiter):]
	// The opening delimiter must be followed by a newline.
	if !strings.HasPrefix(rest, "\n") && rest != "" {
		return &Document{Frontmatter: map[string]any{}, Content: s}, nil
	}
	rest = strings.TrimPrefix(rest, "\n")

	closeIdx := findClosingDelimiter(rest)
	if closeIdx < 0 {
		return nil, &ErrMalformedFrontmatter{Reason: "no closing delimiter"}
	}

	yamlBlock := rest[:closeIdx]
	after := rest[closeIdx:]
	// after begins with the closing "---" line.
	after = strings.TrimPrefix(after, "---")
	after = strings.TrimPrefix(after, "\n")
	after = strings.TrimPrefix(after, "\n") // exactly one blank line separates body

	fm := map[string]any{}
	if strings.TrimSpace(yamlBlock) != "" {
		if err := yaml.Unmarshal([]byte(yamlBlock), &fm); err != nil {
			return nil, &ErrMalformedFrontmatter{Reason: err.Error()}
		}
	}
	return &Document{Frontmatter: fm, Content: after}, nil
}

// findClosingDelimiter returns the index within s of a line consisting of
// exactly "---", searched from the start of s (which begins just after the
// opening delimiter's newline).
func findClosingDelimiter(s string) int {
	lines := strings.SplitAfter(s, "\n")
	offset := 0
	for _, line := range lines {
		trimmed := strings.TrimRight(line, "\n")
		if trimmed == delimiter {
			return offset
		}
		offset += len(line)
	}
	return -1
}

// Serialize renders fm and content into the canonical on-disk form. Calling
// Serialize on the output of Parse(Serialize(fm, content)) reproduces the
// same bytes (spec §8 invariant 2/3: round-trip and deterministic
// front-matter).
func Serialize(fm map[string]any, content string) ([]byte, error) {
	root := buildMapping(fm)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("markdown: encode frontmatter: %w", err)
	}
	_ = enc.Close()

	var out bytes.Buffer
	out.WriteString(delimiter)
	out.WriteByte('\n')
	out.Write(buf.Bytes())
	out.WriteString(delimiter)
	out.WriteByte('\n')
	out.WriteByte('\n')
	out.WriteString(content)
	return out.Bytes(), nil
}

// orderedKeys returns fm's keys in canonical order: each canonicalGroups
// entry in turn (only keys present in fm), then any remaining keys
// alphabetically, then "x-kira" last if present.
func orderedKeys(fm map[string]any) []string {
	placed := make(map[string]bool, len(fm))
	var ordered []string

	for _, group := range canonicalGroups {
		for _, k := range group {
			if _, ok := fm[k]; ok && !placed[k] {
				ordered = append(ordered, k)
				placed[k] = true
			}
		}
	}

	var rest []string
	for k := range fm {
		if k == xKiraKey || placed[k] {
			continue
		}
		rest = append(rest, k)
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)

	if _, ok := fm[xKiraKey]; ok {
		ordered = append(ordered, xKiraKey)
	}
	return ordered
}

// buildMapping constructs a yaml.Node mapping in canonical key order, with
// explicit scalar/quoting styles per key and value type (spec §4.1 rules
// 1-3).
func buildMapping(fm map[string]any) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, key := range orderedKeys(fm) {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
		valNode := buildValue(fm[key], timestampKeys[key])
		node.Content = append(node.Content, keyNode, valNode)
	}
	return node
}

// buildValue converts a Go value (as produced by yaml.Unmarshal into
// map[string]any, plus time.Time/[]string convenience types the Host API
// constructs directly) into a yaml.Node with deterministic style.
func buildValue(v any, isTimestamp bool) *yaml.Node {
	switch val := v.(type) {
	case map[string]any:
		nested := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, key := range orderedKeysNested(val) {
			nested.Content = append(nested.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
				buildValue(val[key], timestampKeys[key]),
			)
		}
		return nested
	case []any:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Style: 0}
		for _, item := range val {
			seq.Content = append(seq.Content, buildValue(item, false))
		}
		return seq
	case []string:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Style: 0}
		for _, item := range val {
			seq.Content = append(seq.Content, buildValue(item, false))
		}
		return seq
	case time.Time:
		return scalarString(formatTimestamp(val))
	case string:
		if isTimestamp {
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				return scalarString(formatTimestamp(t))
			}
		}
		return scalarString(val)
	case bool, int, int64, float64, nil:
		n := &yaml.Node{Kind: yaml.ScalarNode}
		if err := n.Encode(val); err != nil {
			return scalarString(fmt.Sprintf("%v", val))
		}
		return n
	default:
		n := &yaml.Node{Kind: yaml.ScalarNode}
		if err := n.Encode(val); err != nil {
			return scalarString(fmt.Sprintf("%v", val))
		}
		return n
	}
}

// orderedKeysNested sorts nested-mapping keys alphabetically; only the
// top-level front-matter document follows the full canonical group order
// (spec §4.1 rule 1: "nested mappings preserve this discipline recursively"
// is satisfied here by a stable, deterministic order — alphabetical — since
// nested mappings have no kind-specific canonical field list of their own).
func orderedKeysNested(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000-07:00")
}

// needsQuoting reports whether s must be double-quoted to avoid YAML
// reinterpreting it as a different type or block construct (spec §4.1 rule
// 3: strings starting with "[", "{", "-", space, or "[[", or containing
// YAML-special characters).
func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	if strings.HasPrefix(s, "[[") || strings.HasPrefix(s, "[") ||
		strings.HasPrefix(s, "{") || strings.HasPrefix(s, "-") ||
		strings.HasPrefix(s, " ") {
		return true
	}
	for _, c := range []string{":", "#", "&", "*", "!", "|", ">", "'", "\"", "%", "@", "`", "\n"} {
		if strings.Contains(s, c) {
			return true
		}
	}
	switch strings.ToLower(s) {
	case "true", "false", "null", "yes", "no", "~":
		return true
	}
	return false
}

func scalarString(s string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
	if needsQuoting(s) {
		n.Style = yaml.DoubleQuotedStyle
	}
	return n
}
