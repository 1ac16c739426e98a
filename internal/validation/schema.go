// Package validation implements C3: per-kind JSON-schema validation layered
// with business rules, mirroring the teacher's composable-validator idiom
// (internal/validation/issue.go's IssueValidator/Chain) but targeting
// Kira's entity.Entity instead of bd's Issue.
package validation

import (
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kira-vault/kira/internal/entity"
)

// compiled holds the per-kind JSON schemas (spec §4.3). Schemas are
// compiled lazily and cached; Initialize can be called at startup to fail
// fast on a malformed schema instead of on first use.
var (
	compileOnce sync.Once
	compiled    map[entity.Kind]*gojsonschema.Schema
	compileErr  error
)

// rawSchemas are minimal required-field/enum schemas per kind. Folder
// contracts (required front-matter by location) are enforced separately in
// folder.go's FolderContract, since JSON schema has no notion of filesystem
// location.
var rawSchemas = map[entity.Kind]string{
	string_(entity.KindTask): `{
		"type": "object",
		"required": ["title", "status"],
		"properties": {
			"title": {"type": "string", "minLength": 1, "maxLength": 200},
			"status": {"type": "string", "enum": ["todo", "doing", "review", "done", "blocked"]}
		}
	}`,
	string_(entity.KindNote): `{
		"type": "object",
		"required": ["title"],
		"properties": {
			"title": {"type": "string", "minLength": 1, "maxLength": 200}
		}
	}`,
	string_(entity.KindEvent): `{
		"type": "object",
		"required": ["title", "start_time"],
		"properties": {
			"title": {"type": "string", "minLength": 1, "maxLength": 200},
			"start_time": {"type": "string"}
		}
	}`,
	string_(entity.KindProject): `{
		"type": "object",
		"required": ["title"],
		"properties": {
			"title": {"type": "string", "minLength": 1, "maxLength": 200}
		}
	}`,
	string_(entity.KindContact): `{
		"type": "object",
		"required": ["title"],
		"properties": {
			"title": {"type": "string", "minLength": 1, "maxLength": 200}
		}
	}`,
	string_(entity.KindMeeting): `{
		"type": "object",
		"required": ["title"],
		"properties": {
			"title": {"type": "string", "minLength": 1, "maxLength": 200}
		}
	}`,
}

func string_(k entity.Kind) string { return string(k) }

func compileSchemas() {
	compiled = make(map[entity.Kind]*gojsonschema.Schema, len(rawSchemas))
	for kindStr, raw := range rawSchemas {
		loader := gojsonschema.NewStringLoader(raw)
		schema, err := gojsonschema.NewSchema(loader)
		if err != nil {
			compileErr = fmt.Errorf("validation: compile schema for %s: %w", kindStr, err)
			return
		}
		compiled[entity.Kind(kindStr)] = schema
	}
}

// Initialize compiles every per-kind schema, returning the first compile
// error encountered. Safe to call multiple times; only the first call does
// work.
func Initialize() error {
	compileOnce.Do(compileSchemas)
	return compileErr
}

// SchemaErrors validates metadata against kind's JSON schema and returns a
// human-readable error per violation (empty slice if valid).
func SchemaErrors(kind entity.Kind, metadata map[string]any) ([]string, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	schema, ok := compiled[kind]
	if !ok {
		return []string{fmt.Sprintf("unknown kind %q", kind)}, nil
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(metadata))
	if err != nil {
		return nil, fmt.Errorf("validation: evaluate schema: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return errs, nil
}
