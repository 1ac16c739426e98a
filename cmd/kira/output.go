package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kira-vault/kira/internal/entity"
)

// entityView is the CLI's JSON projection of an entity.Entity: the promoted
// fields alongside metadata, matching what buildFrontmatter flattens back
// out to disk.
type entityView struct {
	ID       string                  `json:"id"`
	Kind     entity.Kind             `json:"kind"`
	Created  string                  `json:"created"`
	Updated  string                  `json:"updated"`
	Metadata map[string]entity.Value `json:"metadata"`
	Content  string                  `json:"content"`
}

func viewOf(e *entity.Entity) entityView {
	return entityView{
		ID:       e.ID,
		Kind:     e.Kind,
		Created:  e.CreatedTs.UTC().Format("2006-01-02T15:04:05.000-07:00"),
		Updated:  e.UpdatedTs.UTC().Format("2006-01-02T15:04:05.000-07:00"),
		Metadata: e.Metadata,
		Content:  e.Content,
	}
}

func printEntity(e *entity.Entity) {
	printJSON(viewOf(e))
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, "Error encoding output:", err)
	}
}
