package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kira-vault/kira/internal/entity"
)

var (
	createKind    string
	createDataRaw string
	createContent string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a vault entity",
	Long: `Create a new entity of the given kind.

--data takes a JSON object of front-matter fields (title, status, etc.); an
explicit "id" is used as given and must match the ID format (a malformed one
is rejected as a validation error); without an "id", one is generated.

Examples:
  kira create --kind note --data '{"title":"Groceries","category":"home"}' --content "milk, eggs"
  kira create --kind task --data '{"title":"Ship it","status":"todo"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var data map[string]any
		if createDataRaw != "" {
			if err := json.Unmarshal([]byte(createDataRaw), &data); err != nil {
				return fmt.Errorf("--data is not valid JSON: %w", err)
			}
		}

		api, _, err := buildAPI()
		if err != nil {
			return err
		}

		e, err := api.CreateEntity(context.Background(), entity.Kind(createKind), data, createContent)
		if err != nil {
			return err
		}
		printEntity(e)
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&createKind, "kind", "", "entity kind (task, note, event, project, contact, meeting)")
	createCmd.Flags().StringVar(&createDataRaw, "data", "", "JSON object of front-matter fields")
	createCmd.Flags().StringVar(&createContent, "content", "", "entity body content")
	_ = createCmd.MarkFlagRequired("kind")
	rootCmd.AddCommand(createCmd)
}
