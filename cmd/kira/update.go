package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	updateDataRaw string
	updateContent string
)

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a vault entity's metadata and/or content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var updates map[string]any
		if updateDataRaw != "" {
			if err := json.Unmarshal([]byte(updateDataRaw), &updates); err != nil {
				return fmt.Errorf("--data is not valid JSON: %w", err)
			}
		}

		var content *string
		if cmd.Flags().Changed("content") {
			content = &updateContent
		}

		api, _, err := buildAPI()
		if err != nil {
			return err
		}

		e, err := api.UpdateEntity(context.Background(), args[0], updates, content)
		if err != nil {
			return err
		}
		printEntity(e)
		return nil
	},
}

func init() {
	updateCmd.Flags().StringVar(&updateDataRaw, "data", "", "JSON object of front-matter fields to merge")
	updateCmd.Flags().StringVar(&updateContent, "content", "", "replace the entity body (only applied if this flag is set)")
	rootCmd.AddCommand(updateCmd)
}
