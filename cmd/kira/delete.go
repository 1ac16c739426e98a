package main

import (
	"context"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a vault entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, _, err := buildAPI()
		if err != nil {
			return err
		}
		if err := api.DeleteEntity(context.Background(), args[0]); err != nil {
			return err
		}
		printJSON(map[string]string{"deleted": args[0]})
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
