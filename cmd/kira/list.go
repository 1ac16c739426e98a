package main

import (
	"github.com/spf13/cobra"

	"github.com/kira-vault/kira/internal/entity"
)

var (
	listLimit  int
	listOffset int
)

var listCmd = &cobra.Command{
	Use:   "list <kind>",
	Short: "List vault entities of a kind",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, _, err := buildAPI()
		if err != nil {
			return err
		}
		entities, err := api.ListEntities(entity.Kind(args[0]), listLimit, listOffset)
		if err != nil {
			return err
		}
		views := make([]entityView, 0, len(entities))
		for _, e := range entities {
			views = append(views, viewOf(e))
		}
		printJSON(views)
		return nil
	},
}

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of entities to return (0 means no limit)")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "number of entities to skip")
	rootCmd.AddCommand(listCmd)
}
