package main

import (
	"github.com/spf13/cobra"
)

var linksCmd = &cobra.Command{
	Use:   "links <id>",
	Short: "Show an entity's outgoing and incoming link-graph edges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, _, err := buildAPI()
		if err != nil {
			return err
		}
		links, err := api.GetEntityLinks(args[0])
		if err != nil {
			return err
		}
		printJSON(links)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(linksCmd)
}
