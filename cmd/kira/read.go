package main

import (
	"github.com/spf13/cobra"
)

var readCmd = &cobra.Command{
	Use:   "read <id>",
	Short: "Read a vault entity by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		api, _, err := buildAPI()
		if err != nil {
			return err
		}
		e, err := api.ReadEntity(args[0])
		if err != nil {
			return err
		}
		printEntity(e)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(readCmd)
}
