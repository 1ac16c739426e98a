package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kira-vault/kira/internal/doctorcheck"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run read-only vault diagnostics (orphans, broken links, cycles, quarantine backlog)",
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := buildKernel()
		if err != nil {
			return err
		}
		known, err := k.knownIDs()
		if err != nil {
			return err
		}

		report := doctorcheck.Run(k.graph, k.q, known, doctorcheck.Options{})
		printJSON(report)

		if report.OverallStatus() == doctorcheck.StatusError {
			return fmt.Errorf("doctor found errors")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
