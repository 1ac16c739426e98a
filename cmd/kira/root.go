// Command kira is the thin CLI collaborator exercising the vault kernel's
// Host API from outside the core (spec §1 "Surrounding components ...
// are external collaborators that only touch the vault through this
// kernel"). Grounded on the teacher's cobra-based cmd/bd entry point
// (package-level *Cmd variables registered from init(), spec §6 exit-code
// contract mapped in exitCodeFor).
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kira-vault/kira/internal/config"
	"github.com/kira-vault/kira/internal/kernelerr"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "kira",
	Short:         "Operate the Kira vault kernel's Host API from the command line",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to kira.yaml (defaults to $KIRA_CONFIG, ./kira.yaml, <user config dir>/kira/config.yaml, or ~/.kira/config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a Host API / config error to the CLI exit-code contract
// (spec §6): 0 success, 1 generic, 2 validation, 5 I/O, 6 configuration.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, config.ErrConfig):
		return 6
	case kernelerr.Is(err, kernelerr.ErrValidation), kernelerr.Is(err, kernelerr.ErrFolderContract):
		return 2
	case kernelerr.Is(err, kernelerr.ErrIO), kernelerr.Is(err, kernelerr.ErrLockTimeout):
		return 5
	default:
		return 1
	}
}
