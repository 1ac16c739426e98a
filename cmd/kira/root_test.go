package main

import (
	"testing"

	"github.com/kira-vault/kira/internal/config"
	"github.com/kira-vault/kira/internal/kernelerr"
)

func TestExitCodeForMapsKnownErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"config", config.ErrConfig, 6},
		{"validation", kernelerr.ErrValidation, 2},
		{"folder contract", kernelerr.ErrFolderContract, 2},
		{"io", kernelerr.ErrIO, 5},
		{"lock timeout", kernelerr.ErrLockTimeout, 5},
		{"not found", kernelerr.ErrNotFound, 1},
	}
	for _, c := range cases {
		if got := exitCodeFor(c.err); got != c.want {
			t.Errorf("%s: exitCodeFor = %d, want %d", c.name, got, c.want)
		}
	}
}
