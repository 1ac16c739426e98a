package doctorcheck

import (
	"path/filepath"
	"testing"

	"github.com/kira-vault/kira/internal/linkgraph"
	"github.com/kira-vault/kira/internal/quarantine"
)

func TestRunReportsCleanVaultAsOK(t *testing.T) {
	graph := linkgraph.New()
	graph.AddEntity("note-20260101-0000-a")
	graph.UpdateEntityLinks("note-20260101-0000-a", map[string]any{"relates_to": []string{"note-20260101-0000-b"}}, "")
	graph.AddEntity("note-20260101-0000-b")
	known := map[string]bool{"note-20260101-0000-a": true, "note-20260101-0000-b": true}

	q, err := quarantine.New(filepath.Join(t.TempDir(), "quarantine"))
	if err != nil {
		t.Fatalf("quarantine.New: %v", err)
	}

	report := Run(graph, q, known, Options{})
	if report.OverallStatus() != StatusOK {
		t.Fatalf("expected OK overall status, got %s: %+v", report.OverallStatus(), report.Checks)
	}
	if len(report.Checks) != 4 {
		t.Fatalf("expected 4 checks, got %d", len(report.Checks))
	}
}

func TestRunDetectsBrokenLinks(t *testing.T) {
	graph := linkgraph.New()
	graph.AddEntity("note-20260101-0000-a")
	graph.UpdateEntityLinks("note-20260101-0000-a", map[string]any{"relates_to": []string{"note-20260101-0000-missing"}}, "")
	known := map[string]bool{"note-20260101-0000-a": true}

	q, err := quarantine.New(filepath.Join(t.TempDir(), "quarantine"))
	if err != nil {
		t.Fatalf("quarantine.New: %v", err)
	}

	report := Run(graph, q, known, Options{})
	if report.OverallStatus() != StatusError {
		t.Fatalf("expected Error overall status, got %s", report.OverallStatus())
	}
	var found bool
	for _, c := range report.Checks {
		if c.Name == "Broken Links" && c.Status == StatusError {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Broken Links check to report an error, got %+v", report.Checks)
	}
}

func TestRunDetectsQuarantineBacklog(t *testing.T) {
	graph := linkgraph.New()
	dir := filepath.Join(t.TempDir(), "quarantine")
	q, err := quarantine.New(dir)
	if err != nil {
		t.Fatalf("quarantine.New: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := q.Quarantine("task", map[string]any{"id": "x"}, []string{"bad"}, "test"); err != nil {
			t.Fatalf("Quarantine: %v", err)
		}
	}

	report := Run(graph, q, map[string]bool{}, Options{QuarantineBacklogWarn: 2})
	var found bool
	for _, c := range report.Checks {
		if c.Name == "Quarantine Backlog" {
			found = true
			if c.Status != StatusWarning {
				t.Fatalf("expected quarantine backlog to warn at 3 records with threshold 2, got %s", c.Status)
			}
		}
	}
	if !found {
		t.Fatal("expected a Quarantine Backlog check")
	}
}

func TestRunDetectsCycles(t *testing.T) {
	graph := linkgraph.New()
	graph.UpdateEntityLinks("task-20260101-0000-a", map[string]any{"depends_on": []string{"task-20260101-0000-b"}}, "")
	graph.UpdateEntityLinks("task-20260101-0000-b", map[string]any{"depends_on": []string{"task-20260101-0000-a"}}, "")
	known := map[string]bool{"task-20260101-0000-a": true, "task-20260101-0000-b": true}

	q, err := quarantine.New(filepath.Join(t.TempDir(), "quarantine"))
	if err != nil {
		t.Fatalf("quarantine.New: %v", err)
	}

	report := Run(graph, q, known, Options{})
	var found bool
	for _, c := range report.Checks {
		if c.Category == CategoryConsistency && c.Status == StatusError {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a cycle to be detected, got %+v", report.Checks)
	}
}
