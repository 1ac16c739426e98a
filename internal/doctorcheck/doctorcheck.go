// Package doctorcheck implements read-only vault diagnostics exposed by the
// "kira doctor" CLI subcommand (spec's supplemented Doctor/health checks).
// No core kernel behavior depends on this package; it only reads the
// already-built link graph and quarantine store and reports what it finds.
// Grounded on the teacher's cmd/bd/doctor tree (DoctorCheck{Name, Status,
// Message, Detail, Category} per-check results, aggregated into one report)
// generalized from bd's SQLite/JSONL-backed issue checks to the vault's
// link-graph and quarantine diagnostics.
package doctorcheck

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kira-vault/kira/internal/linkgraph"
	"github.com/kira-vault/kira/internal/quarantine"
)

// Status is a check's severity.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Category groups related checks for display.
type Category string

const (
	CategoryLinks       Category = "links"
	CategoryQuarantine  Category = "quarantine"
	CategoryConsistency Category = "consistency"
)

// Check is one diagnostic result.
type Check struct {
	Name     string
	Status   Status
	Message  string
	Detail   string
	Category Category
}

// Report aggregates every check run by Run.
type Report struct {
	Checks []Check
}

// OverallStatus is the worst status across every check (Error beats Warning
// beats OK), mirroring the teacher's deep.go "any check failed" rollup.
func (r Report) OverallStatus() Status {
	worst := StatusOK
	for _, c := range r.Checks {
		if c.Status == StatusError {
			return StatusError
		}
		if c.Status == StatusWarning {
			worst = StatusWarning
		}
	}
	return worst
}

// Options configures Run.
type Options struct {
	// CycleType is the link type FindCycles walks. Empty defaults to
	// linkgraph.DependsOn, matching linkgraph.FindCycles' own default.
	CycleType linkgraph.LinkType
	// QuarantineBacklogWarn is the record count at or above which the
	// quarantine backlog check warns (default 10).
	QuarantineBacklogWarn int
}

// Run executes every diagnostic against graph (already rehydrated from the
// vault by the caller) and quarantine store q, and returns their combined
// Report. known is the full set of live entity IDs, used to detect dangling
// link targets.
func Run(graph *linkgraph.Graph, q *quarantine.Store, known map[string]bool, opts Options) Report {
	if opts.QuarantineBacklogWarn <= 0 {
		opts.QuarantineBacklogWarn = 10
	}
	return Report{Checks: []Check{
		checkOrphans(graph),
		checkBrokenLinks(graph, known),
		checkCycles(graph, opts.CycleType),
		checkQuarantineBacklog(q, opts.QuarantineBacklogWarn),
	}}
}

func checkOrphans(graph *linkgraph.Graph) Check {
	orphans := graph.FindOrphans()
	if len(orphans) == 0 {
		return Check{Name: "Orphaned Entities", Status: StatusOK, Message: "No orphaned entities", Category: CategoryLinks}
	}
	return Check{
		Name:     "Orphaned Entities",
		Status:   StatusWarning,
		Message:  fmt.Sprintf("%d entit(y/ies) with no incoming or outgoing links", len(orphans)),
		Detail:   summarizeIDs(orphans),
		Category: CategoryLinks,
	}
}

func checkBrokenLinks(graph *linkgraph.Graph, known map[string]bool) Check {
	broken := graph.FindBroken(known)
	if len(broken) == 0 {
		return Check{Name: "Broken Links", Status: StatusOK, Message: "No dangling link targets", Category: CategoryLinks}
	}
	ids := make([]string, 0, len(broken))
	for _, l := range broken {
		ids = append(ids, l.String())
	}
	return Check{
		Name:     "Broken Links",
		Status:   StatusError,
		Message:  fmt.Sprintf("%d link(s) point at entities that no longer exist", len(broken)),
		Detail:   summarizeIDs(ids),
		Category: CategoryLinks,
	}
}

func checkCycles(graph *linkgraph.Graph, typ linkgraph.LinkType) Check {
	cycles := graph.FindCycles(typ)
	name := fmt.Sprintf("Cycles (%s)", nonEmpty(string(typ), string(linkgraph.DependsOn)))
	if len(cycles) == 0 {
		return Check{Name: name, Status: StatusOK, Message: "No cycles detected", Category: CategoryConsistency}
	}
	var parts []string
	for _, c := range cycles {
		parts = append(parts, "["+strings.Join(c, ", ")+"]")
	}
	return Check{
		Name:     name,
		Status:   StatusError,
		Message:  fmt.Sprintf("%d cycle(s) detected", len(cycles)),
		Detail:   summarizeIDs(parts),
		Category: CategoryConsistency,
	}
}

func checkQuarantineBacklog(q *quarantine.Store, warnAt int) Check {
	records, err := q.List("", 0)
	if err != nil {
		return Check{Name: "Quarantine Backlog", Status: StatusError, Message: "Unable to read quarantine store", Detail: err.Error(), Category: CategoryQuarantine}
	}
	if len(records) == 0 {
		return Check{Name: "Quarantine Backlog", Status: StatusOK, Message: "No quarantined payloads", Category: CategoryQuarantine}
	}
	status := StatusOK
	if len(records) >= warnAt {
		status = StatusWarning
	}
	byKind := make(map[string]int)
	for _, r := range records {
		byKind[r.Kind]++
	}
	return Check{
		Name:     "Quarantine Backlog",
		Status:   status,
		Message:  fmt.Sprintf("%d quarantined payload(s)", len(records)),
		Detail:   summarizeKindCounts(byKind),
		Category: CategoryQuarantine,
	}
}

func summarizeIDs(ids []string) string {
	const max = 5
	if len(ids) <= max {
		return strings.Join(ids, ", ")
	}
	return strings.Join(ids[:max], ", ") + fmt.Sprintf(" (+%d more)", len(ids)-max)
}

func summarizeKindCounts(byKind map[string]int) string {
	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", k, byKind[k]))
	}
	return strings.Join(parts, ", ")
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
