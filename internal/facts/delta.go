package facts

import (
	"fmt"
	"strings"
)

// Delta captures added and removed fact rows between two snapshots.
type Delta struct {
	Added   Tables `json:"added"`
	Removed Tables `json:"removed"`
}

// Empty reports whether the snapshots were identical.
func (d Delta) Empty() bool {
	return d.Added.Len() == 0 && d.Removed.Len() == 0
}

// Len returns the number of rows across all relations.
func (t Tables) Len() int {
	return len(t.Signals) + len(t.Assignments) + len(t.Cases) +
		len(t.Displays) + len(t.Blocks) + len(t.Unresolved)
}

// ComputeDelta computes row-level additions and removals between two snapshots.
func ComputeDelta(prev, next Tables) Delta {
	return Delta{
		Added:   diffTables(prev, next),
		Removed: diffTables(next, prev),
	}
}

// diffTables returns the rows of to that are not in from.
func diffTables(from, to Tables) Tables {
	out := emptyTables()

	out.Signals = diffRows(from.Signals, to.Signals, func(r SignalRow) string {
		return fmt.Sprintf("%s|%s|%d|%d", r.Name, r.Kind, r.Width, r.Line)
	})
	out.Assignments = diffRows(from.Assignments, to.Assignments, func(r AssignmentRow) string {
		return fmt.Sprintf("%s|%s|%s|%d|%t", r.Target, r.Expr, r.Kind, r.Line, r.Applied)
	})
	out.Cases = diffRows(from.Cases, to.Cases, func(r CaseRow) string {
		return fmt.Sprintf("%s|%d|%d", r.Select, r.Arms, r.Line)
	})
	out.Displays = diffRows(from.Displays, to.Displays, func(r DisplayRow) string {
		return fmt.Sprintf("%s|%s|%d", r.Format, strings.Join(r.Args, ","), r.Line)
	})
	out.Blocks = diffRows(from.Blocks, to.Blocks, func(r BlockRow) string { return r.Kind })
	out.Unresolved = diffRows(from.Unresolved, to.Unresolved, func(r ReferenceRow) string { return r.Name })

	return out
}

// diffRows returns the rows of to whose key does not occur in from,
// counting duplicates.
func diffRows[T any](from, to []T, key func(T) string) []T {
	seen := make(map[string]int, len(from))
	for _, r := range from {
		seen[key(r)]++
	}
	out := []T{}
	for _, r := range to {
		k := key(r)
		if seen[k] > 0 {
			seen[k]--
			continue
		}
		out = append(out, r)
	}
	return out
}
