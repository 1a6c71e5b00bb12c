// Package facts flattens a program into relations (tables of flat rows)
// for the policy engine and the facts tool.
package facts

import (
	"github.com/robert-at-pretension-io/hdlsim/internal/extractor"
	"github.com/robert-at-pretension-io/hdlsim/internal/sim"
)

// Assignment kinds.
const (
	Continuous  = "continuous"
	Procedural  = "procedural"
	NonBlocking = "nonblocking"
	CaseArm     = "case_arm"
)

// Tables is the relational fact model of one program.
// Each slice is a relation (table) with flat rows.
type Tables struct {
	Signals     []SignalRow     `json:"signals"`
	Assignments []AssignmentRow `json:"assignments"`
	Cases       []CaseRow       `json:"cases"`
	Displays    []DisplayRow    `json:"displays"`
	Blocks      []BlockRow      `json:"blocks"`
	Unresolved  []ReferenceRow  `json:"unresolved"`
}

type SignalRow struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Width int    `json:"width"`
	Line  int    `json:"line"`
}

type AssignmentRow struct {
	Target string `json:"target"`
	Expr   string `json:"expr"`
	Kind   string `json:"kind"`
	Line   int    `json:"line"`

	// Applied is false for bare procedural assignments the engine skips
	// because the program contains a case statement.
	Applied bool `json:"applied"`
}

type CaseRow struct {
	Select string `json:"select"`
	Arms   int    `json:"arms"`
	Line   int    `json:"line"`
}

type DisplayRow struct {
	Format string   `json:"format"`
	Args   []string `json:"args"`
	Line   int      `json:"line"`
}

// BlockRow records an always-block style the engine reacts to.
type BlockRow struct {
	Kind string `json:"kind"` // combinational, clocked
}

// ReferenceRow is a name that fell back to zero during a run.
type ReferenceRow struct {
	Name string `json:"name"`
}

// BuildTables converts an extracted program into the relational model.
// Without a run the unresolved relation is empty and every procedural
// assignment is reported as applied.
func BuildTables(p *extractor.Program, run *sim.Run) Tables {
	tables := emptyTables()

	for _, s := range p.Signals {
		tables.Signals = append(tables.Signals, SignalRow{
			Name:  s.Name,
			Kind:  s.Kind,
			Width: s.Width,
			Line:  s.Line,
		})
	}

	for _, a := range p.Continuous {
		tables.Assignments = append(tables.Assignments, assignmentRow(a, Continuous, true))
	}

	suppressed := make(map[extractor.Assignment]bool)
	if run != nil {
		for _, a := range run.Suppressed {
			suppressed[a] = true
		}
	}
	for _, a := range p.Procedural {
		tables.Assignments = append(tables.Assignments, assignmentRow(a, Procedural, !suppressed[a]))
	}

	for _, a := range p.NonBlocking {
		tables.Assignments = append(tables.Assignments, assignmentRow(a, NonBlocking, p.Clocked))
	}

	for _, c := range p.Cases {
		tables.Cases = append(tables.Cases, CaseRow{
			Select: c.Select,
			Arms:   len(c.Arms),
			Line:   c.Line,
		})
		for _, arm := range c.Arms {
			tables.Assignments = append(tables.Assignments, AssignmentRow{
				Target:  arm.Target,
				Expr:    arm.Expr,
				Kind:    CaseArm,
				Line:    arm.Line,
				Applied: p.Combinational && arm.Valid,
			})
		}
	}

	for _, d := range p.Displays {
		args := d.Args
		if args == nil {
			args = []string{}
		}
		tables.Displays = append(tables.Displays, DisplayRow{
			Format: d.Format,
			Args:   args,
			Line:   d.Line,
		})
	}

	if p.Combinational {
		tables.Blocks = append(tables.Blocks, BlockRow{Kind: "combinational"})
	}
	if p.Clocked {
		tables.Blocks = append(tables.Blocks, BlockRow{Kind: "clocked"})
	}

	if run != nil {
		for _, ref := range run.Unresolved {
			tables.Unresolved = append(tables.Unresolved, ReferenceRow{Name: ref})
		}
	}

	return tables
}

func assignmentRow(a extractor.Assignment, kind string, applied bool) AssignmentRow {
	return AssignmentRow{
		Target:  a.Target,
		Expr:    a.Expr,
		Kind:    kind,
		Line:    a.Line,
		Applied: applied,
	}
}

func emptyTables() Tables {
	return Tables{
		Signals:     []SignalRow{},
		Assignments: []AssignmentRow{},
		Cases:       []CaseRow{},
		Displays:    []DisplayRow{},
		Blocks:      []BlockRow{},
		Unresolved:  []ReferenceRow{},
	}
}
