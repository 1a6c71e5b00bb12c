// Package extractor scans HDL source text for the declarations and
// statement forms the simulator understands.
//
// It is a set of independent regular-expression matchers, not a parser:
// each matcher returns typed rows with 1-based line numbers and never
// fails. Text that matches no pattern is simply ignored.
package extractor

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// Program is everything the simulator needs from one source text.
type Program struct {
	Source string

	// Signals in first-declaration order, without duplicates.
	Signals []Signal

	// Continuous assignments (assign y = expr;) in source order.
	Continuous []Assignment

	// Case statements and their arms.
	Cases []CaseBlock

	// Bare procedural assignments (y = expr;) following begin, ';' or @(*).
	Procedural []Assignment

	// Non-blocking assignments (q <= expr;) anywhere in the source.
	NonBlocking []Assignment

	// $display calls in source order.
	Displays []Display

	// Combinational is set when the source has an always block with a
	// wildcard sensitivity list, @(*) or @*.
	Combinational bool

	// Clocked is set when the source has an always @(posedge ...) block.
	Clocked bool

	// HasCase is set when the text "case" appears anywhere in the source.
	HasCase bool
}

// Signal is a declared signal.
type Signal struct {
	Name  string
	Kind  string // input, output, inout, wire, reg, logic
	Width int    // from [msb:lsb], informational only
	Line  int
}

// Assignment is a target = expression pair.
type Assignment struct {
	Target string
	Expr   string
	Line   int
}

// CaseBlock is a case (select) ... endcase statement.
type CaseBlock struct {
	Select string
	Arms   []CaseArm
	Line   int
}

// CaseArm is a single "literal: target = expr;" arm.
type CaseArm struct {
	Label  string
	Value  uint64
	Valid  bool // false if Label has no digits usable for its base
	Target string
	Expr   string
	Line   int
}

// Display is a $display call.
type Display struct {
	Format string
	Args   []string
	Line   int
}

// Extract scans src. It never fails.
func Extract(src string) *Program {
	lines := newLineIndex(src)
	p := &Program{
		Source:      src,
		Continuous:  matchContinuous(src, lines),
		Cases:       matchCases(src, lines),
		Procedural:  matchProcedural(src, lines),
		NonBlocking: matchNonBlocking(src, lines),
		Displays:    matchDisplays(src, lines),
		HasCase:     strings.Contains(src, "case"),
	}

	hasAlways := strings.Contains(src, "always")
	p.Combinational = hasAlways && (strings.Contains(src, "@(*)") || strings.Contains(src, "@*"))
	p.Clocked = hasAlways && strings.Contains(src, "@(posedge")

	seen := make(map[string]bool)
	for _, s := range matchDeclarations(src, lines) {
		if seen[s.Name] {
			continue
		}
		seen[s.Name] = true
		p.Signals = append(p.Signals, s)
	}
	return p
}

// ExtractFile reads and scans a file.
func ExtractFile(path string) (*Program, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return Extract(string(content)), nil
}

// SignalNames returns the declared names in order.
func (p *Program) SignalNames() []string {
	out := make([]string, 0, len(p.Signals))
	for _, s := range p.Signals {
		out = append(out, s.Name)
	}
	return out
}

// Signal returns the declaration of name.
func (p *Program) Signal(name string) (Signal, bool) {
	for _, s := range p.Signals {
		if s.Name == name {
			return s, true
		}
	}
	return Signal{}, false
}

// lineIndex maps byte offsets to 1-based line numbers.
type lineIndex struct {
	starts []int
}

func newLineIndex(src string) *lineIndex {
	idx := &lineIndex{starts: []int{0}}
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' {
			idx.starts = append(idx.starts, i+1)
		}
	}
	return idx
}

func (l *lineIndex) lineAt(offset int) int {
	return sort.Search(len(l.starts), func(i int) bool { return l.starts[i] > offset })
}
