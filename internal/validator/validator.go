// Package validator rejects source text that is not worth simulating.
//
// It is a heuristic, not a real lexer: every check is a pattern over the
// raw text, false positives and false negatives are accepted, and the
// goal is compiler-like feedback on small teaching programs. All checks of
// a pass run; nothing stops at the first problem.
package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Kind classifies a diagnostic. Every kind is fatal.
type Kind string

const (
	// Structural covers unbalanced delimiters, a missing sensitivity list
	// and an unclosed class.
	Structural Kind = "structural"
	// Style covers a missing statement terminator.
	Style Kind = "style"
	// Lexical covers misspelled keywords.
	Lexical Kind = "lexical"
)

// Diagnostic is a user-facing description of a problem in source text.
type Diagnostic struct {
	Kind    Kind   `json:"kind"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

func (d Diagnostic) Error() string { return d.Message }

// FailureBanner prefixes the report of a rejected program.
const FailureBanner = "[COMPILE FAILED]"

// Report renders diagnostics as the failure banner followed by one
// message per line.
func Report(diags []Diagnostic) string {
	msgs := make([]string, 0, len(diags)+1)
	msgs = append(msgs, FailureBanner)
	for _, d := range diags {
		msgs = append(msgs, d.Message)
	}
	return strings.Join(msgs, "\n")
}

var (
	// always <anything but @> ... begin, on one line
	alwaysBeginPattern = regexp.MustCompile(`\balways\s+[^@\n]*[^\n]*\bbegin\b`)

	// line prefixes that open a block or a condition and are never checked
	// for a terminator
	headerPrefixes = []string{
		"//", "module", "endmodule", "begin", "end", "initial", "always",
		"if", "else", "case", "endcase",
	}

	terminatedKeywords = []string{"reg", "wire", "logic", "assign"}
)

// Misspellings is the fixed list of keyword typos that are reported.
var Misspellings = []string{"modul", "endmodul", "asign", "begun", "ent"}

// suggestions are the keywords a typo may be corrected to.
var suggestions = []string{
	"module", "endmodule", "assign", "begin", "end", "always", "initial",
	"wire", "reg", "logic", "input", "output",
}

// Validate runs every check against src and returns the diagnostics in
// check order. The class check only runs when everything else passed.
func Validate(src string) []Diagnostic {
	diags := firstPass(src)
	if len(diags) > 0 {
		return diags
	}
	return secondPass(src)
}

func firstPass(src string) []Diagnostic {
	var diags []Diagnostic

	counts, err := countTokens(src)
	if err != nil {
		// the rule set matches every byte, so this only happens on a
		// broken lexer definition
		return []Diagnostic{{Kind: Structural, Message: fmt.Sprintf("Internal Error: %v", err)}}
	}

	diags = append(diags, checkBalance(counts)...)
	diags = append(diags, checkTerminators(src)...)
	diags = append(diags, checkSensitivity(src)...)
	diags = append(diags, checkMisspellings(counts)...)
	return diags
}

func secondPass(src string) []Diagnostic {
	if strings.Contains(src, "class") && !strings.Contains(src, "endclass") {
		return []Diagnostic{{
			Kind:    Structural,
			Message: "SystemVerilog Syntax: 'class' found but 'endclass' is missing. All blueprint definitions must be closed.",
		}}
	}
	return nil
}

func checkBalance(c *tokenCounts) []Diagnostic {
	var diags []Diagnostic

	if modules, ends := c.word("module"), c.word("endmodule"); modules != ends {
		diags = append(diags, Diagnostic{
			Kind: Structural,
			Message: fmt.Sprintf("Logic Error: Found %d 'module' declarations but %d 'endmodule' statements. Hardware boundaries must be matched.",
				modules, ends),
		})
	}

	if begins, ends := c.word("begin"), c.word("end"); begins != ends {
		diags = append(diags, Diagnostic{
			Kind: Structural,
			Message: fmt.Sprintf("Control Flow Error: Found %d 'begin' blocks but %d 'end' statements. All procedural blocks must be properly closed.",
				begins, ends),
		})
	}

	if c.lparen != c.rparen {
		diags = append(diags, Diagnostic{
			Kind:    Structural,
			Message: fmt.Sprintf("Syntax Error: Mismatched parentheses. Found %d '(' but %d ')'.", c.lparen, c.rparen),
		})
	}

	return diags
}

func checkTerminators(src string) []Diagnostic {
	var diags []Diagnostic
	for i, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isHeader(trimmed) || strings.Contains(trimmed, "(") {
			continue
		}
		if !containsAny(trimmed, terminatedKeywords) {
			continue
		}
		if strings.HasSuffix(trimmed, ";") || strings.HasSuffix(trimmed, ",") || strings.HasSuffix(trimmed, ")") {
			continue
		}
		diags = append(diags, Diagnostic{
			Kind:    Style,
			Line:    i + 1,
			Message: fmt.Sprintf("Syntax Error (Line %d): Missing semicolon ';' in statement: \"%s\"", i+1, trimmed),
		})
	}
	return diags
}

func checkSensitivity(src string) []Diagnostic {
	if alwaysBeginPattern.MatchString(src) && !strings.Contains(src, "@") {
		return []Diagnostic{{
			Kind:    Structural,
			Message: "Hardware Error: 'always' block detected without a sensitivity list (@). Synthesis requires an event control.",
		}}
	}
	return nil
}

func checkMisspellings(c *tokenCounts) []Diagnostic {
	var diags []Diagnostic
	for _, typo := range Misspellings {
		line := c.lineOf(typo)
		if line == 0 {
			continue
		}
		diags = append(diags, Diagnostic{
			Kind: Lexical,
			Line: line,
			Message: fmt.Sprintf("Typo Alert: Found potential misspelling of keyword: %q. Did you mean %q?",
				typo, suggest(typo)),
		})
	}
	return diags
}

// suggest returns the keyword closest to typo by edit distance. Ties keep
// the earlier keyword.
func suggest(typo string) string {
	best, bestDist := "", -1
	for _, kw := range suggestions {
		d := levenshtein.ComputeDistance(typo, kw)
		if bestDist < 0 || d < bestDist {
			best, bestDist = kw, d
		}
	}
	return best
}

func isHeader(line string) bool {
	for _, p := range headerPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
