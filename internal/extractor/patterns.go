package extractor

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// Pattern: input|output|inout|wire|reg|logic (whole word)
	declPattern = regexp.MustCompile(`\b(input|output|inout|wire|reg|logic)\b`)

	// Pattern: assign <target> = <expr>;
	assignPattern = regexp.MustCompile(`\bassign\s+(\w+)\s*=\s*([^;]+);`)

	// Pattern: case (<select>) ... endcase
	casePattern = regexp.MustCompile(`(?s)case\s*\(\s*(\w+)\s*\)(.*?)endcase`)

	// Pattern: <literal> : <target> = <expr>;
	caseArmPattern = regexp.MustCompile(`(\d+'[bB][01xXzZqQ?]+|\d+'[hH][0-9a-fA-F]+|\d+)\s*:\s*(\w+)\s*=\s*([^;]+);`)

	// Pattern: begin|;|*) <target> = <expr>;
	proceduralPattern = regexp.MustCompile(`(?:begin|;|\*\))\s*(\w+)\s*=\s*([^;]+);`)

	// Pattern: <target> <= <expr>;
	nonBlockingPattern = regexp.MustCompile(`(\w+)\s*<=\s*([^;]+);`)

	// Pattern: $display("<format>", <args>);
	displayPattern = regexp.MustCompile(`\$display\s*\(\s*(?:"|')(.*?)(?:"|')\s*(?:,\s*(.*?))?\s*\)\s*;`)

	// Pattern: [<msb>:<lsb>]
	rangePattern = regexp.MustCompile(`^\[\s*(\d+)\s*:\s*(\d+)\s*\]$`)
)

// keywords that can never be signal names in a declaration list.
var keywords = map[string]bool{
	"input": true, "output": true, "inout": true, "wire": true, "reg": true,
	"logic": true, "signed": true, "unsigned": true, "module": true,
	"endmodule": true, "assign": true, "always": true, "initial": true,
	"begin": true, "end": true, "integer": true, "parameter": true,
}

var declModifiers = map[string]bool{
	"wire": true, "reg": true, "logic": true, "signed": true, "unsigned": true,
}

// matchDeclarations returns every signal declared in src.
func matchDeclarations(src string, lines *lineIndex) []Signal {
	var out []Signal
	for _, loc := range declPattern.FindAllStringSubmatchIndex(src, -1) {
		kind := src[loc[2]:loc[3]]
		s := scanner{src: src, pos: loc[1]}

		for {
			s.skipSpace()
			w, end := s.peekWord()
			if !declModifiers[w] {
				break
			}
			s.pos = end
		}
		s.skipSpace()
		width := 1
		if r, ok := s.bracket(); ok {
			width = rangeWidth(r)
		}

		for {
			s.skipSpace()
			name, end := s.peekWord()
			if name == "" || keywords[name] || isDigit(name[0]) {
				break
			}
			out = append(out, Signal{
				Name:  name,
				Kind:  kind,
				Width: width,
				Line:  lines.lineAt(s.pos),
			})
			s.pos = end
			s.skipSpace()
			s.bracket()
			s.skipSpace()
			if !s.consume(',') {
				break
			}
		}
	}
	return out
}

func matchContinuous(src string, lines *lineIndex) []Assignment {
	var out []Assignment
	for _, m := range assignPattern.FindAllStringSubmatchIndex(src, -1) {
		out = append(out, Assignment{
			Target: src[m[2]:m[3]],
			Expr:   strings.TrimSpace(src[m[4]:m[5]]),
			Line:   lines.lineAt(m[0]),
		})
	}
	return out
}

func matchCases(src string, lines *lineIndex) []CaseBlock {
	var out []CaseBlock
	for _, m := range casePattern.FindAllStringSubmatchIndex(src, -1) {
		block := CaseBlock{
			Select: src[m[2]:m[3]],
			Line:   lines.lineAt(m[0]),
		}
		body := src[m[4]:m[5]]
		for _, a := range caseArmPattern.FindAllStringSubmatchIndex(body, -1) {
			label := body[a[2]:a[3]]
			v, ok := parseCaseLabel(label)
			block.Arms = append(block.Arms, CaseArm{
				Label:  label,
				Value:  v,
				Valid:  ok,
				Target: body[a[4]:a[5]],
				Expr:   strings.TrimSpace(body[a[6]:a[7]]),
				Line:   lines.lineAt(m[4] + a[0]),
			})
		}
		out = append(out, block)
	}
	return out
}

func matchProcedural(src string, lines *lineIndex) []Assignment {
	var out []Assignment
	for _, m := range proceduralPattern.FindAllStringSubmatchIndex(src, -1) {
		out = append(out, Assignment{
			Target: src[m[2]:m[3]],
			Expr:   strings.TrimSpace(src[m[4]:m[5]]),
			Line:   lines.lineAt(m[2]),
		})
	}
	return out
}

func matchNonBlocking(src string, lines *lineIndex) []Assignment {
	var out []Assignment
	for _, m := range nonBlockingPattern.FindAllStringSubmatchIndex(src, -1) {
		out = append(out, Assignment{
			Target: src[m[2]:m[3]],
			Expr:   strings.TrimSpace(src[m[4]:m[5]]),
			Line:   lines.lineAt(m[0]),
		})
	}
	return out
}

func matchDisplays(src string, lines *lineIndex) []Display {
	var out []Display
	for _, m := range displayPattern.FindAllStringSubmatchIndex(src, -1) {
		d := Display{
			Format: src[m[2]:m[3]],
			Line:   lines.lineAt(m[0]),
		}
		if m[4] >= 0 {
			for _, arg := range strings.Split(src[m[4]:m[5]], ",") {
				d.Args = append(d.Args, strings.TrimSpace(arg))
			}
		}
		out = append(out, d)
	}
	return out
}

// parseCaseLabel converts 2'b10, 8'hff or 3 into a number. Like a lenient
// integer parse it stops at the first digit invalid for the base; a label
// with no usable digits never matches.
func parseCaseLabel(lit string) (uint64, bool) {
	digits, base := lit, 10
	if i := strings.IndexByte(lit, '\''); i >= 0 && i+1 < len(lit) {
		switch lit[i+1] {
		case 'b', 'B':
			base = 2
		case 'h', 'H':
			base = 16
		}
		digits = lit[i+2:]
	}
	n := 0
	for n < len(digits) && digitValue(digits[n]) < base {
		n++
	}
	if n == 0 {
		return 0, false
	}
	v, err := strconv.ParseUint(digits[:n], base, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func digitValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return 99
}

func rangeWidth(r string) int {
	m := rangePattern.FindStringSubmatch(r)
	if m == nil {
		return 1
	}
	msb, _ := strconv.Atoi(m[1])
	lsb, _ := strconv.Atoi(m[2])
	if msb < lsb {
		msb, lsb = lsb, msb
	}
	return msb - lsb + 1
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isWordByte(c byte) bool {
	return c == '_' || isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// scanner walks a declaration list after its keyword.
type scanner struct {
	src string
	pos int
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case ' ', '\t', '\n', '\r':
			s.pos++
		default:
			return
		}
	}
}

func (s *scanner) peekWord() (string, int) {
	end := s.pos
	for end < len(s.src) && isWordByte(s.src[end]) {
		end++
	}
	return s.src[s.pos:end], end
}

// bracket consumes a [...] group and returns it.
func (s *scanner) bracket() (string, bool) {
	if s.pos >= len(s.src) || s.src[s.pos] != '[' {
		return "", false
	}
	end := strings.IndexByte(s.src[s.pos:], ']')
	if end < 0 {
		return "", false
	}
	r := s.src[s.pos : s.pos+end+1]
	s.pos += end + 1
	return r, true
}

func (s *scanner) consume(c byte) bool {
	if s.pos < len(s.src) && s.src[s.pos] == c {
		s.pos++
		return true
	}
	return false
}
