package vcd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/robert-at-pretension-io/hdlsim/internal/trace"
)

// Encoder writes a trace as dump text.
type Encoder struct {
	w   io.Writer
	cfg Config
}

// NewEncoder returns an encoder writing to w. Zero fields of cfg take their
// defaults.
func NewEncoder(w io.Writer, cfg Config) *Encoder {
	return &Encoder{w: w, cfg: cfg.withDefaults()}
}

// Encode writes tr. Every signal is declared, including signals with no
// transitions. Transitions of each signal must be in time order.
func (e *Encoder) Encode(tr *trace.Trace) error {
	bw := bufio.NewWriter(e.w)

	fmt.Fprintf(bw, "$timescale %s $end\n", e.cfg.Timescale)
	fmt.Fprintf(bw, "$scope module %s $end\n", e.cfg.Scope)

	codes := make([]string, len(tr.Signals))
	for i, s := range tr.Signals {
		codes[i] = IdentifierCode(e.cfg.IDBase, i)
		fmt.Fprintf(bw, "$var %s %d %s %s $end\n", e.cfg.VarType, width(s), codes[i], s.Name)
	}
	bw.WriteString("$upscope $end\n")
	bw.WriteString("$enddefinitions $end\n")

	bw.WriteString("$dumpvars\n")
	for i, s := range tr.Signals {
		if len(s.Transitions) > 0 {
			writeChange(bw, s.Transitions[0].Value, codes[i])
		}
	}
	bw.WriteString("$end\n")

	cursor := make([]int, len(tr.Signals))
	for _, t := range tr.Times() {
		fmt.Fprintf(bw, "#%d\n", t)
		for i, s := range tr.Signals {
			for cursor[i] < len(s.Transitions) && s.Transitions[cursor[i]].Time == t {
				writeChange(bw, s.Transitions[cursor[i]].Value, codes[i])
				cursor[i]++
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing vcd: %w", err)
	}
	return nil
}

// EncodeString encodes tr into a string.
func EncodeString(tr *trace.Trace, cfg Config) string {
	var sb strings.Builder
	// a strings.Builder never fails
	_ = NewEncoder(&sb, cfg).Encode(tr)
	return sb.String()
}

// width is the declared width of a signal: its longest value, at least 1.
func width(s *trace.Signal) int {
	w := 1
	for _, t := range s.Transitions {
		if len(t.Value) > w {
			w = len(t.Value)
		}
	}
	return w
}

// writeChange writes one value change. Single characters are written bare,
// directly followed by the code; anything else, and characters that would
// read as a vector or a directive, gets the vector form "b<value> <code>".
func writeChange(w *bufio.Writer, value, code string) {
	if len(value) == 1 && !strings.ContainsAny(value, "bB#$") {
		w.WriteString(value)
		w.WriteString(code)
		w.WriteByte('\n')
		return
	}
	w.WriteByte('b')
	w.WriteString(value)
	w.WriteByte(' ')
	w.WriteString(code)
	w.WriteByte('\n')
}
