package vcd

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/robert-at-pretension-io/hdlsim/internal/trace"
)

// Decoder reads dump text into a trace.
type Decoder struct {
	r io.Reader
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode reads the whole input.
//
// Declarations map identifier codes to display names; a declared bit range
// is part of the name. Values inside $dumpvars are a snapshot taken at the
// current time: the snapshot value is kept unless the signal's next change
// repeats it. Changes for unknown codes are ignored.
func (d *Decoder) Decode() (*trace.Trace, error) {
	p := &parser{
		tr:      trace.New(),
		signals: make(map[string]*trace.Signal),
		pending: make(map[string]trace.Transition),
		dumped:  make(map[string]bool),
	}

	sc := bufio.NewScanner(d.r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		p.line++
		if err := p.parseLine(strings.TrimSpace(sc.Text())); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading vcd: %w", err)
	}
	p.flushPending()
	return p.tr, nil
}

// Decode reads dump text from r.
func Decode(r io.Reader) (*trace.Trace, error) {
	return NewDecoder(r).Decode()
}

// DecodeString reads dump text from s.
func DecodeString(s string) (*trace.Trace, error) {
	return Decode(strings.NewReader(s))
}

type parser struct {
	tr      *trace.Trace
	signals map[string]*trace.Signal    // code -> history
	pending map[string]trace.Transition // code -> snapshot value
	dumped  map[string]bool             // codes that already had a snapshot value
	order   []string                    // snapshot codes in arrival order

	line      int
	time      uint64
	body      bool // past $enddefinitions
	inDump    bool
	inComment bool
}

func (p *parser) parseLine(line string) error {
	if line == "" {
		return nil
	}
	if p.inComment {
		if strings.Contains(line, "$end") {
			p.inComment = false
		}
		return nil
	}

	switch {
	case strings.HasPrefix(line, "$var"):
		return p.parseVar(line)
	case strings.HasPrefix(line, "$enddefinitions"):
		p.body = true
		return nil
	case strings.HasPrefix(line, "$dump"):
		p.inDump = !strings.HasSuffix(line, "$end")
		return nil
	case strings.HasPrefix(line, "$end"):
		p.inDump = false
		return nil
	case strings.HasPrefix(line, "$comment"):
		p.inComment = !strings.Contains(line, "$end")
		return nil
	case strings.HasPrefix(line, "$"):
		return nil
	case strings.HasPrefix(line, "#"):
		t, err := strconv.ParseUint(line[1:], 10, 64)
		if err != nil {
			return &SyntaxError{Line: p.line, Msg: fmt.Sprintf("invalid timestamp %q", line)}
		}
		p.time = t
		p.body = true
		p.inDump = false
		return nil
	}

	if !p.body {
		// continuation of a multi-line header directive
		return nil
	}

	if line[0] == 'b' || line[0] == 'B' {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return &SyntaxError{Line: p.line, Msg: fmt.Sprintf("malformed vector change %q", line)}
		}
		p.change(fields[1], fields[0][1:])
		return nil
	}
	p.change(line[1:], line[:1])
	return nil
}

func (p *parser) parseVar(line string) error {
	// $var <type> <width> <code> <name> [<range>] $end
	fields := strings.Fields(line)
	if n := len(fields); n > 0 && fields[n-1] == "$end" {
		fields = fields[:n-1]
	}
	if len(fields) < 5 {
		return &SyntaxError{Line: p.line, Msg: fmt.Sprintf("malformed declaration %q", line)}
	}
	code := fields[3]
	name := strings.Join(fields[4:], "")
	p.signals[code] = p.tr.Add(name)
	return nil
}

func (p *parser) change(code, value string) {
	s, ok := p.signals[code]
	if !ok {
		return
	}
	if p.inDump {
		if !p.dumped[code] {
			p.dumped[code] = true
			p.pending[code] = trace.Transition{Time: p.time, Value: value}
			p.order = append(p.order, code)
		}
		return
	}
	if snap, ok := p.pending[code]; ok {
		delete(p.pending, code)
		if snap.Value != value {
			s.Transitions = append(s.Transitions, snap)
		}
	}
	s.Transitions = append(s.Transitions, trace.Transition{Time: p.time, Value: value})
}

// flushPending keeps snapshot values no later change confirmed or replaced.
func (p *parser) flushPending() {
	for _, code := range p.order {
		snap, ok := p.pending[code]
		if !ok {
			continue
		}
		s := p.signals[code]
		s.Transitions = append(s.Transitions, snap)
	}
}
