// Package sim runs an extracted program for a fixed number of time steps
// and records how every declared signal changes.
//
// Each step is a full pass over the program's statements, not an event
// queue: continuous assignments first (sequentially, each one sees the
// writes before it), then the combinational block, then the clocked block,
// and finally one sample of every declared signal. There is no convergence
// check; a run always takes exactly Steps+1 samples.
package sim

import (
	"sort"
	"strconv"

	"github.com/robert-at-pretension-io/hdlsim/internal/eval"
	"github.com/robert-at-pretension-io/hdlsim/internal/extractor"
	"github.com/robert-at-pretension-io/hdlsim/internal/signal"
	"github.com/robert-at-pretension-io/hdlsim/internal/trace"
)

// ClockSignal is the signal driven by the engine when the program has a
// rising-edge block.
const ClockSignal = "clk"

// guardedTarget is the only bare procedural target written when the
// program also contains a case statement.
const guardedTarget = "y"

// Config controls a run.
type Config struct {
	// Steps is the number of step intervals; time 0 is sampled as well.
	Steps int

	// StepDuration is the simulated time between two samples.
	StepDuration uint64

	// Fallback decides what unresolved expressions evaluate to.
	Fallback eval.FallbackPolicy

	// DisplayHints substitutes canned values for $display arguments that
	// name no known signal.
	DisplayHints bool
}

// DefaultConfig returns 20 steps of 10 time units.
func DefaultConfig() Config {
	return Config{
		Steps:        20,
		StepDuration: 10,
		Fallback:     eval.FallbackZero,
	}
}

// Engine runs programs. It holds no state between runs, so one Engine can
// serve any number of runs, concurrently or not.
type Engine struct {
	cfg Config
}

// New returns an engine. Zero fields of cfg take their defaults.
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Steps <= 0 {
		cfg.Steps = def.Steps
	}
	if cfg.StepDuration == 0 {
		cfg.StepDuration = def.StepDuration
	}
	return &Engine{cfg: cfg}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Run is the outcome of simulating one program.
type Run struct {
	// Trace holds one history per declared signal, in declaration order.
	Trace *trace.Trace

	// Table is the signal table after the last step.
	Table *signal.Table

	// Output holds one rendered line per $display call.
	Output []string

	// Unresolved lists, sorted and without duplicates, every operand,
	// expression or display argument that fell back to a default value.
	Unresolved []string

	// Suppressed lists the bare procedural assignments skipped because the
	// program contains a case statement.
	Suppressed []extractor.Assignment

	// Steps is the number of samples taken.
	Steps int
}

// state is the per-run mutable part of the engine.
type state struct {
	cfg        Config
	prog       *extractor.Program
	table      *signal.Table
	trace      *trace.Trace
	ev         *eval.Evaluator
	unresolved map[string]bool
	procedural []extractor.Assignment
}

// Run simulates p. It cannot fail: anything the evaluator does not
// understand resolves through the fallback policy.
func (e *Engine) Run(p *extractor.Program) *Run {
	s := &state{
		cfg:        e.cfg,
		prog:       p,
		table:      signal.NewTable(),
		unresolved: make(map[string]bool),
	}
	s.ev = &eval.Evaluator{
		Policy:       e.cfg.Fallback,
		OnUnresolved: func(ref string) { s.unresolved[ref] = true },
	}
	for _, sig := range p.Signals {
		s.table.Declare(sig.Name)
	}
	s.trace = trace.New(s.table.Names()...)

	run := &Run{Trace: s.trace, Table: s.table}
	for _, a := range p.Procedural {
		if p.HasCase && a.Target != guardedTarget {
			run.Suppressed = append(run.Suppressed, a)
			continue
		}
		s.procedural = append(s.procedural, a)
	}

	// displays see the table as declared, before any step
	run.Output = s.renderDisplays()

	for i := 0; i <= e.cfg.Steps; i++ {
		t := uint64(i) * e.cfg.StepDuration
		s.step(t)
		s.record(t)
		run.Steps++
	}

	run.Unresolved = make([]string, 0, len(s.unresolved))
	for ref := range s.unresolved {
		run.Unresolved = append(run.Unresolved, ref)
	}
	sort.Strings(run.Unresolved)
	return run
}

func (s *state) step(t uint64) {
	p := s.prog

	for _, a := range p.Continuous {
		s.table.Set(a.Target, s.ev.Eval(s.table, a.Expr))
	}

	if p.Combinational {
		for _, c := range p.Cases {
			sel, _ := s.table.Value(c.Select)
			for _, arm := range c.Arms {
				if arm.Valid && arm.Value == sel {
					s.table.Set(arm.Target, s.ev.Eval(s.table, arm.Expr))
				}
			}
		}
		for _, a := range s.procedural {
			s.table.Set(a.Target, s.ev.Eval(s.table, a.Expr))
		}
	}

	if p.Clocked {
		clk := (t / s.cfg.StepDuration) % 2
		s.table.Set(ClockSignal, clk)
		if clk == 1 {
			s.commitNonBlocking()
		}
	}
}

// commitNonBlocking evaluates every non-blocking right-hand side against
// the table as it is now and only then writes the results. A target
// assigned twice keeps its last value.
func (s *state) commitNonBlocking() {
	type update struct {
		target string
		value  uint64
	}
	updates := make([]update, 0, len(s.prog.NonBlocking))
	for _, a := range s.prog.NonBlocking {
		updates = append(updates, update{a.Target, s.ev.Eval(s.table, a.Expr)})
	}
	for _, u := range updates {
		s.table.Set(u.target, u.value)
	}
}

func (s *state) record(t uint64) {
	for _, name := range s.table.Names() {
		v, _ := s.table.Value(name)
		s.trace.Add(name).Observe(t, FormatValue(v))
	}
}

// FormatValue renders a signal value the way it appears in a trace.
func FormatValue(v uint64) string {
	return strconv.FormatUint(v, 2)
}
