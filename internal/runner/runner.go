package runner

// =============================================================================
// RUNNER: ONE SYNCHRONOUS OPERATION, NO SHARED STATE
// =============================================================================
//
// A run takes design and testbench text and returns either every
// diagnostic the validator found or a waveform plus captured output:
//
//	validate -> extract -> simulate -> encode -> advisories -> contract
//
// Each run builds its own signal table and trace. Nothing computed for one
// run is visible to another, so runs may execute concurrently.
//
// Problems in the source text are results, never Go errors. The error
// return is reserved for the infrastructure around the run: a cancelled
// context, a broken policy module, a result that violates its own schema.
// =============================================================================

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/robert-at-pretension-io/hdlsim/internal/config"
	"github.com/robert-at-pretension-io/hdlsim/internal/eval"
	"github.com/robert-at-pretension-io/hdlsim/internal/extractor"
	"github.com/robert-at-pretension-io/hdlsim/internal/facts"
	"github.com/robert-at-pretension-io/hdlsim/internal/policy"
	"github.com/robert-at-pretension-io/hdlsim/internal/schema"
	"github.com/robert-at-pretension-io/hdlsim/internal/sim"
	"github.com/robert-at-pretension-io/hdlsim/internal/trace"
	"github.com/robert-at-pretension-io/hdlsim/internal/validator"
	"github.com/robert-at-pretension-io/hdlsim/internal/vcd"
)

const tracerName = "github.com/robert-at-pretension-io/hdlsim/internal/runner"

// Banner lines written after the captured $display output.
const (
	StartBanner    = "[DYNAMIC SIM] Starting cycle-based execution..."
	WaveformBanner = "[DYNAMIC SIM] Waveform generated successfully."
	FinishBanner   = "[DYNAMIC SIM] Simulation finished."
)

// Program is the input of a run.
type Program struct {
	Design    string `json:"code"`
	Testbench string `json:"testbench,omitempty"`
}

// Text joins design and testbench the way every phase sees them.
func (p Program) Text() string {
	return p.Design + "\n" + p.Testbench
}

// Result is the structured outcome of a run.
type Result struct {
	RunID       string                 `json:"run_id"`
	Success     bool                   `json:"success"`
	Output      string                 `json:"output"`
	VCD         string                 `json:"vcd"`
	Fingerprint string                 `json:"fingerprint"`
	Diagnostics []validator.Diagnostic `json:"diagnostics,omitempty"`
	Advisories  []policy.Advisory      `json:"advisories,omitempty"`
	Stats       Stats                  `json:"stats"`

	// Trace is the decoded form of VCD; nil when the run failed.
	Trace *trace.Trace `json:"-"`
}

// Stats summarises a successful run. All fields are zero on failure.
type Stats struct {
	Signals     int    `json:"signals"`
	Steps       int    `json:"steps"`
	Transitions int    `json:"transitions"`
	EndTime     uint64 `json:"end_time"`
}

// Runner executes programs.
type Runner struct {
	// Configuration loaded from hdlsim.json / hdlsim.yaml
	Config *config.Config

	// Verbose output, one section per phase
	Verbose bool

	// Out receives verbose output; defaults to os.Stdout
	Out io.Writer

	// Timing output (JSONL)
	Timing     bool
	TimingPath string

	// Tracer overrides the global OpenTelemetry tracer
	Tracer oteltrace.Tracer

	policyOnce sync.Once
	policy     *policy.Engine
	policyErr  error

	validators schema.Pool

	outMu sync.Mutex
}

// New creates a runner with the given configuration, or the defaults when
// cfg is nil.
func New(cfg *config.Config) *Runner {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Runner{Config: cfg}
}

// Fingerprint identifies a program text.
func Fingerprint(text string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(text))
}

// Run executes one program.
func (r *Runner) Run(ctx context.Context, prog Program) (*Result, error) {
	timing := newTimingRecorder(time.Now(), r.resolveTimingPath())
	defer timing.Close()
	if err := timing.Err(); err != nil {
		return nil, fmt.Errorf("timing output: %w", err)
	}
	return r.run(ctx, prog, "", timing)
}

// run is Run with a caller-owned timing recorder; file labels the timing
// events of batch runs.
func (r *Runner) run(ctx context.Context, prog Program, file string, timing *timingRecorder) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run not started: %w", err)
	}

	text := prog.Text()
	res := &Result{
		RunID:       uuid.NewString(),
		Fingerprint: Fingerprint(text),
	}

	ctx, span := r.tracer().Start(ctx, "hdlsim.run", oteltrace.WithAttributes(
		attribute.String("hdlsim.run_id", res.RunID),
		attribute.String("hdlsim.fingerprint", res.Fingerprint),
	))
	defer span.End()

	var verbose bytes.Buffer
	defer r.flushVerbose(&verbose)

	phase := func(name string, fn func(ctx context.Context) error) error {
		start := time.Now()
		pctx, pspan := r.tracer().Start(ctx, name)
		err := fn(pctx)
		status := "ok"
		if err != nil {
			status = "error"
			pspan.RecordError(err)
			pspan.SetStatus(codes.Error, err.Error())
		}
		pspan.End()
		timing.RecordPhase(res.RunID, name, file, status, start, time.Since(start))
		return err
	}

	var diags []validator.Diagnostic
	_ = phase("validate", func(context.Context) error {
		diags = validator.Validate(text)
		return nil
	})
	if r.Verbose {
		fmt.Fprintf(&verbose, "\n=== Validation (%s) ===\n", res.RunID)
		fmt.Fprintf(&verbose, "  diagnostics: %d\n", len(diags))
		for _, d := range diags {
			fmt.Fprintf(&verbose, "  [%s] %s\n", d.Kind, d.Message)
		}
	}

	if len(diags) > 0 {
		res.Success = false
		res.Output = validator.Report(diags)
		res.Diagnostics = diags
		span.SetAttributes(attribute.Bool("hdlsim.success", false))
		return r.checkContract(res, phase)
	}

	var extracted *extractor.Program
	_ = phase("extract", func(context.Context) error {
		extracted = extractor.Extract(text)
		return nil
	})
	if r.Verbose {
		fmt.Fprintf(&verbose, "\n=== Extraction ===\n")
		fmt.Fprintf(&verbose, "  signals: %s\n", strings.Join(extracted.SignalNames(), ", "))
		fmt.Fprintf(&verbose, "  continuous: %d  procedural: %d  nonblocking: %d  cases: %d  displays: %d\n",
			len(extracted.Continuous), len(extracted.Procedural), len(extracted.NonBlocking), len(extracted.Cases), len(extracted.Displays))
		fmt.Fprintf(&verbose, "  combinational: %t  clocked: %t\n", extracted.Combinational, extracted.Clocked)
	}

	simCfg, err := r.simConfig()
	if err != nil {
		return nil, err
	}
	var run *sim.Run
	_ = phase("simulate", func(context.Context) error {
		run = sim.New(simCfg).Run(extracted)
		return nil
	})
	if r.Verbose {
		fmt.Fprintf(&verbose, "\n=== Simulation ===\n")
		fmt.Fprintf(&verbose, "  steps: %d  transitions: %d  end time: %d\n",
			run.Steps, run.Trace.TransitionCount(), run.Trace.EndTime())
		if len(run.Unresolved) > 0 {
			fmt.Fprintf(&verbose, "  unresolved: %s\n", strings.Join(run.Unresolved, ", "))
		}
	}

	_ = phase("encode", func(context.Context) error {
		res.VCD = vcd.EncodeString(run.Trace, r.vcdConfig())
		return nil
	})

	if r.Config.AdvisoriesEnabled() {
		err := phase("advisories", func(ctx context.Context) error {
			engine, err := r.policyEngine(ctx)
			if err != nil {
				return err
			}
			out, err := engine.Evaluate(ctx, facts.BuildTables(extracted, run))
			if err != nil {
				return err
			}
			res.Advisories = out.Advisories
			return nil
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "advisories")
			return nil, fmt.Errorf("advisories: %w", err)
		}
		if r.Verbose && len(res.Advisories) > 0 {
			fmt.Fprintf(&verbose, "\n=== Advisories ===\n")
			for _, a := range res.Advisories {
				fmt.Fprintf(&verbose, "  [%s] line %d: %s (%s)\n", a.Severity, a.Line, a.Message, a.Rule)
			}
		}
	}

	lines := append([]string{}, run.Output...)
	lines = append(lines, StartBanner, WaveformBanner, FinishBanner)
	res.Success = true
	res.Output = strings.Join(lines, "\n")
	res.Trace = run.Trace
	res.Stats = Stats{
		Signals:     run.Table.Len(),
		Steps:       run.Steps,
		Transitions: run.Trace.TransitionCount(),
		EndTime:     run.Trace.EndTime(),
	}
	span.SetAttributes(
		attribute.Bool("hdlsim.success", true),
		attribute.Int("hdlsim.transitions", res.Stats.Transitions),
	)

	return r.checkContract(res, phase)
}

// checkContract validates the result against its schema.
func (r *Runner) checkContract(res *Result, phase func(string, func(context.Context) error) error) (*Result, error) {
	err := phase("contract", func(context.Context) error {
		v, err := r.validators.Get()
		if err != nil {
			return fmt.Errorf("init result validator: %w", err)
		}
		defer r.validators.Put(v)
		return v.ValidateResult(res)
	})
	if err != nil {
		return nil, fmt.Errorf("result contract: %w", err)
	}
	return res, nil
}

func (r *Runner) tracer() oteltrace.Tracer {
	if r.Tracer != nil {
		return r.Tracer
	}
	return otel.Tracer(tracerName)
}

func (r *Runner) policyEngine(ctx context.Context) (*policy.Engine, error) {
	r.policyOnce.Do(func() {
		r.policy, r.policyErr = policy.New(ctx, r.Config.Analysis.PolicyDir)
	})
	return r.policy, r.policyErr
}

func (r *Runner) simConfig() (sim.Config, error) {
	c := r.Config.Simulation
	fallback, ok := eval.ParseFallback(c.Fallback)
	if !ok {
		return sim.Config{}, fmt.Errorf("unknown fallback policy %q", c.Fallback)
	}
	return sim.Config{
		Steps:        c.Steps,
		StepDuration: uint64(c.StepDuration),
		Fallback:     fallback,
		DisplayHints: r.Config.Output.DisplayHints,
	}, nil
}

func (r *Runner) vcdConfig() vcd.Config {
	c := r.Config.VCD
	return vcd.Config{
		Timescale: c.Timescale,
		Scope:     c.Scope,
		IDBase:    c.IDBase,
		VarType:   c.VarType,
	}
}

func (r *Runner) flushVerbose(buf *bytes.Buffer) {
	if buf.Len() == 0 {
		return
	}
	out := r.Out
	if out == nil {
		out = os.Stdout
	}
	r.outMu.Lock()
	defer r.outMu.Unlock()
	_, _ = buf.WriteTo(out)
}
