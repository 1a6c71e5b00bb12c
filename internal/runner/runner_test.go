package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/robert-at-pretension-io/hdlsim/internal/config"
	"github.com/robert-at-pretension-io/hdlsim/internal/trace"
	"github.com/robert-at-pretension-io/hdlsim/internal/vcd"
)

const andGate = "module t(input a,b, output y); assign y = a & b; endmodule"

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	t.Setenv("HDLSIM_TIMING_JSONL", "")
	t.Setenv("HDLSIM_TIMING", "")
	return New(nil)
}

func boolPtr(v bool) *bool { return &v }

func TestRunUndrivenAndGate(t *testing.T) {
	res, err := newTestRunner(t).Run(context.Background(), Program{Design: andGate})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Empty(t, res.Diagnostics)
	assert.Equal(t, StartBanner+"\n"+WaveformBanner+"\n"+FinishBanner, res.Output)
	assert.Equal(t, Stats{Signals: 3, Steps: 21, Transitions: 3, EndTime: 0}, res.Stats)

	assert.Contains(t, res.VCD, "$dumpvars\n0!\n0\"\n0#\n$end\n#0\n0!\n0\"\n0#\n")
	assert.NotContains(t, res.VCD, "#10")

	decoded, err := vcd.DecodeString(res.VCD)
	require.NoError(t, err)
	for _, name := range []string{"a", "b", "y"} {
		s := decoded.Lookup(name)
		require.NotNil(t, s, name)
		assert.Equal(t, []trace.Transition{{Time: 0, Value: "0"}}, s.Transitions, name)
	}
}

func TestRunMissingEndmodule(t *testing.T) {
	res, err := newTestRunner(t).Run(context.Background(), Program{Design: "module m;\n  wire a;\n"})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Empty(t, res.VCD)
	assert.Nil(t, res.Trace)
	assert.Equal(t, Stats{}, res.Stats)
	require.Len(t, res.Diagnostics, 1)
	assert.Contains(t, res.Diagnostics[0].Message, "Found 1 'module' declarations but 0 'endmodule'")
	assert.True(t, strings.HasPrefix(res.Output, "[COMPILE FAILED]\n"))
}

func TestRunDisplayOfUnknownSignal(t *testing.T) {
	tb := `module tb;
  initial begin
    $display("Value: %h", data);
  end
endmodule`
	res, err := newTestRunner(t).Run(context.Background(), Program{Design: "module d; endmodule", Testbench: tb})
	require.NoError(t, err)

	require.True(t, res.Success, res.Output)
	lines := strings.Split(res.Output, "\n")
	assert.Equal(t, "[SIM OUT] Value: 0", lines[0])
	assert.Equal(t, FinishBanner, lines[len(lines)-1])

	var rules []string
	for _, a := range res.Advisories {
		rules = append(rules, a.Rule)
	}
	assert.Contains(t, rules, "unresolved_reference")
}

func TestRunAdvisoriesDisabled(t *testing.T) {
	r := newTestRunner(t)
	r.Config.Analysis.Advisories = boolPtr(false)

	res, err := r.Run(context.Background(), Program{Design: "module d; initial $display(\"%d\", ghost); endmodule"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Advisories)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newTestRunner(t).Run(ctx, Program{Design: andGate})
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunIdentity(t *testing.T) {
	r := newTestRunner(t)
	first, err := r.Run(context.Background(), Program{Design: andGate})
	require.NoError(t, err)
	second, err := r.Run(context.Background(), Program{Design: andGate})
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, Fingerprint(andGate+"\n"), first.Fingerprint)
	assert.Len(t, first.Fingerprint, 16)
	assert.Equal(t, first.VCD, second.VCD)
}

func TestRunsAreIndependent(t *testing.T) {
	r := newTestRunner(t)
	programs := []Program{
		{Design: andGate},
		{Design: "module c(input clk, output reg q); always @(posedge clk) begin q <= ~q; end endmodule"},
		{Design: "module s(output y); assign y = 1; endmodule"},
	}

	want := make([]string, len(programs))
	for i, p := range programs {
		res, err := r.Run(context.Background(), p)
		require.NoError(t, err)
		want[i] = res.VCD
	}

	var wg sync.WaitGroup
	got := make([]string, len(programs)*4)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Run(context.Background(), programs[i%len(programs)])
			if err == nil {
				got[i] = res.VCD
			}
		}()
	}
	wg.Wait()

	for i, vcdText := range got {
		assert.Equal(t, want[i%len(programs)], vcdText, "run %d", i)
	}
}

func TestRunSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	r := newTestRunner(t)
	r.Tracer = tp.Tracer("test")
	_, err := r.Run(context.Background(), Program{Design: andGate})
	require.NoError(t, err)

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"validate", "extract", "simulate", "encode", "advisories", "contract", "hdlsim.run"}, names)
}

func TestRunVerbose(t *testing.T) {
	var out bytes.Buffer
	r := newTestRunner(t)
	r.Verbose = true
	r.Out = &out

	_, err := r.Run(context.Background(), Program{Design: andGate})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "=== Validation")
	assert.Contains(t, out.String(), "signals: a, b, y")
	assert.Contains(t, out.String(), "=== Simulation ===")
}

func TestRunConfig(t *testing.T) {
	r := newTestRunner(t)
	r.Config.Simulation.Steps = 2
	r.Config.Simulation.StepDuration = 5
	r.Config.VCD.Timescale = "1ps"

	res, err := r.Run(context.Background(), Program{Design: "module c(input clk, output reg q); always @(posedge clk) begin q <= 1; end endmodule"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stats.Steps)
	assert.Equal(t, uint64(10), res.Stats.EndTime)
	assert.Contains(t, res.VCD, "$timescale 1ps $end")

	r.Config.Simulation.Fallback = "random"
	_, err = r.Run(context.Background(), Program{Design: andGate})
	assert.Error(t, err)
}

func TestTimingJSONLWritten(t *testing.T) {
	dir := t.TempDir()
	timingPath := filepath.Join(dir, "timing.jsonl")

	r := newTestRunner(t)
	r.Timing = true
	r.TimingPath = timingPath
	res, err := r.Run(context.Background(), Program{Design: andGate})
	require.NoError(t, err)

	raw, err := os.ReadFile(timingPath)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(raw), []byte("\n"))

	phases := make(map[string]bool)
	for _, line := range lines {
		var ev timingEvent
		require.NoError(t, json.Unmarshal(line, &ev))
		assert.Equal(t, res.RunID, ev.RunID)
		assert.Equal(t, "phase", ev.Kind)
		assert.Equal(t, "ok", ev.Status)
		phases[ev.Phase] = true
	}
	for _, p := range []string{"validate", "extract", "simulate", "encode", "advisories", "contract"} {
		assert.True(t, phases[p], "missing phase %s", p)
	}
}

func TestResolveTimingPath(t *testing.T) {
	r := newTestRunner(t)
	assert.Equal(t, "", r.resolveTimingPath())

	t.Setenv("HDLSIM_TIMING", "yes")
	assert.Equal(t, "timing.jsonl", r.resolveTimingPath())

	r.TimingPath = "custom.jsonl"
	assert.Equal(t, "custom.jsonl", r.resolveTimingPath())

	t.Setenv("HDLSIM_TIMING_JSONL", "env.jsonl")
	assert.Equal(t, "env.jsonl", r.resolveTimingPath())
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunBatch(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "gate.v", andGate)
	writeSource(t, dir, "gate_tb.v", "module tb; initial $display(\"y=%b\", y); endmodule")
	writeSource(t, dir, "broken.v", "module broken;")

	r := newTestRunner(t)
	r.Config.Analysis.MaxParallel = 2
	results, err := r.RunBatch(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "broken", results[0].Name)
	assert.False(t, results[0].Result.Success)

	assert.Equal(t, "gate", results[1].Name)
	assert.Equal(t, filepath.Join(dir, "gate_tb.v"), results[1].Source.Testbench)
	require.True(t, results[1].Result.Success)
	assert.True(t, strings.HasPrefix(results[1].Result.Output, "[SIM OUT] y=0\n"))
	assert.False(t, results[1].Cached)
}

func TestRunBatchCache(t *testing.T) {
	dir := t.TempDir()
	gate := writeSource(t, dir, "gate.v", andGate)

	r := newTestRunner(t)
	r.Config.Analysis.Cache.Enabled = boolPtr(true)

	first, err := r.RunBatch(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.False(t, first[0].Cached)
	assert.FileExists(t, filepath.Join(dir, config.DefaultConfig().Analysis.Cache.Dir, "index.json"))

	second, err := r.RunBatch(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.True(t, second[0].Cached)
	assert.Equal(t, first[0].Result.RunID, second[0].Result.RunID)
	assert.Equal(t, first[0].Result.VCD, second[0].Result.VCD)
	require.NotNil(t, second[0].Result.Trace)
	assert.Equal(t, first[0].Result.Trace.Names(), second[0].Result.Trace.Names())

	// a changed program misses
	writeSource(t, dir, filepath.Base(gate), "module t(output y); assign y = 1; endmodule")
	third, err := r.RunBatch(context.Background(), dir)
	require.NoError(t, err)
	assert.False(t, third[0].Cached)

	// so does a changed configuration
	r.Config.Simulation.Steps = 4
	fourth, err := r.RunBatch(context.Background(), dir)
	require.NoError(t, err)
	assert.False(t, fourth[0].Cached)
	assert.Equal(t, 5, fourth[0].Result.Stats.Steps)
}

func TestFacts(t *testing.T) {
	r := newTestRunner(t)

	tables, diags, err := r.Facts(context.Background(), Program{
		Design: "module t(input a, output y); assign y = a; initial $display(\"%d\", ghost); endmodule",
	})
	require.NoError(t, err)
	assert.Empty(t, diags)
	assert.Len(t, tables.Signals, 2)
	require.Len(t, tables.Assignments, 1)
	assert.Equal(t, "y", tables.Assignments[0].Target)
	require.Len(t, tables.Unresolved, 1)
	assert.Equal(t, "ghost", tables.Unresolved[0].Name)

	tables, diags, err = r.Facts(context.Background(), Program{Design: "module t(output y); assign y = 1;"})
	require.NoError(t, err)
	assert.Len(t, diags, 1)
	assert.Len(t, tables.Assignments, 1)
	assert.Empty(t, tables.Unresolved)
}
