package runner

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"
)

type timingEvent struct {
	RunID      string  `json:"run_id,omitempty"`
	Phase      string  `json:"phase"`
	Kind       string  `json:"kind"`
	File       string  `json:"file,omitempty"`
	Status     string  `json:"status,omitempty"`
	StartMS    float64 `json:"start_ms"`
	DurationMS float64 `json:"duration_ms"`
	EndMS      float64 `json:"end_ms"`
}

type timingRecorder struct {
	enabled bool
	start   time.Time
	mu      sync.Mutex
	events  []timingEvent
	file    *os.File
	enc     *json.Encoder
	err     error
}

func newTimingRecorder(start time.Time, path string) *timingRecorder {
	tr := &timingRecorder{start: start}
	if path == "" {
		return tr
	}
	f, err := os.Create(path)
	if err != nil {
		tr.err = err
		return tr
	}
	tr.enabled = true
	tr.file = f
	tr.enc = json.NewEncoder(f)
	return tr
}

func (tr *timingRecorder) Enabled() bool {
	return tr != nil && tr.enabled
}

func (tr *timingRecorder) Err() error {
	if tr == nil {
		return nil
	}
	return tr.err
}

func (tr *timingRecorder) Close() {
	if tr == nil || tr.file == nil {
		return
	}
	_ = tr.file.Close()
}

func (tr *timingRecorder) record(runID, phase, kind, file, status string, start time.Time, duration time.Duration) {
	if tr == nil || !tr.enabled {
		return
	}
	startMS := durationToMS(start.Sub(tr.start))
	durationMS := durationToMS(duration)
	event := timingEvent{
		RunID:      runID,
		Phase:      phase,
		Kind:       kind,
		File:       file,
		Status:     status,
		StartMS:    startMS,
		DurationMS: durationMS,
		EndMS:      startMS + durationMS,
	}
	tr.mu.Lock()
	tr.events = append(tr.events, event)
	if tr.enc != nil {
		_ = tr.enc.Encode(event)
	}
	tr.mu.Unlock()
}

// RecordPhase records one phase of a single run.
func (tr *timingRecorder) RecordPhase(runID, phase, file, status string, start time.Time, duration time.Duration) {
	tr.record(runID, phase, "phase", file, status, start, duration)
}

// RecordStage records a stage that spans several runs, such as a batch scan.
func (tr *timingRecorder) RecordStage(phase string, start time.Time, duration time.Duration, status string) {
	tr.record("", phase, "stage", "", status, start, duration)
}

func durationToMS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000_000.0
}

// resolveTimingPath picks the JSONL timing file. HDLSIM_TIMING_JSONL wins,
// then the runner's own settings, then HDLSIM_TIMING.
func (r *Runner) resolveTimingPath() string {
	if r == nil {
		return ""
	}
	if envPath := os.Getenv("HDLSIM_TIMING_JSONL"); envPath != "" {
		return envPath
	}
	if r.Timing || envBool("HDLSIM_TIMING") {
		if r.TimingPath != "" {
			return r.TimingPath
		}
		return "timing.jsonl"
	}
	return ""
}

func envBool(key string) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return val == "1" || val == "true" || val == "yes" || val == "on"
}
