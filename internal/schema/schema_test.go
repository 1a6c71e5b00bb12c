package schema

import (
	"testing"

	"cuelang.org/go/cue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okResult() map[string]interface{} {
	return map[string]interface{}{
		"run_id":      "5b0c1c2e-4d6f-4b7a-9a53-1f2a3b4c5d6e",
		"success":     true,
		"output":      "[DYNAMIC SIM] Simulation finished.",
		"vcd":         "$timescale 1ns $end\n",
		"fingerprint": "0123456789abcdef",
		"stats": map[string]interface{}{
			"signals": 3, "steps": 21, "transitions": 3, "end_time": 0,
		},
	}
}

// TestResultContract exercises the contract the runner and the HTTP
// handler rely on.
func TestResultContract(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(m map[string]interface{})
		wantErr bool
	}{
		{name: "valid_success", mutate: func(map[string]interface{}) {}},
		{
			name: "valid_failure",
			mutate: func(m map[string]interface{}) {
				m["success"] = false
				m["vcd"] = ""
				m["output"] = "[COMPILE FAILED]\nLogic Error: ..."
				m["diagnostics"] = []interface{}{
					map[string]interface{}{"kind": "structural", "message": "Logic Error: ..."},
				}
			},
		},
		{
			name: "failure_with_waveform",
			mutate: func(m map[string]interface{}) {
				m["success"] = false
				m["output"] = "[COMPILE FAILED]\n"
			},
			wantErr: true,
		},
		{
			name:    "missing_run_id",
			mutate:  func(m map[string]interface{}) { delete(m, "run_id") },
			wantErr: true,
		},
		{
			name:    "unknown_field",
			mutate:  func(m map[string]interface{}) { m["extra"] = 1 },
			wantErr: true,
		},
		{
			name: "bad_diagnostic_kind",
			mutate: func(m map[string]interface{}) {
				m["diagnostics"] = []interface{}{
					map[string]interface{}{"kind": "warning", "message": "x"},
				}
			},
			wantErr: true,
		},
		{
			name: "negative_time",
			mutate: func(m map[string]interface{}) {
				m["stats"].(map[string]interface{})["end_time"] = -1
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := okResult()
			tt.mutate(m)
			err := v.ValidateResult(m)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRequestContracts(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	assert.NoError(t, v.ValidateJSON(Request, []byte(`{"code":"module m; endmodule","testbench":""}`)))
	assert.Error(t, v.ValidateJSON(Request, []byte(`{"testbench":""}`)))
	assert.Error(t, v.ValidateJSON(Request, []byte(`{"code":1}`)))

	assert.NoError(t, v.ValidateJSON(DaemonCommand, []byte(`{"kind":"ping"}`)))
	assert.NoError(t, v.ValidateJSON(DaemonCommand, []byte(`{"kind":"decode","vcd":"#0"}`)))
	assert.Error(t, v.ValidateJSON(DaemonCommand, []byte(`{"kind":"simulate"}`)))
	assert.Error(t, v.ValidateJSON(DaemonCommand, []byte(`{"kind":"compile","code":""}`)))

	assert.NoError(t, v.ValidateJSON(DaemonResponse, []byte(`{"kind":"pong","id":"1"}`)))
	assert.Error(t, v.ValidateJSON(DaemonResponse, []byte(`{"kind":"error"}`)))
}

func TestConfigContract(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	assert.NoError(t, v.ValidateJSON(Config, []byte(`{"simulation":{"steps":20,"step_duration":10,"fallback":"zero"},"vcd":{"timescale":"1ns","id_base":33}}`)))
	assert.Error(t, v.ValidateJSON(Config, []byte(`{"simulation":{"steps":0}}`)))
	assert.Error(t, v.ValidateJSON(Config, []byte(`{"vcd":{"id_base":200}}`)))
	assert.Error(t, v.ValidateJSON(Config, []byte(`{"vcd":{"timescale":"3 weeks"}}`)))
	assert.Error(t, v.ValidateJSON(Config, []byte(`{"simulation":{"fallback":"strict"}}`)))

	errs := v.ValidationErrors(Config, map[string]interface{}{"vcd": map[string]interface{}{"scope": "1bad"}})
	assert.NotEmpty(t, errs)
	assert.Nil(t, v.ValidationErrors(Config, map[string]interface{}{}))
}

func TestTraceContract(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	assert.NoError(t, v.ValidateJSON(Trace, []byte(`{"signals":[{"signal":"a","transitions":[{"time":0,"value":"1"}]}]}`)))
	assert.Error(t, v.ValidateJSON(Trace, []byte(`{"signals":[{"signal":"","transitions":[]}]}`)))
}

func TestTablesContract(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	empty := `{"signals":[],"assignments":[],"cases":[],"displays":[],"blocks":[],"unresolved":[]}`
	assert.NoError(t, v.ValidateJSON(Tables, []byte(empty)))
	assert.NoError(t, v.ValidateJSON(Tables, []byte(`{"signals":[{"name":"a","kind":"input","width":1,"line":1}],"assignments":[{"target":"y","expr":"a","kind":"continuous","line":2,"applied":true}],"cases":[],"displays":[{"format":"%d","args":["a"],"line":3}],"blocks":[{"kind":"clocked"}],"unresolved":[{"name":"ghost"}]}`)))
	assert.Error(t, v.ValidateJSON(Tables, []byte(`{"signals":[{"name":"a","kind":"port","width":1,"line":1}],"assignments":[],"cases":[],"displays":[],"blocks":[],"unresolved":[]}`)))
	assert.NoError(t, v.ValidateJSON(Delta, []byte(`{"added":`+empty+`,"removed":`+empty+`}`)))

	assert.NoError(t, v.ValidateJSON(DaemonCommand, []byte(`{"kind":"facts","code":"module m; endmodule"}`)))
	assert.Error(t, v.ValidateJSON(DaemonCommand, []byte(`{"kind":"facts"}`)))
}

func TestDefinitionsLoad(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	defs := []string{Result, Trace, Request, DecodeRequest, DaemonCommand, DaemonResponse, Config, Tables, Delta}
	for _, def := range defs {
		t.Run(def, func(t *testing.T) {
			assert.True(t, v.schema.LookupPath(cue.ParsePath(def)).Exists())
		})
	}

	_, err = v.unify("#Missing", []byte(`{}`))
	assert.ErrorContains(t, err, "not found")
}

// TestConditionalContracts covers the definitions whose constraints depend
// on a field value.
func TestConditionalContracts(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	tests := []struct {
		name    string
		def     string
		data    string
		wantErr bool
	}{
		{"result_success", Result, `{"run_id":"r","success":true,"output":"x","vcd":"$end","fingerprint":"0123456789abcdef","stats":{"signals":0,"steps":0,"transitions":0,"end_time":0}}`, false},
		{"result_failure", Result, `{"run_id":"r","success":false,"output":"[COMPILE FAILED]\nx","vcd":"","fingerprint":"0123456789abcdef","stats":{"signals":0,"steps":0,"transitions":0,"end_time":0}}`, false},
		{"result_failure_without_banner", Result, `{"run_id":"r","success":false,"output":"x","vcd":"","fingerprint":"0123456789abcdef","stats":{"signals":0,"steps":0,"transitions":0,"end_time":0}}`, true},
		{"command_ping", DaemonCommand, `{"kind":"ping"}`, false},
		{"command_simulate", DaemonCommand, `{"kind":"simulate","code":"module m; endmodule"}`, false},
		{"command_simulate_without_code", DaemonCommand, `{"kind":"simulate"}`, true},
		{"command_facts_without_code", DaemonCommand, `{"kind":"facts"}`, true},
		{"command_decode_without_vcd", DaemonCommand, `{"kind":"decode"}`, true},
		{"response_pong", DaemonResponse, `{"kind":"pong","id":"1"}`, false},
		{"response_error", DaemonResponse, `{"kind":"error","message":"boom"}`, false},
		{"response_error_without_message", DaemonResponse, `{"kind":"error"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateJSON(tt.def, []byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
