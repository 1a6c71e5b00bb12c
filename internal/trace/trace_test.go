package trace

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCompressesRepeats(t *testing.T) {
	var s Signal
	assert.True(t, s.Observe(0, "0"), "first value is always recorded")
	assert.False(t, s.Observe(10, "0"))
	assert.True(t, s.Observe(20, "1"))
	assert.False(t, s.Observe(30, "1"))
	assert.True(t, s.Observe(40, "0"))

	assert.Equal(t, []Transition{{0, "0"}, {20, "1"}, {40, "0"}}, s.Transitions)
}

func TestObserveSameTimeReplaces(t *testing.T) {
	var s Signal
	s.Observe(0, "0")
	s.Observe(0, "1")
	assert.Equal(t, []Transition{{0, "1"}}, s.Transitions)
}

func TestObserveSameTimeRevertDropsTransition(t *testing.T) {
	tests := []struct {
		name string
		obs  []Transition
		want []Transition
	}{
		{
			name: "glitch back to previous value",
			obs:  []Transition{{0, "0"}, {10, "1"}, {10, "0"}},
			want: []Transition{{0, "0"}},
		},
		{
			name: "glitch then later change",
			obs:  []Transition{{0, "0"}, {10, "1"}, {10, "0"}, {20, "1"}},
			want: []Transition{{0, "0"}, {20, "1"}},
		},
		{
			name: "same time to a third value",
			obs:  []Transition{{0, "0"}, {10, "1"}, {10, "2"}},
			want: []Transition{{0, "0"}, {10, "2"}},
		},
		{
			name: "first transition keeps its slot",
			obs:  []Transition{{0, "0"}, {0, "1"}, {0, "0"}},
			want: []Transition{{0, "0"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Signal
			for _, o := range tt.obs {
				s.Observe(o.Time, o.Value)
			}
			assert.Equal(t, tt.want, s.Transitions)
			for i := 1; i < len(s.Transitions); i++ {
				assert.NotEqual(t, s.Transitions[i-1].Value, s.Transitions[i].Value)
			}
		})
	}
}

func TestTraceOrderAndTimes(t *testing.T) {
	tr := New("clk", "q")
	tr.Lookup("q").Observe(10, "1")
	tr.Lookup("clk").Observe(0, "0")
	tr.Lookup("clk").Observe(10, "1")
	tr.Add("late")

	assert.Equal(t, []string{"clk", "q", "late"}, tr.Names())
	assert.Equal(t, []uint64{0, 10}, tr.Times())
	assert.Equal(t, 3, tr.TransitionCount())
	assert.Equal(t, uint64(10), tr.EndTime())
	assert.Nil(t, tr.Lookup("missing"))
}

func TestLookupAfterUnmarshal(t *testing.T) {
	var tr Trace
	require.NoError(t, json.Unmarshal([]byte(`{"signals":[{"signal":"a","transitions":[{"time":0,"value":"1"}]}]}`), &tr))
	s := tr.Lookup("a")
	require.NotNil(t, s)
	assert.Equal(t, "1", s.Transitions[0].Value)
}
