package vcd

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-at-pretension-io/hdlsim/internal/trace"
)

func sampleTrace() *trace.Trace {
	tr := trace.New("clk", "data", "y")
	clk := tr.Lookup("clk")
	for i := uint64(0); i <= 4; i++ {
		clk.Observe(i*10, []string{"0", "1"}[i%2])
	}
	data := tr.Lookup("data")
	data.Observe(0, "0")
	data.Observe(10, "1010")
	data.Observe(30, "11111111")
	tr.Lookup("y").Observe(20, "1")
	return tr
}

func TestEncode(t *testing.T) {
	got := EncodeString(sampleTrace(), DefaultConfig())

	want := `$timescale 1ns $end
$scope module top $end
$var wire 1 ! clk $end
$var wire 8 " data $end
$var wire 1 # y $end
$upscope $end
$enddefinitions $end
$dumpvars
0!
0"
1#
$end
#0
0!
0"
#10
1!
b1010 "
#20
0!
1#
#30
1!
b11111111 "
#40
0!
`
	assert.Equal(t, want, got)
}

func TestEncodeConfig(t *testing.T) {
	tr := trace.New("a")
	tr.Lookup("a").Observe(0, "1")

	got := EncodeString(tr, Config{Timescale: "10ps", Scope: "dut", IDBase: 'A', VarType: "reg"})
	assert.Contains(t, got, "$timescale 10ps $end\n")
	assert.Contains(t, got, "$scope module dut $end\n")
	assert.Contains(t, got, "$var reg 1 A a $end\n")
	assert.Contains(t, got, "#0\n1A\n")
}

func TestEncodeCollidingSingleCharacters(t *testing.T) {
	tr := trace.New("s")
	s := tr.Lookup("s")
	s.Observe(0, "b")
	s.Observe(10, "#")
	s.Observe(20, "x")

	got := EncodeString(tr, DefaultConfig())
	assert.Contains(t, got, "#0\nbb !\n")
	assert.Contains(t, got, "#10\nb# !\n")
	assert.Contains(t, got, "#20\nx!\n")
}

func TestIdentifierCode(t *testing.T) {
	assert.Equal(t, "!", IdentifierCode(33, 0))
	assert.Equal(t, "~", IdentifierCode(33, 93))
	assert.Equal(t, "!!", IdentifierCode(33, 94))
	assert.Equal(t, "\"!", IdentifierCode(33, 95))
	assert.Equal(t, "A", IdentifierCode('A', 0))

	seen := make(map[string]bool)
	for n := 0; n < 20000; n++ {
		code := IdentifierCode(33, n)
		require.False(t, seen[code], "duplicate code %q for %d", code, n)
		seen[code] = true
		for _, c := range code {
			require.True(t, c >= '!' && c <= '~', "non-printable code %q", code)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	traces := map[string]*trace.Trace{
		"sample": sampleTrace(),
		"late_first_value": func() *trace.Trace {
			tr := trace.New("q")
			tr.Lookup("q").Observe(50, "1")
			return tr
		}(),
		"many_signals": func() *trace.Trace {
			tr := trace.New()
			for i := 0; i < 300; i++ {
				s := tr.Add("s" + strings.Repeat("x", i%7) + string(rune('a'+i%26)) + string(rune('a'+i/26)))
				s.Observe(uint64(i), "1")
				s.Observe(uint64(i+5), "0")
			}
			return tr
		}(),
		"odd_values": func() *trace.Trace {
			tr := trace.New("v")
			v := tr.Lookup("v")
			v.Observe(0, "B")
			v.Observe(1, "$")
			v.Observe(2, "z")
			v.Observe(3, "")
			v.Observe(4, "10")
			return tr
		}(),
	}

	for name, tr := range traces {
		t.Run(name, func(t *testing.T) {
			got, err := DecodeString(EncodeString(tr, DefaultConfig()))
			require.NoError(t, err)
			require.Equal(t, tr.Names(), got.Names())
			for _, s := range tr.Signals {
				assert.Equal(t, s.Transitions, got.Lookup(s.Name).Transitions, s.Name)
			}
		})
	}
}

func TestRoundTripSignalWithoutTransitions(t *testing.T) {
	tr := trace.New("idle", "busy")
	tr.Lookup("busy").Observe(0, "1")

	text := EncodeString(tr, DefaultConfig())
	assert.Contains(t, text, "$var wire 1 ! idle $end")

	got, err := DecodeString(text)
	require.NoError(t, err)
	assert.Empty(t, got.Lookup("idle").Transitions)
	assert.Equal(t, []trace.Transition{{Time: 0, Value: "1"}}, got.Lookup("busy").Transitions)
}

func TestDecode(t *testing.T) {
	text := `$date today $end
$comment
  written by hand
$end
$timescale
  1ns
$end
$scope module top $end
$var wire 4 % bus [3:0] $end
$var reg 1 & q $end
$upscope $end
$enddefinitions $end
$dumpvars
b0000 %
x&
$end
#5
b0101 %
1?
#15
0&
`
	tr, err := DecodeString(text)
	require.NoError(t, err)

	assert.Equal(t, []string{"bus[3:0]", "q"}, tr.Names())
	assert.Equal(t, []trace.Transition{{Time: 0, Value: "0000"}, {Time: 5, Value: "0101"}},
		tr.Lookup("bus[3:0]").Transitions)
	assert.Equal(t, []trace.Transition{{Time: 0, Value: "x"}, {Time: 15, Value: "0"}},
		tr.Lookup("q").Transitions)
}

func TestDecodeSnapshotOnly(t *testing.T) {
	tr, err := DecodeString("$var wire 1 ! a $end\n$enddefinitions $end\n$dumpvars\n1!\n$end\n")
	require.NoError(t, err)
	assert.Equal(t, []trace.Transition{{Time: 0, Value: "1"}}, tr.Lookup("a").Transitions)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		line int
	}{
		{"bad_timestamp", "$enddefinitions $end\n#1x\n", 2},
		{"negative_timestamp", "$enddefinitions $end\n#0\n#-5\n", 3},
		{"short_declaration", "$var wire 1 ! $end\n", 1},
		{"vector_without_code", "$var wire 2 ! a $end\n$enddefinitions $end\n#0\nb10\n", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeString(tt.text)
			var syntaxErr *SyntaxError
			require.True(t, errors.As(err, &syntaxErr), "got %v", err)
			assert.Equal(t, tt.line, syntaxErr.Line)
		})
	}
}
