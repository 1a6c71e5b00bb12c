// Package vcd writes and reads value change dump text, the waveform
// format consumed by waveform viewers.
//
// Only the subset needed for a flat, single-scope trace is supported. The
// encoder and decoder agree on that subset exactly, so decoding an encoded
// trace gives back every signal's transitions unchanged.
package vcd

import "fmt"

const (
	firstPrintable = '!'
	lastPrintable  = '~'
	printableCount = lastPrintable - firstPrintable + 1
)

// Config controls the header of an encoded dump.
type Config struct {
	Timescale string
	Scope     string
	IDBase    int
	VarType   string
}

// DefaultConfig returns a 1ns timescale, scope "top", wire variables and
// identifier codes starting at '!'.
func DefaultConfig() Config {
	return Config{
		Timescale: "1ns",
		Scope:     "top",
		IDBase:    firstPrintable,
		VarType:   "wire",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Timescale == "" {
		c.Timescale = def.Timescale
	}
	if c.Scope == "" {
		c.Scope = def.Scope
	}
	if c.IDBase < firstPrintable || c.IDBase > lastPrintable {
		c.IDBase = def.IDBase
	}
	if c.VarType == "" {
		c.VarType = def.VarType
	}
	return c
}

// IdentifierCode returns the code of the n-th signal when codes start at
// base. Codes are one character while they fit in the printable range and
// grow by one character each time the range is exhausted, so every n gets
// a distinct code.
func IdentifierCode(base, n int) string {
	k := n + base - firstPrintable
	var buf []byte
	for {
		buf = append(buf, byte(firstPrintable+k%printableCount))
		k /= printableCount
		if k == 0 {
			break
		}
		k--
	}
	return string(buf)
}

// SyntaxError is a malformed line in dump text.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("vcd: line %d: %s", e.Line, e.Msg)
}
