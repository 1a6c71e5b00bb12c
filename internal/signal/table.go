// Package signal holds the two-state signal table a simulation runs against.
package signal

// Table maps signal names to their current value. Names keep the order in
// which they were first declared so traces and dumps are deterministic.
type Table struct {
	names  []string
	values map[string]uint64
	traced map[string]bool
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		values: make(map[string]uint64),
		traced: make(map[string]bool),
	}
}

// Declare adds name with value 0 unless it already exists.
// Declared signals are the ones recorded in a trace.
func (t *Table) Declare(name string) bool {
	if t.traced[name] {
		return false
	}
	t.traced[name] = true
	t.names = append(t.names, name)
	if _, ok := t.values[name]; !ok {
		t.values[name] = 0
	}
	return true
}

// Value returns the current value of name and whether the table knows it.
func (t *Table) Value(name string) (uint64, bool) {
	v, ok := t.values[name]
	return v, ok
}

// Set writes v into name. Undeclared names are created but not traced.
func (t *Table) Set(name string, v uint64) {
	t.values[name] = v
}

// Has reports whether name holds a value.
func (t *Table) Has(name string) bool {
	_, ok := t.values[name]
	return ok
}

// Declared reports whether name was declared (and therefore traced).
func (t *Table) Declared(name string) bool {
	return t.traced[name]
}

// Names returns declared signal names in declaration order.
func (t *Table) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Len returns the number of declared signals.
func (t *Table) Len() int { return len(t.names) }

// Snapshot copies every value, declared or not.
func (t *Table) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, len(t.values))
	for k, v := range t.values {
		out[k] = v
	}
	return out
}
