// Package trace holds the compressed signal history produced by a
// simulation run and consumed by the waveform codec.
package trace

import "sort"

// Transition is a value a signal takes at a point in simulation time.
type Transition struct {
	Time  uint64 `json:"time"`
	Value string `json:"value"`
}

// Signal is the ordered transition history of one signal.
type Signal struct {
	Name        string       `json:"signal"`
	Transitions []Transition `json:"transitions"`
}

// Observe records v at time t if it differs from the last recorded value,
// or if nothing has been recorded yet. Observations must arrive in
// increasing time order; an observation at the same time as the last
// transition replaces its value instead, and drops that transition when the
// value returns to the one before it. It reports whether the recorded
// transitions changed.
func (s *Signal) Observe(t uint64, v string) bool {
	n := len(s.Transitions)
	if n > 0 {
		last := &s.Transitions[n-1]
		if last.Value == v {
			return false
		}
		if last.Time >= t {
			if n > 1 && s.Transitions[n-2].Value == v {
				s.Transitions = s.Transitions[:n-1]
			} else {
				last.Value = v
			}
			return true
		}
	}
	s.Transitions = append(s.Transitions, Transition{Time: t, Value: v})
	return true
}

// Last returns the most recent transition.
func (s *Signal) Last() (Transition, bool) {
	if len(s.Transitions) == 0 {
		return Transition{}, false
	}
	return s.Transitions[len(s.Transitions)-1], true
}

// Trace maps signal names to their histories, in table order.
type Trace struct {
	Signals []*Signal `json:"signals"`
	index   map[string]int
}

// New returns a trace with an empty history for each name.
func New(names ...string) *Trace {
	tr := &Trace{}
	for _, n := range names {
		tr.Add(n)
	}
	return tr
}

// Add returns the history for name, creating it at the end if needed.
func (tr *Trace) Add(name string) *Signal {
	if s := tr.Lookup(name); s != nil {
		return s
	}
	if tr.index == nil {
		tr.index = make(map[string]int)
	}
	s := &Signal{Name: name, Transitions: []Transition{}}
	tr.index[name] = len(tr.Signals)
	tr.Signals = append(tr.Signals, s)
	return s
}

// Lookup returns the history for name, or nil.
func (tr *Trace) Lookup(name string) *Signal {
	if tr == nil {
		return nil
	}
	if tr.index == nil || len(tr.index) != len(tr.Signals) {
		tr.reindex()
	}
	i, ok := tr.index[name]
	if !ok {
		return nil
	}
	return tr.Signals[i]
}

func (tr *Trace) reindex() {
	tr.index = make(map[string]int, len(tr.Signals))
	for i, s := range tr.Signals {
		tr.index[s.Name] = i
	}
}

// Names returns signal names in order.
func (tr *Trace) Names() []string {
	out := make([]string, 0, len(tr.Signals))
	for _, s := range tr.Signals {
		out = append(out, s.Name)
	}
	return out
}

// Times returns every distinct transition time across all signals, sorted.
func (tr *Trace) Times() []uint64 {
	seen := make(map[uint64]bool)
	var out []uint64
	for _, s := range tr.Signals {
		for _, t := range s.Transitions {
			if !seen[t.Time] {
				seen[t.Time] = true
				out = append(out, t.Time)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TransitionCount returns the number of transitions across all signals.
func (tr *Trace) TransitionCount() int {
	n := 0
	for _, s := range tr.Signals {
		n += len(s.Transitions)
	}
	return n
}

// EndTime returns the largest recorded transition time.
func (tr *Trace) EndTime() uint64 {
	var end uint64
	for _, s := range tr.Signals {
		if last, ok := s.Last(); ok && last.Time > end {
			end = last.Time
		}
	}
	return end
}
