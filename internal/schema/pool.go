package schema

import "sync"

// Pool hands out Validators to concurrent callers. A Validator taken with
// Get belongs to the caller until it is returned with Put. The zero Pool is
// ready to use.
type Pool struct {
	pool sync.Pool
}

// Get returns a pooled Validator or compiles a new one.
func (p *Pool) Get() (*Validator, error) {
	if v, ok := p.pool.Get().(*Validator); ok {
		return v, nil
	}
	return New()
}

// Put returns v to the pool.
func (p *Pool) Put(v *Validator) {
	if v != nil {
		p.pool.Put(v)
	}
}
