package flow

import (
	"fmt"
	"math"
)

// Entry is one variable in the store.
type Entry struct {
	Value Value `json:"value"`
	Scope Scope `json:"scope"`
}

// Variables is the per-session variable and weight store. Absent variables
// read as the number 0 and are created local on first write.
type Variables map[string]Entry

// Get returns the value of name, or the number 0 if it is unset.
func (v Variables) Get(name string) Value {
	if e, ok := v[name]; ok {
		return e.Value
	}
	return Number(0)
}

// Lookup returns the value of name and whether it is set.
func (v Variables) Lookup(name string) (Value, bool) {
	e, ok := v[name]
	return e.Value, ok
}

// Set assigns val to name. The type of an existing variable cannot change.
func (v Variables) Set(name string, val Value) error {
	e, ok := v[name]
	if !ok {
		v[name] = Entry{Value: val, Scope: ScopeLocal}
		return nil
	}
	if e.Value.IsNumber() != val.IsNumber() {
		return fmt.Errorf("%w: cannot assign %s to %s variable %q",
			ErrTypeMismatch, typeName(val), typeName(e.Value), name)
	}
	e.Value = val
	v[name] = e
	return nil
}

// Increment adds delta to the numeric variable name.
func (v Variables) Increment(name string, delta float64) error {
	e, ok := v[name]
	if !ok {
		if !finite(delta) {
			return fmt.Errorf("%w: %q set to %v", ErrNotFinite, name, delta)
		}
		v[name] = Entry{Value: Number(delta), Scope: ScopeLocal}
		return nil
	}
	if !e.Value.IsNumber() {
		return fmt.Errorf("%w: arithmetic on string variable %q", ErrTypeMismatch, name)
	}
	sum := e.Value.Num + delta
	if !finite(sum) {
		return fmt.Errorf("%w: %q + %v gives %v", ErrNotFinite, name, delta, sum)
	}
	e.Value = Number(sum)
	v[name] = e
	return nil
}

// Clone returns an independent copy.
func (v Variables) Clone() Variables {
	out := make(Variables, len(v))
	for k, e := range v {
		out[k] = e
	}
	return out
}

// Globals returns the global-scoped entries, the ones carried across a
// redirect.
func (v Variables) Globals() Variables {
	out := make(Variables)
	for k, e := range v {
		if e.Scope == ScopeGlobal {
			out[k] = e
		}
	}
	return out
}

// Merge copies every entry of other into v. If an entry would change the
// type of an existing variable nothing is copied and ErrTypeMismatch is
// returned.
func (v Variables) Merge(other Variables) error {
	for k, e := range other {
		if cur, ok := v[k]; ok && cur.Value.IsNumber() != e.Value.IsNumber() {
			return fmt.Errorf("%w: cannot carry %s into %s variable %q",
				ErrTypeMismatch, typeName(e.Value), typeName(cur.Value), k)
		}
	}
	for k, e := range other {
		v[k] = e
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}

func typeName(v Value) string {
	if v.IsNumber() {
		return string(TypeNumber)
	}
	return string(TypeString)
}
