package flow

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariables_GetAndLookup(t *testing.T) {
	vars := Variables{"name": {Value: String("ana"), Scope: ScopeGlobal}}

	assert.Equal(t, String("ana"), vars.Get("name"))
	assert.Equal(t, Number(0), vars.Get("missing"))

	_, ok := vars.Lookup("missing")
	assert.False(t, ok)
	v, ok := vars.Lookup("name")
	assert.True(t, ok)
	assert.Equal(t, "ana", v.String())
}

func TestVariables_Set(t *testing.T) {
	vars := Variables{"tier": {Value: String("free"), Scope: ScopeGlobal}}

	require.NoError(t, vars.Set("tier", String("gold")))
	assert.Equal(t, Entry{Value: String("gold"), Scope: ScopeGlobal}, vars["tier"], "scope is kept")

	assert.ErrorIs(t, vars.Set("tier", Number(1)), ErrTypeMismatch)
	assert.Equal(t, String("gold"), vars.Get("tier"))

	require.NoError(t, vars.Set("fresh", Number(2)))
	assert.Equal(t, ScopeLocal, vars["fresh"].Scope)
}

func TestVariables_Increment(t *testing.T) {
	vars := Variables{}
	require.NoError(t, vars.Increment("score", 2.5))
	require.NoError(t, vars.Increment("score", -1))
	assert.Equal(t, Number(1.5), vars.Get("score"))

	vars["name"] = Entry{Value: String("x"), Scope: ScopeLocal}
	assert.ErrorIs(t, vars.Increment("name", 1), ErrTypeMismatch)

	require.NoError(t, vars.Increment("big", math.MaxFloat64))
	assert.ErrorIs(t, vars.Increment("big", math.MaxFloat64), ErrNotFinite)
	assert.Equal(t, Number(math.MaxFloat64), vars.Get("big"), "rejected increments change nothing")
	assert.ErrorIs(t, vars.Increment("nan", math.NaN()), ErrNotFinite)
}

func TestVariables_CloneGlobalsMerge(t *testing.T) {
	vars := Variables{
		"score": {Value: Number(3), Scope: ScopeLocal},
		"tier":  {Value: String("gold"), Scope: ScopeGlobal},
	}

	c := vars.Clone()
	require.NoError(t, c.Increment("score", 1))
	assert.Equal(t, Number(3), vars.Get("score"))

	g := vars.Globals()
	assert.Len(t, g, 1)
	assert.Contains(t, g, "tier")

	next := Variables{"tier": {Value: String("free"), Scope: ScopeGlobal}, "other": {Value: Number(1)}}
	require.NoError(t, next.Merge(g))
	assert.Equal(t, String("gold"), next.Get("tier"))
	assert.Equal(t, Number(1), next.Get("other"))

	numeric := Variables{"tier": {Value: Number(2), Scope: ScopeGlobal}, "other": {Value: Number(1)}}
	err := numeric.Merge(Variables{"other": {Value: Number(5)}, "tier": {Value: String("gold")}})
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.Equal(t, Number(2), numeric.Get("tier"))
	assert.Equal(t, Number(1), numeric.Get("other"), "nothing is copied on a mismatch")
}

func TestValue_String(t *testing.T) {
	assert.Equal(t, "10", Number(10).String())
	assert.Equal(t, "0.25", Number(0.25).String())
	assert.Equal(t, "hi", String("hi").String())
	assert.Equal(t, "0", Value{}.String())
	assert.True(t, Value{}.IsNumber())
}
