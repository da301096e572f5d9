package vvector_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/data-squirrel/internal/vvector"
)

func TestGetSetDefaults(t *testing.T) {
	v := vvector.New()
	assert.Equal(t, int64(0), v.Get("peer-a"))

	v.Set("peer-a", 5)
	assert.Equal(t, int64(5), v.Get("peer-a"))

	v.Set("peer-a", 0)
	assert.Equal(t, int64(0), v.Get("peer-a"))
	assert.True(t, v.IsEmpty())
}

func TestEqualZeroDefault(t *testing.T) {
	a := vvector.New()
	a.Set("peer-a", 0)

	b := vvector.New()

	assert.True(t, a.Equal(b), "explicit zero entry must equal a missing entry")
}

func TestLessEqAndPartialCmp(t *testing.T) {
	a := vvector.FromMap(map[string]int64{"x": 1, "y": 2})
	b := vvector.FromMap(map[string]int64{"x": 2, "y": 2})

	assert.True(t, a.LessEq(b))
	assert.False(t, b.LessEq(a))
	assert.Equal(t, vvector.Less, a.PartialCmp(b))
	assert.Equal(t, vvector.Greater, b.PartialCmp(a))
	assert.Equal(t, vvector.Equal, a.PartialCmp(a))
}

func TestPartialCmpIncomparable(t *testing.T) {
	a := vvector.FromMap(map[string]int64{"x": 2, "y": 1})
	b := vvector.FromMap(map[string]int64{"x": 1, "y": 2})

	assert.Equal(t, vvector.None, a.PartialCmp(b))
	assert.False(t, a.LessEq(b))
	assert.False(t, b.LessEq(a))
}

func TestMaxInPlace(t *testing.T) {
	a := vvector.FromMap(map[string]int64{"x": 1, "y": 5})
	b := vvector.FromMap(map[string]int64{"x": 3, "z": 2})

	a.Max(b)

	assert.Equal(t, int64(3), a.Get("x"))
	assert.Equal(t, int64(5), a.Get("y"))
	assert.Equal(t, int64(2), a.Get("z"))
}

func TestMergedDoesNotMutateInputs(t *testing.T) {
	a := vvector.FromMap(map[string]int64{"x": 1})
	b := vvector.FromMap(map[string]int64{"x": 9})

	merged := vvector.Merged(a, b)

	assert.Equal(t, int64(1), a.Get("x"))
	assert.Equal(t, int64(9), b.Get("x"))
	assert.Equal(t, int64(9), merged.Get("x"))
}

func TestBumpMonotonic(t *testing.T) {
	v := vvector.New()

	require.Equal(t, int64(1), v.Bump("local", 1))
	require.Equal(t, int64(2), v.Bump("local", 1))
	assert.Equal(t, int64(2), v.Get("local"))
}

func TestClonesAreIndependent(t *testing.T) {
	a := vvector.FromMap(map[string]int64{"x": 1})
	clone := a.Clone()
	clone.Set("x", 99)

	assert.Equal(t, int64(1), a.Get("x"))
	assert.Equal(t, int64(99), clone.Get("x"))
}

func TestPeersSortedAndZeroExcluded(t *testing.T) {
	v := vvector.New()
	v.Set("zulu", 1)
	v.Set("alpha", 2)
	v.Set("mike", 0)

	assert.Equal(t, []string{"alpha", "zulu"}, v.Peers())
}
