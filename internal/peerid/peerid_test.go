package peerid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewProducesDistinctIDsForSamePrefix(t *testing.T) {
	a := New("laptop")
	b := New("laptop")

	assert.NotEqual(t, a.String(), b.String())
	assert.Contains(t, a.String(), "laptop-")
}

func TestSanitizeStripsUnsafeCharacters(t *testing.T) {
	id := New("My Laptop!!")
	assert.Contains(t, id.String(), "my-laptop-")
}

func TestZeroValueIsZero(t *testing.T) {
	var id ID
	assert.True(t, id.IsZero())
}

func TestTranslatorRoundTrip(t *testing.T) {
	shared := New("shared-peer")

	local := []StoreDescriptor{
		{LocalID: 1, GlobalName: New("me")},
		{LocalID: 2, GlobalName: shared},
	}
	remote := []StoreDescriptor{
		{LocalID: 100, GlobalName: New("them")},
		{LocalID: 200, GlobalName: shared},
	}

	tr := NewTranslator(local, remote)

	localID, err := tr.ToLocal(200)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), localID)

	remoteID, err := tr.ToRemote(2)
	assert.NoError(t, err)
	assert.Equal(t, int64(200), remoteID)

	_, err = tr.ToLocal(100)
	assert.Error(t, err, "peer 100 is unknown locally, not shared")
}
