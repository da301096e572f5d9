package relpath_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/data-squirrel/internal/relpath"
)

func TestFromPathDropsEmptyComponents(t *testing.T) {
	rp, err := relpath.FromPath("/sub-1//file-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-1", "file-1"}, rp.Components())
}

func TestRootIsEmpty(t *testing.T) {
	assert.True(t, relpath.Root().IsRoot())
	assert.Equal(t, "", relpath.Root().String())
}

func TestJoinAndParent(t *testing.T) {
	base := relpath.MustFromPath("sub-1")
	child := base.Join("file-1")

	assert.Equal(t, "sub-1/file-1", child.String())
	assert.True(t, child.Parent().Equal(base))
	assert.Equal(t, "file-1", child.Name())
}

func TestCaseInsensitiveComparisonPreservesDisplay(t *testing.T) {
	a := relpath.MustFromPath("Sub-1/FILE-1")
	b := relpath.MustFromPath("sub-1/file-1")

	assert.True(t, a.EqualFold(b))
	assert.False(t, a.Equal(b))
	assert.Equal(t, "sub-1/file-1", a.LowerCase())
	assert.Equal(t, "Sub-1/FILE-1", a.String())
}

func TestNonUTF8Rejected(t *testing.T) {
	invalid := string([]byte{0xff, 0xfe})

	_, err := relpath.FromPath(invalid)
	require.Error(t, err)
}

func TestNFCNormalization(t *testing.T) {
	// "e" + combining acute accent (NFD) vs precomposed "é" (NFC).
	nfd := "é"
	nfc := "é"

	a := relpath.MustFromPath(nfd)
	b := relpath.MustFromPath(nfc)

	assert.True(t, a.Equal(b), "NFC normalization should make NFD and NFC forms identical")
}
