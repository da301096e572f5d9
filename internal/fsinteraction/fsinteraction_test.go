package fsinteraction_test

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/data-squirrel/internal/fsinteraction"
	"github.com/tonimelisma/data-squirrel/internal/relpath"
	"github.com/tonimelisma/data-squirrel/internal/vfs"
)

func newTestStore(t *testing.T) (*vfs.MemFS, *fsinteraction.FSInteraction) {
	t.Helper()

	mem := vfs.NewMemFS()
	locker := fsinteraction.NewMemLocker(t.Name())
	fi := fsinteraction.New(mem, locker, t.Name(), nil)

	require.NoError(t, fi.Create(context.Background(), "test-owner"))
	t.Cleanup(func() { _ = fi.Close() })

	return mem, fi
}

func TestCreateFailsIfMetadataDirExists(t *testing.T) {
	mem := vfs.NewMemFS()
	locker := fsinteraction.NewMemLocker(t.Name())
	fi := fsinteraction.New(mem, locker, t.Name(), nil)

	require.NoError(t, fi.Create(context.Background(), ""))
	require.NoError(t, fi.Close())

	fi2 := fsinteraction.New(mem, fsinteraction.NewMemLocker(t.Name()+"-2"), t.Name(), nil)
	err := fi2.Create(context.Background(), "")
	require.ErrorIs(t, err, fsinteraction.ErrMetadataDirAlreadyExists)
}

func TestOpenFailsIfMetadataDirMissing(t *testing.T) {
	mem := vfs.NewMemFS()
	fi := fsinteraction.New(mem, fsinteraction.NewMemLocker(t.Name()), t.Name(), nil)

	err := fi.Open(context.Background(), "")
	require.ErrorIs(t, err, fsinteraction.ErrMetadataDirNotOpened)
}

func TestLockIsExclusive(t *testing.T) {
	mem := vfs.NewMemFS()
	key := t.Name()

	fi1 := fsinteraction.New(mem, fsinteraction.NewMemLocker(key), t.Name(), nil)
	require.NoError(t, fi1.Create(context.Background(), ""))

	fi2 := fsinteraction.New(mem, fsinteraction.NewMemLocker(key), t.Name(), nil)
	err := fi2.Open(context.Background(), "")
	require.ErrorIs(t, err, fsinteraction.ErrAlreadyLocked)

	require.NoError(t, fi1.Close())

	fi3 := fsinteraction.New(mem, fsinteraction.NewMemLocker(key), t.Name(), nil)
	require.NoError(t, fi3.Open(context.Background(), ""))
	require.NoError(t, fi3.Close())
}

func TestIndexDirectoryFiltersMetadataDir(t *testing.T) {
	ctx := context.Background()
	mem, fi := newTestStore(t)

	_, err := mem.CreateFile(ctx, relpath.MustFromPath("file-1"))
	require.NoError(t, err)
	_, err = mem.CreateFile(ctx, relpath.MustFromPath("FILE-1-dup"))
	require.NoError(t, err)

	entries, err := fi.IndexDirectory(ctx, relpath.Root())
	require.NoError(t, err)

	for _, e := range entries {
		assert.NotEqual(t, fsinteraction.MetadataDirName, e.RelPath.Name())
	}
}

func TestHashRoundTrip(t *testing.T) {
	ctx := context.Background()
	mem, fi := newTestStore(t)

	p := relpath.MustFromPath("file-1")
	w, err := mem.CreateFile(ctx, p)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	h1, err := fi.Hash(ctx, p)
	require.NoError(t, err)
	h2, err := fi.Hash(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64) // hex-encoded SHA-256
}

func TestStageAndCommitReplacesExistingFile(t *testing.T) {
	ctx := context.Background()
	mem, fi := newTestStore(t)

	p := relpath.MustFromPath("doc.txt")
	w, err := mem.CreateFile(ctx, p)
	require.NoError(t, err)
	_, err = w.Write([]byte("old content"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	modTime := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, fi.StageAndCommit(ctx, p, strings.NewReader("new content"), modTime, false))

	r, err := mem.ReadFile(ctx, p)
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "new content", string(got))

	md, err := mem.Metadata(ctx, p)
	require.NoError(t, err)
	assert.True(t, modTime.Equal(md.ModTime))
}
