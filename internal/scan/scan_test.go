package scan_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/data-squirrel/internal/fsinteraction"
	"github.com/tonimelisma/data-squirrel/internal/metadatadb"
	"github.com/tonimelisma/data-squirrel/internal/relpath"
	"github.com/tonimelisma/data-squirrel/internal/scan"
	"github.com/tonimelisma/data-squirrel/internal/vfs"
)

func newTestStore(t *testing.T) (*vfs.MemFS, *fsinteraction.FSInteraction, *metadatadb.MetadataDB) {
	t.Helper()

	ctx := context.Background()

	mem := vfs.NewMemFS()
	locker := fsinteraction.NewMemLocker(t.Name())
	fi := fsinteraction.New(mem, locker, t.Name(), nil)

	require.NoError(t, fi.Create(ctx, "test-owner"))
	t.Cleanup(func() { _ = fi.Close() })

	db, err := metadatadb.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dataSetID, err := db.CreateDataSet(ctx, "set", "Set")
	require.NoError(t, err)

	_, err = db.CreateLocalStore(ctx, dataSetID, "local", "Local", t.Name(), "", time.Now())
	require.NoError(t, err)

	return mem, fi, db
}

func writeFile(t *testing.T, mem *vfs.MemFS, p string, content string) {
	t.Helper()

	w, err := mem.CreateFile(context.Background(), relpath.MustFromPath(p))
	require.NoError(t, err)

	_, err = io.WriteString(w, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestPerformFullScanIndexesNewTree(t *testing.T) {
	mem, fi, db := newTestStore(t)

	require.NoError(t, mem.CreateDir(context.Background(), relpath.MustFromPath("docs"), false))
	writeFile(t, mem, "docs/readme.txt", "hello")
	writeFile(t, mem, "top.txt", "world")

	scanner := scan.New(fi, db, false, nil)

	result, err := scanner.PerformFullScan(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, result.Indexed, "docs folder, docs/readme.txt, top.txt")
	require.Equal(t, 3, result.Changed)
	require.Equal(t, 3, result.New)
	require.Equal(t, 0, result.Deleted)
	require.Empty(t, result.Issues)
}

func TestPerformFullScanIsIdempotent(t *testing.T) {
	mem, fi, db := newTestStore(t)

	writeFile(t, mem, "a.txt", "content")

	scanner := scan.New(fi, db, false, nil)
	ctx := context.Background()

	_, err := scanner.PerformFullScan(ctx)
	require.NoError(t, err)

	result, err := scanner.PerformFullScan(ctx)
	require.NoError(t, err)

	require.Equal(t, 1, result.Indexed)
	require.Equal(t, 0, result.Changed, "a second scan over an unchanged tree must be a no-op")
}

func TestPerformFullScanTombstonesRemovedFile(t *testing.T) {
	mem, fi, db := newTestStore(t)
	ctx := context.Background()

	writeFile(t, mem, "gone.txt", "bye")

	scanner := scan.New(fi, db, false, nil)

	_, err := scanner.PerformFullScan(ctx)
	require.NoError(t, err)

	require.NoError(t, mem.RemoveFile(ctx, relpath.MustFromPath("gone.txt")))

	result, err := scanner.PerformFullScan(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Deleted)

	item, err := db.LookupLocalItem(ctx, relpath.MustFromPath("gone.txt"))
	require.NoError(t, err)
	require.NotNil(t, item)
	require.Equal(t, metadatadb.KindDeletion, item.Kind)
}

func TestPerformFullScanTombstonesCascadeThroughDeletedFolder(t *testing.T) {
	mem, fi, db := newTestStore(t)
	ctx := context.Background()

	writeFile(t, mem, "file-1", "a")
	require.NoError(t, mem.CreateDir(ctx, relpath.MustFromPath("sub-1"), false))
	writeFile(t, mem, "sub-1/file-1", "b")
	require.NoError(t, mem.CreateDir(ctx, relpath.MustFromPath("sub-1/sub-1-1"), false))

	scanner := scan.New(fi, db, false, nil)

	_, err := scanner.PerformFullScan(ctx)
	require.NoError(t, err)

	require.NoError(t, mem.RemoveFile(ctx, relpath.MustFromPath("file-1")))
	require.NoError(t, mem.RemoveDirRecursive(ctx, relpath.MustFromPath("sub-1")))

	result, err := scanner.PerformFullScan(ctx)
	require.NoError(t, err)

	// file-1, sub-1/file-1, sub-1/sub-1-1, sub-1 — the cascade inside
	// sub-1 must be counted, not just the one direct child of root.
	require.Equal(t, 4, result.Deleted)

	for _, p := range []string{"file-1", "sub-1", "sub-1/file-1", "sub-1/sub-1-1"} {
		item, err := db.LookupLocalItem(ctx, relpath.MustFromPath(p))
		require.NoError(t, err)
		require.NotNil(t, item, p)
		require.Equal(t, metadatadb.KindDeletion, item.Kind, p)
	}
}
