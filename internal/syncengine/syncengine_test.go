package syncengine_test

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/data-squirrel/internal/fsinteraction"
	"github.com/tonimelisma/data-squirrel/internal/metadatadb"
	"github.com/tonimelisma/data-squirrel/internal/relpath"
	"github.com/tonimelisma/data-squirrel/internal/scan"
	"github.com/tonimelisma/data-squirrel/internal/syncengine"
	"github.com/tonimelisma/data-squirrel/internal/vfs"
)

type testStore struct {
	mem *vfs.MemFS
	fi  *fsinteraction.FSInteraction
	db  *metadatadb.MetadataDB
}

func newTestStore(t *testing.T, uniqueName string) *testStore {
	t.Helper()

	ctx := context.Background()

	mem := vfs.NewMemFS()
	locker := fsinteraction.NewMemLocker(uniqueName)
	fi := fsinteraction.New(mem, locker, uniqueName, nil)
	require.NoError(t, fi.Create(ctx, "test-owner"))
	t.Cleanup(func() { _ = fi.Close() })

	db, err := metadatadb.Open(ctx, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dataSetID, err := db.CreateDataSet(ctx, "set-"+uniqueName, "Set")
	require.NoError(t, err)

	_, err = db.CreateLocalStore(ctx, dataSetID, uniqueName, uniqueName, uniqueName, "", time.Now())
	require.NoError(t, err)

	return &testStore{mem: mem, fi: fi, db: db}
}

func (s *testStore) write(t *testing.T, path, content string) {
	t.Helper()

	w, err := s.mem.CreateFile(context.Background(), relpath.MustFromPath(path))
	require.NoError(t, err)

	_, err = io.WriteString(w, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func (s *testStore) read(t *testing.T, path string) string {
	t.Helper()

	r, err := s.mem.ReadFile(context.Background(), relpath.MustFromPath(path))
	require.NoError(t, err)
	defer r.Close()

	b, err := io.ReadAll(r)
	require.NoError(t, err)

	return string(b)
}

func (s *testStore) scan(t *testing.T) scan.Result {
	t.Helper()

	result, err := scan.New(s.fi, s.db, false, nil).PerformFullScan(context.Background())
	require.NoError(t, err)

	return result
}

func pull(t *testing.T, origin, mirror *testStore) syncengine.Result {
	t.Helper()

	ctx := context.Background()

	sender, err := syncengine.NewLocalSender(ctx, mirror.db, origin.db, origin.fi, false)
	require.NoError(t, err)

	mirrorStore, err := mirror.db.LocalStore(ctx)
	require.NoError(t, err)

	session := syncengine.NewSession(mirror.db, mirror.fi, mirrorStore.ID, sender, 0, nil)

	result, err := session.SyncFrom(ctx, relpath.Root(), true, 0)
	require.NoError(t, err)

	return result
}

func TestSyncFromTransfersNewFile(t *testing.T) {
	origin := newTestStore(t, "origin")
	mirror := newTestStore(t, "mirror")

	origin.write(t, "notes.txt", "hello from origin")
	origin.scan(t)

	result := pull(t, origin, mirror)

	require.Equal(t, 1, result.Transferred)
	require.Empty(t, result.Conflicts)
	require.Equal(t, "hello from origin", mirror.read(t, "notes.txt"))
}

func TestSyncFromIsIdempotent(t *testing.T) {
	origin := newTestStore(t, "origin")
	mirror := newTestStore(t, "mirror")

	origin.write(t, "a.txt", "v1")
	origin.scan(t)

	_ = pull(t, origin, mirror)

	result := pull(t, origin, mirror)
	require.Equal(t, 0, result.Transferred)
	require.Empty(t, result.Conflicts)
}

func TestSyncFromPropagatesNestedFolders(t *testing.T) {
	origin := newTestStore(t, "origin")
	mirror := newTestStore(t, "mirror")

	require.NoError(t, origin.mem.CreateDir(context.Background(), relpath.MustFromPath("docs"), false))
	origin.write(t, "docs/readme.txt", "nested content")
	origin.scan(t)

	result := pull(t, origin, mirror)

	require.Equal(t, 1, result.Transferred)
	require.Equal(t, "nested content", mirror.read(t, "docs/readme.txt"))
}

func TestSyncFromPropagatesUpdate(t *testing.T) {
	origin := newTestStore(t, "origin")
	mirror := newTestStore(t, "mirror")

	origin.write(t, "a.txt", "v1")
	origin.scan(t)
	_ = pull(t, origin, mirror)

	require.NoError(t, origin.mem.RemoveFile(context.Background(), relpath.MustFromPath("a.txt")))
	origin.write(t, "a.txt", "v2")
	origin.scan(t)

	result := pull(t, origin, mirror)
	require.Equal(t, 1, result.Transferred)
	require.Equal(t, "v2", mirror.read(t, "a.txt"))
}

func TestSyncFromSurfacesConflictOnDivergentEdits(t *testing.T) {
	origin := newTestStore(t, "origin")
	mirror := newTestStore(t, "mirror")

	origin.write(t, "shared.txt", "base")
	origin.scan(t)
	_ = pull(t, origin, mirror)

	require.NoError(t, origin.mem.RemoveFile(context.Background(), relpath.MustFromPath("shared.txt")))
	origin.write(t, "shared.txt", "from origin")
	origin.scan(t)

	require.NoError(t, mirror.mem.RemoveFile(context.Background(), relpath.MustFromPath("shared.txt")))
	mirror.write(t, "shared.txt", "from mirror")
	mirror.scan(t)

	result := pull(t, origin, mirror)
	require.Len(t, result.Conflicts, 1)
	require.Equal(t, metadatadb.ConflictLocalItemRemoteFile, result.Conflicts[0].Kind)
	require.Equal(t, "from mirror", mirror.read(t, "shared.txt"), "a conflict must leave local content untouched")
}

func TestSyncFromRefusesPathExcludedByReceiverRules(t *testing.T) {
	origin := newTestStore(t, "origin")
	mirror := newTestStore(t, "mirror")

	origin.write(t, "secrets/key.pem", "shh")
	origin.write(t, "notes.txt", "public")
	origin.scan(t)

	ctx := context.Background()

	mirrorStore, err := mirror.db.LocalStore(ctx)
	require.NoError(t, err)

	_, err = mirror.db.AppendInclusionRule(ctx, mirrorStore.ID, "secrets/**", false)
	require.NoError(t, err)

	result := pull(t, origin, mirror)

	require.Equal(t, 1, result.Transferred, "only notes.txt should have been pulled")
	require.Equal(t, "public", mirror.read(t, "notes.txt"))

	item, err := mirror.db.LookupLocalItem(ctx, relpath.MustFromPath("secrets/key.pem"))
	require.NoError(t, err)
	require.Nil(t, item, "an excluded path must never be recorded by the receiver")
}

func TestSyncFromAbortsWhenDeletesExceedMaxPercent(t *testing.T) {
	origin := newTestStore(t, "origin")
	mirror := newTestStore(t, "mirror")

	for i := 0; i < 4; i++ {
		origin.write(t, fmt.Sprintf("file-%d.txt", i), "content")
	}

	origin.scan(t)
	_ = pull(t, origin, mirror)

	for i := 0; i < 3; i++ {
		require.NoError(t, origin.mem.RemoveFile(context.Background(), relpath.MustFromPath(fmt.Sprintf("file-%d.txt", i))))
	}

	origin.scan(t)

	ctx := context.Background()

	sender, err := syncengine.NewLocalSender(ctx, mirror.db, origin.db, origin.fi, false)
	require.NoError(t, err)

	mirrorStore, err := mirror.db.LocalStore(ctx)
	require.NoError(t, err)

	session := syncengine.NewSession(mirror.db, mirror.fi, mirrorStore.ID, sender, 50, nil)

	_, err = session.SyncFrom(ctx, relpath.Root(), true, 0)
	require.ErrorIs(t, err, syncengine.ErrDeleteLimitExceeded)
}
