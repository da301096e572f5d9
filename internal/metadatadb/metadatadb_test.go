package metadatadb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/data-squirrel/internal/relpath"
	"github.com/tonimelisma/data-squirrel/internal/vvector"
)

func vvectorWithEntry(peer string, clock int64) vvector.VersionVector {
	v := vvector.New()
	v.Set(peer, clock)

	return v
}

func newTestDB(t *testing.T) *MetadataDB {
	t.Helper()

	db, err := Open(context.Background(), ":memory:", nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	return db
}

func newLocalStore(t *testing.T, db *MetadataDB) *DataStoreRow {
	t.Helper()

	ctx := context.Background()

	dataSetID, err := db.CreateDataSet(ctx, "test-set", "Test Set")
	require.NoError(t, err)

	_, err = db.CreateLocalStore(ctx, dataSetID, "local-store", "Local", "/tmp/root", "", time.Now())
	require.NoError(t, err)

	store, err := db.LocalStore(ctx)
	require.NoError(t, err)

	return store
}

func fs(name, hash string, modTime time.Time) FSMetadata {
	return FSMetadata{
		CaseSensitiveName: name,
		CreationTime:      modTime,
		ModTime:           modTime,
		ContentHash:       hash,
		IsReadOnly:        false,
	}
}

func TestCreateDataSetRejectsSecond(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.CreateDataSet(ctx, "one", "One")
	require.NoError(t, err)

	_, err = db.CreateDataSet(ctx, "two", "Two")
	require.ErrorIs(t, err, ErrViolatesConsistency)
}

func TestCreateLocalStoreRejectsSecond(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	dataSetID, err := db.CreateDataSet(ctx, "set", "Set")
	require.NoError(t, err)

	_, err = db.CreateLocalStore(ctx, dataSetID, "a", "A", "/a", "", time.Now())
	require.NoError(t, err)

	_, err = db.CreateLocalStore(ctx, dataSetID, "b", "B", "/b", "", time.Now())
	require.ErrorIs(t, err, ErrViolatesConsistency)
}

func TestUpdateLocalDataItemCreateThenNoOpOnUnchanged(t *testing.T) {
	db := newTestDB(t)
	newLocalStore(t, db)
	ctx := context.Background()

	p := relpath.MustFromPath("docs/readme.txt")
	now := time.Now()

	changed, err := db.UpdateLocalDataItem(ctx, p, true, fs("readme.txt", "abc123", now))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = db.UpdateLocalDataItem(ctx, p, true, fs("readme.txt", "abc123", now))
	require.NoError(t, err)
	assert.False(t, changed, "an unchanged re-observation must be a no-op")
}

func TestUpdateLocalDataItemDetectsModification(t *testing.T) {
	db := newTestDB(t)
	newLocalStore(t, db)
	ctx := context.Background()

	p := relpath.MustFromPath("a.txt")
	now := time.Now()

	_, err := db.UpdateLocalDataItem(ctx, p, true, fs("a.txt", "hash1", now))
	require.NoError(t, err)

	changed, err := db.UpdateLocalDataItem(ctx, p, true, fs("a.txt", "hash2", now.Add(time.Minute)))
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestCaseOnlyRenameIsChange(t *testing.T) {
	db := newTestDB(t)
	newLocalStore(t, db)
	ctx := context.Background()

	p := relpath.MustFromPath("Readme.txt")
	now := time.Now()

	_, err := db.UpdateLocalDataItem(ctx, p, true, fs("Readme.txt", "h", now))
	require.NoError(t, err)

	// Same case-insensitive path, different on-disk casing.
	changed, err := db.UpdateLocalDataItem(ctx, p, true, fs("README.txt", "h", now))
	require.NoError(t, err)
	assert.True(t, changed, "a case-only rename must be recorded even though content is unchanged")
}

func TestDeleteLocalDataItemCascadesFolder(t *testing.T) {
	db := newTestDB(t)
	newLocalStore(t, db)
	ctx := context.Background()

	now := time.Now()

	_, err := db.UpdateLocalDataItem(ctx, relpath.MustFromPath("dir"), false, fs("dir", "", now))
	require.NoError(t, err)

	_, err = db.UpdateLocalDataItem(ctx, relpath.MustFromPath("dir/a.txt"), true, fs("a.txt", "ha", now))
	require.NoError(t, err)

	_, err = db.UpdateLocalDataItem(ctx, relpath.MustFromPath("dir/b.txt"), true, fs("b.txt", "hb", now))
	require.NoError(t, err)

	count, err := db.DeleteLocalDataItem(ctx, relpath.MustFromPath("dir"))
	require.NoError(t, err)
	assert.Equal(t, 3, count, "folder itself plus its two children")
}

func TestSyncLocalDataItemFirstContactReplaces(t *testing.T) {
	db := newTestDB(t)
	local := newLocalStore(t, db)
	ctx := context.Background()

	remotePeerKey := peerKey(local.ID + 1)

	remote := RemoteItem{
		Path: relpath.MustFromPath("new.txt"),
		Kind: KindFile,
		FS:   &FSMetadata{CaseSensitiveName: "new.txt", ContentHash: "rh", CreationTime: time.Now(), ModTime: time.Now()},
	}
	remote.LastMod = vvectorWithEntry(remotePeerKey, 1)
	remote.SyncTime = vvectorWithEntry(remotePeerKey, 1)

	outcome, conflict, err := db.SyncLocalDataItem(ctx, local.ID, remote)
	require.NoError(t, err)
	assert.Nil(t, conflict)
	assert.Equal(t, OutcomeReplaced, outcome)
}

func TestSyncLocalDataItemAbsorbsStalePayload(t *testing.T) {
	db := newTestDB(t)
	local := newLocalStore(t, db)
	ctx := context.Background()

	p := relpath.MustFromPath("existing.txt")
	now := time.Now()

	_, err := db.UpdateLocalDataItem(ctx, p, true, fs("existing.txt", "h1", now))
	require.NoError(t, err)

	// Mark the local item as already known to the remote, then replay an
	// older remote last-mod: it should be ignored.
	remotePeerKey := peerKey(local.ID + 1)

	remote := RemoteItem{
		Path:     p,
		Kind:     KindFile,
		LastMod:  vvectorWithEntry(remotePeerKey, 0),
		SyncTime: vvectorWithEntry(remotePeerKey, 0),
	}

	outcome, conflict, err := db.SyncLocalDataItem(ctx, local.ID, remote)
	require.NoError(t, err)
	assert.Nil(t, conflict)
	assert.Equal(t, OutcomeAbsorbed, outcome)
}

func TestInclusionRulesDefaultIncludesEverything(t *testing.T) {
	db := newTestDB(t)
	local := newLocalStore(t, db)
	ctx := context.Background()

	require.NoError(t, db.EnsureDefaultInclusionRule(ctx, local.ID))

	included, err := db.IsIncluded(ctx, local.ID, relpath.MustFromPath("any/nested/path.txt"))
	require.NoError(t, err)
	assert.True(t, included)
}

func TestInclusionRulesExcludeOverridesInclude(t *testing.T) {
	db := newTestDB(t)
	local := newLocalStore(t, db)
	ctx := context.Background()

	_, err := db.AppendInclusionRule(ctx, local.ID, "**", true)
	require.NoError(t, err)

	_, err = db.AppendInclusionRule(ctx, local.ID, "secrets/**", false)
	require.NoError(t, err)

	included, err := db.IsIncluded(ctx, local.ID, relpath.MustFromPath("secrets/key.pem"))
	require.NoError(t, err)
	assert.False(t, included)

	included, err = db.IsIncluded(ctx, local.ID, relpath.MustFromPath("docs/readme.txt"))
	require.NoError(t, err)
	assert.True(t, included)
}
