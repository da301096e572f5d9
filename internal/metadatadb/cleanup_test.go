package metadatadb

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/data-squirrel/internal/relpath"
)

func TestCleanUpDeletedItemsDropsTombstoneWithNoOtherPeer(t *testing.T) {
	db := newTestDB(t)
	newLocalStore(t, db)
	ctx := context.Background()

	now := time.Now()

	_, err := db.UpdateLocalDataItem(ctx, relpath.MustFromPath("gone.txt"), true, fs("gone.txt", "h", now))
	require.NoError(t, err)

	_, err = db.DeleteLocalDataItem(ctx, relpath.MustFromPath("gone.txt"))
	require.NoError(t, err)

	removed, err := db.CleanUpDeletedItems(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed, "with no sync-time override recorded against any peer, the tombstone is immediately droppable")

	item, err := db.LookupLocalItem(ctx, relpath.MustFromPath("gone.txt"))
	require.NoError(t, err)
	assert.Nil(t, item, "a dropped tombstone's path_component must be garbage collected too")
}

func TestCleanUpDeletedItemsWarnsOnStaleUnconfirmedTombstone(t *testing.T) {
	db := newTestDB(t)
	newLocalStore(t, db)
	ctx := context.Background()

	dataSetID, _, _, err := db.RequireDataSet(ctx)
	require.NoError(t, err)

	peerID, err := db.EnsurePeerStore(ctx, dataSetID, "peer-store", "Peer", time.Now())
	require.NoError(t, err)

	now := time.Now()

	_, err = db.UpdateLocalDataItem(ctx, relpath.MustFromPath("gone.txt"), true, fs("gone.txt", "h", now))
	require.NoError(t, err)

	_, err = db.DeleteLocalDataItem(ctx, relpath.MustFromPath("gone.txt"))
	require.NoError(t, err)

	var itemID int64
	require.NoError(t, db.db.QueryRowContext(ctx,
		`SELECT id FROM items WHERE kind = 'DELETION'`).Scan(&itemID))

	// A sync-time override behind the item's parent (an empty vector, since
	// this is a root-level item) means peerID has not yet been told about
	// the deletion — the tombstone must not be droppable until it catches up.
	_, err = db.db.ExecContext(ctx,
		`INSERT INTO sync_times (owner_item, peer_id, clock) VALUES (?, ?, -1)`, itemID, peerID)
	require.NoError(t, err)

	// Backdate the tombstone well past any retention window a test could
	// plausibly configure, simulating a peer that never came back to
	// acknowledge the deletion.
	_, err = db.db.ExecContext(ctx, `UPDATE items SET tombstoned_at = ? WHERE id = ?`,
		time.Now().Add(-60*24*time.Hour).UnixNano(), itemID)
	require.NoError(t, err)

	var logs strings.Builder
	db.logger = slog.New(slog.NewTextHandler(&logs, nil))

	removed, err := db.CleanUpDeletedItems(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "an unacknowledged peer keeps the tombstone from being droppable")
	assert.Contains(t, logs.String(), "tombstone older than retention window")
}
