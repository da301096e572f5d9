package metadatadb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tonimelisma/data-squirrel/internal/vvector"
)

// CleanUpDeletedItems drops DELETION tombstones that every known peer has
// already been informed about, then garbage-collects any path_components
// left with no item and no children (§4.5.7). A tombstone is droppable
// when its resolved sync-time vector dominates its parent's resolved
// sync-time vector for every known peer: at that point every peer that can
// still ask about this path has already absorbed the deletion.
//
// retentionDays bounds how long a tombstone that is NOT yet droppable is
// allowed to sit before cleanup logs a warning that some peer may be
// unresponsive (§4.5.7); 0 disables the warning.
func (m *MetadataDB) CleanUpDeletedItems(ctx context.Context, retentionDays int) (removed int, err error) {
	store, err := m.LocalStore(ctx)
	if err != nil {
		return 0, err
	}

	peers, err := m.ListStores(ctx)
	if err != nil {
		return 0, err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("metadatadb: beginning cleanup transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx,
		`SELECT id, path_component_id, tombstoned_at FROM items WHERE store_id = ? AND kind = 'DELETION'`, store.ID)
	if err != nil {
		return 0, fmt.Errorf("metadatadb: listing tombstones: %w", err)
	}

	type candidate struct {
		itemID, pcID int64
		tombstonedAt sql.NullInt64
	}

	var candidates []candidate

	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.itemID, &c.pcID, &c.tombstonedAt); err != nil {
			rows.Close()

			return 0, fmt.Errorf("metadatadb: scanning tombstone row: %w", err)
		}

		candidates = append(candidates, c)
	}

	if err := rows.Err(); err != nil {
		rows.Close()

		return 0, err
	}

	rows.Close()

	for _, c := range candidates {
		droppable, err := m.tombstoneIsDroppable(ctx, tx, store.ID, c.pcID, peers)
		if err != nil {
			return 0, err
		}

		if !droppable {
			if retentionDays > 0 && c.tombstonedAt.Valid {
				age := time.Since(time.Unix(0, c.tombstonedAt.Int64))

				if age > time.Duration(retentionDays)*24*time.Hour {
					m.logger.Warn("tombstone older than retention window, a peer may be unresponsive",
						"item_id", c.itemID, "age", age.Round(time.Hour), "retention_days", retentionDays)
				}
			}

			continue
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_times WHERE owner_item = ?`, c.itemID); err != nil {
			return 0, fmt.Errorf("metadatadb: clearing sync-time override for tombstone %d: %w", c.itemID, err)
		}

		if err := m.dropFSAndMod(ctx, tx, c.itemID); err != nil {
			return 0, err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, c.itemID); err != nil {
			return 0, fmt.Errorf("metadatadb: removing tombstone item %d: %w", c.itemID, err)
		}

		removed++
	}

	if err := m.garbageCollectPathComponents(ctx, tx); err != nil {
		return 0, err
	}

	return removed, tx.Commit()
}

// tombstoneIsDroppable checks that pcID's resolved sync-time vector
// dominates its parent's for every known peer (§4.5.7's pragmatic rule).
func (m *MetadataDB) tombstoneIsDroppable(ctx context.Context, tx *sql.Tx, storeID, pcID int64, peers []*DataStoreRow) (bool, error) {
	row, err := m.pathComponentByIDq(ctx, tx, pcID)
	if err != nil {
		return false, err
	}

	ownVec, err := m.resolveSyncTime(ctx, tx, storeID, pcID)
	if err != nil {
		return false, err
	}

	parentVec := vvector.New()

	if row.ParentID.Valid {
		v, err := m.resolveSyncTime(ctx, tx, storeID, row.ParentID.Int64)
		if err != nil {
			return false, err
		}

		parentVec = v
	}

	for _, peer := range peers {
		if ownVec.Get(peerKey(peer.ID)) < parentVec.Get(peerKey(peer.ID)) {
			return false, nil
		}
	}

	return true, nil
}

// garbageCollectPathComponents removes leaf path_components rows that own
// no item and no children, repeating until a pass removes nothing (a
// folder's own row may become collectible only after its last child is
// removed).
func (m *MetadataDB) garbageCollectPathComponents(ctx context.Context, tx *sql.Tx) error {
	for {
		res, err := tx.ExecContext(ctx, `DELETE FROM path_components
			WHERE id NOT IN (SELECT path_component_id FROM items)
			  AND id NOT IN (SELECT parent_id FROM path_components WHERE parent_id IS NOT NULL)`)
		if err != nil {
			return fmt.Errorf("metadatadb: garbage collecting path components: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("metadatadb: reading garbage collection result: %w", err)
		}

		if n == 0 {
			return nil
		}
	}
}
