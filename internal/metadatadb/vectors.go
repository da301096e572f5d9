package metadatadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tonimelisma/data-squirrel/internal/vvector"
)

// readModTimeVector reads a folder item's mod-time vector (§3 invariant):
// the pointwise maximum of all descendants' last-mod singletons, rolled up
// incrementally rather than recomputed from scratch on every read.
func (m *MetadataDB) readModTimeVector(ctx context.Context, q queryer, itemID int64) (vvector.VersionVector, error) {
	rows, err := q.QueryContext(ctx, `SELECT peer_id, clock FROM mod_times WHERE owner_item = ?`, itemID)
	if err != nil {
		return vvector.VersionVector{}, fmt.Errorf("metadatadb: reading mod-time vector for item %d: %w", itemID, err)
	}
	defer rows.Close()

	v := vvector.New()

	for rows.Next() {
		var peerID, clock int64
		if err := rows.Scan(&peerID, &clock); err != nil {
			return vvector.VersionVector{}, fmt.Errorf("metadatadb: scanning mod-time row: %w", err)
		}

		v.Set(peerKey(peerID), clock)
	}

	return v, rows.Err()
}

// writeModTimeVector replaces the stored mod-time vector rows for itemID.
func (m *MetadataDB) writeModTimeVector(ctx context.Context, tx *sql.Tx, itemID int64, v vvector.VersionVector) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM mod_times WHERE owner_item = ?`, itemID); err != nil {
		return fmt.Errorf("metadatadb: clearing mod-time vector for item %d: %w", itemID, err)
	}

	for _, peer := range v.Peers() {
		peerID, err := parsePeerKey(peer)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mod_times (owner_item, peer_id, clock) VALUES (?, ?, ?)`,
			itemID, peerID, v.Get(peer)); err != nil {
			return fmt.Errorf("metadatadb: writing mod-time row for item %d: %w", itemID, err)
		}
	}

	return nil
}

// rollUpAncestors propagates a (peer, clock) last-mod event into every
// ancestor folder's mod-time vector via pointwise max (§4.5.3 step 6,
// §4.5.4). Ancestors that have no item row yet (not yet scanned) are
// skipped rather than treated as an error — rollup is best-effort
// propagation, not a structural requirement.
func (m *MetadataDB) rollUpAncestors(ctx context.Context, tx *sql.Tx, storeID, pathComponentID int64, peer string, clock int64) error {
	chain, err := m.walkParentChainTx(ctx, tx, pathComponentID)
	if err != nil {
		return err
	}

	for _, ancestorPC := range chain {
		itemID, kind, err := m.itemIDForPathComponentTx(ctx, tx, storeID, ancestorPC)
		if errors.Is(err, ErrNotFound) {
			continue
		}

		if err != nil {
			return err
		}

		if kind != KindFolder {
			continue
		}

		vec, err := m.readModTimeVector(ctx, tx, itemID)
		if err != nil {
			return err
		}

		if vec.Get(peer) >= clock {
			continue
		}

		vec.Set(peer, clock)

		if err := m.writeModTimeVector(ctx, tx, itemID, vec); err != nil {
			return err
		}
	}

	return nil
}

// walkParentChainTx is walkParentChain run against an in-flight transaction
// rather than the shared prepared statement, so ancestor lookups observe
// uncommitted rows from earlier in the same transaction (e.g. a path
// component just inserted by ResolvePath).
func (m *MetadataDB) walkParentChainTx(ctx context.Context, tx *sql.Tx, id int64) ([]int64, error) {
	var chain []int64

	for {
		var parent sql.NullInt64

		err := tx.QueryRowContext(ctx, sqlGetPathComponentByID, id).Scan(&id, &parent, new(string))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("%w: path component id %d", ErrNotFound, id)
			}

			return nil, fmt.Errorf("metadatadb: walking ancestor chain: %w", err)
		}

		if !parent.Valid {
			return chain, nil
		}

		id = parent.Int64
		chain = append(chain, id)
	}
}

func (m *MetadataDB) itemIDForPathComponentTx(ctx context.Context, tx *sql.Tx, storeID, pathComponentID int64) (int64, Kind, error) {
	var (
		id   int64
		kind string
	)

	err := tx.QueryRowContext(ctx, `SELECT id, kind FROM items WHERE store_id = ? AND path_component_id = ?`,
		storeID, pathComponentID).Scan(&id, &kind)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, "", fmt.Errorf("%w: item for path component %d", ErrNotFound, pathComponentID)
	case err != nil:
		return 0, "", fmt.Errorf("metadatadb: looking up item for path component %d: %w", pathComponentID, err)
	}

	return id, Kind(kind), nil
}

// resolveSyncTime computes an item's effective sync-time vector by walking
// from the store root down to pathComponentID, applying whichever
// ancestor's stored override is nearest (§4.5.5). Items with no override of
// their own inherit their parent's resolved vector exactly.
func (m *MetadataDB) resolveSyncTime(ctx context.Context, q queryer, storeID, pathComponentID int64) (vvector.VersionVector, error) {
	chain, err := m.chainFromRoot(ctx, q, pathComponentID)
	if err != nil {
		return vvector.VersionVector{}, err
	}

	vec := vvector.New()

	for _, pc := range chain {
		itemID, _, err := m.itemIDForPathComponent(ctx, q, storeID, pc)
		if errors.Is(err, ErrNotFound) {
			continue
		}

		if err != nil {
			return vvector.VersionVector{}, err
		}

		override, has, err := m.readSyncTimeOverride(ctx, q, itemID)
		if err != nil {
			return vvector.VersionVector{}, err
		}

		if has {
			vec = override
		}
	}

	return vec, nil
}

// chainFromRoot returns path component ids from the root's first-level
// child down to id inclusive.
func (m *MetadataDB) chainFromRoot(ctx context.Context, q queryer, id int64) ([]int64, error) {
	var reversed []int64

	cur := id

	for {
		reversed = append(reversed, cur)

		row, err := m.pathComponentByIDq(ctx, q, cur)
		if err != nil {
			return nil, err
		}

		if !row.ParentID.Valid {
			break
		}

		cur = row.ParentID.Int64
	}

	chain := make([]int64, len(reversed))
	for i, v := range reversed {
		chain[len(reversed)-1-i] = v
	}

	return chain, nil
}

func (m *MetadataDB) pathComponentByIDq(ctx context.Context, q queryer, id int64) (*pathComponentRow, error) {
	var (
		r      pathComponentRow
		parent sql.NullInt64
	)

	err := q.QueryRowContext(ctx, sqlGetPathComponentByID, id).Scan(&r.ID, &parent, &r.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: path component id %d", ErrNotFound, id)
		}

		return nil, fmt.Errorf("metadatadb: reading path component %d: %w", id, err)
	}

	r.ParentID = parent

	return &r, nil
}

func (m *MetadataDB) itemIDForPathComponent(ctx context.Context, q queryer, storeID, pathComponentID int64) (int64, Kind, error) {
	var (
		id   int64
		kind string
	)

	err := q.QueryRowContext(ctx, `SELECT id, kind FROM items WHERE store_id = ? AND path_component_id = ?`,
		storeID, pathComponentID).Scan(&id, &kind)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, "", fmt.Errorf("%w: item for path component %d", ErrNotFound, pathComponentID)
	case err != nil:
		return 0, "", fmt.Errorf("metadatadb: looking up item for path component %d: %w", pathComponentID, err)
	}

	return id, Kind(kind), nil
}

func (m *MetadataDB) readSyncTimeOverride(ctx context.Context, q queryer, itemID int64) (vvector.VersionVector, bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT peer_id, clock FROM sync_times WHERE owner_item = ?`, itemID)
	if err != nil {
		return vvector.VersionVector{}, false, fmt.Errorf("metadatadb: reading sync-time override for item %d: %w", itemID, err)
	}
	defer rows.Close()

	v := vvector.New()
	found := false

	for rows.Next() {
		found = true

		var peerID, clock int64
		if err := rows.Scan(&peerID, &clock); err != nil {
			return vvector.VersionVector{}, false, fmt.Errorf("metadatadb: scanning sync-time row: %w", err)
		}

		v.Set(peerKey(peerID), clock)
	}

	return v, found, rows.Err()
}

// writeSyncTime stores newVec as itemID's sync-time vector. If newVec
// matches the parent's resolved vector, any stored override is discarded
// ("sync-time cleanup", §4.5.5) rather than redundantly stored.
func (m *MetadataDB) writeSyncTime(ctx context.Context, tx *sql.Tx, storeID, pathComponentID, itemID int64, newVec vvector.VersionVector) error {
	parentID := int64(0)

	row, err := m.pathComponentByIDq(ctx, tx, pathComponentID)
	if err != nil {
		return err
	}

	var parentVec vvector.VersionVector

	if row.ParentID.Valid {
		parentID = row.ParentID.Int64
		parentVec, err = m.resolveSyncTime(ctx, tx, storeID, parentID)

		if err != nil {
			return err
		}
	} else {
		parentVec = vvector.New()
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_times WHERE owner_item = ?`, itemID); err != nil {
		return fmt.Errorf("metadatadb: clearing sync-time override for item %d: %w", itemID, err)
	}

	if newVec.Equal(parentVec) {
		return nil
	}

	for _, peer := range newVec.Peers() {
		peerID, err := parsePeerKey(peer)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sync_times (owner_item, peer_id, clock) VALUES (?, ?, ?)`,
			itemID, peerID, newVec.Get(peer)); err != nil {
			return fmt.Errorf("metadatadb: writing sync-time row for item %d: %w", itemID, err)
		}
	}

	return nil
}

// SignificantSyncTime is one entry of the minimal reconstructible set
// returned by FindSignificantSyncTimes (§4.5.6).
type SignificantSyncTime struct {
	PathComponentID int64
	Vector          vvector.VersionVector
}

// FindSignificantSyncTimes returns the minimal set of (path, vector) tuples
// needed to reconstruct this store's sync state relevant to peer — exactly
// those items whose stored vector differs from their ancestor's after
// cleanup (§4.5.6). Grounded on the original source's peer-scoped variant:
// only entries where the vector records progress against peer are
// returned, since those are the only ones a catch-up exchange with peer
// needs.
func (m *MetadataDB) FindSignificantSyncTimes(ctx context.Context, storeID int64, peer string) ([]SignificantSyncTime, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT DISTINCT owner_item FROM sync_times
		JOIN items ON items.id = sync_times.owner_item
		WHERE items.store_id = ?`, storeID)
	if err != nil {
		return nil, fmt.Errorf("metadatadb: listing significant sync times: %w", err)
	}
	defer rows.Close()

	var itemIDs []int64

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("metadatadb: scanning significant sync time item id: %w", err)
		}

		itemIDs = append(itemIDs, id)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []SignificantSyncTime

	for _, id := range itemIDs {
		vec, has, err := m.readSyncTimeOverride(ctx, m.db, id)
		if err != nil {
			return nil, err
		}

		if !has || vec.Get(peer) == 0 {
			continue
		}

		var pathComponentID int64
		if err := m.db.QueryRowContext(ctx, `SELECT path_component_id FROM items WHERE id = ?`, id).
			Scan(&pathComponentID); err != nil {
			return nil, fmt.Errorf("metadatadb: resolving path component for item %d: %w", id, err)
		}

		out = append(out, SignificantSyncTime{PathComponentID: pathComponentID, Vector: vec})
	}

	return out, nil
}
