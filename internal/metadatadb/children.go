package metadatadb

import (
	"context"
	"database/sql"
	"fmt"
)

// ChildItem is one non-deletion item directly under a folder, as needed by
// the scan engine's tombstone pass (§4.6: "load all DB children for that
// directory and delete any that are not in the on-disk set").
type ChildItem struct {
	Name            string
	PathComponentID int64
	Kind            Kind
}

// ListChildItems returns storeID's non-deletion items whose path component
// is a direct child of parentPathComponentID. Pass hasParent=false for the
// store root's direct children.
func (m *MetadataDB) ListChildItems(ctx context.Context, storeID int64, parentPathComponentID int64, hasParent bool) ([]ChildItem, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if hasParent {
		rows, err = m.db.QueryContext(ctx, `SELECT pc.name, pc.id, it.kind
			FROM items it JOIN path_components pc ON pc.id = it.path_component_id
			WHERE it.store_id = ? AND pc.parent_id = ? AND it.kind != 'DELETION'`, storeID, parentPathComponentID)
	} else {
		rows, err = m.db.QueryContext(ctx, `SELECT pc.name, pc.id, it.kind
			FROM items it JOIN path_components pc ON pc.id = it.path_component_id
			WHERE it.store_id = ? AND pc.parent_id IS NULL AND it.kind != 'DELETION'`, storeID)
	}

	if err != nil {
		return nil, fmt.Errorf("metadatadb: listing child items: %w", err)
	}
	defer rows.Close()

	var out []ChildItem

	for rows.Next() {
		var (
			c    ChildItem
			kind string
		)

		if err := rows.Scan(&c.Name, &c.PathComponentID, &kind); err != nil {
			return nil, fmt.Errorf("metadatadb: scanning child item: %w", err)
		}

		c.Kind = Kind(kind)
		out = append(out, c)
	}

	return out, rows.Err()
}

// CountLiveItems returns storeID's current non-deletion item count, the
// denominator a sync session checks a delete run's percentage against
// (§4.7.6's max_delete_percent safety rail).
func (m *MetadataDB) CountLiveItems(ctx context.Context, storeID int64) (int, error) {
	var n int

	err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE store_id = ? AND kind != 'DELETION'`, storeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("metadatadb: counting live items: %w", err)
	}

	return n, nil
}
