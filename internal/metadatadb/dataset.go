package metadatadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DataStoreRow is a fully resolved data_stores row (§3): one replica of the
// data set, local or remote. The original source's owner_information
// pattern — deciding whether a numeric owner id is "the local store" or "a
// peer store" — is captured directly by IsLocal here.
type DataStoreRow struct {
	ID           int64
	DataSetID    int64
	UniqueName   string
	HumanName    string
	CreationDate time.Time
	RootPath     string
	LocationNote string
	IsLocal      bool
	Clock        int64
}

// CreateDataSet inserts the single data_sets row for this database. A
// second call (or any pre-existing row) is a consistency error (§3): a
// database holds exactly one data set.
func (m *MetadataDB) CreateDataSet(ctx context.Context, uniqueName, humanName string) (int64, error) {
	var count int
	if err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM data_sets`).Scan(&count); err != nil {
		return 0, fmt.Errorf("metadatadb: counting data sets: %w", err)
	}

	if count > 0 {
		return 0, fmt.Errorf("%w: a data set already exists in this database", ErrViolatesConsistency)
	}

	res, err := m.db.ExecContext(ctx,
		`INSERT INTO data_sets (unique_name, human_name) VALUES (?, ?)`, uniqueName, humanName)
	if err != nil {
		return 0, fmt.Errorf("metadatadb: creating data set: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("metadatadb: reading new data set id: %w", err)
	}

	return id, nil
}

// RequireDataSet fetches the single data_sets row, surfacing a consistency
// error if zero rows are present (§3, §9 "zero data sets").
func (m *MetadataDB) RequireDataSet(ctx context.Context) (id int64, uniqueName, humanName string, err error) {
	err = m.db.QueryRowContext(ctx, `SELECT id, unique_name, human_name FROM data_sets`).
		Scan(&id, &uniqueName, &humanName)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, "", "", fmt.Errorf("%w: no data set exists in this database", ErrViolatesConsistency)
	case err != nil:
		return 0, "", "", fmt.Errorf("metadatadb: reading data set: %w", err)
	}

	return id, uniqueName, humanName, nil
}

// CreateLocalStore inserts the local data_stores row (is_local=1). A second
// local row is a consistency error (§3, §9 "two local stores"); the unique
// partial index on is_local enforces this at the database level, but we
// check explicitly first to return the typed error rather than a raw SQL
// constraint violation.
func (m *MetadataDB) CreateLocalStore(
	ctx context.Context, dataSetID int64, uniqueName, humanName, rootPath, locationNote string, now time.Time,
) (int64, error) {
	var count int
	if err := m.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM data_stores WHERE is_local = 1`).Scan(&count); err != nil {
		return 0, fmt.Errorf("metadatadb: counting local stores: %w", err)
	}

	if count > 0 {
		return 0, fmt.Errorf("%w: a local store already exists in this database", ErrViolatesConsistency)
	}

	res, err := m.db.ExecContext(ctx, `INSERT INTO data_stores
		(data_set_id, unique_name, human_name, creation_date, root_path, location_note, is_local, clock)
		VALUES (?, ?, ?, ?, ?, ?, 1, 0)`,
		dataSetID, uniqueName, humanName, now.UnixNano(), rootPath, locationNote)
	if err != nil {
		return 0, fmt.Errorf("metadatadb: creating local store: %w", err)
	}

	storeID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("metadatadb: reading new local store id: %w", err)
	}

	// §3: a store's rule set always contains the universal include rule
	// until a user narrows it — guaranteed here so nothing that scans or
	// syncs a freshly created store ever sees an empty, all-excluding list.
	if err := m.EnsureDefaultInclusionRule(ctx, storeID); err != nil {
		return 0, fmt.Errorf("metadatadb: seeding default inclusion rule: %w", err)
	}

	return storeID, nil
}

// EnsurePeerStore returns the local numeric id for a peer identified by its
// globally unique name, creating a data_stores row (is_local=0) if this is
// the first time this peer has been heard about (§4.7.1).
func (m *MetadataDB) EnsurePeerStore(ctx context.Context, dataSetID int64, uniqueName, humanName string, now time.Time) (int64, error) {
	row, err := m.storeByUniqueName(ctx, uniqueName)
	if err == nil {
		return row.ID, nil
	}

	if !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	res, execErr := m.db.ExecContext(ctx, `INSERT INTO data_stores
		(data_set_id, unique_name, human_name, creation_date, root_path, location_note, is_local, clock)
		VALUES (?, ?, ?, ?, '', '', 0, 0)`,
		dataSetID, uniqueName, humanName, now.UnixNano())
	if execErr != nil {
		return 0, fmt.Errorf("metadatadb: creating peer store %q: %w", uniqueName, execErr)
	}

	return res.LastInsertId()
}

func scanDataStoreRow(row interface{ Scan(...any) error }) (*DataStoreRow, error) {
	var (
		r         DataStoreRow
		creation  int64
		isLocal   int
	)

	if err := row.Scan(&r.ID, &r.DataSetID, &r.UniqueName, &r.HumanName,
		&creation, &r.RootPath, &r.LocationNote, &isLocal, &r.Clock); err != nil {
		return nil, err
	}

	r.CreationDate = time.Unix(0, creation)
	r.IsLocal = isLocal != 0

	return &r, nil
}

// LocalStore returns the local store's row, a consistency error if none
// exists yet (the database has not been initialized with `create`).
func (m *MetadataDB) LocalStore(ctx context.Context) (*DataStoreRow, error) {
	row, err := scanDataStoreRow(m.peerStmts.getLocal.QueryRowContext(ctx))

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: no local store exists in this database", ErrViolatesConsistency)
	case err != nil:
		return nil, fmt.Errorf("metadatadb: reading local store: %w", err)
	}

	return row, nil
}

func (m *MetadataDB) storeByUniqueName(ctx context.Context, uniqueName string) (*DataStoreRow, error) {
	row, err := scanDataStoreRow(m.peerStmts.getByUnique.QueryRowContext(ctx, uniqueName))

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: store %q", ErrNotFound, uniqueName)
	case err != nil:
		return nil, fmt.Errorf("metadatadb: reading store %q: %w", uniqueName, err)
	}

	return row, nil
}

// ListStores returns every known data_stores row (local and peers), used
// by the peer-id translator to build its bidirectional map.
func (m *MetadataDB) ListStores(ctx context.Context) ([]*DataStoreRow, error) {
	rows, err := m.peerStmts.listAll.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("metadatadb: listing stores: %w", err)
	}
	defer rows.Close()

	var out []*DataStoreRow

	for rows.Next() {
		r, scanErr := scanDataStoreRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("metadatadb: scanning store row: %w", scanErr)
		}

		out = append(out, r)
	}

	return out, rows.Err()
}

// IncreaseLocalClock bumps the local store's clock by one and returns the
// OLD value — the "event time" tagged with the local peer id for the
// change about to be recorded (§4.5.1).
func (m *MetadataDB) IncreaseLocalClock(ctx context.Context, tx *sql.Tx) (oldClock int64, err error) {
	row := tx.QueryRowContext(ctx, `SELECT clock FROM data_stores WHERE is_local = 1`)
	if err := row.Scan(&oldClock); err != nil {
		return 0, fmt.Errorf("metadatadb: reading local clock: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE data_stores SET clock = clock + 1 WHERE is_local = 1`); err != nil {
		return 0, fmt.Errorf("metadatadb: bumping local clock: %w", err)
	}

	return oldClock, nil
}
