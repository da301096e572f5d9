// Package metadatadb implements the transactional metadata store (§4.5):
// path components, items, per-item mod/sync vectors, peer identity, and
// inclusion rules, backed by modernc.org/sqlite and versioned with goose
// migrations — the relational model the scan and sync engines read and
// write through.
package metadatadb

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"strconv"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure Go SQLite driver, registers as "sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// walJournalSizeLimit bounds the WAL file so a long-running scan or sync
// does not grow it unboundedly between checkpoints.
const walJournalSizeLimit = 67108864 // 64 MiB

// MetadataDB is the transactional store backing one data store's on-disk
// metadata database. Item mutations (local update and delete, sync, cleanup)
// each run inside a single transaction (§4.5, §5); data-set, store and
// inclusion-rule writes run as individual statements.
type MetadataDB struct {
	db     *sql.DB
	logger *slog.Logger

	pathStmts  pathStatements
	itemStmts  itemStatements
	peerStmts  peerStatements
	ruleStmts  ruleStatements
}

// Open opens (or creates) the SQLite database at dbPath, sets WAL pragmas,
// applies pending migrations, and prepares repeated statements. Use
// ":memory:" for tests.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*MetadataDB, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	logger.Info("opening metadata database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrConnection, dbPath, err)
	}

	// The pure-Go sqlite driver serializes access per *sql.DB; a single
	// connection avoids SQLITE_BUSY under WAL with concurrent goroutines
	// inside one process (scan/sync never run concurrently on one store
	// anyway, per §5, but HashBatch-style fan-out elsewhere might still
	// share this handle).
	db.SetMaxOpenConns(1)

	if err := setPragmas(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	m := &MetadataDB{db: db, logger: logger}

	if err := m.prepareAllStatements(ctx); err != nil {
		db.Close()

		return nil, fmt.Errorf("metadatadb: preparing statements: %w", err)
	}

	logger.Info("metadata database ready", "path", dbPath)

	return m, nil
}

func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("%w: setting pragma %s: %v", ErrConnection, p.desc, err)
		}

		logger.Debug("pragma set", "pragma", p.desc)
	}

	return nil
}

// runMigrations applies all pending schema migrations using goose's
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := iofs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%w: creating migration sub-filesystem: %v", ErrMigration, err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("%w: creating migration provider: %v", ErrMigration, err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("%w: running migrations: %v", ErrMigration, err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()))
	}

	return nil
}

// Close releases the underlying database handle.
func (m *MetadataDB) Close() error {
	return m.db.Close()
}

// peerKey renders a local numeric peer id as a version-vector key.
func peerKey(localPeerID int64) string {
	return strconv.FormatInt(localPeerID, 10)
}

// parsePeerKey is the inverse of peerKey, used when walking a vector's
// present peers back into numeric ids for row storage.
func parsePeerKey(key string) (int64, error) {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("metadatadb: invalid peer vector key %q: %w", key, err)
	}

	return id, nil
}
