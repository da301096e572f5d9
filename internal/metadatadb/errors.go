package metadatadb

import "errors"

// MetadataDBError taxonomy (§7). Sentinels are wrapped with context via
// fmt.Errorf("...: %w", err) at each call site rather than carried as typed
// struct fields, matching the teacher's sentinel + wrap style.
var (
	// ErrNotFound is returned when a lookup finds no matching row.
	ErrNotFound = errors.New("metadatadb: not found")
	// ErrViolatesConsistency marks the two conditions the original source
	// treats as debug-build panics: zero data sets, or a second local store.
	// Never retried or swallowed.
	ErrViolatesConsistency = errors.New("metadatadb: violates database consistency")
	// ErrMigration wraps a failed schema migration.
	ErrMigration = errors.New("metadatadb: migration failed")
	// ErrConnection wraps a failure to open or reach the database.
	ErrConnection = errors.New("metadatadb: connection failed")
)
