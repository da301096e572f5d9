package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/data-squirrel/internal/fsinteraction"
	"github.com/tonimelisma/data-squirrel/internal/metadatadb"
	"github.com/tonimelisma/data-squirrel/internal/vfs"
)

// openStore holds everything one command needs against one on-disk store:
// the native filesystem, the lock/hash/index layer over it, and the open
// metadata database. Callers must call close() when done.
type openStore struct {
	fi *fsinteraction.FSInteraction
	db *metadatadb.MetadataDB
}

func (s *openStore) close() {
	if s.db != nil {
		_ = s.db.Close()
	}

	if s.fi != nil {
		_ = s.fi.Close()
	}
}

// openExistingStore opens an already-created data store at root: the lock
// and the metadata database must already exist on disk.
func openExistingStore(ctx context.Context, root string, logger *slog.Logger) (*openStore, error) {
	nfs := vfs.NewNativeFS(root)
	lockPath := filepath.Join(root, fsinteraction.MetadataDirName, fsinteraction.LockFileName)
	fi := fsinteraction.New(nfs, fsinteraction.NewFileLocker(lockPath), root, logger)

	if err := fi.Open(ctx, currentOwnerLabel()); err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", root, err)
	}

	dbPath := filepath.Join(root, fsinteraction.MetadataDirName, fsinteraction.DBFileName)

	db, err := metadatadb.Open(ctx, dbPath, logger)
	if err != nil {
		_ = fi.Close()
		return nil, fmt.Errorf("opening metadata database at %s: %w", dbPath, err)
	}

	return &openStore{fi: fi, db: db}, nil
}

// createStore initializes a brand new data store at root: a data set, a
// single local data_stores row, and the default inclusion rule (§4.5.9,
// "everything included unless excluded").
func createStore(ctx context.Context, root, humanName string, logger *slog.Logger) (*openStore, error) {
	nfs := vfs.NewNativeFS(root)
	lockPath := filepath.Join(root, fsinteraction.MetadataDirName, fsinteraction.LockFileName)
	fi := fsinteraction.New(nfs, fsinteraction.NewFileLocker(lockPath), root, logger)

	if err := fi.Create(ctx, currentOwnerLabel()); err != nil {
		return nil, fmt.Errorf("initializing store at %s: %w", root, err)
	}

	dbPath := filepath.Join(root, fsinteraction.MetadataDirName, fsinteraction.DBFileName)

	db, err := metadatadb.Open(ctx, dbPath, logger)
	if err != nil {
		_ = fi.Close()
		return nil, fmt.Errorf("creating metadata database at %s: %w", dbPath, err)
	}

	if humanName == "" {
		humanName = filepath.Base(root)
	}

	uniqueName := humanName + "-" + uuid.NewString()

	dataSetID, err := db.CreateDataSet(ctx, uniqueName, humanName)
	if err != nil {
		db.Close() //nolint:errcheck
		_ = fi.Close()

		return nil, fmt.Errorf("creating data set: %w", err)
	}

	// CreateLocalStore seeds the default universal-include rule itself.
	if _, err := db.CreateLocalStore(ctx, dataSetID, uniqueName, humanName, root, "", time.Now()); err != nil {
		db.Close() //nolint:errcheck
		_ = fi.Close()

		return nil, fmt.Errorf("creating local store: %w", err)
	}

	return &openStore{fi: fi, db: db}, nil
}

func currentOwnerLabel() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown-host"
	}

	return fmt.Sprintf("squirrel(pid=%d,host=%s)", os.Getpid(), host)
}
