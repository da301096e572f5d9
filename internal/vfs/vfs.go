// Package vfs defines the virtual filesystem contract that FSInteraction and
// the scan/sync engines are built against (§4.3), plus two implementations:
// an in-memory filesystem for tests (memfs) and one backed by the host OS
// (nativefs). The contract is intentionally small and fixed rather than
// reflective — a data store is constructed against exactly one VFS.
package vfs

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/tonimelisma/data-squirrel/internal/relpath"
)

// FileType classifies a directory entry.
type FileType int

const (
	// Unknown is the zero value, never returned for a successfully stat'd entry.
	Unknown FileType = iota
	File
	Folder
	Symlink
)

func (t FileType) String() string {
	switch t {
	case File:
		return "file"
	case Folder:
		return "folder"
	case Symlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Metadata is the stat result for a path.
type Metadata struct {
	FileType     FileType
	ReadOnly     bool
	ModTime      time.Time
	CreationTime time.Time
	Size         int64
}

// DBAccessType describes whether the metadata database file can be opened
// directly where the VFS stores it, or must be staged locally first.
type DBAccessType int

const (
	// InPlace means the database file can be opened directly on the VFS.
	InPlace DBAccessType = iota
	// TmpCopy means the database must be copied to local disk, operated on,
	// then copied back (e.g. a network share with unreliable locking).
	TmpCopy
	// InMemory means there is no persistent backing store at all (tests).
	InMemory
)

// DirEntry is one entry returned by ListDir: a name, resolved metadata (nil
// if the entry could not be stat'd), and any issues encountered.
type DirEntry struct {
	Name     string
	Metadata *Metadata
	Issues   []Issue
}

// IssueKind enumerates the ways a directory entry can be unusable.
type IssueKind int

const (
	IssueSkipLink IssueKind = iota
	IssueDuplicate
	IssueUnsupportedType
	IssueStatFailed
	IssueBitRot
)

func (k IssueKind) String() string {
	switch k {
	case IssueSkipLink:
		return "SkipLink"
	case IssueDuplicate:
		return "Duplicate"
	case IssueUnsupportedType:
		return "UnsupportedType"
	case IssueStatFailed:
		return "StatFailed"
	case IssueBitRot:
		return "BitRot"
	default:
		return "Unknown"
	}
}

// Issue describes why a directory entry was not indexed normally.
type Issue struct {
	Kind    IssueKind
	Path    relpath.RelativePath
	Message string
}

// Sentinel errors every VFS implementation must return for the matching
// condition, so FSInteraction and the scan engine can branch on errors.Is
// regardless of which VFS is behind the interface.
var (
	ErrNotExist     = errors.New("vfs: path does not exist")
	ErrExist        = errors.New("vfs: path already exists")
	ErrNotDirectory = errors.New("vfs: path is not a directory")
	ErrNotEmpty     = errors.New("vfs: directory is not empty")
)

// VFS is the external collaborator contract (§4.3). Implementers provide
// stat, list, create/remove dir/file, rename, and read/write streams.
type VFS interface {
	// Canonicalize resolves a path to its canonical on-disk form, following
	// no symlinks (the Non-goal: symlinks are never followed).
	Canonicalize(ctx context.Context, path relpath.RelativePath) (relpath.RelativePath, error)

	Metadata(ctx context.Context, path relpath.RelativePath) (Metadata, error)

	ListDir(ctx context.Context, path relpath.RelativePath) ([]DirEntry, error)

	// CreateDir creates path as a directory. If ignoreExisting is false, an
	// existing directory at path is an error.
	CreateDir(ctx context.Context, path relpath.RelativePath, ignoreExisting bool) error

	RemoveDirRecursive(ctx context.Context, path relpath.RelativePath) error

	// CreateFile creates a new, empty file at path; path must not exist.
	CreateFile(ctx context.Context, path relpath.RelativePath) (io.WriteCloser, error)

	RemoveFile(ctx context.Context, path relpath.RelativePath) error

	// Rename moves src to dst. dst must not already exist.
	Rename(ctx context.Context, src, dst relpath.RelativePath) error

	ReadFile(ctx context.Context, path relpath.RelativePath) (io.ReadCloser, error)

	// OverwriteFile truncates and replaces the content of an existing file.
	OverwriteFile(ctx context.Context, path relpath.RelativePath) (io.WriteCloser, error)

	// AppendFile opens an existing file for append. Staged transfers do not
	// use it; they are written through CreateFile.
	AppendFile(ctx context.Context, path relpath.RelativePath) (io.WriteCloser, error)

	UpdateMetadata(ctx context.Context, path relpath.RelativePath, modTime time.Time, readOnly bool) error

	// DBAccessType reports how the metadata database should be opened
	// relative to this VFS.
	DBAccessType() DBAccessType
}
