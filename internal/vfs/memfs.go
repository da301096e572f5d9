package vfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tonimelisma/data-squirrel/internal/relpath"
)

// memNode is one entry in the in-memory tree: either a folder (children
// non-nil) or a file (content set).
type memNode struct {
	fileType     FileType
	content      []byte
	readOnly     bool
	modTime      time.Time
	creationTime time.Time
	children     map[string]*memNode // present iff fileType == Folder
	// originalName preserves the case-sensitive display name as supplied by
	// the caller; children is keyed by lower-case name for lookup.
	originalName string
}

// MemFS is an in-memory VFS implementation for tests: the same shape the
// scan and sync engines drive a real filesystem through, without touching
// disk. Safe for concurrent use.
type MemFS struct {
	mu   sync.Mutex
	root *memNode
}

// NewMemFS returns an empty in-memory filesystem with just a root folder.
func NewMemFS() *MemFS {
	now := time.Now()

	return &MemFS{
		root: &memNode{
			fileType:     Folder,
			children:     make(map[string]*memNode),
			modTime:      now,
			creationTime: now,
		},
	}
}

var _ VFS = (*MemFS)(nil)

func (m *MemFS) DBAccessType() DBAccessType {
	return InMemory
}

func (m *MemFS) Canonicalize(_ context.Context, path relpath.RelativePath) (relpath.RelativePath, error) {
	return path, nil
}

// walk resolves path to its node, returning the node and its parent (nil
// parent for the root). Does not hold the lock; callers must hold m.mu.
func (m *MemFS) walk(path relpath.RelativePath) (node, parent *memNode, err error) {
	node = m.root

	for _, comp := range path.Components() {
		if node.fileType != Folder {
			return nil, nil, fmt.Errorf("%w: %q", ErrNotDirectory, path)
		}

		parent = node
		next, ok := node.children[strings.ToLower(comp)]

		if !ok {
			return nil, nil, fmt.Errorf("%w: %q", ErrNotExist, path)
		}

		node = next
	}

	return node, parent, nil
}

func (m *MemFS) Metadata(_ context.Context, path relpath.RelativePath) (Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, _, err := m.walk(path)
	if err != nil {
		return Metadata{}, err
	}

	return Metadata{
		FileType:     node.fileType,
		ReadOnly:     node.readOnly,
		ModTime:      node.modTime,
		CreationTime: node.creationTime,
		Size:         int64(len(node.content)),
	}, nil
}

func (m *MemFS) ListDir(_ context.Context, path relpath.RelativePath) ([]DirEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, _, err := m.walk(path)
	if err != nil {
		return nil, err
	}

	if node.fileType != Folder {
		return nil, fmt.Errorf("%w: %q", ErrNotDirectory, path)
	}

	names := make([]string, 0, len(node.children))
	for _, child := range node.children {
		names = append(names, child.originalName)
	}

	sort.Strings(names)

	entries := make([]DirEntry, 0, len(names))

	for _, name := range names {
		child := node.children[strings.ToLower(name)]
		meta := Metadata{
			FileType:     child.fileType,
			ReadOnly:     child.readOnly,
			ModTime:      child.modTime,
			CreationTime: child.creationTime,
			Size:         int64(len(child.content)),
		}

		entry := DirEntry{Name: name, Metadata: &meta}

		if child.fileType == Symlink {
			entry.Issues = append(entry.Issues, Issue{Kind: IssueSkipLink, Path: path.Join(name)})
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func (m *MemFS) CreateDir(_ context.Context, path relpath.RelativePath, ignoreExisting bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if path.IsRoot() {
		return fmt.Errorf("%w: cannot create the root", ErrExist)
	}

	parent, err := m.mkdirParents(path.Parent())
	if err != nil {
		return err
	}

	key := strings.ToLower(path.Name())
	if existing, ok := parent.children[key]; ok {
		if ignoreExisting && existing.fileType == Folder {
			return nil
		}

		return fmt.Errorf("%w: %q", ErrExist, path)
	}

	now := time.Now()
	parent.children[key] = &memNode{
		fileType:     Folder,
		children:     make(map[string]*memNode),
		modTime:      now,
		creationTime: now,
		originalName: path.Name(),
	}

	return nil
}

// mkdirParents walks to path, creating any missing ancestor folders. Used
// internally; does not create path itself.
func (m *MemFS) mkdirParents(path relpath.RelativePath) (*memNode, error) {
	node := m.root

	for _, comp := range path.Components() {
		key := strings.ToLower(comp)

		child, ok := node.children[key]
		if !ok {
			now := time.Now()
			child = &memNode{
				fileType:     Folder,
				children:     make(map[string]*memNode),
				modTime:      now,
				creationTime: now,
				originalName: comp,
			}
			node.children[key] = child
		}

		if child.fileType != Folder {
			return nil, fmt.Errorf("%w: %q", ErrNotDirectory, path)
		}

		node = child
	}

	return node, nil
}

func (m *MemFS) RemoveDirRecursive(_ context.Context, path relpath.RelativePath) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if path.IsRoot() {
		m.root.children = make(map[string]*memNode)

		return nil
	}

	_, parent, err := m.walk(path)
	if err != nil {
		return err
	}

	delete(parent.children, strings.ToLower(path.Name()))

	return nil
}

func (m *MemFS) CreateFile(_ context.Context, path relpath.RelativePath) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, err := m.mkdirParents(path.Parent())
	if err != nil {
		return nil, err
	}

	key := strings.ToLower(path.Name())
	if _, ok := parent.children[key]; ok {
		return nil, fmt.Errorf("%w: %q", ErrExist, path)
	}

	now := time.Now()
	node := &memNode{
		fileType:     File,
		modTime:      now,
		creationTime: now,
		originalName: path.Name(),
	}
	parent.children[key] = node

	return &memFileWriter{fs: m, node: node}, nil
}

func (m *MemFS) RemoveFile(_ context.Context, path relpath.RelativePath) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, parent, err := m.walk(path)
	if err != nil {
		return err
	}

	if node.fileType == Folder {
		return fmt.Errorf("%w: %q is a directory", ErrNotDirectory, path)
	}

	delete(parent.children, strings.ToLower(path.Name()))

	return nil
}

func (m *MemFS) Rename(_ context.Context, src, dst relpath.RelativePath) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, srcParent, err := m.walk(src)
	if err != nil {
		return err
	}

	dstParent, err := m.mkdirParents(dst.Parent())
	if err != nil {
		return err
	}

	dstKey := strings.ToLower(dst.Name())
	if _, exists := dstParent.children[dstKey]; exists {
		return fmt.Errorf("%w: %q", ErrExist, dst)
	}

	delete(srcParent.children, strings.ToLower(src.Name()))
	node.originalName = dst.Name()
	dstParent.children[dstKey] = node

	return nil
}

func (m *MemFS) ReadFile(_ context.Context, path relpath.RelativePath) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, _, err := m.walk(path)
	if err != nil {
		return nil, err
	}

	if node.fileType != File {
		return nil, fmt.Errorf("%w: %q is not a file", ErrNotDirectory, path)
	}

	return io.NopCloser(bytes.NewReader(node.content)), nil
}

func (m *MemFS) OverwriteFile(_ context.Context, path relpath.RelativePath) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, _, err := m.walk(path)
	if err != nil {
		return nil, err
	}

	if node.fileType != File {
		return nil, fmt.Errorf("%w: %q is not a file", ErrNotDirectory, path)
	}

	node.content = nil

	return &memFileWriter{fs: m, node: node}, nil
}

func (m *MemFS) AppendFile(_ context.Context, path relpath.RelativePath) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, _, err := m.walk(path)
	if err != nil {
		return nil, err
	}

	if node.fileType != File {
		return nil, fmt.Errorf("%w: %q is not a file", ErrNotDirectory, path)
	}

	return &memFileWriter{fs: m, node: node}, nil
}

func (m *MemFS) UpdateMetadata(_ context.Context, path relpath.RelativePath, modTime time.Time, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, _, err := m.walk(path)
	if err != nil {
		return err
	}

	node.modTime = modTime
	node.readOnly = readOnly

	return nil
}

// memFileWriter appends written bytes to its node's content under the
// filesystem's lock, and updates the node's mod time on every write, the
// same way a real filesystem bumps mtime on write.
type memFileWriter struct {
	fs   *MemFS
	node *memNode
}

func (w *memFileWriter) Write(p []byte) (int, error) {
	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()

	w.node.content = append(w.node.content, p...)
	w.node.modTime = time.Now()

	return len(p), nil
}

func (w *memFileWriter) Close() error {
	return nil
}
