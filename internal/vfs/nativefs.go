package vfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/tonimelisma/data-squirrel/internal/relpath"
)

// createFilePermissions matches the permissions a new file is created with;
// UpdateMetadata is the only way read-only is subsequently set.
const createFilePermissions = 0o644

// createDirPermissions matches the permissions a new directory is created with.
const createDirPermissions = 0o755

// NativeFS is a VFS backed by the host operating system, rooted at a single
// directory. All paths passed to its methods are resolved relative to root.
type NativeFS struct {
	root string
}

// NewNativeFS returns a NativeFS rooted at root. root must already exist;
// FSInteraction is responsible for create-vs-open semantics (§4.4).
func NewNativeFS(root string) *NativeFS {
	return &NativeFS{root: root}
}

var _ VFS = (*NativeFS)(nil)

func (n *NativeFS) DBAccessType() DBAccessType {
	return InPlace
}

func (n *NativeFS) resolve(path relpath.RelativePath) string {
	return filepath.Join(n.root, path.ToPathBuf())
}

func (n *NativeFS) Canonicalize(_ context.Context, path relpath.RelativePath) (relpath.RelativePath, error) {
	abs, err := filepath.Abs(n.resolve(path))
	if err != nil {
		return relpath.RelativePath{}, fmt.Errorf("vfs: canonicalize %q: %w", path, err)
	}

	rel, err := filepath.Rel(n.root, abs)
	if err != nil {
		return relpath.RelativePath{}, fmt.Errorf("vfs: canonicalize %q: %w", path, err)
	}

	return relpath.FromPath(rel)
}

func translateStatErr(path relpath.RelativePath, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %q", ErrNotExist, path)
	case errors.Is(err, os.ErrExist):
		return fmt.Errorf("%w: %q", ErrExist, path)
	default:
		return err
	}
}

func (n *NativeFS) Metadata(_ context.Context, path relpath.RelativePath) (Metadata, error) {
	info, err := os.Lstat(n.resolve(path))
	if err != nil {
		return Metadata{}, translateStatErr(path, err)
	}

	return fileInfoToMetadata(info), nil
}

func fileInfoToMetadata(info os.FileInfo) Metadata {
	ft := File

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		ft = Symlink
	case info.IsDir():
		ft = Folder
	}

	return Metadata{
		FileType: ft,
		ReadOnly: info.Mode().Perm()&0o200 == 0,
		ModTime:  info.ModTime(),
		// Creation time is not portably available via os.FileInfo; callers
		// on platforms without birth-time support see ModTime here too.
		CreationTime: info.ModTime(),
		Size:         info.Size(),
	}
}

func (n *NativeFS) ListDir(_ context.Context, path relpath.RelativePath) ([]DirEntry, error) {
	entries, err := os.ReadDir(n.resolve(path))
	if err != nil {
		return nil, translateStatErr(path, err)
	}

	out := make([]DirEntry, 0, len(entries))

	for _, entry := range entries {
		info, infoErr := entry.Info()
		if infoErr != nil {
			out = append(out, DirEntry{
				Name: entry.Name(),
				Issues: []Issue{{
					Kind:    IssueStatFailed,
					Path:    path.Join(entry.Name()),
					Message: infoErr.Error(),
				}},
			})

			continue
		}

		meta := fileInfoToMetadata(info)
		de := DirEntry{Name: entry.Name(), Metadata: &meta}

		if meta.FileType == Symlink {
			de.Issues = append(de.Issues, Issue{Kind: IssueSkipLink, Path: path.Join(entry.Name())})
		}

		out = append(out, de)
	}

	return out, nil
}

func (n *NativeFS) CreateDir(_ context.Context, path relpath.RelativePath, ignoreExisting bool) error {
	full := n.resolve(path)

	if ignoreExisting {
		return os.MkdirAll(full, createDirPermissions)
	}

	if err := os.Mkdir(full, createDirPermissions); err != nil {
		return translateStatErr(path, err)
	}

	return nil
}

func (n *NativeFS) RemoveDirRecursive(_ context.Context, path relpath.RelativePath) error {
	if err := os.RemoveAll(n.resolve(path)); err != nil {
		return fmt.Errorf("vfs: remove_dir_recursive %q: %w", path, err)
	}

	return nil
}

func (n *NativeFS) CreateFile(_ context.Context, path relpath.RelativePath) (io.WriteCloser, error) {
	f, err := os.OpenFile(n.resolve(path), os.O_CREATE|os.O_EXCL|os.O_WRONLY, createFilePermissions)
	if err != nil {
		return nil, translateStatErr(path, err)
	}

	return f, nil
}

func (n *NativeFS) RemoveFile(_ context.Context, path relpath.RelativePath) error {
	if err := os.Remove(n.resolve(path)); err != nil {
		return translateStatErr(path, err)
	}

	return nil
}

func (n *NativeFS) Rename(_ context.Context, src, dst relpath.RelativePath) error {
	dstFull := n.resolve(dst)

	if _, err := os.Lstat(dstFull); err == nil {
		return fmt.Errorf("%w: %q", ErrExist, dst)
	}

	if err := os.Rename(n.resolve(src), dstFull); err != nil {
		return fmt.Errorf("vfs: rename %q -> %q: %w", src, dst, err)
	}

	return nil
}

func (n *NativeFS) ReadFile(_ context.Context, path relpath.RelativePath) (io.ReadCloser, error) {
	f, err := os.Open(n.resolve(path))
	if err != nil {
		return nil, translateStatErr(path, err)
	}

	return f, nil
}

func (n *NativeFS) OverwriteFile(_ context.Context, path relpath.RelativePath) (io.WriteCloser, error) {
	f, err := os.OpenFile(n.resolve(path), os.O_TRUNC|os.O_WRONLY, createFilePermissions)
	if err != nil {
		return nil, translateStatErr(path, err)
	}

	return f, nil
}

func (n *NativeFS) AppendFile(_ context.Context, path relpath.RelativePath) (io.WriteCloser, error) {
	f, err := os.OpenFile(n.resolve(path), os.O_APPEND|os.O_WRONLY, createFilePermissions)
	if err != nil {
		return nil, translateStatErr(path, err)
	}

	return f, nil
}

func (n *NativeFS) UpdateMetadata(_ context.Context, path relpath.RelativePath, modTime time.Time, readOnly bool) error {
	full := n.resolve(path)

	perm := os.FileMode(createFilePermissions)
	if readOnly {
		perm = 0o444
	}

	if err := os.Chmod(full, perm); err != nil {
		return translateStatErr(path, err)
	}

	if err := os.Chtimes(full, modTime, modTime); err != nil {
		return translateStatErr(path, err)
	}

	return nil
}
