package vfs_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/data-squirrel/internal/relpath"
	"github.com/tonimelisma/data-squirrel/internal/vfs"
)

func TestMemFSCreateAndReadFile(t *testing.T) {
	ctx := context.Background()
	fs := vfs.NewMemFS()

	path := relpath.MustFromPath("sub-1/file-1")
	require.NoError(t, fs.CreateDir(ctx, relpath.MustFromPath("sub-1"), false))

	w, err := fs.CreateFile(ctx, path)
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := fs.ReadFile(ctx, path)
	require.NoError(t, err)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestMemFSListDirIsSortedAndCaseInsensitiveLookup(t *testing.T) {
	ctx := context.Background()
	fs := vfs.NewMemFS()

	require.NoError(t, fs.CreateDir(ctx, relpath.MustFromPath("Sub-1"), false))
	_, err := fs.CreateFile(ctx, relpath.MustFromPath("file-2"))
	require.NoError(t, err)
	_, err = fs.CreateFile(ctx, relpath.MustFromPath("file-1"))
	require.NoError(t, err)

	entries, err := fs.ListDir(ctx, relpath.Root())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "Sub-1", entries[0].Name)
	assert.Equal(t, "file-1", entries[1].Name)
	assert.Equal(t, "file-2", entries[2].Name)

	meta, err := fs.Metadata(ctx, relpath.MustFromPath("sub-1"))
	require.NoError(t, err)
	assert.Equal(t, vfs.Folder, meta.FileType)
}

func TestMemFSRenameRejectsExistingDestination(t *testing.T) {
	ctx := context.Background()
	fs := vfs.NewMemFS()

	_, err := fs.CreateFile(ctx, relpath.MustFromPath("a"))
	require.NoError(t, err)
	_, err = fs.CreateFile(ctx, relpath.MustFromPath("b"))
	require.NoError(t, err)

	err = fs.Rename(ctx, relpath.MustFromPath("a"), relpath.MustFromPath("b"))
	require.ErrorIs(t, err, vfs.ErrExist)
}

func TestMemFSRemoveFileOnMissingIsNotExist(t *testing.T) {
	ctx := context.Background()
	fs := vfs.NewMemFS()

	err := fs.RemoveFile(ctx, relpath.MustFromPath("missing"))
	require.ErrorIs(t, err, vfs.ErrNotExist)
}
