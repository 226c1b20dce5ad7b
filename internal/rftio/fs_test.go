package rftio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootedFSPreallocateAndWriteAt(t *testing.T) {
	dir := t.TempDir()
	fsys, err := NewRootedFS(dir)
	require.NoError(t, err)

	require.NoError(t, fsys.Preallocate("a/b.txt", 13))

	n, err := fsys.WriteAt("a/b.txt", []byte("hello, "), 0)
	require.NoError(t, err)
	require.Equal(t, 7, n)

	n, err = fsys.WriteAt("a/b.txt", []byte("world!"), 7)
	require.NoError(t, err)
	require.Equal(t, 6, n)

	buf := make([]byte, 13)
	_, err = fsys.ReadAt("a/b.txt", buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hello, world!", string(buf))
}

func TestRootedFSRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	fsys, err := NewRootedFS(dir)
	require.NoError(t, err)

	_, err = fsys.resolve("../../etc/passwd")
	require.ErrorIs(t, err, ErrPathEscapesRoot)

	err = fsys.Preallocate("../escape.txt", 1)
	require.ErrorIs(t, err, ErrPathEscapesRoot)
}

func TestRootedFSListAndStat(t *testing.T) {
	dir := t.TempDir()
	fsys, err := NewRootedFS(dir)
	require.NoError(t, err)

	require.NoError(t, fsys.Preallocate("one.txt", 5))
	require.NoError(t, fsys.Preallocate("two.txt", 10))

	entries, err := fsys.List(".")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "one.txt", entries[0].Name)

	info, err := fsys.Stat("two.txt")
	require.NoError(t, err)
	require.Equal(t, int64(10), info.Size)
}

func TestRootedFSDelete(t *testing.T) {
	dir := t.TempDir()
	fsys, err := NewRootedFS(dir)
	require.NoError(t, err)
	require.NoError(t, fsys.Preallocate("gone.txt", 1))
	require.NoError(t, fsys.Delete("gone.txt"))

	_, err = fsys.Stat("gone.txt")
	require.Error(t, err)
}
