package rftio

import (
	"os"
	"path/filepath"
	"sort"
)

// PlainFS is an unconfined os-backed FileSystem for client-side use,
// where paths name local files the user already chose on the command
// line rather than server-controlled, untrusted input (spec.md §6's
// root-escape rule is a server-side rule only).
type PlainFS struct{}

func (PlainFS) ReadAt(path string, p []byte, off int64) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.ReadAt(p, off)
}

func (PlainFS) WriteAt(path string, p []byte, off int64) (int, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.WriteAt(p, off)
}

func (PlainFS) Preallocate(path string, size int64) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(size)
}

func (PlainFS) List(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, toFileInfo(e.Name(), info))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (PlainFS) Stat(path string) (FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	return toFileInfo(filepath.Base(path), info), nil
}

func (PlainFS) Delete(path string) error { return os.Remove(path) }
