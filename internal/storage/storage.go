// Package storage provides access to files under the user data and cache
// directories. Writes go through a temp file and rename so a crash never
// leaves a half-written record behind.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Dir is a directory rooted at an absolute path. The directory is created
// lazily on first write.
type Dir struct {
	root string
}

// NewDir returns a Dir rooted at root.
func NewDir(root string) Dir {
	return Dir{root: root}
}

// Path returns the directory path, or the path of a child when elem is
// given.
func (d Dir) Path(elem ...string) string {
	return filepath.Join(append([]string{d.root}, elem...)...)
}

// Sub returns a child directory.
func (d Dir) Sub(name string) Dir {
	return Dir{root: d.Path(name)}
}

// File returns a handle to a file directly under the directory.
func (d Dir) File(name string) File {
	return File{path: d.Path(name)}
}

// Exists reports whether the directory exists.
func (d Dir) Exists() bool {
	info, err := os.Stat(d.root)
	return err == nil && info.IsDir()
}

// Files lists regular files whose name matches the shell pattern,
// sorted by name. A missing directory yields no files.
func (d Dir) Files(pattern string) ([]File, error) {
	entries, err := os.ReadDir(d.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", d.root, err)
	}

	var files []File
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		ok, err := path.Match(pattern, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		if ok {
			files = append(files, d.File(entry.Name()))
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files, nil
}

// RemoveAll deletes the directory and everything below it.
func (d Dir) RemoveAll() error {
	return os.RemoveAll(d.root)
}

// File is a handle to one file under a Dir.
type File struct {
	path string
}

// Path returns the absolute file path.
func (f File) Path() string {
	return f.path
}

// Name returns the base name of the file.
func (f File) Name() string {
	return filepath.Base(f.path)
}

// Exists reports whether the file exists.
func (f File) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// Remove deletes the file. A missing file is not an error.
func (f File) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", f.path, err)
	}
	return nil
}

// ReadBytes returns the file contents. The error wraps fs.ErrNotExist
// when the file is absent.
func (f File) ReadBytes() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	return data, nil
}

// WriteBytes replaces the file contents atomically.
func (f File) WriteBytes(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", f.path, err)
	}

	tmpFilePath := f.path + ".tmp"
	if err := os.WriteFile(tmpFilePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpFilePath, f.path); err != nil {
		os.Remove(tmpFilePath)
		return fmt.Errorf("failed to rename %s: %w", f.path, err)
	}
	return nil
}

// ReadJSON decodes the file into v. It returns false without error when
// the file does not exist.
func (f File) ReadJSON(v any) (bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", f.path, err)
	}
	return true, nil
}

// WriteJSON encodes v with indentation and writes it atomically.
func (f File) WriteJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", f.Name(), err)
	}
	return f.WriteBytes(data)
}

// SanitizeRelPath turns a manifest path into a safe relative slash path:
// backslashes become slashes, leading slashes are dropped and ".."
// segments cannot climb above the root.
func SanitizeRelPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}
