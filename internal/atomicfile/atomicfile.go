// Package atomicfile writes files so readers never observe a partial result.
package atomicfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Pending is a fully written temporary file waiting to be renamed over its
// target. Exactly one of Commit or Discard should be called.
type Pending struct {
	path string
	tmp  string
}

// Path is the file Commit replaces.
func (p *Pending) Path() string { return p.path }

// Commit renames the temporary file into place.
func (p *Pending) Commit() error {
	if err := os.Rename(p.tmp, p.path); err != nil {
		_ = os.Remove(p.tmp)
		return fmt.Errorf("rename into %s: %w", p.path, err)
	}
	return nil
}

// Discard removes the temporary file and leaves path untouched.
func (p *Pending) Discard() {
	_ = os.Remove(p.tmp)
}

// Stage streams content into a temporary file beside path and syncs it,
// without touching path. On error the temporary file is removed.
func Stage(path string, write func(io.Writer) error) (_ *Pending, err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = write(bw); err != nil {
		return nil, err
	}
	if err = bw.Flush(); err != nil {
		return nil, fmt.Errorf("flush %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return nil, fmt.Errorf("sync %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", path, err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return nil, fmt.Errorf("chmod %s: %w", path, err)
	}
	return &Pending{path: path, tmp: tmp.Name()}, nil
}

// Write stages content and renames it into place only after write succeeds
// and the data is synced. On any error path is left untouched.
func Write(path string, write func(io.Writer) error) error {
	p, err := Stage(path, write)
	if err != nil {
		return err
	}
	return p.Commit()
}

// WriteAll stages every file before renaming any of them, so a failure while
// producing one file leaves all targets untouched.
func WriteAll(paths []string, write func(i int, w io.Writer) error) error {
	staged := make([]*Pending, 0, len(paths))
	for i, path := range paths {
		p, err := Stage(path, func(w io.Writer) error { return write(i, w) })
		if err != nil {
			for _, s := range staged {
				s.Discard()
			}
			return err
		}
		staged = append(staged, p)
	}
	for i, p := range staged {
		if err := p.Commit(); err != nil {
			for _, rest := range staged[i+1:] {
				rest.Discard()
			}
			return err
		}
	}
	return nil
}
