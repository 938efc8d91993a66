// Package storage writes captured stills to a local directory.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cjeanneret/snapgo/internal/debug"
	"github.com/cjeanneret/snapgo/internal/session"
)

// Ext is the extension of every saved still.
const Ext = ".jpg"

// nameLayout is the timestamp part of a file name, e.g. 20240131_235959.
const nameLayout = "20060102_150405"

// ErrNoSnapshots is returned by Latest when the directory holds no stills.
var ErrNoSnapshots = errors.New("no snapshots saved yet")

// Saver stores stills under one directory.
type Saver struct {
	dir string
	now func() time.Time

	wg sync.WaitGroup
}

// New creates a saver for dir. The directory is created on first use.
func New(dir string) *Saver {
	return &Saver{dir: dir, now: time.Now}
}

// Dir returns the target directory.
func (s *Saver) Dir() string { return s.dir }

// Available checks that the directory exists, or can be created, and is
// writable. The error wraps session.ErrStorageUnavailable.
func (s *Saver) Available() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return session.Fail(session.ErrStorageUnavailable, err, "cannot create %s", s.dir)
	}
	f, err := os.CreateTemp(s.dir, ".probe-*")
	if err != nil {
		return session.Fail(session.ErrStorageUnavailable, err, "%s is not writable", s.dir)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}

// GenerateName returns a file name derived from the current time.
func (s *Saver) GenerateName() string {
	return s.now().Format(nameLayout) + Ext
}

// Save writes data to a new file and returns its path. Two stills taken
// within the same second get distinct names.
func (s *Saver) Save(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty image")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", session.Fail(session.ErrStorageUnavailable, err, "cannot create %s", s.dir)
	}

	name := s.GenerateName()
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		name = strings.TrimSuffix(name, Ext) + "_" + uuid.NewString()[:8] + Ext
		path = filepath.Join(s.dir, name)
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	}
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	debug.Verbose("Storage: saved %s (%d bytes)", path, len(data))
	return path, nil
}

// SaveAsync saves data on its own goroutine and reports through done,
// which may be nil.
func (s *Saver) SaveAsync(data []byte, done func(path string, err error)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		path, err := s.Save(data)
		if err != nil {
			debug.Errorf(err, "Storage: saving snapshot")
		}
		if done != nil {
			done(path, err)
		}
	}()
}

// Wait blocks until every SaveAsync has finished.
func (s *Saver) Wait() {
	s.wg.Wait()
}

// List returns the saved stills, oldest first.
func (s *Saver) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), Ext) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Latest returns the path of the most recent still.
func (s *Saver) Latest() (string, error) {
	names, err := s.List()
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", ErrNoSnapshots
	}
	return filepath.Join(s.dir, names[len(names)-1]), nil
}
