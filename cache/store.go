// Package cache implements a content-addressed on-disk blob store with
// mtime-ordered LRU eviction, the harness's C8 component. It follows the
// teacher's cache_store.go mutex-and-filesystem shape, adapted from that
// file's JSON index+details pair to a flat key->blob map with no index
// file at all: eviction is driven purely by each file's own mtime.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shaban/perfharness/internal/taskworker"
)

const filePrefix = "perfharness_cache_"

// Store is a mutex-serialised, content-addressed directory of blobs with
// LRU eviction run on a worker thread. All filesystem failures are
// swallowed per spec: store becomes a no-op, reload reports a miss.
type Store struct {
	mu sync.Mutex

	dir      string
	maxFiles int

	purge *taskworker.Worker
}

// New opens (creating if necessary) a Store rooted at dir, evicting the
// oldest-mtime files once the file count exceeds maxFiles. maxFiles <= 0
// disables eviction.
func New(dir string, maxFiles int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &Store{dir: dir, maxFiles: maxFiles}
	s.purge = taskworker.New(s.runPurge)
	s.purge.Start()
	return s, nil
}

// Close stops the purge worker. The files on disk are left untouched.
func (s *Store) Close() {
	s.purge.Close()
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, filePrefix+key)
}

// Store atomically replaces the blob named key with data. Any filesystem
// error is swallowed and Store becomes a no-op for this call; the purge
// worker is triggered regardless, matching the teacher's "always signal,
// never propagate the write error" cache-write shape.
func (s *Store) Store(key string, data []byte) {
	s.mu.Lock()
	func() {
		defer s.mu.Unlock()
		tmp := s.path(key) + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return
		}
		_ = os.Rename(tmp, s.path(key))
	}()
	s.purge.Trigger()
}

// Reload reads the blob named key into dest.
//
//   - If the blob does not exist or is empty, it returns 0 (miss) and
//     does not touch dest.
//   - If dest is shorter than the blob's size, it returns the blob's
//     size without reading anything, so the caller can size a buffer and
//     call again.
//   - Otherwise it copies the blob into dest[:size], touches the file's
//     modification time (so it is never the next LRU victim merely for
//     having been read), and returns size.
func (s *Store) Reload(key string, dest []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.path(key)
	info, err := os.Stat(p)
	if err != nil || info.Size() == 0 {
		return 0
	}
	size := int(info.Size())
	if len(dest) < size {
		return size
	}

	data, err := os.ReadFile(p)
	if err != nil || len(data) < size {
		return 0
	}
	copy(dest, data[:size])
	touch(p)
	return size
}

// touch updates a file's modification time without altering its
// contents, by writing then truncating back one byte past the end: the
// portable mtime-bump the teacher's store avoids needing os.Chtimes for.
func touch(path string) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return
	}
	size := info.Size()
	if _, err := f.WriteAt([]byte{0}, size); err != nil {
		return
	}
	_ = f.Truncate(size)
}

// runPurge enumerates every blob under the prefix, sorts by mtime
// ascending, and deletes the oldest entries once count exceeds maxFiles.
// Individual delete errors are swallowed; the next trigger tries again.
func (s *Store) runPurge() {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}

	type stamped struct {
		path  string
		mtime time.Time
	}
	var files []stamped
	for _, e := range entries {
		if e.IsDir() || len(e.Name()) <= len(filePrefix) || e.Name()[:len(filePrefix)] != filePrefix {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, stamped{path: filepath.Join(s.dir, e.Name()), mtime: info.ModTime()})
	}
	if s.maxFiles <= 0 || len(files) <= s.maxFiles {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })
	victims := len(files) - s.maxFiles
	for _, f := range files[:victims] {
		_ = os.Remove(f.path)
	}
}

func (s *Store) String() string {
	return fmt.Sprintf("cache.Store(dir=%s, maxFiles=%d)", s.dir, s.maxFiles)
}
