/***************************************************************
 *
 * Copyright (C) 2025, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package media_cache

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	dataSubDir = "data"

	openFileTTL       = 2 * time.Minute
	openFileCacheSize = 64
)

// removeFileWithRetry removes a file, retrying briefly on Windows where the
// asynchronous eviction callback may still hold the handle open.
func removeFileWithRetry(name string) error {
	err := os.Remove(name)
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	if runtime.GOOS != "windows" {
		return err
	}
	for attempt := 0; attempt < 5; attempt++ {
		time.Sleep(10 * time.Millisecond)
		err = os.Remove(name)
		if err == nil || os.IsNotExist(err) {
			return nil
		}
	}
	return err
}

// openForWrite opens name read-write, creating the file and its parent
// directory as needed.
func openForWrite(name string) (*os.File, error) {
	fp, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0600)
	if err == nil {
		return fp, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if mkdirErr := os.MkdirAll(filepath.Dir(name), 0750); mkdirErr != nil {
		return nil, mkdirErr
	}
	return os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0600)
}

// noCopy may be added to structs which must not be copied after the first
// use.  go vet's -copylocks checker flags copies of types with a Lock method.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// dataHandle is the pair of read and write handles for one data file,
// reference counted so that a TTL eviction never closes a file that has
// I/O in progress.
type dataHandle struct {
	_      noCopy
	reader *os.File
	writer *os.File
	refs   atomic.Int32
}

func newDataHandle(reader, writer *os.File) *dataHandle {
	h := &dataHandle{reader: reader, writer: writer}
	h.refs.Store(1)
	return h
}

// Acquire increments the reference count; it returns false once the
// handle has been fully released.
func (h *dataHandle) Acquire() bool {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return false
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference and closes both files on the last one.
func (h *dataHandle) Release() {
	if n := h.refs.Add(-1); n == 0 {
		_ = h.reader.Close()
		_ = h.writer.Close()
	}
}

// FileStore manages the per-resource data files under <base>/data.
type FileStore struct {
	dir string

	// Per-file locks; every read, write, truncate and delete of a data
	// file holds its lock.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	handles *ttlcache.Cache[string, *dataHandle]
	reaping bool
}

// NewFileStore prepares the data directory.  When egrp is non-nil the TTL
// reaper of the handle cache runs inside it.
func NewFileStore(baseDir string, egrp *errgroup.Group) (*FileStore, error) {
	dir := filepath.Join(baseDir, dataSubDir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errors.Wrap(err, "failed to create data directory")
	}
	fs := &FileStore{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
		handles: ttlcache.New[string, *dataHandle](
			ttlcache.WithTTL[string, *dataHandle](openFileTTL),
			ttlcache.WithCapacity[string, *dataHandle](openFileCacheSize),
		),
	}
	fs.handles.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[string, *dataHandle]) {
		if h := item.Value(); h != nil {
			h.Release()
		}
	})
	if egrp != nil {
		fs.reaping = true
		egrp.Go(func() error { fs.handles.Start(); return nil })
	}
	return fs, nil
}

// Dir returns the directory holding the data files.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// Path returns the data file path for a resource.
func (fs *FileStore) Path(res Resource) string {
	return filepath.Join(fs.dir, res.DataFileName())
}

func (fs *FileStore) lockFor(name string) *sync.Mutex {
	fs.locksMu.Lock()
	defer fs.locksMu.Unlock()
	mu, ok := fs.locks[name]
	if !ok {
		mu = &sync.Mutex{}
		fs.locks[name] = mu
	}
	return mu
}

// handle returns an acquired handle for name; the caller must Release it.
func (fs *FileStore) handle(name string, create bool) (*dataHandle, error) {
	if item := fs.handles.Get(name); item != nil {
		if h := item.Value(); h.Acquire() {
			return h, nil
		}
	}

	path := filepath.Join(fs.dir, name)
	if !create {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
	}
	writer, err := openForWrite(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open data file for writing")
	}
	reader, err := os.Open(path)
	if err != nil {
		_ = writer.Close()
		return nil, errors.Wrap(err, "failed to open data file for reading")
	}

	h := newDataHandle(reader, writer)
	// The cache holds its own reference
	h.Acquire()
	fs.handles.Set(name, h, ttlcache.DefaultTTL)
	return h, nil
}

// WriteAt writes p at off in the resource's data file, creating the file
// if needed.
func (fs *FileStore) WriteAt(res Resource, p []byte, off int64) (int, error) {
	name := res.DataFileName()
	mu := fs.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	h, err := fs.handle(name, true)
	if err != nil {
		return 0, err
	}
	defer h.Release()
	return h.writer.WriteAt(p, off)
}

// ReadAt reads len(p) bytes at off.  A short read returns io.EOF or
// io.ErrUnexpectedEOF along with the count.
func (fs *FileStore) ReadAt(res Resource, p []byte, off int64) (int, error) {
	name := res.DataFileName()
	mu := fs.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	h, err := fs.handle(name, false)
	if err != nil {
		return 0, err
	}
	defer h.Release()
	n, err := h.reader.ReadAt(p, off)
	if errors.Is(err, io.EOF) && n > 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

// Size returns the size of the data file, or 0 if it does not exist.
func (fs *FileStore) Size(res Resource) (int64, error) {
	fi, err := os.Stat(fs.Path(res))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return fi.Size(), nil
}

// Exists reports whether the resource has a data file.
func (fs *FileStore) Exists(res Resource) bool {
	_, err := os.Stat(fs.Path(res))
	return err == nil
}

// Truncate shrinks (or extends) the data file to size bytes.
func (fs *FileStore) Truncate(res Resource, size int64) error {
	name := res.DataFileName()
	mu := fs.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	if err := os.Truncate(filepath.Join(fs.dir, name), size); err != nil {
		return errors.Wrapf(err, "failed to truncate %s to %d bytes", name, size)
	}
	return nil
}

// Sync flushes the open write handle of a resource, if any.
func (fs *FileStore) Sync(res Resource) error {
	name := res.DataFileName()
	mu := fs.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	item := fs.handles.Get(name)
	if item == nil {
		return nil
	}
	h := item.Value()
	if !h.Acquire() {
		return nil
	}
	defer h.Release()
	return h.writer.Sync()
}

// Remove deletes a resource's data file and drops its cached handle.
func (fs *FileStore) Remove(res Resource) error {
	return fs.RemoveFile(res.DataFileName())
}

// RemoveFile deletes a data file by name.
func (fs *FileStore) RemoveFile(name string) error {
	mu := fs.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	fs.handles.Delete(name)
	if err := removeFileWithRetry(filepath.Join(fs.dir, name)); err != nil {
		return errors.Wrapf(err, "failed to remove data file %s", name)
	}
	return nil
}

// Import copies src into the resource's data file, replacing its content.
func (fs *FileStore) Import(res Resource, src string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, errors.Wrap(err, "failed to open import source")
	}
	defer in.Close()

	name := res.DataFileName()
	mu := fs.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	fs.handles.Delete(name)
	out, err := os.OpenFile(filepath.Join(fs.dir, name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create data file")
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, errors.Wrap(err, "failed to import data file")
	}
	return n, nil
}

// FileInfo describes one file in the data directory.
type FileInfo struct {
	Name string
	Size int64
}

// List returns every regular file in the data directory.
func (fs *FileStore) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list data directory")
	}
	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			log.Debugf("Skipping %s while listing data directory: %v", entry.Name(), err)
			continue
		}
		files = append(files, FileInfo{Name: entry.Name(), Size: info.Size()})
	}
	return files, nil
}

// TotalSize returns the sum of all data file sizes.
func (fs *FileStore) TotalSize() (int64, error) {
	files, err := fs.List()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total, nil
}

// Close drops every cached handle and stops the reaper.
func (fs *FileStore) Close() {
	fs.handles.DeleteAll()
	// Stop blocks until the reaper receives it
	if fs.reaping {
		fs.handles.Stop()
	}
}
