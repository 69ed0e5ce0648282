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
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"
)

const (
	dbSubDir = "db"

	gcInterval     = 5 * time.Minute
	maxTxnAttempts = 5
)

// CacheDB wraps BadgerDB with the metadata and usage tables of the cache
type CacheDB struct {
	db        *badger.DB
	closeOnce sync.Once
}

// NewCacheDB opens (creating if needed) the database under baseDir
func NewCacheDB(baseDir string) (*CacheDB, error) {
	dbPath := filepath.Join(baseDir, dbSubDir)
	if err := os.MkdirAll(dbPath, 0750); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	opts := badger.DefaultOptions(dbPath)
	// Metadata writes are committed per transaction; a crash may only lose
	// coverage that will simply be re-downloaded.
	opts.SyncWrites = false
	opts.ValueThreshold = 4096
	opts.Logger = &badgerLogger{}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open BadgerDB")
	}

	log.Infof("Media cache database initialized at %s", dbPath)
	return &CacheDB{db: db}, nil
}

// Close closes the database
func (cdb *CacheDB) Close() error {
	var closeErr error
	cdb.closeOnce.Do(func() {
		closeErr = cdb.db.Close()
	})
	return closeErr
}

// StartGC starts the background value-log garbage collection goroutine
func (cdb *CacheDB) StartGC(ctx context.Context, egrp *errgroup.Group) {
	egrp.Go(func() error {
		ticker := time.NewTicker(gcInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				err := cdb.db.RunValueLogGC(0.5)
				if err != nil && !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrDBClosed) {
					log.Warnf("BadgerDB GC error: %v", err)
				}
			}
		}
	})
}

// update runs fn in a read-write transaction, retrying on conflicts
func (cdb *CacheDB) update(fn func(txn *badger.Txn) error) error {
	backoff := time.Millisecond
	for attempt := 0; ; attempt++ {
		err := cdb.db.Update(fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, badger.ErrConflict) && attempt < maxTxnAttempts-1 {
			jitter := time.Duration(rand.Int63n(int64(backoff)))
			time.Sleep(backoff + jitter)
			backoff = min(backoff*2, 50*time.Millisecond)
			continue
		}
		return err
	}
}

func getRecord(txn *badger.Txn, key []byte, out interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return msgpack.Unmarshal(val, out)
	})
}

func setRecord(txn *badger.Txn, key []byte, in interface{}) error {
	data, err := msgpack.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "failed to marshal record")
	}
	return txn.Set(key, data)
}

// --- Metadata Operations ---

// GetMetadata retrieves the metadata record for a resource; a missing
// record is reported as (nil, nil)
func (cdb *CacheDB) GetMetadata(cacheKey string) (*metadataRecord, error) {
	var rec metadataRecord
	err := cdb.db.View(func(txn *badger.Txn) error {
		return getRecord(txn, metaKey(cacheKey), &rec)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to get metadata for %s", cacheKey)
	}
	return &rec, nil
}

// SetMetadata stores the metadata record for a resource in one transaction
func (cdb *CacheDB) SetMetadata(cacheKey string, rec *metadataRecord) error {
	return cdb.update(func(txn *badger.Txn) error {
		return setRecord(txn, metaKey(cacheKey), rec)
	})
}

// DeleteMetadata removes the metadata record for a resource
func (cdb *CacheDB) DeleteMetadata(cacheKey string) error {
	return cdb.update(func(txn *badger.Txn) error {
		if err := txn.Delete(metaKey(cacheKey)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
}

// ScanMetadata iterates over all metadata records
func (cdb *CacheDB) ScanMetadata(fn func(cacheKey string, rec *metadataRecord) error) error {
	return cdb.db.View(func(txn *badger.Txn) error {
		prefix := []byte(PrefixMeta)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			cacheKey := string(item.Key()[len(PrefixMeta):])

			var rec metadataRecord
			err := item.Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rec)
			})
			if err != nil {
				log.Warnf("Failed to unmarshal metadata for %s: %v", cacheKey, err)
				continue
			}
			if err := fn(cacheKey, &rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- Usage Operations ---

// SetUsage stores the LRU usage record for a resource
func (cdb *CacheDB) SetUsage(cacheKey string, rec UsageRecord) error {
	return cdb.update(func(txn *badger.Txn) error {
		return setRecord(txn, usageKey(cacheKey), &rec)
	})
}

// DeleteUsage removes the LRU usage record for a resource
func (cdb *CacheDB) DeleteUsage(cacheKey string) error {
	return cdb.update(func(txn *badger.Txn) error {
		if err := txn.Delete(usageKey(cacheKey)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
}

// LoadUsage returns every persisted usage record keyed by cache key
func (cdb *CacheDB) LoadUsage() (map[string]UsageRecord, error) {
	result := make(map[string]UsageRecord)
	err := cdb.db.View(func(txn *badger.Txn) error {
		prefix := []byte(PrefixUsage)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			cacheKey := string(item.Key()[len(PrefixUsage):])
			var rec UsageRecord
			if err := item.Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &rec)
			}); err != nil {
				log.Warnf("Failed to unmarshal usage record for %s: %v", cacheKey, err)
				continue
			}
			result[cacheKey] = rec
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to load usage table")
	}
	return result, nil
}

// badgerLogger adapts logrus to BadgerDB's logger interface
type badgerLogger struct{}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	log.Errorf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	log.Warnf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	log.Debugf("[BadgerDB] "+format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	log.Tracef("[BadgerDB] "+format, args...)
}

var _ badger.Logger = (*badgerLogger)(nil)
