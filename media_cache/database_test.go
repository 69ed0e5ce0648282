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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelicanplatform/mediacache/byte_range"
)

func newTestDB(t *testing.T) *CacheDB {
	db, err := NewCacheDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCacheDBMetadata(t *testing.T) {
	db := newTestDB(t)

	rec, err := db.GetMetadata("missing")
	require.NoError(t, err)
	assert.Nil(t, rec, "A missing record is not an error")

	synced := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := &metadataRecord{
		URL:      "https://media.example.com/show.mp4",
		DataFile: "abc.mp4",
		Info:     ContentInfo{Type: "video/mp4", TotalLength: 4096, ByteRangeAccessSupported: true},
		Fragments: []byte_range.ByteRange{
			byte_range.New(0, 100),
			byte_range.New(200, 300),
		},
		ReservedLength: 100,
		LastSync:       synced,
	}
	require.NoError(t, db.SetMetadata("key1", in))

	out, err := db.GetMetadata("key1")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.URL, out.URL)
	assert.Equal(t, in.DataFile, out.DataFile)
	assert.Equal(t, in.Info, out.Info)
	assert.Equal(t, in.Fragments, out.Fragments)
	assert.Equal(t, in.ReservedLength, out.ReservedLength)
	assert.True(t, synced.Equal(out.LastSync))

	require.NoError(t, db.SetMetadata("key2", &metadataRecord{URL: "https://media.example.com/other.mp3"}))
	seen := map[string]string{}
	require.NoError(t, db.ScanMetadata(func(cacheKey string, rec *metadataRecord) error {
		seen[cacheKey] = rec.URL
		return nil
	}))
	assert.Equal(t, map[string]string{
		"key1": "https://media.example.com/show.mp4",
		"key2": "https://media.example.com/other.mp3",
	}, seen)

	require.NoError(t, db.DeleteMetadata("key1"))
	require.NoError(t, db.DeleteMetadata("key1"), "Deleting twice is fine")
	out, err = db.GetMetadata("key1")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestCacheDBUsage(t *testing.T) {
	db := newTestDB(t)

	access := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.SetUsage("a", UsageRecord{URL: "https://a", LastAccess: access, Count: 3, Weight: 99}))
	require.NoError(t, db.SetUsage("b", UsageRecord{URL: "https://b", LastAccess: access.Add(time.Minute), Count: 1}))

	// Usage records share the database with metadata; only "u:" keys load
	require.NoError(t, db.SetMetadata("a", &metadataRecord{URL: "https://a"}))

	usage, err := db.LoadUsage()
	require.NoError(t, err)
	require.Len(t, usage, 2)
	assert.Equal(t, int64(3), usage["a"].Count)
	assert.Equal(t, int64(0), usage["a"].Weight, "Weight is never persisted")
	assert.True(t, access.Equal(usage["a"].LastAccess))
	assert.Equal(t, "https://b", usage["b"].URL)

	require.NoError(t, db.DeleteUsage("a"))
	usage, err = db.LoadUsage()
	require.NoError(t, err)
	assert.Len(t, usage, 1)

	rec, err := db.GetMetadata("a")
	require.NoError(t, err)
	assert.NotNil(t, rec, "Deleting usage leaves metadata alone")
}

func TestCacheDBReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := NewCacheDB(dir)
	require.NoError(t, err)
	require.NoError(t, db.SetUsage("a", UsageRecord{URL: "https://a", Count: 2}))
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "Close is idempotent")

	db, err = NewCacheDB(dir)
	require.NoError(t, err)
	defer db.Close()
	usage, err := db.LoadUsage()
	require.NoError(t, err)
	assert.Equal(t, int64(2), usage["a"].Count)
}
