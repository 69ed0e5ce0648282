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
	"math"
	"math/rand"

	log "github.com/sirupsen/logrus"

	"github.com/pelicanplatform/mediacache/byte_range"
)

// sampleChecksum is a cheap sanity check of bytes read back from a data
// file.  The data is split into blockSize sub-blocks and floor(sqrt(n)) of
// them, chosen at random without replacement, must be fully present and
// have a byte sum of at least their length.  It catches truncated or
// zero-filled (sparse) regions, not bit flips.
func sampleChecksum(data []byte, blockSize int64, rng *rand.Rand) bool {
	if len(data) == 0 {
		return false
	}
	blocks := byte_range.Split(byte_range.New(0, int64(len(data))), blockSize)
	samples := int(math.Sqrt(float64(len(blocks))))

	for _, idx := range rng.Perm(len(blocks))[:samples] {
		block := blocks[idx]
		if block.Upper > int64(len(data)) {
			return false
		}
		var sum int64
		for _, b := range data[block.Lower:block.Upper] {
			sum += int64(b)
		}
		if sum < block.Len() {
			log.Tracef("Checksum of sub-block %s failed: sum %d", block, sum)
			return false
		}
	}
	return true
}
