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
	"io"
)

// chunkReader accumulates a byte stream into chunks of a fixed size.  Each
// call to Next fills a fresh buffer, so the memory held per session is one
// chunk and callers may keep the returned slice.
type chunkReader struct {
	r    io.Reader
	size int
}

func newChunkReader(r io.Reader, size int) *chunkReader {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &chunkReader{r: r, size: size}
}

// Next returns the next chunk.  At the end of the stream the remainder is
// returned together with io.EOF.  On a read failure the bytes received so
// far are returned alongside the error.
func (c *chunkReader) Next() ([]byte, error) {
	buf := make([]byte, c.size)
	n, err := io.ReadFull(c.r, buf)
	// ReadFull returns the sentinel itself for a short final chunk
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return buf[:n], err
}
