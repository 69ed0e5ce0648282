//go:build windows

package media_cache

import (
	"github.com/pkg/errors"
)

// freeSpace is not available on Windows; the auto write mode then never
// allows writes and logs why.
func freeSpace(dir string) (uint64, error) {
	return 0, errors.Errorf("free space of %s cannot be determined on this platform", dir)
}
