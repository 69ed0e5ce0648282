//go:build !windows

package media_cache

import (
	"syscall"

	"github.com/pkg/errors"
)

// freeSpace returns the bytes available to unprivileged users on the
// filesystem holding dir.
func freeSpace(dir string) (free uint64, err error) {
	var stat syscall.Statfs_t
	if err = syscall.Statfs(dir, &stat); err != nil {
		err = errors.Wrapf(err, "unable to determine free space for cache directory %s", dir)
		return
	}
	free = stat.Bavail * uint64(stat.Bsize)
	return
}
