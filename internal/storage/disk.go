package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SpaceInfo is a snapshot of the recording filesystem.
type SpaceInfo struct {
	TotalBytes uint64
	FreeBytes  uint64
}

// FreePercent reports free space as a percentage of the filesystem.
func (s SpaceInfo) FreePercent() float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return float64(s.FreeBytes) / float64(s.TotalBytes) * 100.0
}

// SpaceProbe reads filesystem capacity for a path. Injectable for tests.
type SpaceProbe func(path string) (SpaceInfo, error)

// StatfsProbe is the production probe backed by statfs(2).
func StatfsProbe(path string) (SpaceInfo, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return SpaceInfo{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	return SpaceInfo{
		TotalBytes: st.Blocks * bsize,
		FreeBytes:  st.Bavail * bsize,
	}, nil
}
