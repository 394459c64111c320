// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package osproc

import (
	"fmt"
	"path/filepath"
)

// Mount is one entry of a mountinfo table.
type Mount struct {
	Source     string
	MountPoint string
	FSType     string
	Root       string
}

// Mounts returns the mount table as seen by pid (typically 1 for the global
// namespace, or the caller's own pid).
func (p *FS) Mounts(pid int) ([]Mount, error) {
	proc, err := p.fs.Proc(pid)
	if err != nil {
		return nil, fmt.Errorf("open pid %d: %w", pid, err)
	}
	infos, err := proc.MountInfo()
	if err != nil {
		return nil, fmt.Errorf("read mountinfo of pid %d: %w", pid, err)
	}
	out := make([]Mount, 0, len(infos))
	for _, mi := range infos {
		out = append(out, Mount{
			Source:     mi.Source,
			MountPoint: mi.MountPoint,
			FSType:     mi.FSType,
			Root:       mi.Root,
		})
	}
	return out, nil
}

// IsMountPoint reports whether path appears as a mount point in mounts.
func IsMountPoint(mounts []Mount, path string) bool {
	path = filepath.Clean(path)
	for _, m := range mounts {
		if filepath.Clean(m.MountPoint) == path {
			return true
		}
	}
	return false
}
