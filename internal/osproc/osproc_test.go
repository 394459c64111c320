// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package osproc

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeProc lays out the subset of /proc/<pid> that the package reads.
func writeProc(t *testing.T, root string, pid int, comm, state string) {
	t.Helper()
	dir := filepath.Join(root, strconv.Itoa(pid))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "comm"), []byte(comm+"\n"), 0o644))
	stat := fmt.Sprintf("%d (%s) %s 1 %d 1 0 -1 4194304 81 0 0 0 0 0 0 0 20 0 1 0 42149 2703360 286 "+
		"18446744073709551615 94432432939008 94432432958889 140734975133456 0 0 0 0 0 0 0 0 0 17 0 0 0 0 0 0 "+
		"94432432974896 94432432976512 94433383391232 140734975141186 140734975141206 140734975141206 140734975143915 0\n",
		pid, comm, state, pid)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stat"), []byte(stat), 0o644))
}

func TestFindByName(t *testing.T) {
	root := t.TempDir()
	writeProc(t, root, 1, "init", "S")
	writeProc(t, root, 812, "mediaserver", "S")
	writeProc(t, root, 640, "audioserver", "S")

	p, err := New(root)
	require.NoError(t, err)

	pid, err := p.FindByName("mediaserver")
	require.NoError(t, err)
	assert.Equal(t, 812, pid)

	pid, err = p.FindByName("mediaserver", "audioserver")
	require.NoError(t, err)
	assert.Equal(t, 640, pid, "lowest matching pid wins")

	_, err = p.FindByName("cameraserver")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAlive(t *testing.T) {
	root := t.TempDir()
	writeProc(t, root, 812, "mediaserver", "S")
	writeProc(t, root, 813, "defunct", "Z")

	p, err := New(root)
	require.NoError(t, err)

	assert.True(t, p.Alive(812))
	assert.False(t, p.Alive(813))
	assert.False(t, p.Alive(999))
	assert.False(t, p.Alive(0))
}

func TestMounts(t *testing.T) {
	root := t.TempDir()
	writeProc(t, root, 1, "init", "S")
	mountinfo := "" +
		"15 1 259:1 / / ro,relatime shared:1 - ext4 /dev/root ro\n" +
		"42 15 259:3 /data/local/rootcap /system/lib/hw rw,relatime shared:20 - ext4 /dev/block/dm-2 rw\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "1", "mountinfo"), []byte(mountinfo), 0o644))

	p, err := New(root)
	require.NoError(t, err)

	mounts, err := p.Mounts(1)
	require.NoError(t, err)
	require.Len(t, mounts, 2)
	assert.True(t, IsMountPoint(mounts, "/system/lib/hw/"))
	assert.False(t, IsMountPoint(mounts, "/vendor/lib/hw"))
	assert.Equal(t, "/data/local/rootcap", mounts[1].Root)

	_, err = p.Mounts(2)
	assert.Error(t, err)
}
