// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package audiodriver

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio/v2"
)

const (
	filePerm = 0o644
	dirPerm  = 0o755
)

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// copyFile replaces dst atomically with the contents of src.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src) // #nosec G304 -- paths come from installer config
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	if err := renameio.WriteFile(dst, data, filePerm); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

// copyTree copies the regular files below src into dst, keeping the
// relative layout.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, dirPerm)
		case d.Type().IsRegular():
			return copyFile(path, target)
		default:
			// sockets, devices and links are not part of a HAL directory copy
			return nil
		}
	})
}

// sameContent reports whether both files exist and are byte-identical.
func sameContent(a, b string) bool {
	da, err := os.ReadFile(a) // #nosec G304
	if err != nil {
		return false
	}
	db, err := os.ReadFile(b) // #nosec G304
	if err != nil {
		return false
	}
	return bytes.Equal(da, db)
}

// fixPermissions makes the tree world-readable so system services can load
// the staged modules after the bind mount.
func fixPermissions(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.Chmod(path, dirPerm)
		}
		return os.Chmod(path, filePerm)
	})
}

// listTree returns "relative/path size" entries for diagnostics.
func listTree(root string) []string {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		size := int64(-1)
		if info, err := d.Info(); err == nil {
			size = info.Size()
		}
		out = append(out, fmt.Sprintf("%s %d", rel, size))
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		out = append(out, "error: "+err.Error())
	}
	sort.Strings(out)
	return out
}

// matchModules returns the base names in dir that look like prefix*.so.
func matchModules(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".so") {
			out = append(out, name)
		}
	}
	return out, nil
}
