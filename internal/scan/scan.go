// Package scan discovers candidate media files on disk.
package scan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Discover walks root, collects regular files whose extension is in
// extensions (lowercase, without leading dot), and returns absolute
// paths sorted lexicographically for a deterministic candidate order.
// Unreadable subdirectories are skipped, not fatal; an invalid root is.
func Discover(root string, extensions []string, recursive bool) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan %s: not a directory", root)
	}

	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts["."+strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if !recursive && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if exts[strings.ToLower(filepath.Ext(path))] {
			abs, err := filepath.Abs(path)
			if err != nil {
				abs = path
			}
			files = append(files, abs)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}
