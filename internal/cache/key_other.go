//go:build !windows

package cache

import "path/filepath"

func normKey(path string) string {
	return filepath.Clean(path)
}
