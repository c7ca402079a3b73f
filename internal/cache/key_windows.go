package cache

import (
	"path/filepath"
	"strings"
)

// normKey folds case because NTFS paths are case-insensitive.
func normKey(path string) string {
	return strings.ToLower(filepath.Clean(path))
}
