package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"
)

const refreshBackoff = 100 * time.Millisecond

var ErrRootNotDir = errors.New("watch root is not a directory")

// FileRecord is the held state of one file. Records are values; an update replaces the
// map entry instead of mutating it.
type FileRecord struct {
	Path        string
	Fingerprint uint64
	Dir         string
}

func newFileRecord(path string, fingerprint uint64) FileRecord {
	return FileRecord{
		Path:        path,
		Fingerprint: fingerprint,
		Dir:         filepath.Dir(path),
	}
}

type snapshot struct {
	dirs  map[string]string
	files map[string]FileRecord
}

func newSnapshot() *snapshot {
	return &snapshot{
		dirs:  make(map[string]string),
		files: make(map[string]FileRecord),
	}
}

// walk takes a full snapshot of the tree below root. Errors on individual entries are
// reported and skipped; an error on the root itself fails the walk. The context is
// checked before every entry.
func (c *Cache) walk(ctx context.Context) (*snapshot, error) {
	snap := newSnapshot()

	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if walkErr != nil {
			if path == c.root {
				return fmt.Errorf("walk root: %w", walkErr)
			}
			if !errors.Is(walkErr, fs.ErrNotExist) {
				c.reportError(path, walkErr)
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if path == c.root {
			if !d.IsDir() {
				return fmt.Errorf("%w: %s", ErrRootNotDir, path)
			}
			return nil
		}

		if c.ignored(path) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			snap.dirs[normKey(path)] = path
			return nil
		}

		var fingerprint uint64
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					c.reportError(path, fmt.Errorf("file info: %w", err))
				}
				return nil
			}
			fingerprint = fingerprintOf(info.Size(), info.ModTime())
		} else {
			// symlinks and special files are fingerprinted through their target, the same
			// way the event path sees them
			fingerprint = Fingerprint(path)
		}

		snap.files[normKey(path)] = newFileRecord(path, fingerprint)
		return nil
	})

	if err != nil {
		return nil, err
	}
	return snap, nil
}

// scan walks until a walk completes. Whole-walk failures are reported and retried after
// a short backoff; only cancellation ends the loop early.
func (c *Cache) scan(ctx context.Context) (*snapshot, error) {
	for {
		snap, err := c.walk(ctx)
		if err == nil {
			return snap, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		c.reportError(c.root, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(refreshBackoff):
		}
	}
}
