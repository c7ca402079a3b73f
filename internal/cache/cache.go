package cache

import (
	"context"
	"log/slog"
	"maps"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	gitignore "github.com/sabhiram/go-gitignore"
)

type Options struct {
	// IgnoreWindow is how long an accepted file change suppresses further reports of the
	// same path. Zero uses DefaultIgnoreWindow.
	IgnoreWindow time.Duration

	// Extensions limits file changes to these extensions, compared case-insensitively.
	// Empty allows every file.
	Extensions []string

	// Ignore holds gitignore style patterns, matched against root relative paths.
	// Ignored entries are never walked nor reported.
	Ignore []string
}

// Cache holds the last known state of the tree below root and reconciles it with changes
// reported by the event source and by full walks.
//
// The directory and file maps are guarded by separate locks that are never held
// together. Filtering happens outside the locks, so two sources racing on one path
// decide only which of them reports the change.
type Cache struct {
	root string

	dirs   map[string]string
	dirsMu sync.RWMutex

	files   map[string]FileRecord
	filesMu sync.RWMutex

	extensions     mapset.Set[string]
	filtersEnabled atomic.Bool
	ignore         *gitignore.GitIgnore
	ledger         *Ledger

	onError atomic.Pointer[ErrorHandler]
}

func New(root string, opts Options) *Cache {
	window := opts.IgnoreWindow
	if window == 0 {
		window = DefaultIgnoreWindow
	}

	extensions := mapset.NewSet[string]()
	for _, ext := range opts.Extensions {
		if ext = normExtension(ext); ext != "" {
			extensions.Add(ext)
		}
	}

	var ignore *gitignore.GitIgnore
	if len(opts.Ignore) > 0 {
		ignore = gitignore.CompileIgnoreLines(opts.Ignore...)
	}

	c := &Cache{
		root:       filepath.Clean(root),
		dirs:       make(map[string]string),
		files:      make(map[string]FileRecord),
		extensions: extensions,
		ignore:     ignore,
		ledger:     NewLedger(window),
	}
	c.filtersEnabled.Store(true)
	return c
}

func (c *Cache) Root() string {
	return c.root
}

// Ledger exposes the debounce ledger shared by Patch and Refresh.
func (c *Cache) Ledger() *Ledger {
	return c.ledger
}

func (c *Cache) SetErrorHandler(fn ErrorHandler) {
	if fn == nil {
		c.onError.Store(nil)
		return
	}
	c.onError.Store(&fn)
}

// Initialize replaces the held state with a fresh walk of the tree. The walk never
// filters by extension; enableFilters decides whether filtering applies afterwards.
func (c *Cache) Initialize(ctx context.Context, enableFilters bool) error {
	snap, err := c.scan(ctx)
	if err != nil {
		return err
	}

	c.dirsMu.Lock()
	c.dirs = snap.dirs
	c.dirsMu.Unlock()

	c.filesMu.Lock()
	c.files = snap.files
	c.filesMu.Unlock()

	c.AdjustFilters(enableFilters)

	slog.Debug("cache initialized", "root", c.root, "dirs", len(snap.dirs), "files", len(snap.files))
	return nil
}

// Refresh walks the tree, diffs it against the held state and applies every accepted
// difference, reporting it to h. It returns true if anything was accepted. A cancelled
// context aborts the walk and nothing is applied.
func (c *Cache) Refresh(ctx context.Context, h Handler) bool {
	snap, err := c.scan(ctx)
	if err != nil {
		return false
	}
	return c.apply(snap, h)
}

func (c *Cache) apply(snap *snapshot, h Handler) bool {
	c.dirsMu.RLock()
	prevDirs := maps.Clone(c.dirs)
	c.dirsMu.RUnlock()

	c.filesMu.RLock()
	prevFiles := maps.Clone(c.files)
	c.filesMu.RUnlock()

	createdDirs, deletedDirs, _ := diffKeys(prevDirs, snap.dirs, nil)
	createdFiles, deletedFiles, changedFiles := diffKeys(prevFiles, snap.files, fingerprintDiffers)

	changed := false

	for _, key := range deletedDirs {
		if c.removeDir(key) {
			emit(h, Change{Kind: DirectoryDeleted, Path: prevDirs[key]})
			changed = true
		}
	}
	for _, key := range createdDirs {
		if c.addDir(key, snap.dirs[key]) {
			emit(h, Change{Kind: DirectoryCreated, Path: snap.dirs[key]})
			changed = true
		}
	}
	for _, key := range deletedFiles {
		rec := prevFiles[key]
		if c.acceptFile(key, rec.Path, func() bool { return c.removeFile(key) }) {
			emit(h, Change{Kind: FileDeleted, Path: rec.Path})
			changed = true
		}
	}
	for _, key := range createdFiles {
		rec := snap.files[key]
		if c.acceptFile(key, rec.Path, func() bool { return c.addFile(key, rec) }) {
			emit(h, Change{Kind: FileCreated, Path: rec.Path})
			changed = true
		}
	}
	for _, key := range changedFiles {
		rec := snap.files[key]
		if c.acceptFile(key, rec.Path, func() bool { return c.updateFile(key, rec) }) {
			emit(h, Change{Kind: FileChanged, Path: rec.Path})
			changed = true
		}
	}

	return changed
}

// Patch applies a single change reported by the event source and returns whether it was
// accepted. Directory changes are accepted when they add or remove a known directory.
// File changes must also pass the extension filter and must not fall inside the ignore
// window of an earlier accepted change.
func (c *Cache) Patch(ch Change) bool {
	if ch.Path == "" || c.ignored(ch.Path) {
		return false
	}

	key := normKey(ch.Path)

	switch ch.Kind {
	case DirectoryCreated:
		return c.addDir(key, ch.Path)
	case DirectoryDeleted:
		return c.removeDir(key)
	case FileCreated:
		return c.acceptFile(key, ch.Path, func() bool {
			return c.addFile(key, newFileRecord(ch.Path, Fingerprint(ch.Path)))
		})
	case FileChanged:
		return c.acceptFile(key, ch.Path, func() bool {
			return c.updateFile(key, newFileRecord(ch.Path, Fingerprint(ch.Path)))
		})
	case FileDeleted:
		return c.acceptFile(key, ch.Path, func() bool {
			return c.removeFile(key)
		})
	}
	return false
}

// IsDirectory reports whether path is a known directory. Deleted paths no longer exist
// on disk, so the held state is the only record of what they were.
func (c *Cache) IsDirectory(path string) bool {
	c.dirsMu.RLock()
	defer c.dirsMu.RUnlock()
	_, ok := c.dirs[normKey(path)]
	return ok
}

// AdjustFilters turns extension filtering on or off. Off allows every file.
func (c *Cache) AdjustFilters(enable bool) {
	c.filtersEnabled.Store(enable)
}

// Len returns the number of held directories and files.
func (c *Cache) Len() (dirs, files int) {
	c.dirsMu.RLock()
	dirs = len(c.dirs)
	c.dirsMu.RUnlock()

	c.filesMu.RLock()
	files = len(c.files)
	c.filesMu.RUnlock()
	return dirs, files
}

// File returns the held record for path.
func (c *Cache) File(path string) (FileRecord, bool) {
	c.filesMu.RLock()
	defer c.filesMu.RUnlock()
	rec, ok := c.files[normKey(path)]
	return rec, ok
}

func (c *Cache) acceptFile(key, path string, apply func() bool) bool {
	if !c.fileAllowed(key, path) || !apply() {
		return false
	}
	c.ledger.Add(key)
	return true
}

func (c *Cache) fileAllowed(key, path string) bool {
	if c.ledger.Suppressed(key) {
		return false
	}
	if !c.filtersEnabled.Load() || c.extensions.Cardinality() == 0 {
		return true
	}
	return c.extensions.Contains(strings.ToLower(filepath.Ext(path)))
}

func (c *Cache) ignored(path string) bool {
	if c.ignore == nil {
		return false
	}
	rel, err := filepath.Rel(c.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	return c.ignore.MatchesPath(filepath.ToSlash(rel))
}

func (c *Cache) addDir(key, path string) bool {
	c.dirsMu.Lock()
	defer c.dirsMu.Unlock()
	if _, ok := c.dirs[key]; ok {
		return false
	}
	c.dirs[key] = path
	return true
}

func (c *Cache) removeDir(key string) bool {
	c.dirsMu.Lock()
	defer c.dirsMu.Unlock()
	if _, ok := c.dirs[key]; !ok {
		return false
	}
	delete(c.dirs, key)
	return true
}

func (c *Cache) addFile(key string, rec FileRecord) bool {
	c.filesMu.Lock()
	defer c.filesMu.Unlock()
	if _, ok := c.files[key]; ok {
		return false
	}
	c.files[key] = rec
	return true
}

func (c *Cache) updateFile(key string, rec FileRecord) bool {
	c.filesMu.Lock()
	defer c.filesMu.Unlock()
	prev, ok := c.files[key]
	if !ok || prev.Fingerprint == rec.Fingerprint {
		return false
	}
	c.files[key] = rec
	return true
}

func (c *Cache) removeFile(key string) bool {
	c.filesMu.Lock()
	defer c.filesMu.Unlock()
	if _, ok := c.files[key]; !ok {
		return false
	}
	delete(c.files, key)
	return true
}

func (c *Cache) reportError(path string, err error) {
	slog.Warn("cache error", "path", path, "error", err)
	if fn := c.onError.Load(); fn != nil {
		(*fn)(path, err)
	}
}

func normExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
