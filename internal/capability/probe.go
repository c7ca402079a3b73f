package capability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/fswatch/internal/cache"
	"github.com/openmined/fswatch/internal/fsw"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultProbeTimeout = 3 * time.Second
	probeCheckInterval  = 10 * time.Millisecond
)

type Options struct {
	// Timeout bounds the wait for events. Zero uses DefaultProbeTimeout.
	Timeout time.Duration

	// TempDir is where the scratch tree is created. Empty uses os.TempDir.
	TempDir string
}

// probeTree names the scratch entries the scripted operations touch.
type probeTree struct {
	root          string
	newDir        string
	newFile       string
	changedFile   string
	movedFile     string
	movedFileDest string
	movedDir      string
	movedDirDest  string
	deletedDir    string
}

func newProbeTree(root string) probeTree {
	newDir := filepath.Join(root, "subdir")
	return probeTree{
		root:          root,
		newDir:        newDir,
		newFile:       filepath.Join(newDir, "myfile.txt"),
		changedFile:   filepath.Join(root, "contentToChange.txt"),
		movedFile:     filepath.Join(root, "MovedFile.txt"),
		movedFileDest: filepath.Join(root, "MovedFile.txt.again"),
		movedDir:      filepath.Join(root, "subdir1"),
		movedDirDest:  filepath.Join(root, "subdir2"),
		deletedDir:    filepath.Join(root, "subdirdelete"),
	}
}

func (p probeTree) seed() error {
	for _, dir := range []string{p.movedDir, p.deletedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	for _, file := range []string{p.changedFile, p.movedFile} {
		if err := os.WriteFile(file, []byte("probe"), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// script exercises every change kind once.
func (p probeTree) script() error {
	if err := os.Mkdir(p.newDir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	if err := os.WriteFile(p.newFile, []byte("probe"), 0o644); err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	f, err := os.OpenFile(p.changedFile, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("change file: %w", err)
	}
	_, err = f.WriteString(" changed")
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("change file: %w", err)
	}

	if err := os.Rename(p.movedFile, p.movedFileDest); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	if err := os.Remove(p.newFile); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if err := os.Rename(p.movedDir, p.movedDirDest); err != nil {
		return fmt.Errorf("rename dir: %w", err)
	}
	if err := os.Remove(p.deletedDir); err != nil {
		return fmt.Errorf("delete dir: %w", err)
	}
	return nil
}

// observation collects what the event source reported during one probe. It is owned by
// a single Detect call and written from the dispatch goroutine.
type observation struct {
	tree  probeTree
	cache *cache.Cache

	mu sync.Mutex

	dirCreated  bool
	dirDeleted  bool
	fileCreated bool
	fileChanged bool
	fileDeleted bool

	dirRenameFrom  bool
	dirRenameTo    bool
	fileRenameFrom bool
	fileRenameTo   bool
}

func (o *observation) HandleChange(c cache.Change) {
	// deletes of directories are resolved against the cache, so it has to follow them
	if c.Kind.IsDirectory() {
		o.cache.Patch(c)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	switch c.Kind {
	case cache.DirectoryCreated:
		o.dirCreated = true
		o.dirRenameTo = o.dirRenameTo || c.Path == o.tree.movedDirDest
	case cache.DirectoryDeleted:
		o.dirDeleted = true
		o.dirRenameFrom = o.dirRenameFrom || c.Path == o.tree.movedDir
	case cache.FileCreated:
		o.fileCreated = true
		o.fileRenameTo = o.fileRenameTo || c.Path == o.tree.movedFileDest
	case cache.FileChanged:
		o.fileChanged = true
	case cache.FileDeleted:
		o.fileDeleted = true
		o.fileRenameFrom = o.fileRenameFrom || c.Path == o.tree.movedFile
	}
}

func (o *observation) settings() Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Settings{
		DirectoryCreate: o.dirCreated,
		DirectoryDelete: o.dirDeleted,
		DirectoryRename: o.dirRenameFrom && o.dirRenameTo,
		FileCreate:      o.fileCreated,
		FileChange:      o.fileChanged,
		FileDelete:      o.fileDeleted,
		FileRename:      o.fileRenameFrom && o.fileRenameTo,
		PollFrequency:   MinPollFrequency,
	}
}

func (o *observation) complete() bool {
	return !o.settings().ContinuousPolling()
}

// Detect runs a scripted set of operations in a scratch directory and reports which
// change kinds arrived as native events before the timeout. A slow filesystem may yield
// false negatives; those only cost extra polling.
func Detect(ctx context.Context, opts Options) (Settings, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	tempDir := opts.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	root := filepath.Join(tempDir, "fswatch-probe-"+uuid.NewString())
	if err := os.Mkdir(root, 0o700); err != nil {
		return Settings{}, fmt.Errorf("probe dir: %w", err)
	}
	defer os.RemoveAll(root)

	// event paths carry the resolved root
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	tree := newProbeTree(root)
	if err := tree.seed(); err != nil {
		return Settings{}, fmt.Errorf("probe seed: %w", err)
	}

	c := cache.New(root, cache.Options{})
	if err := c.Initialize(ctx, false); err != nil {
		return Settings{}, fmt.Errorf("probe baseline: %w", err)
	}
	defer c.AdjustFilters(true)

	obs := &observation{tree: tree, cache: c}
	fw := fsw.New(root, c, obs, func(path string, err error) {
		slog.Debug("capability probe event error", "path", path, "error", err)
	})
	if err := fw.Start(); err != nil {
		return Settings{}, fmt.Errorf("probe watch: %w", err)
	}
	defer fw.Stop()

	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(waitCtx)
	g.Go(tree.script)
	g.Go(func() error {
		ticker := time.NewTicker(probeCheckInterval)
		defer ticker.Stop()
		for !obs.complete() {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Settings{}, fmt.Errorf("probe script: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Settings{}, err
	}

	s := obs.settings()
	slog.Info("capability probe",
		"elapsed", time.Since(start),
		"continuous_polling", s.ContinuousPolling(),
		"dir_create", s.DirectoryCreate,
		"dir_delete", s.DirectoryDelete,
		"dir_rename", s.DirectoryRename,
		"file_create", s.FileCreate,
		"file_change", s.FileChange,
		"file_delete", s.FileDelete,
		"file_rename", s.FileRename,
	)
	return s, nil
}
