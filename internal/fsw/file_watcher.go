// Package fsw translates native filesystem notifications into cache changes.
package fsw

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openmined/fswatch/internal/cache"
	"github.com/rjeczalik/notify"
)

const (
	eventBufferSize     = 1024
	defaultRestartDelay = 100 * time.Millisecond
	renamePairWindow    = 10 * time.Millisecond
)

var ErrHandlerPanic = errors.New("change handler panicked")

// DirectoryChecker tells whether a path was known to be a directory. The native events
// for deletes and renames do not say whether the path was a file or a directory.
type DirectoryChecker interface {
	IsDirectory(path string) bool
}

// FileWatcher wraps the recursive native watch of a directory tree.
type FileWatcher struct {
	watchDir string
	dirs     DirectoryChecker
	handler  cache.Handler
	onError  cache.ErrorHandler

	mu           sync.Mutex
	events       chan notify.EventInfo
	done         chan struct{}
	wg           sync.WaitGroup
	started      bool
	restartDelay time.Duration

	needsRestart atomic.Bool
	generation   atomic.Int64
}

func New(watchDir string, dirs DirectoryChecker, handler cache.Handler, onError cache.ErrorHandler) *FileWatcher {
	return &FileWatcher{
		watchDir:     watchDir,
		dirs:         dirs,
		handler:      handler,
		onError:      onError,
		restartDelay: defaultRestartDelay,
	}
}

// SetRestartDelay sets the pause between tearing down and re-registering the watch.
func (fw *FileWatcher) SetRestartDelay(d time.Duration) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.restartDelay = d
}

// Start registers the native watch, replacing any earlier registration.
func (fw *FileWatcher) Start() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.events != nil {
		fw.stopLocked()
		if fw.restartDelay > 0 {
			time.Sleep(fw.restartDelay)
		}
	}

	events := make(chan notify.EventInfo, eventBufferSize)
	recursivePath := filepath.Join(fw.watchDir, "...")
	if err := notify.Watch(recursivePath, events, notify.Create, notify.Remove, notify.Write, notify.Rename); err != nil {
		return fmt.Errorf("notify watch: %w", err)
	}

	done := make(chan struct{})
	fw.events = events
	fw.done = done
	fw.needsRestart.Store(false)
	gen := fw.generation.Add(1)

	fw.wg.Add(1)
	go fw.dispatch(events, done)

	if fw.started {
		slog.Debug("file watcher restarted", "dir", fw.watchDir, "generation", gen)
	} else {
		slog.Info("file watcher start", "dir", fw.watchDir)
	}
	fw.started = true
	return nil
}

// Stop unregisters the native watch. It never fails; teardown errors are dropped.
func (fw *FileWatcher) Stop() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.stopLocked()
}

func (fw *FileWatcher) stopLocked() {
	if fw.events == nil {
		return
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Debug("file watcher teardown", "dir", fw.watchDir, "panic", r)
			}
		}()
		notify.Stop(fw.events)
	}()

	close(fw.done)
	fw.wg.Wait()

	fw.events = nil
	fw.done = nil
	slog.Debug("file watcher stopped", "dir", fw.watchDir)
}

// Running reports whether a native watch is registered.
func (fw *FileWatcher) Running() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.events != nil
}

// Generation counts successful registrations of the native watch.
func (fw *FileWatcher) Generation() int64 {
	return fw.generation.Load()
}

// RestartsOnNewDirectory reports whether the platform backend needs the watch
// re-registered after a directory is created below the root.
func RestartsOnNewDirectory() bool {
	return restartOnNewDirectory
}

// NeedsRestart reports whether a directory appeared that the native watch may not follow.
func (fw *FileWatcher) NeedsRestart() bool {
	return fw.needsRestart.Load()
}

// dispatch drains native events. A rename source (a Rename for a path that is gone) is
// held briefly so it can be paired with the destination event that follows it.
func (fw *FileWatcher) dispatch(events <-chan notify.EventInfo, done <-chan struct{}) {
	defer fw.wg.Done()

	var (
		pending       string
		pendingCookie uint32
	)
	flush := time.NewTimer(renamePairWindow)
	flush.Stop()
	defer flush.Stop()

	for {
		select {
		case <-done:
			return
		case <-flush.C:
			fw.deleted(pending)
			pending = ""
		case ei, ok := <-events:
			if !ok {
				return
			}
			path, ev := ei.Path(), ei.Event()

			// the parent reports the same move, except for the root itself
			if selfMove(ei) && path != fw.watchDir {
				continue
			}

			if pending != "" {
				if ev&notify.Rename != 0 && path == pending && !exists(path) {
					continue
				}
				flush.Stop()
				oldPath, cookie := pending, pendingCookie
				pending = ""
				if fw.pairs(oldPath, cookie, ei) {
					fw.renamed(oldPath, path)
					continue
				}
				fw.deleted(oldPath)
			}

			if ev&notify.Rename != 0 && !exists(path) {
				pending, pendingCookie = path, moveCookie(ei)
				flush.Reset(renamePairWindow)
				continue
			}
			fw.handle(ev, path)
		}
	}
}

// pairs reports whether ei is the destination half of the rename whose source was
// oldPath. Both halves must agree on file versus directory, and on the move cookie when
// the platform provides one.
func (fw *FileWatcher) pairs(oldPath string, cookie uint32, ei notify.EventInfo) bool {
	if ei.Event()&(notify.Create|notify.Rename) == 0 {
		return false
	}
	if cookie != 0 && moveCookie(ei) != cookie {
		return false
	}
	info, err := os.Stat(ei.Path())
	if err != nil {
		return false
	}
	return info.IsDir() == fw.dirs.IsDirectory(oldPath)
}

func (fw *FileWatcher) handle(ev notify.Event, path string) {
	switch {
	case ev&notify.Remove != 0:
		fw.deleted(path)
	case ev&(notify.Create|notify.Rename) != 0:
		fw.created(path)
	case ev&notify.Write != 0:
		fw.changed(path)
	}
}

func (fw *FileWatcher) created(path string) {
	defer fw.recoverPanic(path)

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		fw.emit(cache.DirectoryCreated, path)
		if restartOnNewDirectory {
			fw.needsRestart.Store(true)
		}
		return
	}
	fw.emit(cache.FileCreated, path)
}

// changed is never raised for directories.
func (fw *FileWatcher) changed(path string) {
	defer fw.recoverPanic(path)
	fw.emit(cache.FileChanged, path)
}

func (fw *FileWatcher) deleted(path string) {
	defer fw.recoverPanic(path)

	if fw.dirs.IsDirectory(path) {
		fw.emit(cache.DirectoryDeleted, path)
		return
	}
	fw.emit(cache.FileDeleted, path)
}

// renamed reports a rename as a delete of oldPath followed by a create of newPath. The
// held state decides whether it was a directory, since oldPath is gone from disk; callers
// pair only halves that agree on it.
func (fw *FileWatcher) renamed(oldPath, newPath string) {
	defer fw.recoverPanic(oldPath)

	if fw.dirs.IsDirectory(oldPath) {
		fw.emit(cache.DirectoryDeleted, oldPath)
		fw.emit(cache.DirectoryCreated, newPath)
		if restartOnNewDirectory {
			fw.needsRestart.Store(true)
		}
		return
	}
	fw.emit(cache.FileDeleted, oldPath)
	fw.emit(cache.FileCreated, newPath)
}

func (fw *FileWatcher) failed(path string, err error) {
	slog.Warn("file watcher error", "path", path, "error", err)
	if fw.onError != nil {
		fw.onError(path, err)
	}
}

func (fw *FileWatcher) emit(kind cache.Kind, path string) {
	if fw.handler != nil {
		fw.handler.HandleChange(cache.Change{Kind: kind, Path: path})
	}
}

// recoverPanic keeps a failing handler from killing the dispatch goroutine.
func (fw *FileWatcher) recoverPanic(path string) {
	r := recover()
	if r == nil {
		return
	}
	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("%v", r)
	}
	fw.failed(path, errors.Join(ErrHandlerPanic, err))
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
