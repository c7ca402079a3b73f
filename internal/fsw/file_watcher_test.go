package fsw

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/openmined/fswatch/internal/cache"
	"github.com/rjeczalik/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	changes []cache.Change
}

func (r *recorder) HandleChange(c cache.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) Changes() []cache.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cache.Change(nil), r.changes...)
}

func (r *recorder) waitFor(t *testing.T, want cache.Change) {
	t.Helper()
	assert.Eventually(t, func() bool {
		for _, c := range r.Changes() {
			if c == want {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond, "waiting for %s", want)
}

type knownDirs map[string]bool

func (k knownDirs) IsDirectory(path string) bool {
	return k[path]
}

type fakeEvent struct {
	event notify.Event
	path  string
	sys   any
}

func (e fakeEvent) Event() notify.Event { return e.event }
func (e fakeEvent) Path() string        { return e.path }
func (e fakeEvent) Sys() any            { return e.sys }

// feed runs the dispatch loop over a channel the test controls.
func feed(t *testing.T, fw *FileWatcher) chan<- notify.EventInfo {
	t.Helper()
	events := make(chan notify.EventInfo, 16)
	done := make(chan struct{})
	fw.wg.Add(1)
	go fw.dispatch(events, done)
	t.Cleanup(func() {
		close(done)
		fw.wg.Wait()
	})
	return events
}

func (r *recorder) waitLen(t *testing.T, n int) []cache.Change {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.Changes()) >= n
	}, 3*time.Second, time.Millisecond)
	return r.Changes()
}

func tempDir(t *testing.T) string {
	t.Helper()
	// macos: tmpdir lives under a symlink
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func TestCreatedDistinguishesDirectories(t *testing.T) {
	dir := tempDir(t)
	sub := filepath.Join(dir, "sub")
	file := filepath.Join(dir, "file.txt")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	rec := &recorder{}
	fw := New(dir, knownDirs{}, rec, nil)

	fw.created(sub)
	assert.Equal(t, restartOnNewDirectory, fw.NeedsRestart())
	fw.created(file)

	assert.Equal(t, []cache.Change{
		{Kind: cache.DirectoryCreated, Path: sub},
		{Kind: cache.FileCreated, Path: file},
	}, rec.Changes())
}

func TestChangedIsAlwaysFile(t *testing.T) {
	rec := &recorder{}
	fw := New("/root", knownDirs{"/root/d": true}, rec, nil)

	fw.changed("/root/d")
	assert.Equal(t, []cache.Change{{Kind: cache.FileChanged, Path: "/root/d"}}, rec.Changes())
}

func TestDeletedUsesHeldState(t *testing.T) {
	dir := tempDir(t)
	sub := filepath.Join(dir, "gone")
	require.NoError(t, os.Mkdir(sub, 0o755))

	c := cache.New(dir, cache.Options{})
	require.NoError(t, c.Initialize(testContext(t), true))
	require.NoError(t, os.Remove(sub))

	rec := &recorder{}
	fw := New(dir, c, rec, nil)
	fw.deleted(sub)
	fw.deleted(filepath.Join(dir, "never-known.txt"))

	assert.Equal(t, []cache.Change{
		{Kind: cache.DirectoryDeleted, Path: sub},
		{Kind: cache.FileDeleted, Path: filepath.Join(dir, "never-known.txt")},
	}, rec.Changes())
}

func TestRenamedDecomposes(t *testing.T) {
	rec := &recorder{}
	fw := New("/r", knownDirs{"/r/olddir": true}, rec, nil)

	fw.renamed("/r/a.txt", "/r/b.txt")
	fw.renamed("/r/olddir", "/r/newdir")

	assert.Equal(t, []cache.Change{
		{Kind: cache.FileDeleted, Path: "/r/a.txt"},
		{Kind: cache.FileCreated, Path: "/r/b.txt"},
		{Kind: cache.DirectoryDeleted, Path: "/r/olddir"},
		{Kind: cache.DirectoryCreated, Path: "/r/newdir"},
	}, rec.Changes())
}

func TestDispatchPairsRename(t *testing.T) {
	dir := tempDir(t)
	oldDir := filepath.Join(dir, "olddir")
	newDir := filepath.Join(dir, "newdir")
	require.NoError(t, os.Mkdir(newDir, 0o755))

	rec := &recorder{}
	fw := New(dir, knownDirs{oldDir: true}, rec, nil)
	events := feed(t, fw)

	events <- fakeEvent{event: notify.Rename, path: oldDir}
	events <- fakeEvent{event: notify.Create, path: newDir}

	assert.Equal(t, []cache.Change{
		{Kind: cache.DirectoryDeleted, Path: oldDir},
		{Kind: cache.DirectoryCreated, Path: newDir},
	}, rec.waitLen(t, 2))
	assert.Equal(t, restartOnNewDirectory, fw.NeedsRestart())
}

func TestDispatchUnpairedSourceThenCreate(t *testing.T) {
	dir := tempDir(t)
	oldDir := filepath.Join(dir, "olddir")
	file := filepath.Join(dir, "new.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	rec := &recorder{}
	fw := New(dir, knownDirs{oldDir: true}, rec, nil)
	events := feed(t, fw)

	events <- fakeEvent{event: notify.Rename, path: oldDir}
	events <- fakeEvent{event: notify.Create, path: file}

	assert.Equal(t, []cache.Change{
		{Kind: cache.DirectoryDeleted, Path: oldDir},
		{Kind: cache.FileCreated, Path: file},
	}, rec.waitLen(t, 2))
}

func TestDispatchRenameKindMismatch(t *testing.T) {
	dir := tempDir(t)
	oldFile := filepath.Join(dir, "old.txt")
	newDir := filepath.Join(dir, "newdir")
	require.NoError(t, os.Mkdir(newDir, 0o755))

	rec := &recorder{}
	fw := New(dir, knownDirs{}, rec, nil)
	events := feed(t, fw)

	events <- fakeEvent{event: notify.Rename, path: oldFile}
	events <- fakeEvent{event: notify.Rename, path: newDir}

	assert.Equal(t, []cache.Change{
		{Kind: cache.FileDeleted, Path: oldFile},
		{Kind: cache.DirectoryCreated, Path: newDir},
	}, rec.waitLen(t, 2))
}

func TestDispatchRenameOutOfRoot(t *testing.T) {
	dir := tempDir(t)
	oldDir := filepath.Join(dir, "olddir")

	rec := &recorder{}
	fw := New(dir, knownDirs{oldDir: true}, rec, nil)
	events := feed(t, fw)

	// the same source may be reported twice
	events <- fakeEvent{event: notify.Rename, path: oldDir}
	events <- fakeEvent{event: notify.Rename, path: oldDir}

	assert.Equal(t, []cache.Change{{Kind: cache.DirectoryDeleted, Path: oldDir}}, rec.waitLen(t, 1))
	time.Sleep(5 * renamePairWindow)
	assert.Len(t, rec.Changes(), 1)
}

func TestHandlerPanicIsReported(t *testing.T) {
	var (
		mu       sync.Mutex
		gotPath  string
		gotError error
	)
	onError := func(path string, err error) {
		mu.Lock()
		defer mu.Unlock()
		gotPath, gotError = path, err
	}
	boom := cache.HandlerFunc(func(cache.Change) { panic("boom") })

	fw := New("/r", knownDirs{}, boom, onError)
	assert.NotPanics(t, func() { fw.changed("/r/x") })

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/r/x", gotPath)
	assert.ErrorIs(t, gotError, ErrHandlerPanic)
	assert.ErrorContains(t, gotError, "boom")
}

func TestStopWithoutStart(t *testing.T) {
	fw := New(tempDir(t), knownDirs{}, nil, nil)
	assert.NotPanics(t, fw.Stop)
	assert.False(t, fw.Running())
}

func TestFileWatcherLive(t *testing.T) {
	dir := tempDir(t)

	c := cache.New(dir, cache.Options{})
	require.NoError(t, c.Initialize(testContext(t), true))

	rec := &recorder{}
	fw := New(dir, c, rec, nil)
	fw.SetRestartDelay(0)
	require.NoError(t, fw.Start())
	defer fw.Stop()
	assert.True(t, fw.Running())

	file := filepath.Join(dir, "test.txt")
	require.NoError(t, os.WriteFile(file, []byte("hello world"), 0o644))
	rec.waitFor(t, cache.Change{Kind: cache.FileCreated, Path: file})

	require.NoError(t, os.Remove(file))
	rec.waitFor(t, cache.Change{Kind: cache.FileDeleted, Path: file})

	// restart keeps delivering
	require.NoError(t, fw.Start())
	again := filepath.Join(dir, "again.txt")
	require.NoError(t, os.WriteFile(again, []byte("x"), 0o644))
	rec.waitFor(t, cache.Change{Kind: cache.FileCreated, Path: again})

	fw.Stop()
	fw.Stop()
	assert.False(t, fw.Running())
}

func TestFileWatcherLiveRename(t *testing.T) {
	dir := tempDir(t)
	from := filepath.Join(dir, "from.txt")
	to := filepath.Join(dir, "to.txt")
	require.NoError(t, os.WriteFile(from, []byte("x"), 0o644))

	c := cache.New(dir, cache.Options{})
	require.NoError(t, c.Initialize(testContext(t), true))

	rec := &recorder{}
	fw := New(dir, c, rec, nil)
	require.NoError(t, fw.Start())
	defer fw.Stop()

	require.NoError(t, os.Rename(from, to))
	rec.waitFor(t, cache.Change{Kind: cache.FileDeleted, Path: from})
	rec.waitFor(t, cache.Change{Kind: cache.FileCreated, Path: to})

	assert.NotContains(t, rec.Changes(), cache.Change{Kind: cache.FileCreated, Path: from})
}

func TestFileWatcherLiveDirMovedOutThenFileCreated(t *testing.T) {
	dir := tempDir(t)
	outside := tempDir(t)
	oldDir := filepath.Join(dir, "olddir")
	require.NoError(t, os.Mkdir(oldDir, 0o755))

	c := cache.New(dir, cache.Options{})
	require.NoError(t, c.Initialize(testContext(t), true))

	rec := &recorder{}
	fw := New(dir, c, rec, nil)
	require.NoError(t, fw.Start())
	defer fw.Stop()

	file := filepath.Join(dir, "new.txt")
	require.NoError(t, os.Rename(oldDir, filepath.Join(outside, "olddir")))
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	rec.waitFor(t, cache.Change{Kind: cache.DirectoryDeleted, Path: oldDir})
	rec.waitFor(t, cache.Change{Kind: cache.FileCreated, Path: file})
	assert.NotContains(t, rec.Changes(), cache.Change{Kind: cache.DirectoryCreated, Path: file})
}
