//go:build linux

package fsw

import (
	"path/filepath"
	"testing"

	"github.com/openmined/fswatch/internal/cache"
	"github.com/rjeczalik/notify"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestMoveCookie(t *testing.T) {
	from := fakeEvent{event: notify.Rename, sys: &unix.InotifyEvent{Mask: unix.IN_MOVED_FROM, Cookie: 7}}
	assert.Equal(t, uint32(7), moveCookie(from))
	assert.False(t, selfMove(from))

	assert.Zero(t, moveCookie(fakeEvent{event: notify.Create}))
	assert.True(t, selfMove(fakeEvent{event: notify.Rename, sys: &unix.InotifyEvent{Mask: unix.IN_MOVE_SELF}}))
}

func TestDispatchSkipsSelfMove(t *testing.T) {
	dir := tempDir(t)
	oldDir := filepath.Join(dir, "olddir")
	file := filepath.Join(dir, "a.txt")

	rec := &recorder{}
	fw := New(dir, knownDirs{oldDir: true}, rec, nil)
	events := feed(t, fw)

	events <- fakeEvent{event: notify.Rename, path: oldDir, sys: &unix.InotifyEvent{Mask: unix.IN_MOVE_SELF}}
	events <- fakeEvent{event: notify.Write, path: file, sys: &unix.InotifyEvent{Mask: unix.IN_MODIFY}}

	assert.Equal(t, []cache.Change{{Kind: cache.FileChanged, Path: file}}, rec.waitLen(t, 1))
}
