//go:build linux

package fsw

import (
	"github.com/rjeczalik/notify"
	"golang.org/x/sys/unix"
)

// moveCookie returns the inotify cookie shared by both halves of a rename, 0 if none.
func moveCookie(ei notify.EventInfo) uint32 {
	if sys, ok := ei.Sys().(*unix.InotifyEvent); ok && sys != nil {
		return sys.Cookie
	}
	return 0
}

// selfMove reports the event a watched directory receives when it is itself moved.
func selfMove(ei notify.EventInfo) bool {
	sys, ok := ei.Sys().(*unix.InotifyEvent)
	return ok && sys != nil && sys.Mask&unix.IN_MOVE_SELF != 0
}
