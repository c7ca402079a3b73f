//go:build !linux

package fsw

import "github.com/rjeczalik/notify"

func moveCookie(notify.EventInfo) uint32 {
	return 0
}

func selfMove(notify.EventInfo) bool {
	return false
}
