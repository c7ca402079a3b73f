//go:build !darwin && !windows

package fsw

// inotify style backends do not reliably pick up entries created inside a directory
// that appeared after the watch was registered.
const restartOnNewDirectory = true
