// Package capability detects which change kinds the native event source delivers in the
// running environment.
package capability

import "time"

// MinPollFrequency is the floor for every poll frequency.
const MinPollFrequency = 100 * time.Millisecond

// Settings records which change kinds are reliably delivered as native events, and how
// often to run a full poll. Values are immutable; use WithPollFrequency for a copy.
type Settings struct {
	DirectoryCreate bool `json:"directory_create"`
	DirectoryDelete bool `json:"directory_delete"`
	DirectoryRename bool `json:"directory_rename"`
	FileCreate      bool `json:"file_create"`
	FileChange      bool `json:"file_change"`
	FileDelete      bool `json:"file_delete"`
	FileRename      bool `json:"file_rename"`

	PollFrequency time.Duration `json:"-"`
}

// Default assumes nothing is delivered natively.
func Default() Settings {
	return Settings{PollFrequency: MinPollFrequency}
}

// Full assumes every change kind is delivered natively.
func Full(pollFrequency time.Duration) Settings {
	return Settings{
		DirectoryCreate: true,
		DirectoryDelete: true,
		DirectoryRename: true,
		FileCreate:      true,
		FileChange:      true,
		FileDelete:      true,
		FileRename:      true,
		PollFrequency:   ClampPollFrequency(pollFrequency),
	}
}

// ContinuousPolling is true when any change kind cannot be trusted to arrive as an event.
func (s Settings) ContinuousPolling() bool {
	supportsAll := s.DirectoryCreate &&
		s.DirectoryDelete &&
		s.DirectoryRename &&
		s.FileCreate &&
		s.FileChange &&
		s.FileDelete &&
		s.FileRename
	return !supportsAll
}

func (s Settings) WithPollFrequency(d time.Duration) Settings {
	s.PollFrequency = ClampPollFrequency(d)
	return s
}

func ClampPollFrequency(d time.Duration) time.Duration {
	return max(d, MinPollFrequency)
}
