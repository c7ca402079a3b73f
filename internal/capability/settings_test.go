package capability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollFrequencyFloor(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, MinPollFrequency},
		{-time.Second, MinPollFrequency},
		{99 * time.Millisecond, MinPollFrequency},
		{100 * time.Millisecond, 100 * time.Millisecond},
		{2 * time.Second, 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Default().WithPollFrequency(tt.in).PollFrequency)
			assert.Equal(t, tt.want, Full(tt.in).PollFrequency)
		})
	}
}

func TestWithPollFrequencyCopies(t *testing.T) {
	s := Full(time.Second)
	s2 := s.WithPollFrequency(5 * time.Second)

	assert.Equal(t, time.Second, s.PollFrequency)
	assert.Equal(t, 5*time.Second, s2.PollFrequency)
}

func TestContinuousPolling(t *testing.T) {
	assert.True(t, Default().ContinuousPolling())
	assert.False(t, Full(0).ContinuousPolling())

	// any single missing kind forces polling
	unset := []func(*Settings){
		func(s *Settings) { s.DirectoryCreate = false },
		func(s *Settings) { s.DirectoryDelete = false },
		func(s *Settings) { s.DirectoryRename = false },
		func(s *Settings) { s.FileCreate = false },
		func(s *Settings) { s.FileChange = false },
		func(s *Settings) { s.FileDelete = false },
		func(s *Settings) { s.FileRename = false },
	}
	for i, fn := range unset {
		s := Full(0)
		fn(&s)
		assert.True(t, s.ContinuousPolling(), "flag %d", i)
	}
}
