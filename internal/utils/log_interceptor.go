package utils

import (
	"bytes"
	"io"
	"strconv"
	"sync"
	"time"
)

// LogInterceptor stamps every complete line written through it with a sequence number
// and a timestamp before passing it to the target. Partial lines are held until the
// rest arrives or Close is called.
type LogInterceptor struct {
	target io.Writer
	now    func() time.Time

	mu      sync.Mutex
	seq     uint64
	pending []byte
}

func NewLogInterceptor(target io.Writer) *LogInterceptor {
	return &LogInterceptor{
		target: target,
		now:    time.Now,
	}
}

// Write always reports len(p) on success, as the stamps are not part of the caller's data.
func (i *LogInterceptor) Write(p []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.pending = append(i.pending, p...)
	for {
		idx := bytes.IndexByte(i.pending, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSuffix(i.pending[:idx], []byte("\r"))
		if err := i.writeLine(line); err != nil {
			return 0, err
		}
		i.pending = i.pending[idx+1:]
	}

	// release the backing array once drained
	if len(i.pending) == 0 {
		i.pending = nil
	}
	return len(p), nil
}

// Close flushes a trailing partial line.
func (i *LogInterceptor) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(i.pending) == 0 {
		return nil
	}
	err := i.writeLine(i.pending)
	i.pending = nil
	return err
}

func (i *LogInterceptor) writeLine(line []byte) error {
	i.seq++

	buf := make([]byte, 0, len(line)+64)
	buf = append(buf, "line="...)
	buf = strconv.AppendUint(buf, i.seq, 10)
	buf = append(buf, " time="...)
	buf = i.now().AppendFormat(buf, time.RFC3339)
	buf = append(buf, ' ')
	buf = append(buf, line...)
	buf = append(buf, '\n')

	_, err := i.target.Write(buf)
	return err
}
