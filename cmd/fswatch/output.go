package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/openmined/fswatch/internal/cache"
	"github.com/openmined/fswatch/internal/capability"
)

const timeFormat = "15:04:05.000"

var (
	red    = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

var kindColors = map[cache.Kind]func(a ...any) string{
	cache.DirectoryCreated: green,
	cache.FileCreated:      green,
	cache.FileChanged:      yellow,
	cache.DirectoryDeleted: red,
	cache.FileDeleted:      red,
}

type changeLine struct {
	Time  time.Time `json:"time"`
	Kind  string    `json:"kind"`
	Path  string    `json:"path"`
	Error string    `json:"error,omitempty"`
}

// printer writes accepted changes to out and errors to errOut. Handlers are called from
// more than one goroutine, so writes are serialized.
type printer struct {
	out    io.Writer
	errOut io.Writer
	asJSON bool
	now    func() time.Time

	mu sync.Mutex
}

func newPrinter(out, errOut io.Writer, asJSON bool) *printer {
	return &printer{out: out, errOut: errOut, asJSON: asJSON, now: time.Now}
}

func (p *printer) HandleChange(c cache.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.asJSON {
		p.writeJSON(p.out, changeLine{Time: now, Kind: c.Kind.String(), Path: c.Path})
		return
	}

	paint := kindColors[c.Kind]
	if paint == nil {
		paint = fmt.Sprint
	}
	fmt.Fprintf(p.out, "%s %s %s\n", gray("["+now.Format(timeFormat)+"]"), paint(fmt.Sprintf("%-16s", c.Kind)), c.Path)
}

func (p *printer) Error(path string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.asJSON {
		p.writeJSON(p.errOut, changeLine{Time: now, Kind: "Error", Path: path, Error: err.Error()})
		return
	}
	fmt.Fprintf(p.errOut, "%s %s %s: %v\n", gray("["+now.Format(timeFormat)+"]"), red(fmt.Sprintf("%-16s", "Error")), path, err)
}

func (p *printer) writeJSON(w io.Writer, line changeLine) {
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	w.Write(append(data, '\n'))
}

func printSettings(w io.Writer, s capability.Settings) {
	rows := []struct {
		name string
		ok   bool
	}{
		{"directory create", s.DirectoryCreate},
		{"directory delete", s.DirectoryDelete},
		{"directory rename", s.DirectoryRename},
		{"file create", s.FileCreate},
		{"file change", s.FileChange},
		{"file delete", s.FileDelete},
		{"file rename", s.FileRename},
	}

	for _, row := range rows {
		mark := red("no")
		if row.ok {
			mark = green("yes")
		}
		fmt.Fprintf(w, "%-20s %s\n", row.name, mark)
	}
	fmt.Fprintf(w, "%-20s %s\n", "continuous polling", cyan(s.ContinuousPolling()))
	fmt.Fprintf(w, "%-20s %s\n", "poll frequency", cyan(s.PollFrequency))
}
