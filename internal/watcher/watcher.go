// Package watcher keeps a directory tree under observation, combining native events with
// periodic full polls so that no change goes unreported.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/fswatch/internal/cache"
	"github.com/openmined/fswatch/internal/capability"
	"github.com/openmined/fswatch/internal/fsw"
	"github.com/openmined/fswatch/internal/utils"
)

const (
	DefaultStopTimeout = 5 * time.Second

	// tickPadding is added to the poll frequency to get the loop interval.
	tickPadding = 10 * time.Millisecond

	// baselineCostFactor scales the cost of the first walk into the poll frequency.
	baselineCostFactor = 4
)

var (
	ErrAlreadyWatching = errors.New("watcher already started")
	ErrStopTimeout     = errors.New("watcher did not stop in time")
)

type Options struct {
	Root string

	// IgnoreWindow, Extensions and Ignore configure the cache, see cache.Options.
	IgnoreWindow time.Duration
	Extensions   []string
	Ignore       []string

	// Settings skips the capability probe when set.
	Settings *capability.Settings

	Handler      cache.Handler
	ErrorHandler cache.ErrorHandler

	// StopTimeout bounds how long Stop waits. Zero uses DefaultStopTimeout.
	StopTimeout time.Duration
}

// Watcher reports changes below a root directory. Native events are applied as they
// arrive; a full poll catches up after each burst of events, and runs continuously when
// the platform cannot be trusted to deliver every change kind.
type Watcher struct {
	root        string
	cache       *cache.Cache
	fw          *fsw.FileWatcher
	handler     cache.Handler
	stopTimeout time.Duration

	settingsMu sync.RWMutex
	settings   capability.Settings

	onError atomic.Pointer[cache.ErrorHandler]

	// catchup is the unix nano deadline for the next poll, 0 when none is pending
	catchup  atomic.Int64
	degraded atomic.Bool
	state    atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	ready  chan struct{}
	done   chan struct{}
}

// New prepares a watcher for root. When opts.Settings is nil the capability probe runs
// first, which takes up to a few seconds.
func New(ctx context.Context, opts Options) (*Watcher, error) {
	root, err := utils.ResolvePath(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("watch root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", cache.ErrRootNotDir, root)
	}

	var settings capability.Settings
	if opts.Settings != nil {
		settings = opts.Settings.WithPollFrequency(opts.Settings.PollFrequency)
	} else {
		settings, err = capability.Detect(ctx, capability.Options{})
		if err != nil {
			return nil, fmt.Errorf("capability probe: %w", err)
		}
	}

	stopTimeout := opts.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}

	w := &Watcher{
		root: root,
		cache: cache.New(root, cache.Options{
			IgnoreWindow: opts.IgnoreWindow,
			Extensions:   opts.Extensions,
			Ignore:       opts.Ignore,
		}),
		handler:     opts.Handler,
		stopTimeout: stopTimeout,
		settings:    settings,
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
	}
	w.SetErrorHandler(opts.ErrorHandler)
	w.cache.SetErrorHandler(w.reportError)
	w.fw = fsw.New(root, w.cache, cache.HandlerFunc(w.onNativeChange), w.onNativeError)

	return w, nil
}

func (w *Watcher) Root() string {
	return w.root
}

func (w *Watcher) State() State {
	return State(w.state.Load())
}

// Ready is closed once the baseline walk is done and events are being delivered. It
// stays open if the watcher stops before that.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Done is closed when the background goroutine has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Settings returns the capability settings in use, including the current poll frequency.
func (w *Watcher) Settings() capability.Settings {
	w.settingsMu.RLock()
	defer w.settingsMu.RUnlock()
	return w.settings
}

// SetPollFrequency overrides the poll frequency. Values below the floor are clamped.
func (w *Watcher) SetPollFrequency(d time.Duration) {
	w.settingsMu.Lock()
	defer w.settingsMu.Unlock()
	w.settings = w.settings.WithPollFrequency(d)
}

func (w *Watcher) SetErrorHandler(fn cache.ErrorHandler) {
	if fn == nil {
		w.onError.Store(nil)
		return
	}
	w.onError.Store(&fn)
}

// Watch starts watching in the background. It returns immediately; use Ready to wait
// for the baseline. Cancelling ctx stops the watcher like Stop does.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.state.CompareAndSwap(int32(Idle), int32(Initializing)) {
		return ErrAlreadyWatching
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.run(runCtx)
	return nil
}

// ForceRefresh runs a full poll now and reports whether it found changes. It does
// nothing until the baseline is done.
func (w *Watcher) ForceRefresh(ctx context.Context) bool {
	if w.State() != Running {
		return false
	}
	return w.poll(ctx)
}

// Stop ends the watch and waits for the background goroutine. A timeout is reported
// through the error handler and returned; the goroutine still exits on its own.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.state.CompareAndSwap(int32(Idle), int32(Stopped)) {
		w.mu.Unlock()
		return nil
	}
	w.state.CompareAndSwap(int32(Initializing), int32(Stopping))
	w.state.CompareAndSwap(int32(Running), int32(Stopping))
	cancel := w.cancel
	w.mu.Unlock()

	if cancel == nil {
		// stopped before it was ever watched
		return nil
	}
	cancel()

	timer := time.NewTimer(w.stopTimeout)
	defer timer.Stop()

	select {
	case <-w.done:
		return nil
	case <-timer.C:
		err := fmt.Errorf("%w after %s", ErrStopTimeout, w.stopTimeout)
		slog.Warn("watcher stop", "root", w.root, "error", err)
		w.reportError(w.root, err)
		return err
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer w.state.Store(int32(Stopped))
	defer w.fw.Stop()

	start := time.Now()
	if err := w.cache.Initialize(ctx, true); err != nil {
		// only cancellation ends the baseline early
		slog.Debug("watcher baseline cancelled", "root", w.root, "error", err)
		return
	}
	cost := time.Since(start)
	w.SetPollFrequency(baselineCostFactor * cost)

	dirs, files := w.cache.Len()
	slog.Info("watcher baseline",
		"root", w.root,
		"dirs", humanize.Comma(int64(dirs)),
		"files", humanize.Comma(int64(files)),
		"elapsed", cost,
		"poll_frequency", w.pollFrequency(),
	)

	if err := w.fw.Start(); err != nil {
		w.nativeFailed(err)
	}

	if !w.state.CompareAndSwap(int32(Initializing), int32(Running)) {
		return
	}
	close(w.ready)

	timer := time.NewTimer(w.pollFrequency() + tickPadding)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.state.Store(int32(Stopping))
			slog.Info("watcher stop", "root", w.root)
			return
		case <-timer.C:
		}

		w.tick(ctx)
		timer.Reset(w.pollFrequency() + tickPadding)
	}
}

func (w *Watcher) tick(ctx context.Context) {
	if w.fw.NeedsRestart() {
		if err := w.fw.Start(); err != nil {
			w.nativeFailed(err)
		}
		w.scheduleCatchup()
	}

	if due := w.catchup.Load(); due != 0 && time.Now().UnixNano() >= due {
		if w.catchup.CompareAndSwap(due, 0) && w.poll(ctx) {
			w.scheduleCatchup()
		}
	}

	if w.continuousPolling() {
		w.catchup.CompareAndSwap(0, w.nextCatchup())
	}
}

// poll runs a full walk and applies the difference. Expired ledger entries are dropped
// afterwards.
func (w *Watcher) poll(ctx context.Context) bool {
	start := time.Now()
	changed := w.cache.Refresh(ctx, cache.HandlerFunc(w.deliver))
	pruned := w.cache.Ledger().Prune()

	slog.Debug("watcher poll",
		"root", w.root,
		"changed", changed,
		"pruned", pruned,
		"elapsed", time.Since(start),
	)
	return changed
}

// onNativeChange routes a translated event through the cache. Every raw event schedules
// a catch-up poll, accepted or not, since one native event often hides others.
func (w *Watcher) onNativeChange(c cache.Change) {
	w.scheduleCatchup()
	if w.cache.Patch(c) {
		w.deliver(c)
	}
}

func (w *Watcher) onNativeError(path string, err error) {
	w.scheduleCatchup()
	w.reportError(path, err)
}

func (w *Watcher) nativeFailed(err error) {
	slog.Warn("watcher native events unavailable, polling only", "root", w.root, "error", err)
	w.degraded.Store(true)
	w.reportError(w.root, err)
	w.scheduleCatchup()
}

func (w *Watcher) deliver(c cache.Change) {
	if w.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			w.reportError(c.Path, errors.Join(fsw.ErrHandlerPanic, err))
		}
	}()
	w.handler.HandleChange(c)
}

func (w *Watcher) reportError(path string, err error) {
	if fn := w.onError.Load(); fn != nil {
		(*fn)(path, err)
	}
}

func (w *Watcher) scheduleCatchup() {
	w.catchup.Store(w.nextCatchup())
}

func (w *Watcher) nextCatchup() int64 {
	return time.Now().Add(w.pollFrequency()).UnixNano()
}

func (w *Watcher) pollFrequency() time.Duration {
	return w.Settings().PollFrequency
}

func (w *Watcher) continuousPolling() bool {
	return w.degraded.Load() || w.Settings().ContinuousPolling()
}
