package draft

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDebounce is the input inactivity window before an autosave fires.
const DefaultDebounce = 2 * time.Second

// Autosaver debounces autosave requests: rapid Touch calls reset the timer and
// only the last one saves.
type Autosaver struct {
	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	duration time.Duration
	enabled  bool
	store    *Store
	timeout  time.Duration
	onSave   func(SaveResult)
	logger   *zap.Logger
}

// NewAutosaver creates a disabled autosaver; Start arms it.
// onSave, if set, receives the result of every debounced save.
func NewAutosaver(store *Store, duration, timeout time.Duration, onSave func(SaveResult), logger *zap.Logger) *Autosaver {
	if duration <= 0 {
		duration = DefaultDebounce
	}
	return &Autosaver{
		duration: duration,
		store:    store,
		timeout:  timeout,
		onSave:   onSave,
		logger:   logger.Named("Autosaver"),
	}
}

// Start (re)enables debounced saves. Called when the story step is entered.
func (a *Autosaver) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = true
}

// Touch schedules a save after the debounce window. No-op while stopped.
func (a *Autosaver) Touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.enabled {
		return
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	gen := a.gen
	a.timer = time.AfterFunc(a.duration, func() { a.fire(gen) })
}

// Pending reports whether a save is scheduled.
func (a *Autosaver) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timer != nil
}

// Flush cancels the pending timer and saves right away.
func (a *Autosaver) Flush(ctx context.Context) SaveResult {
	a.Cancel()
	return a.store.Autosave(ctx)
}

// Cancel drops a pending save.
func (a *Autosaver) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// Stop cancels and disables further Touch calls.
func (a *Autosaver) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = false
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Autosaver) fire(gen uint64) {
	a.mu.Lock()
	if gen != a.gen || !a.enabled {
		// Superseded by a later Touch or dropped by Cancel/Stop.
		a.mu.Unlock()
		return
	}
	a.timer = nil
	a.mu.Unlock()

	ctx := context.Background()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	res := a.store.Autosave(ctx)
	a.logger.Debug("Debounced autosave finished", zap.String("target", string(res.Target)))
	if a.onSave != nil {
		a.onSave(res)
	}
}
