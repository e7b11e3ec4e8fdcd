package draft

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type saveRecorder struct {
	mu      sync.Mutex
	results []SaveResult
	done    chan struct{}
}

func newSaveRecorder() *saveRecorder {
	return &saveRecorder{done: make(chan struct{}, 16)}
}

func (r *saveRecorder) record(res SaveResult) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *saveRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

func TestAutosaver_DebouncesBursts(t *testing.T) {
	f := newFixture(t, signedIn())
	rec := newSaveRecorder()
	a := NewAutosaver(f.store, 40*time.Millisecond, time.Second, rec.record, zap.NewNop())
	a.Start()
	defer a.Stop()

	for i := 0; i < 5; i++ {
		a.Touch()
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, a.Pending())

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced save never fired")
	}
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 1, f.memorials.Calls("Create"))
	assert.False(t, a.Pending())
}

func TestAutosaver_IgnoresTouchUntilStarted(t *testing.T) {
	f := newFixture(t, signedIn())
	a := NewAutosaver(f.store, 10*time.Millisecond, time.Second, nil, zap.NewNop())

	a.Touch()
	assert.False(t, a.Pending())

	a.Start()
	a.Touch()
	assert.True(t, a.Pending())
	a.Stop()
	assert.False(t, a.Pending())

	a.Touch()
	assert.False(t, a.Pending())
}

func TestAutosaver_FlushSavesImmediately(t *testing.T) {
	f := newFixture(t, signedIn())
	a := NewAutosaver(f.store, time.Hour, time.Second, nil, zap.NewNop())
	a.Start()
	a.Touch()

	res := a.Flush(context.Background())

	require.Equal(t, SavedRemote, res.Target)
	assert.False(t, a.Pending())
	assert.Equal(t, 1, f.memorials.Calls("Create"))
}

func TestAutosaver_DropsCallbackSupersededByCancelOrStop(t *testing.T) {
	f := newFixture(t, signedIn())
	rec := newSaveRecorder()
	a := NewAutosaver(f.store, time.Hour, time.Second, rec.record, zap.NewNop())
	a.Start()

	a.Touch()
	a.mu.Lock()
	gen := a.gen
	a.mu.Unlock()
	a.Cancel()
	// the timer callback may already be running when Cancel returns
	a.fire(gen)

	a.Touch()
	a.mu.Lock()
	gen = a.gen
	a.mu.Unlock()
	a.Stop()
	a.fire(gen)

	assert.Zero(t, rec.count())
	assert.Zero(t, f.memorials.TotalCalls())
}
