package events

import (
	"sync"

	"github.com/goran-ethernal/BlockHarvester/pkg/sources"
)

// Emitter fans out sync lifecycle events to registered subscribers.
// Callbacks run synchronously on the emitting goroutine, so subscribers
// must not block.
type Emitter struct {
	mu sync.Mutex

	syncComplete []func()
	checkpoint   []func(sources.Checkpoint)
}

// NewEmitter returns an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// OnSyncComplete registers a callback fired when the historical sync of a
// network finishes.
func (e *Emitter) OnSyncComplete(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.syncComplete = append(e.syncComplete, fn)
}

// OnHistoricalCheckpoint registers a callback fired when the durable sync
// frontier of a network advances.
func (e *Emitter) OnHistoricalCheckpoint(fn func(sources.Checkpoint)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.checkpoint = append(e.checkpoint, fn)
}

// SyncComplete notifies all sync completion subscribers.
func (e *Emitter) SyncComplete() {
	e.mu.Lock()
	subs := append([]func(){}, e.syncComplete...)
	e.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// HistoricalCheckpoint notifies all checkpoint subscribers.
func (e *Emitter) HistoricalCheckpoint(cp sources.Checkpoint) {
	e.mu.Lock()
	subs := append([]func(sources.Checkpoint){}, e.checkpoint...)
	e.mu.Unlock()

	for _, fn := range subs {
		fn(cp)
	}
}
