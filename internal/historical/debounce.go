package historical

import (
	"sync"
	"time"

	"github.com/goran-ethernal/BlockHarvester/pkg/sources"
)

// checkpointDebouncer emits at most one checkpoint per wall-clock window,
// carrying the latest value observed in that window. Emitted checkpoints are
// strictly increasing in block timestamp.
type checkpointDebouncer struct {
	mu sync.Mutex

	interval time.Duration
	emit     func(sources.Checkpoint)

	timer       *time.Timer
	pending     sources.Checkpoint
	hasPending  bool
	lastEmitted *sources.Checkpoint
	stopped     bool
}

func newCheckpointDebouncer(interval time.Duration, emit func(sources.Checkpoint)) *checkpointDebouncer {
	return &checkpointDebouncer{
		interval: interval,
		emit:     emit,
	}
}

// Call records a checkpoint candidate. The first call in a window arms the
// timer; later calls replace the pending value.
func (d *checkpointDebouncer) Call(cp sources.Checkpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.lastEmitted != nil && cp.BlockTimestamp <= d.lastEmitted.BlockTimestamp {
		return
	}
	if d.hasPending && cp.BlockTimestamp <= d.pending.BlockTimestamp {
		return
	}

	d.pending = cp
	d.hasPending = true

	if d.timer == nil {
		d.timer = time.AfterFunc(d.interval, d.fire)
	}
}

func (d *checkpointDebouncer) fire() {
	d.mu.Lock()
	d.timer = nil
	if d.stopped || !d.hasPending {
		d.mu.Unlock()
		return
	}

	cp := d.pending
	d.hasPending = false
	d.lastEmitted = &cp
	emit := d.emit
	d.mu.Unlock()

	emit(cp)
}

// Stop discards any pending emission.
func (d *checkpointDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.hasPending = false
}
