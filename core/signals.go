package orchestration

import (
	"context"
	"sync"
)

// signal is a bit in the orchestrator's wakeup flag group. Producers raise
// bits from any goroutine; the orchestrator loop is the only consumer.
type signal uint32

const (
	signalSchedule signal = 1 << iota
	signalSendAudio
	signalWakeWordDetected
	signalVadChange
	signalClockTick
	signalError
	signalNetworkConnected
	signalNetworkDisconnected
	signalToggleChat
	signalStartListening
	signalStopListening
	signalActivationDone
	signalStateChanged

	signalAll = signalSchedule | signalSendAudio | signalWakeWordDetected |
		signalVadChange | signalClockTick | signalError |
		signalNetworkConnected | signalNetworkDisconnected |
		signalToggleChat | signalStartListening | signalStopListening |
		signalActivationDone | signalStateChanged
)

// eventSignal coalesces raised bits until the consumer collects them. A
// raise is never lost: bits accumulate under the mutex and the size-1 wake
// channel guarantees at least one wakeup after any raise.
type eventSignal struct {
	mu   sync.Mutex
	bits signal
	wake chan struct{}
}

func newEventSignal() *eventSignal {
	return &eventSignal{wake: make(chan struct{}, 1)}
}

// Raise sets the given bits. Safe to call from any goroutine; raising a bit
// that is already set is a no-op apart from the wakeup.
func (s *eventSignal) Raise(bits signal) {
	s.mu.Lock()
	s.bits |= bits
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// WaitAndConsume blocks until at least one bit of mask is set, then clears
// and returns those bits. Returns ok=false only when ctx is done.
func (s *eventSignal) WaitAndConsume(ctx context.Context, mask signal) (signal, bool) {
	for {
		s.mu.Lock()
		got := s.bits & mask
		s.bits &^= got
		s.mu.Unlock()
		if got != 0 {
			return got, true
		}

		select {
		case <-ctx.Done():
			return 0, false
		case <-s.wake:
		}
	}
}

// taskQueue collects closures that must run on the orchestrator goroutine.
// Enqueue is safe from any goroutine; DrainAndRun must only be called by the
// orchestrator loop.
type taskQueue struct {
	mu      sync.Mutex
	tasks   []func()
	signals *eventSignal
}

func newTaskQueue(signals *eventSignal) *taskQueue {
	return &taskQueue{signals: signals}
}

func (q *taskQueue) Enqueue(task func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	q.signals.Raise(signalSchedule)
}

// DrainAndRun swaps the pending slice out under the lock and runs the tasks
// outside of it, so a task may enqueue further tasks without deadlocking.
// Tasks enqueued during the drain run on a later drain, never reentrantly.
func (q *taskQueue) DrainAndRun() {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	for _, task := range tasks {
		task()
	}
}
