// Package schedule implements the Periodic Scheduler: a small fixed worker
// pool that runs registered tasks at a fixed interval, with one-shot
// variants for deferred work.
package schedule

import (
	"time"

	"github.com/cuemby/hamgr/pkg/log"
)

// defaultWorkers is the size of the fixed worker pool when none is given.
const defaultWorkers = 4

// TaskHandle lets a caller stop a task it registered.
type TaskHandle struct {
	stop chan struct{}
}

// Stop cancels the task's future runs. Already-queued runs still execute.
func (h TaskHandle) Stop() {
	close(h.stop)
}

// Scheduler runs registered tasks on a fixed pool of worker goroutines.
// AddTask never blocks its caller; work is handed to workers over a
// buffered channel.
type Scheduler struct {
	work chan func()
	stop chan struct{}
}

// New builds a Scheduler with the given worker count (defaultWorkers if
// workers <= 0) and starts its workers immediately.
func New(workers int) *Scheduler {
	if workers <= 0 {
		workers = defaultWorkers
	}
	s := &Scheduler{
		work: make(chan func(), 256),
		stop: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go s.runWorker()
	}
	return s
}

func (s *Scheduler) runWorker() {
	for {
		select {
		case fn := <-s.work:
			fn()
		case <-s.stop:
			return
		}
	}
}

// Stop halts every worker. Tasks already queued but not yet picked up are
// dropped.
func (s *Scheduler) Stop() {
	close(s.stop)
}

// AddTask registers fn to run every interval. If runNow, the first
// invocation happens immediately (still asynchronously); otherwise it waits
// one interval. If runOnce, fn runs exactly once — immediately, as soon as
// a worker is free, when interval is 0; otherwise after one interval.
// AddTask never blocks the caller.
func (s *Scheduler) AddTask(fn func(), interval time.Duration, runNow, runOnce bool) TaskHandle {
	handle := TaskHandle{stop: make(chan struct{})}

	if runOnce {
		if interval <= 0 {
			s.enqueue(fn)
			return handle
		}
		go func() {
			timer := time.NewTimer(interval)
			defer timer.Stop()
			select {
			case <-timer.C:
				s.enqueue(fn)
			case <-handle.stop:
			}
		}()
		return handle
	}

	go func() {
		if runNow {
			s.enqueue(fn)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.enqueue(fn)
			case <-handle.stop:
				return
			case <-s.stop:
				return
			}
		}
	}()
	return handle
}

// enqueue hands fn to a worker, logging and dropping it if the queue is
// saturated rather than blocking the scheduling goroutine.
func (s *Scheduler) enqueue(fn func()) {
	select {
	case s.work <- fn:
	default:
		log.Warn("schedule: worker queue full, dropping task run")
	}
}
