// Package engine holds the client's single logical thread of control.
//
// Core state is guarded by one mutex. I/O completions are posted onto a
// serial loop that runs them under that mutex; application callbacks are
// emitted onto a second serial queue and run without it, so they never
// re-enter a state transition synchronously.
package engine

import (
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"go.uber.org/zap"
)

type Engine struct {
	mu     sync.Mutex
	loop   *workerpool.WorkerPool
	events *workerpool.WorkerPool
	clock  *Clock
	logger *zap.SugaredLogger

	stateMu sync.RWMutex
	closed  bool
}

func New(logger *zap.SugaredLogger) *Engine {
	return &Engine{
		loop:   workerpool.New(1),
		events: workerpool.New(1),
		clock:  NewClock(),
		logger: logger,
	}
}

func (e *Engine) Clock() *Clock { return e.clock }

func (e *Engine) Logger() *zap.SugaredLogger { return e.logger }

// Lock acquires the core lock for a public API call.
func (e *Engine) Lock() { e.mu.Lock() }

func (e *Engine) Unlock() { e.mu.Unlock() }

// Post queues fn onto the loop. It never blocks and may be called from any
// goroutine, including pion callbacks.
func (e *Engine) Post(fn func()) {
	e.submit(e.loop, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		defer e.recover("loop")
		fn()
	})
}

// Emit queues an application callback. fn runs without the core lock.
func (e *Engine) Emit(fn func()) {
	e.submit(e.events, func() {
		defer e.recover("callback")
		fn()
	})
}

// After posts fn onto the loop once d has elapsed.
func (e *Engine) After(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { e.Post(fn) })
}

// Every posts fn onto the loop every d until the returned stop func is called.
func (e *Engine) Every(d time.Duration, fn func()) (stop func()) {
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				select {
				case <-done:
					return
				default:
				}
				e.Post(fn)
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// Flush waits until everything posted or emitted before the call has run.
// It must not be called from the loop or from a callback.
func (e *Engine) Flush() {
	done := make(chan struct{})
	e.submit(e.loop, func() {
		e.submit(e.events, func() { close(done) })
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}

// Close drains both queues and stops them. Later posts are dropped.
func (e *Engine) Close() {
	e.stateMu.Lock()
	if e.closed {
		e.stateMu.Unlock()
		return
	}
	e.closed = true
	e.stateMu.Unlock()

	e.loop.StopWait()
	e.events.StopWait()
}

func (e *Engine) submit(pool *workerpool.WorkerPool, task func()) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	if e.closed {
		return
	}
	pool.Submit(task)
}

func (e *Engine) recover(where string) {
	if r := recover(); r != nil {
		e.logger.Errorw("panic recovered", "where", where, "panic", r)
	}
}
