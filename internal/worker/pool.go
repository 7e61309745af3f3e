package worker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPoolBusy is returned when the queue is full and no more workers may be
// spawned. Handlers map it to HTTP 429.
var ErrPoolBusy = errors.New("transform pool is busy")

type job struct {
	fn   func()
	done chan struct{}
}

// Pool bounds the number of concurrently running transform invocations.
// External binaries are memory- and CPU-heavy, so min core workers stay warm
// and burst workers up to max are reaped after sitting idle.
type Pool struct {
	jobs chan job

	mu      sync.Mutex
	running int
	min     int
	max     int
	expiry  time.Duration
}

const defaultWorkerIdle = 30 * time.Second

func NewPool(minWorkers, maxWorkers, queueSize int, idle time.Duration) *Pool {
	if minWorkers < 1 {
		minWorkers = 1
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	if idle <= 0 {
		idle = defaultWorkerIdle
	}
	p := &Pool{
		jobs:   make(chan job, queueSize),
		min:    minWorkers,
		max:    maxWorkers,
		expiry: idle,
	}
	for i := 0; i < minWorkers; i++ {
		p.spawn(true)
	}
	return p
}

// Do enqueues fn and waits for it to finish. It fails fast with ErrPoolBusy
// when the queue is full and the pool is at max. Once the job has been handed
// to the queue, Do always joins on its completion: fn must observe ctx itself
// to stop early, and a cancelled ctx is reported only after fn has returned,
// so callers may tear down state the job touched as soon as Do returns.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	j := job{fn: fn, done: make(chan struct{})}
	select {
	case p.jobs <- j:
	default:
		if !p.trySpawn() {
			return ErrPoolBusy
		}
		// a burst worker was just spawned; hand the job over. The job is not
		// queued yet, so giving up here is safe.
		select {
		case p.jobs <- j:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-j.done
	return ctx.Err()
}

// Running reports the current worker count.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pool) trySpawn() bool {
	p.mu.Lock()
	if p.running >= p.max {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()
	p.spawn(false)
	return true
}

// spawn starts a worker goroutine. Core workers block on the queue forever;
// burst workers retire after p.expiry without a job.
func (p *Pool) spawn(core bool) {
	p.mu.Lock()
	if p.running >= p.max {
		p.mu.Unlock()
		return
	}
	p.running++
	p.mu.Unlock()

	go func() {
		if core {
			for j := range p.jobs {
				j.fn()
				close(j.done)
			}
			return
		}
		idle := time.NewTimer(p.expiry)
		defer idle.Stop()
		for {
			select {
			case j := <-p.jobs:
				j.fn()
				close(j.done)
				if !idle.Stop() {
					<-idle.C
				}
				idle.Reset(p.expiry)
			case <-idle.C:
				p.mu.Lock()
				p.running--
				p.mu.Unlock()
				return
			}
		}
	}()
}
