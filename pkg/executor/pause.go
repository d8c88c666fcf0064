package executor

import (
	"context"
	"sync"
)

// PauseController gates item starts. The engine checks the gate before
// each level and again before each item begins; in-flight provider calls
// are not interrupted.
type PauseController struct {
	mu      sync.RWMutex
	cond    *sync.Cond
	paused  bool
	stopped bool
}

// NewPauseController creates an unpaused controller.
func NewPauseController() *PauseController {
	p := &PauseController{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Pause stops new work from starting.
func (p *PauseController) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

// Resume releases any execution blocked on the pause gate.
func (p *PauseController) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		p.paused = false
		p.cond.Broadcast()
	}
}

// Stop permanently unblocks waiters; the engine treats it as cancellation.
func (p *PauseController) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		p.cond.Broadcast()
	}
}

// IsPaused reports whether the gate is currently closed.
func (p *PauseController) IsPaused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

// WaitIfPaused blocks until the gate opens, the controller stops, or the
// context is cancelled.
func (p *PauseController) WaitIfPaused(ctx context.Context) error {
	p.mu.Lock()
	if p.paused && !p.stopped {
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			case <-done:
			}
		}()

		for p.paused && !p.stopped {
			p.cond.Wait()
			if ctx.Err() != nil {
				close(done)
				p.mu.Unlock()
				return ctx.Err()
			}
		}
		close(done)
	}
	stopped := p.stopped
	p.mu.Unlock()

	if stopped {
		return context.Canceled
	}
	return ctx.Err()
}
