package background

import (
	"context"
	"sync"
)

// Cancellation is the foreground "cancellation requested" flag. The UI sets
// it, whoever is blocked in a cancellable wait reacts to it.
type Cancellation struct {
	mu        sync.Mutex
	requested bool
	done      chan struct{}
}

// NewCancellation returns a lowered flag.
func NewCancellation() *Cancellation {
	return &Cancellation{done: make(chan struct{})}
}

// Request raises the flag. Safe to call from any goroutine, repeatedly.
func (c *Cancellation) Request() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.requested {
		return
	}
	c.requested = true
	close(c.done)
}

// Requested reports whether the flag is raised.
func (c *Cancellation) Requested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requested
}

// Reset lowers the flag for the next foreground operation.
func (c *Cancellation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.requested {
		return
	}
	c.requested = false
	c.done = make(chan struct{})
}

func (c *Cancellation) doneChan() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// context returns a child of parent cancelled once the flag is raised. The
// returned stop function must be called to release the watcher goroutine.
func (c *Cancellation) context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	done := c.doneChan()
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// begin lowers the flag for a new cancellable foreground operation and
// returns its context. Only requests made from now on cancel it.
func (c *Cancellation) begin(parent context.Context) (context.Context, context.CancelFunc) {
	c.Reset()
	return c.context(parent)
}
