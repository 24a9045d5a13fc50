package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrOutOfMemory is returned when a reservation does not fit the budget.
var ErrOutOfMemory = errors.New("resource: memory budget exceeded")

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes bounds the memory reserved by hierarchy construction
	// and engine buffers. Zero tracks usage without a limit.
	MemoryLimitBytes int64

	// MaxComputations is the number of background computations (hierarchy
	// builds and embedding runs) allowed at once. Zero means one.
	MaxComputations int64

	// IOLimitBytesPerSec throttles cache reads and writes. Zero is unlimited.
	IOLimitBytesPerSec int64
}

// Controller arbitrates memory, computation slots and cache IO. A nil
// *Controller imposes no limits.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted
	memUsed atomic.Int64

	slots *semaphore.Weighted

	io *rate.Limiter
}

// NewController creates a controller for cfg.
func NewController(cfg Config) *Controller {
	if cfg.MaxComputations <= 0 {
		cfg.MaxComputations = 1
	}

	c := &Controller{
		cfg:   cfg,
		slots: semaphore.NewWeighted(cfg.MaxComputations),
	}
	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.io = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// Config returns the limits the controller was created with.
func (c *Controller) Config() Config {
	if c == nil {
		return Config{}
	}
	return c.cfg
}

// Reservation is a block of reserved memory. Release is idempotent.
type Reservation struct {
	c     *Controller
	bytes int64
	once  sync.Once
}

// Bytes returns the reserved size.
func (r *Reservation) Bytes() int64 {
	if r == nil {
		return 0
	}
	return r.bytes
}

// Release returns the memory to the controller.
func (r *Reservation) Release() {
	if r == nil || r.c == nil {
		return
	}
	r.once.Do(func() {
		if r.c.memSem != nil {
			r.c.memSem.Release(r.bytes)
		}
		r.c.memUsed.Add(-r.bytes)
	})
}

// Reserve claims bytes without blocking. Construction phases are not
// retried, so a budget overrun is reported as ErrOutOfMemory.
func (c *Controller) Reserve(bytes int64) (*Reservation, error) {
	if c == nil || bytes <= 0 {
		return &Reservation{}, nil
	}
	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return nil, fmt.Errorf("%w: need %d bytes, %d of %d in use", ErrOutOfMemory, bytes, c.memUsed.Load(), c.cfg.MemoryLimitBytes)
	}
	c.memUsed.Add(bytes)
	return &Reservation{c: c, bytes: bytes}, nil
}

// ReserveWait claims bytes, blocking until they are available or ctx ends.
func (c *Controller) ReserveWait(ctx context.Context, bytes int64) (*Reservation, error) {
	if c == nil || bytes <= 0 {
		return &Reservation{}, nil
	}
	if bytes > c.cfg.MemoryLimitBytes && c.memSem != nil {
		return nil, fmt.Errorf("%w: need %d bytes, limit is %d", ErrOutOfMemory, bytes, c.cfg.MemoryLimitBytes)
	}
	if c.memSem != nil {
		if err := c.memSem.Acquire(ctx, bytes); err != nil {
			return nil, err
		}
	}
	c.memUsed.Add(bytes)
	return &Reservation{c: c, bytes: bytes}, nil
}

// MemoryUsage returns the reserved bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AcquireSlot blocks until a computation slot is free and returns its
// release function.
func (c *Controller) AcquireSlot(ctx context.Context) (func(), error) {
	if c == nil {
		return func() {}, nil
	}
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { c.slots.Release(1) }) }, nil
}

// TryAcquireSlot claims a computation slot if one is free.
func (c *Controller) TryAcquireSlot() (func(), bool) {
	if c == nil {
		return func() {}, true
	}
	if !c.slots.TryAcquire(1) {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { c.slots.Release(1) }) }, true
}

// WaitIO blocks until the IO budget admits n bytes.
func (c *Controller) WaitIO(ctx context.Context, n int) error {
	if c == nil || c.io == nil || n <= 0 {
		return nil
	}
	// WaitN rejects requests above the burst size.
	for burst := c.io.Burst(); n > burst; n -= burst {
		if err := c.io.WaitN(ctx, burst); err != nil {
			return err
		}
	}
	return c.io.WaitN(ctx, n)
}
