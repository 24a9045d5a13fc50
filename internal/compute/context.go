package compute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrRevoked is returned when a kernel is launched through a lease that
	// no longer owns the context.
	ErrRevoked = errors.New("compute: lease revoked")
	// ErrDestroyed is returned once the context has been destroyed.
	ErrDestroyed = errors.New("compute: context destroyed")
)

// DefaultChunkSize is the number of indices processed per kernel task.
const DefaultChunkSize = 256

type options struct {
	workers   int
	chunkSize int
	logger    *slog.Logger
}

// Option configures a Context.
type Option func(*options)

// WithWorkers bounds the number of concurrently running kernel tasks.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithChunkSize sets the number of indices per kernel task.
func WithChunkSize(n int) Option {
	return func(o *options) { o.chunkSize = n }
}

// WithLogger sets the logger used for ownership changes.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Context is a parallel execution resource with a single owner at a time.
type Context struct {
	mu        sync.Mutex
	gen       uint64
	holder    string
	destroyed bool

	workers   int
	chunkSize int
	logger    *slog.Logger
}

// Lease is the capability to run kernels on a Context.
type Lease struct {
	c      *Context
	gen    uint64
	holder string
}

// NewContext creates a context owned by holder and returns the holder's lease.
func NewContext(holder string, optFns ...Option) (*Context, *Lease) {
	o := options{
		workers:   runtime.GOMAXPROCS(0),
		chunkSize: DefaultChunkSize,
	}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.workers < 1 {
		o.workers = 1
	}
	if o.chunkSize < 1 {
		o.chunkSize = DefaultChunkSize
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	c := &Context{
		gen:       1,
		holder:    holder,
		workers:   o.workers,
		chunkSize: o.chunkSize,
		logger:    o.logger,
	}

	c.logger.Debug("compute context created", "holder", holder, "workers", o.workers)

	return c, &Lease{c: c, gen: 1, holder: holder}
}

// Workers returns the worker bound.
func (c *Context) Workers() int { return c.workers }

// Holder returns the current owner's name, or "" once destroyed.
func (c *Context) Holder() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return ""
	}
	return c.holder
}

// Destroyed reports whether Destroy has been called.
func (c *Context) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.destroyed
}

// Destroy revokes all leases. It is safe to call more than once.
func (c *Context) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return
	}
	c.destroyed = true
	c.gen++
	c.logger.Debug("compute context destroyed", "last_holder", c.holder)
}

// Holder returns the name the lease was issued to.
func (l *Lease) Holder() string { return l.holder }

// Context returns the context this lease refers to.
func (l *Lease) Context() *Context { return l.c }

// Valid reports whether the lease still owns its context.
func (l *Lease) Valid() bool {
	return l.check() == nil
}

func (l *Lease) check() error {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()

	if l.c.destroyed {
		return ErrDestroyed
	}
	if l.c.gen != l.gen {
		return fmt.Errorf("%w: held by %q, owner is %q", ErrRevoked, l.holder, l.c.holder)
	}
	return nil
}

// TransferOwnership hands the context to target. The receiver is revoked
// and the returned lease is the only valid one.
func (l *Lease) TransferOwnership(target string) (*Lease, error) {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()

	if l.c.destroyed {
		return nil, ErrDestroyed
	}
	if l.c.gen != l.gen {
		return nil, fmt.Errorf("%w: %q cannot transfer a context owned by %q", ErrRevoked, l.holder, l.c.holder)
	}

	l.c.gen++
	from := l.c.holder
	l.c.holder = target

	l.c.logger.Debug("compute context transferred", "from", from, "to", target)

	return &Lease{c: l.c, gen: l.c.gen, holder: target}, nil
}

// Chunks returns the number of tasks a kernel over n indices is split into.
func (l *Lease) Chunks(n int) int {
	return (n + l.c.chunkSize - 1) / l.c.chunkSize
}

// Run executes fn over [0, n) split into fixed-size chunks, in parallel.
// fn receives the chunk number and its index range. The lease is checked
// before every chunk.
func (l *Lease) Run(ctx context.Context, n int, fn func(chunk, lo, hi int) error) error {
	if err := l.check(); err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(l.c.workers)

	size := l.c.chunkSize
	for chunk, lo := 0, 0; lo < n; chunk, lo = chunk+1, lo+size {
		hi := min(lo+size, n)
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := l.check(); err != nil {
				return err
			}
			return fn(chunk, lo, hi)
		})
	}

	return eg.Wait()
}

// Sum executes fn over [0, n) in chunks and returns the sum of the per-chunk
// results, added in chunk order.
func (l *Lease) Sum(ctx context.Context, n int, fn func(lo, hi int) float64) (float64, error) {
	partial := make([]float64, l.Chunks(n))

	err := l.Run(ctx, n, func(chunk, lo, hi int) error {
		partial[chunk] = fn(lo, hi)
		return nil
	})
	if err != nil {
		return 0, err
	}

	var total float64
	for _, p := range partial {
		total += p
	}
	return total, nil
}
