package plugins

import (
	"context"
	"errors"
	"sync"

	"github.com/tetratelabs/wazero/api"
)

var errPoolClosed = errors.New("instance pool closed")

// wasmInstance is one instantiated copy of a plugin module. Guests are single-threaded,
// so an instance serves one call at a time.
type wasmInstance struct {
	mod   api.Module
	alloc api.Function
	free  api.Function
}

func (i *wasmInstance) close(ctx context.Context) error {
	if i.mod == nil {
		return nil
	}

	return i.mod.Close(ctx)
}

// instancePool manages up to maxSize instances of one plugin module.
type instancePool struct {
	pool    chan *wasmInstance
	maxSize int
	factory func(ctx context.Context) (*wasmInstance, error)

	mu      sync.Mutex
	created int
	all     []*wasmInstance
	closed  bool
}

func newInstancePool(maxSize int, factory func(ctx context.Context) (*wasmInstance, error)) *instancePool {
	if maxSize < 1 {
		maxSize = 1
	}

	return &instancePool{
		pool:    make(chan *wasmInstance, maxSize),
		maxSize: maxSize,
		factory: factory,
	}
}

// Get returns an idle instance, creates one while below maxSize, or waits for one to be
// returned.
func (p *instancePool) Get(ctx context.Context) (*wasmInstance, error) {
	select {
	case inst := <-p.pool:
		return inst, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errPoolClosed
	}
	if p.created < p.maxSize {
		p.created++
		p.mu.Unlock()

		inst, err := p.factory(ctx)
		if err != nil {
			p.mu.Lock()
			p.created--
			p.mu.Unlock()
			return nil, err
		}

		p.mu.Lock()
		p.all = append(p.all, inst)
		p.mu.Unlock()

		return inst, nil
	}
	p.mu.Unlock()

	select {
	case inst := <-p.pool:
		return inst, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns an instance to the pool.
func (p *instancePool) Put(inst *wasmInstance) {
	select {
	case p.pool <- inst:
	default:
		// pool full, drop instance
	}
}

// Discard forgets a broken instance so a fresh one can be created in its place.
func (p *instancePool) Discard(ctx context.Context, inst *wasmInstance) {
	p.mu.Lock()
	for i, cur := range p.all {
		if cur == inst {
			p.all = append(p.all[:i], p.all[i+1:]...)
			p.created--
			break
		}
	}
	p.mu.Unlock()

	_ = inst.close(ctx)
}

// Size returns the number of live instances.
func (p *instancePool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.created
}

// Close closes every instance the pool created.
func (p *instancePool) Close(ctx context.Context) error {
	p.mu.Lock()
	all := p.all
	p.all = nil
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for _, inst := range all {
		if err := inst.close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
