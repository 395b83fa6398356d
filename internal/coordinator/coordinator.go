package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/dreadwing5/Restore/internal/clientcache"
	"github.com/dreadwing5/Restore/internal/domain"
	"github.com/dreadwing5/Restore/internal/merge"
	"github.com/rs/zerolog"
)

type State int

const (
	StateIdle State = iota
	StatePending
	StateReconciled
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateReconciled:
		return "reconciled"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// BasketAPI is the server side of the protocol.
type BasketAPI interface {
	// Apply sends a mutation and returns the authoritative basket.
	Apply(ctx context.Context, op domain.Operation) (domain.Basket, error)
	// Fetch returns the server's basket; found is false when there is none.
	Fetch(ctx context.Context) (domain.Basket, bool, error)
}

// Result is the outcome of one mutation. Basket is the reconciled cache value
// on success.
type Result struct {
	Basket domain.Basket
	Err    error

	found bool
}

// Coordinator applies mutations optimistically to the client cache. Each
// basket id has a FIFO pipeline: at most one speculative state is visible at a
// time, and every mutation ends reconciled with the server's answer or rolled
// back to the last confirmed value.
type Coordinator struct {
	api         BasketAPI
	cache       *clientcache.Cache
	logger      zerolog.Logger
	callTimeout time.Duration
	observer    func(basketID string, s State)

	mu        sync.Mutex
	pipelines map[string]*pipeline
}

type pipeline struct {
	queue []*mutation
	state State
}

type mutation struct {
	ctx     context.Context
	op      domain.Operation
	refresh bool
	done    chan Result
}

type Option func(*Coordinator)

// WithCallTimeout bounds each server call. It is independent of the caller's
// context, which may be gone by the time the call runs.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.callTimeout = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithObserver registers fn to be called on every state transition.
func WithObserver(fn func(basketID string, s State)) Option {
	return func(c *Coordinator) { c.observer = fn }
}

func New(api BasketAPI, cache *clientcache.Cache, opts ...Option) *Coordinator {
	c := &Coordinator{
		api:         api,
		cache:       cache,
		logger:      zerolog.Nop(),
		callTimeout: 10 * time.Second,
		pipelines:   make(map[string]*pipeline),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit queues op for basketID and returns a channel that receives its
// result. The mutation runs to completion even if nobody reads the channel.
// basketID names the cache slot; before the server mints a token it need not
// match the ID the reconciled basket carries.
func (c *Coordinator) Submit(ctx context.Context, basketID string, op domain.Operation) <-chan Result {
	return c.enqueue(basketID, &mutation{
		ctx:  context.WithoutCancel(ctx),
		op:   op,
		done: make(chan Result, 1),
	})
}

// Refresh replaces the cached basket with the server's copy. It queues behind
// in-flight mutations so it never overwrites a speculative state.
func (c *Coordinator) Refresh(ctx context.Context, basketID string) (domain.Basket, bool, error) {
	done := c.enqueue(basketID, &mutation{
		ctx:     context.WithoutCancel(ctx),
		refresh: true,
		done:    make(chan Result, 1),
	})
	select {
	case r := <-done:
		if r.Err != nil {
			return domain.Basket{}, false, r.Err
		}
		return r.Basket, r.found, nil
	case <-ctx.Done():
		return domain.Basket{}, false, ctx.Err()
	}
}

func (c *Coordinator) enqueue(basketID string, m *mutation) <-chan Result {
	c.mu.Lock()
	p, running := c.pipelines[basketID]
	if !running {
		p = &pipeline{}
		c.pipelines[basketID] = p
	}
	p.queue = append(p.queue, m)
	c.mu.Unlock()

	if !running {
		go c.run(basketID, p)
	}
	return m.done
}

// Mutate submits op and waits for its result or for ctx to end. Giving up
// early does not cancel the mutation.
func (c *Coordinator) Mutate(ctx context.Context, basketID string, op domain.Operation) (domain.Basket, error) {
	select {
	case r := <-c.Submit(ctx, basketID, op):
		return r.Basket, r.Err
	case <-ctx.Done():
		return domain.Basket{}, ctx.Err()
	}
}

// AddItem optimistically adds quantity of product to the basket.
func (c *Coordinator) AddItem(ctx context.Context, basketID string, product domain.ProductSnapshot, quantity int) (domain.Basket, error) {
	return c.Mutate(ctx, basketID, domain.AddItem(product, quantity))
}

// RemoveItem optimistically removes quantity of productID from the basket.
func (c *Coordinator) RemoveItem(ctx context.Context, basketID string, productID int64, quantity int) (domain.Basket, error) {
	return c.Mutate(ctx, basketID, domain.RemoveItem(productID, quantity))
}

// State reports where the pipeline for basketID currently is.
func (c *Coordinator) State(basketID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pipelines[basketID]; ok {
		return p.state
	}
	return StateIdle
}

func (c *Coordinator) run(basketID string, p *pipeline) {
	for {
		c.mu.Lock()
		if len(p.queue) == 0 {
			delete(c.pipelines, basketID)
			c.mu.Unlock()
			return
		}
		m := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		c.mu.Unlock()

		m.done <- c.process(basketID, p, m)
	}
}

func (c *Coordinator) process(basketID string, p *pipeline, m *mutation) Result {
	if m.refresh {
		return c.refresh(basketID, m)
	}

	confirmed, cached := c.cache.Get(basketID)
	base := confirmed
	if !cached {
		base = domain.NewBasket(basketID)
	}

	speculative, err := merge.Apply(base, m.op)
	if err != nil {
		return Result{Err: err}
	}

	c.cache.Publish(basketID, speculative)
	c.transition(basketID, p, StatePending)

	ctx, cancel := context.WithTimeout(m.ctx, c.callTimeout)
	authoritative, err := c.api.Apply(ctx, m.op)
	cancel()

	if err != nil {
		if cached {
			c.cache.Publish(basketID, confirmed)
		} else {
			c.cache.Remove(basketID)
		}
		c.transition(basketID, p, StateRolledBack)
		c.transition(basketID, p, StateIdle)
		c.logger.Warn().Err(err).Str("basket_id", basketID).Stringer("op", m.op).Msg("basket mutation rolled back")
		return Result{Err: err}
	}

	c.cache.Publish(basketID, authoritative)
	c.transition(basketID, p, StateReconciled)
	c.transition(basketID, p, StateIdle)
	return Result{Basket: authoritative.Clone()}
}

func (c *Coordinator) refresh(basketID string, m *mutation) Result {
	ctx, cancel := context.WithTimeout(m.ctx, c.callTimeout)
	defer cancel()

	basket, found, err := c.api.Fetch(ctx)
	if err != nil {
		return Result{Err: err}
	}
	if !found {
		c.cache.Remove(basketID)
		return Result{}
	}
	c.cache.Publish(basketID, basket)
	return Result{Basket: basket.Clone(), found: true}
}

func (c *Coordinator) transition(basketID string, p *pipeline, s State) {
	c.mu.Lock()
	p.state = s
	c.mu.Unlock()
	if c.observer != nil {
		c.observer(basketID, s)
	}
}
