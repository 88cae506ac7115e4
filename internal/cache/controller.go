// Package cache owns the single cached feed document and its refresh policy.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryan-buckman/groupsfeed/internal/logger"
	"github.com/bryan-buckman/groupsfeed/internal/model"
)

const (
	// DefaultRefreshInterval is used when a non-positive interval is given.
	DefaultRefreshInterval = 30 * time.Minute
	// generationTimeout bounds one generation cycle.
	generationTimeout = 10 * time.Minute
)

// Generator produces feed documents.
type Generator interface {
	// Generate runs one full cycle.
	Generate(ctx context.Context) (*model.Document, error)
	// Empty renders a valid feed with no items.
	Empty() (*model.Document, error)
}

// Status is a snapshot of the controller state.
type Status struct {
	Cached          bool
	LastUpdated     time.Time
	GenerationID    string
	Topics          int
	RefreshInterval time.Duration
	Refreshing      bool
	LastAttempt     time.Time
	LastError       string
}

// Controller holds the current document. Readers never block; generations
// run one at a time and a failed generation leaves the current document in
// place.
type Controller struct {
	gen      Generator
	interval time.Duration

	current atomic.Pointer[model.Document]

	// genMu serializes generations.
	genMu sync.Mutex

	mu          sync.Mutex
	running     bool // a triggered refresh goroutine is active
	pending     bool // another trigger arrived while running
	lastAttempt time.Time
	lastErr     error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a controller. Call Start to begin periodic refresh and Stop to
// end it.
func New(gen Generator, interval time.Duration) *Controller {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		gen:      gen,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Current returns the cached document, or nil before the first success.
func (c *Controller) Current() *model.Document {
	return c.current.Load()
}

// Feed returns the cached document. On a cold cache it generates
// synchronously; if that fails it returns an empty but valid feed without
// caching it.
func (c *Controller) Feed(ctx context.Context) (*model.Document, error) {
	if doc := c.Current(); doc != nil {
		return doc, nil
	}

	c.genMu.Lock()
	if c.Current() == nil {
		_ = c.refreshLocked(ctx)
	}
	c.genMu.Unlock()

	if doc := c.Current(); doc != nil {
		return doc, nil
	}
	return c.gen.Empty()
}

// Refresh runs one generation now and waits for it.
func (c *Controller) Refresh(ctx context.Context) error {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return c.refreshLocked(ctx)
}

// TriggerRefresh schedules a generation without blocking. Triggers that
// arrive while one is running collapse into a single trailing generation.
// It reports whether a new refresh goroutine was started.
func (c *Controller) TriggerRefresh() bool {
	c.mu.Lock()
	if c.running {
		c.pending = true
		c.mu.Unlock()
		return false
	}
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			if err := c.Refresh(c.ctx); err != nil {
				logger.Debugf("[cache] triggered refresh: %v", err)
			}

			c.mu.Lock()
			if !c.pending || c.ctx.Err() != nil {
				c.running = false
				c.pending = false
				c.mu.Unlock()
				return
			}
			c.pending = false
			c.mu.Unlock()
		}
	}()
	return true
}

// Start begins the periodic loop: generate, sleep interval, repeat.
func (c *Controller) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			logger.Infof("[cache] periodic refresh (interval: %s)", c.interval)
			_ = c.Refresh(c.ctx)

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.interval):
			}
		}
	}()
}

// Stop cancels the periodic loop and any triggered refresh and waits for
// them to return.
func (c *Controller) Stop() {
	c.cancel()
	c.wg.Wait()
}

// Status returns a snapshot for reporting.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		RefreshInterval: c.interval,
		Refreshing:      c.running,
		LastAttempt:     c.lastAttempt,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	c.mu.Unlock()

	if doc := c.Current(); doc != nil {
		st.Cached = true
		st.LastUpdated = doc.GeneratedAt
		st.GenerationID = doc.ID
		st.Topics = doc.Topics
	}
	return st
}

// Interval is the periodic refresh interval.
func (c *Controller) Interval() time.Duration {
	return c.interval
}

// refreshLocked runs one generation. genMu must be held.
func (c *Controller) refreshLocked(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()

	doc, err := c.generate(ctx)

	c.mu.Lock()
	c.lastAttempt = time.Now()
	c.lastErr = err
	c.mu.Unlock()

	if err != nil {
		if prev := c.Current(); prev != nil {
			logger.Warnf("[cache] generation failed, keeping %s from %s: %v", prev.ID, prev.GeneratedAt.Format(time.RFC3339), err)
		} else {
			logger.Warnf("[cache] generation failed, cache still empty: %v", err)
		}
		return err
	}

	c.current.Store(doc)
	logger.Infof("[cache] cached %s with %d topics", doc.ID, doc.Topics)
	return nil
}

// generate calls the generator, turning panics and nil documents into errors.
func (c *Controller) generate(ctx context.Context) (doc *model.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[cache] generation panicked: %v", r)
			doc, err = nil, fmt.Errorf("generation panicked: %v", r)
		}
	}()

	doc, err = c.gen.Generate(ctx)
	if err == nil && doc == nil {
		err = errors.New("generator returned no document")
	}
	return doc, err
}
