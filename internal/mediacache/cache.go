package mediacache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sqlbeats/beatscore/internal/monitoring"
	"github.com/sqlbeats/beatscore/internal/network"
	"github.com/sqlbeats/beatscore/internal/security"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL           = 30 * time.Minute
	DefaultSweepInterval = 10 * time.Minute
	DefaultVerifyTimeout = 5 * time.Second
	DefaultMaxEntries    = 400
)

// ErrAlreadyStarted is returned by Start when the sweep is already running.
var ErrAlreadyStarted = errors.New("cache sweep already started")

// Options configures a Cache. Zero values select the defaults.
type Options struct {
	TTL           time.Duration
	SweepInterval time.Duration
	VerifyTimeout time.Duration
	// MaxEntries bounds the entry count; the sweep trims the oldest normal
	// priority entries first once it is exceeded.
	MaxEntries int
	Verify     VerifyFunc
	Clock      func() time.Time
	Logger     *zap.Logger
}

type entry struct {
	url       string
	createdAt time.Time
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Cache maps storage keys to signed URLs for a bounded time window.
type Cache struct {
	signer        Signer
	verify        VerifyFunc
	ttl           time.Duration
	sweepInterval time.Duration
	verifyTimeout time.Duration
	maxEntries    int
	now           func() time.Time
	logger        *zap.Logger

	mu      sync.RWMutex
	entries map[cacheKey]entry

	flights singleflight.Group
	hits    atomic.Int64
	misses  atomic.Int64

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a cache that signs keys with signer.
func New(signer Signer, opts Options) *Cache {
	c := &Cache{
		signer:        signer,
		verify:        opts.Verify,
		ttl:           opts.TTL,
		sweepInterval: opts.SweepInterval,
		verifyTimeout: opts.VerifyTimeout,
		maxEntries:    opts.MaxEntries,
		now:           opts.Clock,
		logger:        monitoring.Named(opts.Logger, "mediacache"),
		entries:       make(map[cacheKey]entry),
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.sweepInterval <= 0 {
		c.sweepInterval = DefaultSweepInterval
	}
	if c.verifyTimeout <= 0 {
		c.verifyTimeout = DefaultVerifyTimeout
	}
	if c.maxEntries <= 0 {
		c.maxEntries = DefaultMaxEntries
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.verify == nil {
		c.verify = func(ctx context.Context, url, accept string) error {
			return network.Verify(ctx, nil, url, accept)
		}
	}
	return c
}

// Resolve maps storageKey to a fetchable URL. It never returns an error:
// failures surface as an Unresolved or Degraded outcome.
func (c *Cache) Resolve(ctx context.Context, storageKey string, creds security.TokenSource, class ContentClass, priority Priority) Resolution {
	if storageKey == "" {
		return Resolution{Outcome: Unresolved}
	}
	if priority != PriorityHigh {
		priority = PriorityNormal
	}

	k := cacheKey{key: storageKey, class: class, priority: priority}
	if url, ok := c.lookup(k); ok {
		c.hits.Add(1)
		monitoring.RecordCacheLookup(true)
		return Resolution{URL: url, Outcome: Resolved, Cached: true}
	}
	c.misses.Add(1)
	monitoring.RecordCacheLookup(false)

	ch := c.flights.DoChan(k.String(), func() (interface{}, error) {
		return c.resolveUncached(context.WithoutCancel(ctx), k, creds), nil
	})

	select {
	case <-ctx.Done():
		return Resolution{Outcome: Unresolved}
	case res := <-ch:
		r := res.Val.(Resolution)
		monitoring.RecordResolution(string(r.Outcome), string(priority))
		return r
	}
}

func (c *Cache) lookup(k cacheKey) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[k]
	if !ok || !c.live(e) {
		return "", false
	}
	return e.url, true
}

func (c *Cache) live(e entry) bool {
	return c.now().Sub(e.createdAt) < c.ttl
}

// resolveUncached runs once per in-flight composite key.
func (c *Cache) resolveUncached(ctx context.Context, k cacheKey, creds security.TokenSource) (res Resolution) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic during resolution",
				zap.String("key", k.key),
				zap.Any("panic", r))
			res = Resolution{URL: k.key, Outcome: Degraded}
		}
	}()

	// A concurrent flight may have stored the entry since our lookup.
	if url, ok := c.lookup(k); ok {
		return Resolution{URL: url, Outcome: Resolved, Cached: true}
	}

	if creds == nil {
		c.logger.Warn("no credentials for resolution", zap.String("key", k.key))
		return Resolution{Outcome: Unresolved}
	}
	token, err := creds.Token(ctx)
	if err != nil || token == "" {
		c.logger.Warn("failed to obtain bearer token",
			zap.String("key", k.key),
			zap.Error(err))
		return Resolution{Outcome: Unresolved}
	}

	signed, err := c.signer.Sign(ctx, objectKey(k.key, k.class), token)
	if err != nil {
		c.logger.Warn("signing failed, falling back to raw key",
			zap.String("key", k.key),
			zap.String("class", string(k.class)),
			zap.Error(err))
		return Resolution{URL: k.key, Outcome: Degraded}
	}

	if k.priority == PriorityHigh {
		vctx, cancel := context.WithTimeout(ctx, c.verifyTimeout)
		err := c.verify(vctx, signed, k.class.Accept())
		cancel()
		if err != nil {
			c.logger.Warn("verification failed, falling back to raw key",
				zap.String("key", k.key),
				zap.Error(err))
			return Resolution{URL: k.key, Outcome: Degraded}
		}
	}

	c.store(k, signed)
	return Resolution{URL: signed, Outcome: Resolved}
}

func (c *Cache) store(k cacheKey, url string) {
	c.mu.Lock()
	c.entries[k] = entry{url: url, createdAt: c.now()}
	n := len(c.entries)
	c.mu.Unlock()
	monitoring.RecordCacheSize(n)
}

// PurgeExpired removes expired entries and returns how many were removed.
func (c *Cache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []cacheKey
	for k, e := range c.entries {
		if !c.live(e) {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		delete(c.entries, k)
	}

	removed := len(expired) + c.trimLocked()
	monitoring.RecordCachePurge(removed)
	monitoring.RecordCacheSize(len(c.entries))
	return removed
}

// trimLocked drops the oldest entries above maxEntries, normal priority first.
func (c *Cache) trimLocked() int {
	excess := len(c.entries) - c.maxEntries
	if excess <= 0 {
		return 0
	}

	type aged struct {
		k cacheKey
		e entry
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{k, e})
	}
	sort.Slice(all, func(i, j int) bool {
		hi, hj := all[i].k.priority == PriorityHigh, all[j].k.priority == PriorityHigh
		if hi != hj {
			return !hi
		}
		return all[i].e.createdAt.Before(all[j].e.createdAt)
	})
	for _, a := range all[:excess] {
		delete(c.entries, a.k)
	}
	return excess
}

// Invalidate drops every entry for storageKey regardless of class or priority.
func (c *Cache) Invalidate(storageKey string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k := range c.entries {
		if k.key == storageKey {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns entry count and lookup counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries: c.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

// Start runs the expiry sweep until ctx is done or Stop is called.
func (c *Cache) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.running {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.sweepLoop(ctx, c.done)

	c.logger.Info("cache sweep started",
		zap.Duration("interval", c.sweepInterval),
		zap.Duration("ttl", c.ttl))
	return nil
}

func (c *Cache) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.PurgeExpired(); removed > 0 {
				c.logger.Debug("purged cache entries", zap.Int("removed", removed))
			}
		}
	}
}

// Stop halts the sweep and waits for it to exit. Safe to call more than once.
func (c *Cache) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.running = false
	c.cancel = nil
	c.runMu.Unlock()

	cancel()
	<-done
	c.logger.Info("cache sweep stopped")
}
