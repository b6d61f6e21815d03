// Package correlator pairs result tokens handed out at dispatch time with the
// callbacks waiting for a handler's result.
package correlator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/morezero/nav-dispatch/pkg/params"
)

const logPrefix = "correlator:correlator"

// Result codes follow the platform convention for activity results.
const (
	ResultOK        = -1
	ResultCanceled  = 0
	ResultFirstUser = 1
)

// Callback receives the result for a token. It is invoked at most once.
type Callback func(ctx context.Context, token int, resultCode int, payload *params.Bag)

type pending struct {
	cb Callback
}

// Options configures a Correlator.
type Options struct {
	// TTL bounds how long a token may stay unresolved. Zero disables expiry.
	TTL time.Duration
	// OnPendingChange, if set, is called with the pending count after every change.
	OnPendingChange func(n int)
}

// Correlator holds pending result callbacks keyed by token.
type Correlator struct {
	next     atomic.Int64
	cache    *ttlcache.Cache[int, *pending]
	onChange func(n int)
	started  bool
	stopOnce sync.Once
}

// New creates a Correlator. When opts.TTL is positive a background goroutine
// expires abandoned tokens; Close stops it.
func New(opts Options) *Correlator {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	c := &Correlator{
		cache: ttlcache.New(
			ttlcache.WithTTL[int, *pending](ttl),
			ttlcache.WithDisableTouchOnHit[int, *pending](),
		),
		onChange: opts.OnPendingChange,
	}

	c.cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[int, *pending]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		// the cache lock may still be held here
		go c.expire(item.Key(), item.Value())
	})

	if opts.TTL > 0 {
		c.started = true
		go c.cache.Start()
	}
	return c
}

// NextToken returns a fresh token. Tokens start at 1 and never repeat.
func (c *Correlator) NextToken() int {
	return int(c.next.Add(1))
}

// Register stores cb under token.
func (c *Correlator) Register(token int, cb Callback) {
	if cb == nil {
		return
	}
	c.cache.Set(token, &pending{cb: cb}, ttlcache.DefaultTTL)
	slog.Debug(fmt.Sprintf("%s - registered token %d", logPrefix, token))
	c.notify()
}

// Resolve removes the callback for token and invokes it. It returns false
// when the token is unknown or was already resolved.
func (c *Correlator) Resolve(ctx context.Context, token int, resultCode int, payload *params.Bag) bool {
	item, ok := c.cache.GetAndDelete(token)
	if !ok || item == nil {
		slog.Warn(fmt.Sprintf("%s - no pending callback for token %d", logPrefix, token))
		return false
	}
	c.notify()
	c.invoke(ctx, token, item.Value(), resultCode, payload)
	return true
}

// Discard removes token without invoking its callback.
func (c *Correlator) Discard(token int) bool {
	_, ok := c.cache.GetAndDelete(token)
	if ok {
		c.notify()
	}
	return ok
}

// Pending returns the number of unresolved tokens.
func (c *Correlator) Pending() int {
	return c.cache.Len()
}

// Close stops the expiry goroutine. Pending callbacks are dropped.
func (c *Correlator) Close() {
	c.stopOnce.Do(func() {
		n := c.cache.Len()
		if c.started {
			c.cache.Stop()
		}
		c.cache.DeleteAll()
		if n > 0 {
			slog.Info(fmt.Sprintf("%s - closed with %d pending tokens", logPrefix, n))
		}
	})
}

func (c *Correlator) expire(token int, p *pending) {
	slog.Warn(fmt.Sprintf("%s - token %d expired without a result", logPrefix, token))
	c.notify()
	c.invoke(context.Background(), token, p, ResultCanceled, nil)
}

func (c *Correlator) invoke(ctx context.Context, token int, p *pending, resultCode int, payload *params.Bag) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - result callback for token %d panicked: %v", logPrefix, token, r))
		}
	}()
	p.cb(ctx, token, resultCode, payload)
}

func (c *Correlator) notify() {
	if c.onChange != nil {
		c.onChange(c.cache.Len())
	}
}
