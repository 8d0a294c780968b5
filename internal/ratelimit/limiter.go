// Package ratelimit enforces the per-identity request ceilings from spec
// §4.7 (session creation ≤10/min, every other authenticated API call
// ≤100/min) and persists usage counters so they survive a restart.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vtmuxd/vtmuxd/internal/store"
)

// Category distinguishes the two ceilings spec §4.7 defines.
type Category string

const (
	CategorySessionCreate Category = "session_create"
	CategoryOther         Category = "other"
)

type identityLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter applies independent per-identity token buckets for session
// creation and for the rest of the authenticated API, the way wingthing's
// BandwidthMeter keyed limiters by user ID rather than sharing one global
// bucket.
type Limiter struct {
	mu             sync.Mutex
	sessionCreate  map[string]*identityLimiter
	other          map[string]*identityLimiter
	sessionPerMin  int
	otherPerMin    int
	counters       map[string]map[Category]int64
	log            *slog.Logger
	store          *store.Store // optional; nil disables persistence
}

// New creates a Limiter enforcing sessionPerMin session creations and
// otherPerMin other calls per identity per minute. st may be nil.
func New(sessionPerMin, otherPerMin int, st *store.Store, log *slog.Logger) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	return &Limiter{
		sessionCreate: make(map[string]*identityLimiter),
		other:         make(map[string]*identityLimiter),
		sessionPerMin: sessionPerMin,
		otherPerMin:   otherPerMin,
		counters:      make(map[string]map[Category]int64),
		log:           log,
		store:         st,
	}
}

// AllowSessionCreate reports whether identity may create another session
// right now, consuming one token if so.
func (l *Limiter) AllowSessionCreate(identity string) bool {
	return l.allow(identity, CategorySessionCreate, l.sessionCreate, l.sessionPerMin)
}

// AllowOther reports whether identity may make another (non-session-create)
// API call right now, consuming one token if so.
func (l *Limiter) AllowOther(identity string) bool {
	return l.allow(identity, CategoryOther, l.other, l.otherPerMin)
}

func (l *Limiter) allow(identity string, cat Category, bucket map[string]*identityLimiter, perMin int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	il, ok := bucket[identity]
	if !ok {
		il = &identityLimiter{lim: rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin)}
		bucket[identity] = il
	}
	il.lastSeen = time.Now()

	allowed := il.lim.Allow()
	if allowed {
		if l.counters[identity] == nil {
			l.counters[identity] = make(map[Category]int64)
		}
		l.counters[identity][cat]++
	}
	return allowed
}

// EvictStale drops per-identity limiter state untouched for longer than
// ttl, bounding memory use across long-lived deployments (mirrors
// wingthing's RateLimiter eviction sweep).
func (l *Limiter) EvictStale(ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for id, il := range l.sessionCreate {
		if now.Sub(il.lastSeen) > ttl {
			delete(l.sessionCreate, id)
		}
	}
	for id, il := range l.other {
		if now.Sub(il.lastSeen) > ttl {
			delete(l.other, id)
		}
	}
}

// StartSync periodically flushes usage counters to the backing store
// until ctx is done. No-op if the Limiter was built without a Store.
func (l *Limiter) StartSync(ctx context.Context, interval time.Duration) {
	if l.store == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.flush()
			}
		}
	}()
}

func (l *Limiter) flush() {
	l.mu.Lock()
	snap := make(map[string]map[Category]int64, len(l.counters))
	for id, cats := range l.counters {
		snap[id] = map[Category]int64{CategorySessionCreate: cats[CategorySessionCreate], CategoryOther: cats[CategoryOther]}
	}
	// RecordUsage adds to the stored total, so only counts since the last
	// flush are sent.
	l.counters = make(map[string]map[Category]int64)
	l.mu.Unlock()

	for id, cats := range snap {
		for cat, count := range cats {
			if count == 0 {
				continue
			}
			if err := l.store.RecordUsage(id, string(cat), count); err != nil {
				l.log.Warn("rate limit usage sync failed", "identity", id, "category", cat, "error", err)
			}
		}
	}
}
