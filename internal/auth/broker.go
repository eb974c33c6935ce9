package auth

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource is what the Broker needs from the exchange client.
type TokenSource interface {
	FetchToken(ctx context.Context) (string, error)
}

// Broker answers token requests cache-first. The embedded editor may demand
// a token synchronously during initialization, so once a token has been
// fetched every subsequent request is served from the cache immediately and
// a background refresh repopulates it for next time.
type Broker struct {
	source TokenSource

	mu         sync.Mutex
	cached     string
	expiresAt  time.Time
	refreshing bool
}

func NewBroker(source TokenSource) *Broker {
	return &Broker{source: source}
}

// Token returns a bearer credential. Cache hit: the cached value is returned
// without any network wait and a refresh is kicked off in the background.
// Cache miss (or a cached token already past its exp claim): the fetch
// happens inline so the caller never receives an empty or stale value.
func (b *Broker) Token(ctx context.Context) (string, error) {
	b.mu.Lock()
	if b.cached != "" && !b.expired() {
		token := b.cached
		b.scheduleRefreshLocked()
		b.mu.Unlock()
		return token, nil
	}
	b.mu.Unlock()

	token, err := b.source.FetchToken(ctx)
	if err != nil {
		return "", err
	}
	b.store(token)
	return token, nil
}

// Prefetch warms the cache before the editor is invoked. An error here is
// the caller's to classify; the broker stays usable either way.
func (b *Broker) Prefetch(ctx context.Context) error {
	token, err := b.source.FetchToken(ctx)
	if err != nil {
		return err
	}
	b.store(token)
	return nil
}

// Cached reports the current cache without triggering any fetch.
func (b *Broker) Cached() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cached, b.cached != ""
}

// Invalidate drops the cache, forcing the next Token call to fetch inline.
func (b *Broker) Invalidate() {
	b.mu.Lock()
	b.cached = ""
	b.expiresAt = time.Time{}
	b.mu.Unlock()
}

// expired is called with b.mu held. Opaque non-JWT tokens carry a zero
// expiry and are never considered expired on read; the per-hit background
// refresh keeps them fresh instead.
func (b *Broker) expired() bool {
	return !b.expiresAt.IsZero() && time.Now().After(b.expiresAt)
}

func (b *Broker) store(token string) {
	b.mu.Lock()
	b.cached = token
	b.expiresAt = tokenExpiry(token)
	b.mu.Unlock()
}

// scheduleRefreshLocked starts at most one in-flight background refresh.
// A failed refresh is logged and the cache keeps its previous value; the
// next Token call tries again.
func (b *Broker) scheduleRefreshLocked() {
	if b.refreshing {
		return
	}
	b.refreshing = true
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		token, err := b.source.FetchToken(ctx)

		b.mu.Lock()
		b.refreshing = false
		if err == nil && token != "" {
			b.cached = token
			b.expiresAt = tokenExpiry(token)
		}
		b.mu.Unlock()

		if err != nil {
			log.Printf("auth: background token refresh failed: %v", err)
		}
	}()
}

// tokenExpiry reads the exp claim without verifying the signature. We are
// the token's consumer, not its verifier; exp only steers refresh timing.
func tokenExpiry(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
