// Package auth provides the credential/token acquisition helper named in
// spec.md §6. It caches the last-fetched token as a field of a Source
// value — never a package global — and refreshes it lazily on expiry,
// coordinating concurrent refreshes with singleflight so that two callers
// racing to use an expired token only trigger one round-trip.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Token is an opaque credential handed to every downstream RPC client.
type Token struct {
	ID        string
	ExpiresAt time.Time
}

func (t Token) expired(skew time.Duration, now time.Time) bool {
	return t.ID == "" || !now.Before(t.ExpiresAt.Add(-skew))
}

// Fetcher acquires a fresh token from the credential service. Implementations
// wrap the out-of-scope credential/token acquisition helper named in
// spec.md §1.
type Fetcher interface {
	Fetch(ctx context.Context) (Token, error)
}

// Source is a lazily-refreshing, cached token source. The zero value is not
// usable; construct with NewSource.
type Source struct {
	fetcher Fetcher
	skew    time.Duration

	mu      sync.Mutex
	current Token

	group singleflight.Group
}

// NewSource builds a Source over fetcher, refreshing skew before expiry.
func NewSource(fetcher Fetcher, skew time.Duration) *Source {
	return &Source{fetcher: fetcher, skew: skew}
}

// Token returns the cached token, refreshing it first if it is absent or
// within skew of expiring. Every external client call must route through
// Token immediately before use — Design Note (d) requires the token be
// refreshed before every external call, not cached past a stale branch.
func (s *Source) Token(ctx context.Context) (Token, error) {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	if !current.expired(s.skew, time.Now()) {
		return current, nil
	}

	v, err, _ := s.group.Do("refresh", func() (interface{}, error) {
		fresh, err := s.fetcher.Fetch(ctx)
		if err != nil {
			return Token{}, fmt.Errorf("failed to refresh token: %w", err)
		}

		s.mu.Lock()
		s.current = fresh
		s.mu.Unlock()

		return fresh, nil
	})
	if err != nil {
		return Token{}, err
	}

	return v.(Token), nil
}
