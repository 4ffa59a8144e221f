// Package snapshot is a small latest-value KV store jobs use to cache
// exchange account state (mark price, position state, balances) between
// steps, keyed by (account_id, canonical) pairs — not a general-purpose
// cache.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v7"

	"github.com/cryptoladder/engine/internal/log"
)

var logger = log.New(log.ModuleSnapshot)

// DefaultTTL bounds how long a snapshot value survives without a refresh
// before it's considered stale and Redis evicts it — avoids an
// unbounded-growth key space for accounts that stop trading.
const DefaultTTL = 10 * time.Minute

// Store is a latest-value cache: Put always overwrites, Get never blocks
// on a miss (it's a cache, not a durable record — the durable record is
// whatever step/order row produced the value).
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client) *Store {
	return &Store{client: client, ttl: DefaultTTL}
}

func (s *Store) WithTTL(ttl time.Duration) *Store { s.ttl = ttl; return s }

func key(accountID uint64, canonical string) string {
	return fmt.Sprintf("snapshot:%d:%s", accountID, canonical)
}

// Put overwrites the latest value for (accountID, canonical). value is
// marshalled to JSON so callers can store any struct without the store
// needing to know its shape.
func (s *Store) Put(ctx context.Context, accountID uint64, canonical string, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := s.client.Set(key(accountID, canonical), b, s.ttl).Err(); err != nil {
		return err
	}
	return nil
}

// Get unmarshals the latest value into out. Returns ErrMiss if no value
// has been Put yet (or it expired).
func (s *Store) Get(ctx context.Context, accountID uint64, canonical string, out interface{}) error {
	raw, err := s.client.Get(key(accountID, canonical)).Bytes()
	if err == redis.Nil {
		return ErrMiss{AccountID: accountID, Canonical: canonical}
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Delete removes a cached value, e.g. when a position closes and its
// cached mark-price state is no longer meaningful.
func (s *Store) Delete(ctx context.Context, accountID uint64, canonical string) error {
	return s.client.Del(key(accountID, canonical)).Err()
}

// ErrMiss is returned by Get when the key has never been set or expired.
type ErrMiss struct {
	AccountID uint64
	Canonical string
}

func (e ErrMiss) Error() string {
	return fmt.Sprintf("snapshot: no value cached for account %d canonical %s", e.AccountID, e.Canonical)
}
