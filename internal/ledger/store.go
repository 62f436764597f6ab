// Package ledger defines the key-value substrate the engine runs on:
// hashes, sorted sets, lists, and pub/sub with single-key atomicity.
// The Redis implementation is the production substrate; the memory
// implementation backs tests and local development with the same
// semantics, including the atomic claim and compare-and-set operations.
package ledger

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key, field, or list element is absent.
var ErrNotFound = errors.New("ledger: not found")

// ScoredMember is a sorted-set member together with its score.
type ScoredMember struct {
	Member string
	Score  float64
}

// Store is the ledger capability consumed by the engine. Every method is
// atomic with respect to its key; no multi-key transactions are assumed.
type Store interface {
	// HashSet writes the given fields of a hash.
	HashSet(ctx context.Context, key string, fields map[string]string) error

	// HashGet reads a single field. Returns ErrNotFound when absent.
	HashGet(ctx context.Context, key, field string) (string, error)

	// HashGetAll reads all fields of a hash. An empty map means the key
	// does not exist.
	HashGetAll(ctx context.Context, key string) (map[string]string, error)

	// HashIncrBy atomically adds delta to an integer field and returns
	// the new value.
	HashIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)

	// HashSetIfFieldEquals writes fields only if the guard field currently
	// holds the expected value. Returns false when the guard fails. A
	// missing guard field compares equal to the empty string.
	HashSetIfFieldEquals(ctx context.Context, key, field, expected string, fields map[string]string) (bool, error)

	// SortedSetAdd inserts or updates a member with the given score.
	SortedSetAdd(ctx context.Context, key, member string, score float64) error

	// SortedSetRange returns members by rank, ascending score order, or
	// descending when desc is set. Indexes follow Redis conventions
	// (negative counts from the end).
	SortedSetRange(ctx context.Context, key string, start, stop int64, desc bool) ([]string, error)

	// SortedSetRangeWithScores is SortedSetRange with scores attached.
	SortedSetRangeWithScores(ctx context.Context, key string, start, stop int64, desc bool) ([]ScoredMember, error)

	// SortedSetRemove removes members and returns how many existed.
	SortedSetRemove(ctx context.Context, key string, members ...string) (int64, error)

	// SortedSetCard returns the member count.
	SortedSetCard(ctx context.Context, key string) (int64, error)

	// SortedSetMoveLowest atomically removes up to n of the lowest-scored
	// members of src and adds them to dst at the given score. No two
	// concurrent callers can receive the same member.
	SortedSetMoveLowest(ctx context.Context, src, dst string, n int64, score float64) ([]string, error)

	// SortedSetMoveByScore atomically moves every member of src with
	// score at or below max into dst at newScore.
	SortedSetMoveByScore(ctx context.Context, src, dst string, max, newScore float64) ([]string, error)

	// ListPush prepends a value to a list.
	ListPush(ctx context.Context, key string, value []byte) error

	// ListPop removes and returns the oldest value of a list. Returns
	// ErrNotFound when the list is empty.
	ListPop(ctx context.Context, key string) ([]byte, error)

	// ListTrim keeps only the elements in [start, stop].
	ListTrim(ctx context.Context, key string, start, stop int64) error

	// Publish sends a payload to every subscriber of a channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a channel of payloads published on the named
	// channel. The subscription ends when ctx is cancelled.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
