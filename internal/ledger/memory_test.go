package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashSetAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.HashSet(ctx, "order:1", map[string]string{"status": "pending", "version": "1"}))

	status, err := s.HashGet(ctx, "order:1", "status")
	require.NoError(t, err)
	assert.Equal(t, "pending", status)

	_, err = s.HashGet(ctx, "order:1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := s.HashGetAll(ctx, "order:1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	all, err = s.HashGetAll(ctx, "order:absent")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestHashIncrBy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	n, err := s.HashIncrBy(ctx, "stats", "pending", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.HashIncrBy(ctx, "stats", "pending", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	n, err = s.HashIncrBy(ctx, "stats", "pending", -2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestHashSetIfFieldEquals(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.HashSet(ctx, "order:1", map[string]string{"status": "pending", "version": "1"}))

	ok, err := s.HashSetIfFieldEquals(ctx, "order:1", "version", "1",
		map[string]string{"status": "filled", "version": "2"})
	require.NoError(t, err)
	assert.True(t, ok)

	// Stale guard loses.
	ok, err = s.HashSetIfFieldEquals(ctx, "order:1", "version", "1",
		map[string]string{"status": "cancelled", "version": "2"})
	require.NoError(t, err)
	assert.False(t, ok)

	status, err := s.HashGet(ctx, "order:1", "status")
	require.NoError(t, err)
	assert.Equal(t, "filled", status)
}

func TestHashSetIfFieldEqualsMissingGuard(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// A missing guard field compares equal to the empty string.
	ok, err := s.HashSetIfFieldEquals(ctx, "fresh", "version", "",
		map[string]string{"version": "1"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HashSetIfFieldEquals(ctx, "fresh", "version", "",
		map[string]string{"version": "9"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSortedSetRange(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SortedSetAdd(ctx, "q", "c", 3))
	require.NoError(t, s.SortedSetAdd(ctx, "q", "a", 1))
	require.NoError(t, s.SortedSetAdd(ctx, "q", "b", 2))

	asc, err := s.SortedSetRange(ctx, "q", 0, -1, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, asc)

	desc, err := s.SortedSetRange(ctx, "q", 0, -1, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, desc)

	top, err := s.SortedSetRange(ctx, "q", 0, 1, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, top)

	card, err := s.SortedSetCard(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, int64(3), card)

	removed, err := s.SortedSetRemove(ctx, "q", "b", "absent")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestSortedSetMoveLowest(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SortedSetAdd(ctx, "pending", fmt.Sprintf("o%d", i), float64(i)))
	}

	moved, err := s.SortedSetMoveLowest(ctx, "pending", "claimed", 3, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"o0", "o1", "o2"}, moved)

	left, err := s.SortedSetRange(ctx, "pending", 0, -1, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"o3", "o4"}, left)

	claimed, err := s.SortedSetRangeWithScores(ctx, "claimed", 0, -1, false)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	for _, m := range claimed {
		assert.Equal(t, float64(100), m.Score)
	}

	// Asking for more than remain drains the set.
	moved, err = s.SortedSetMoveLowest(ctx, "pending", "claimed", 10, 101)
	require.NoError(t, err)
	assert.Len(t, moved, 2)
}

// Two workers claiming concurrently must never receive the same member.
func TestSortedSetMoveLowestConcurrent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const total = 200
	for i := 0; i < total; i++ {
		require.NoError(t, s.SortedSetAdd(ctx, "pending", fmt.Sprintf("o%03d", i), float64(i)))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				moved, err := s.SortedSetMoveLowest(ctx, "pending", "claimed", 7, 1)
				if !assert.NoError(t, err) {
					return
				}
				if len(moved) == 0 {
					return
				}
				mu.Lock()
				for _, m := range moved {
					seen[m]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for member, count := range seen {
		assert.Equal(t, 1, count, "member %s claimed more than once", member)
	}
}

func TestSortedSetMoveByScore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SortedSetAdd(ctx, "claimed", "old", 10))
	require.NoError(t, s.SortedSetAdd(ctx, "claimed", "older", 5))
	require.NoError(t, s.SortedSetAdd(ctx, "claimed", "fresh", 50))

	moved, err := s.SortedSetMoveByScore(ctx, "claimed", "pending", 10, 99)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"old", "older"}, moved)

	left, err := s.SortedSetRange(ctx, "claimed", 0, -1, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, left)

	pending, err := s.SortedSetRangeWithScores(ctx, "pending", 0, -1, false)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, m := range pending {
		assert.Equal(t, float64(99), m.Score)
	}
}

func TestListPushPopTrim(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.ListPush(ctx, "journal", []byte(fmt.Sprintf("e%d", i))))
	}

	// Pop returns the oldest entry.
	v, err := s.ListPop(ctx, "journal")
	require.NoError(t, err)
	assert.Equal(t, "e0", string(v))

	// Trim keeps the newest entries.
	require.NoError(t, s.ListTrim(ctx, "journal", 0, 1))
	v, err = s.ListPop(ctx, "journal")
	require.NoError(t, err)
	assert.Equal(t, "e3", string(v))

	_, err = s.ListPop(ctx, "empty")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPubSub(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx, "order.updates")
	require.NoError(t, err)

	require.NoError(t, s.Publish(ctx, "order.updates", []byte("hello")))

	select {
	case msg := <-ch:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}

	// Publishing on another channel does not reach this subscriber.
	require.NoError(t, s.Publish(ctx, "other", []byte("noise")))
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message %q", msg)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
}
