package ledger

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

// Compile-time interface checks.
var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// MemoryStore is an in-process Store used by tests and local development.
// A single mutex guards all state, so every operation is atomic,
// including the multi-step claim and compare-and-set primitives.
type MemoryStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	zsets  map[string]map[string]float64
	lists  map[string][][]byte
	subs   map[string][]chan []byte
	closed bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hashes: make(map[string]map[string]string),
		zsets:  make(map[string]map[string]float64),
		lists:  make(map[string][][]byte),
		subs:   make(map[string][]chan []byte),
	}
}

func (s *MemoryStore) HashSet(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.hashes[key]
	if h == nil {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	for f, v := range fields {
		h[f] = v
	}
	return nil
}

func (s *MemoryStore) HashGet(_ context.Context, key, field string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.hashes[key][field]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) HashGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.hashes[key]))
	for f, v := range s.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (s *MemoryStore) HashIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.hashes[key]
	if h == nil {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	current, _ := strconv.ParseInt(h[field], 10, 64)
	current += delta
	h[field] = strconv.FormatInt(current, 10)
	return current, nil
}

func (s *MemoryStore) HashSetIfFieldEquals(_ context.Context, key, field, expected string, fields map[string]string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.hashes[key]
	if h[field] != expected {
		return false, nil
	}
	if h == nil {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	for f, v := range fields {
		h[f] = v
	}
	return true, nil
}

func (s *MemoryStore) SortedSetAdd(_ context.Context, key, member string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	z := s.zsets[key]
	if z == nil {
		z = make(map[string]float64)
		s.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (s *MemoryStore) SortedSetRange(ctx context.Context, key string, start, stop int64, desc bool) ([]string, error) {
	scored, err := s.SortedSetRangeWithScores(ctx, key, start, stop, desc)
	if err != nil {
		return nil, err
	}
	members := make([]string, len(scored))
	for i, m := range scored {
		members[i] = m.Member
	}
	return members, nil
}

func (s *MemoryStore) SortedSetRangeWithScores(_ context.Context, key string, start, stop int64, desc bool) ([]ScoredMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := s.sortedMembers(key)
	if desc {
		for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
			sorted[i], sorted[j] = sorted[j], sorted[i]
		}
	}
	n := int64(len(sorted))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil, nil
	}
	return sorted[start : stop+1], nil
}

func (s *MemoryStore) SortedSetRemove(_ context.Context, key string, members ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	z := s.zsets[key]
	for _, m := range members {
		if _, ok := z[m]; ok {
			delete(z, m)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) SortedSetCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.zsets[key])), nil
}

func (s *MemoryStore) SortedSetMoveLowest(_ context.Context, src, dst string, n int64, score float64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := s.sortedMembers(src)
	if n < int64(len(sorted)) {
		sorted = sorted[:n]
	}
	d := s.zsets[dst]
	if d == nil {
		d = make(map[string]float64)
		s.zsets[dst] = d
	}
	members := make([]string, 0, len(sorted))
	for _, m := range sorted {
		delete(s.zsets[src], m.Member)
		d[m.Member] = score
		members = append(members, m.Member)
	}
	return members, nil
}

func (s *MemoryStore) SortedSetMoveByScore(_ context.Context, src, dst string, max, newScore float64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.zsets[dst]
	if d == nil {
		d = make(map[string]float64)
		s.zsets[dst] = d
	}
	var members []string
	for _, m := range s.sortedMembers(src) {
		if m.Score > max {
			break
		}
		delete(s.zsets[src], m.Member)
		d[m.Member] = newScore
		members = append(members, m.Member)
	}
	return members, nil
}

func (s *MemoryStore) ListPush(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.lists[key] = append([][]byte{cp}, s.lists[key]...)
	return nil
}

func (s *MemoryStore) ListPop(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lists[key]
	if len(l) == 0 {
		return nil, ErrNotFound
	}
	v := l[len(l)-1]
	s.lists[key] = l[:len(l)-1]
	return v, nil
}

func (s *MemoryStore) ListTrim(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lists[key]
	n := int64(len(l))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		s.lists[key] = nil
		return nil
	}
	s.lists[key] = l[start : stop+1]
	return nil
}

func (s *MemoryStore) Publish(_ context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	subs := make([]chan []byte, len(s.subs[channel]))
	copy(subs, s.subs[channel])
	s.mu.Unlock()

	cp := make([]byte, len(payload))
	copy(cp, payload)
	for _, sub := range subs {
		select {
		case sub <- cp:
		default:
			// Slow subscribers drop messages rather than block publishers.
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 64)
	s.mu.Lock()
	s.subs[channel] = append(s.subs[channel], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		subs := s.subs[channel]
		for i, sub := range subs {
			if sub == ch {
				s.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// sortedMembers returns the members of a sorted set ordered by score,
// ties broken by member, matching Redis ordering.
func (s *MemoryStore) sortedMembers(key string) []ScoredMember {
	z := s.zsets[key]
	members := make([]ScoredMember, 0, len(z))
	for m, score := range z {
		members = append(members, ScoredMember{Member: m, Score: score})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score < members[j].Score
		}
		return members[i].Member < members[j].Member
	})
	return members
}
