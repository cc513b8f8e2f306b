package alias

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortkit/shortkit/internal"
)

// memStore is a mutex-guarded in-memory Store used to exercise the
// allocator without a database. alwaysTaken and failInserts simulate
// collisions and lost check-then-insert races.
type memStore struct {
	mu          sync.Mutex
	mappings    map[string]*internal.URLMapping
	day         internal.DailyStat
	nextID      int64
	alwaysTaken bool
	failInserts int

	existsCalls int
	insertCalls int
}

func newMemStore() *memStore {
	return &memStore{mappings: make(map[string]*internal.URLMapping)}
}

func (m *memStore) Exists(_ context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.existsCalls++
	if m.alwaysTaken {
		return true, nil
	}
	_, ok := m.mappings[code]
	return ok, nil
}

func (m *memStore) Insert(_ context.Context, code, originalURL string) (*internal.URLMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	if m.failInserts > 0 {
		m.failInserts--
		return nil, internal.ErrDuplicateCode
	}
	if _, ok := m.mappings[code]; ok {
		return nil, internal.ErrDuplicateCode
	}
	m.nextID++
	mapping := &internal.URLMapping{
		ID:          m.nextID,
		ShortCode:   code,
		OriginalURL: originalURL,
		CreatedAt:   time.Now(),
	}
	m.mappings[code] = mapping
	return mapping, nil
}

func (m *memStore) Lookup(_ context.Context, code string) (*internal.URLMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mapping, ok := m.mappings[code]
	if !ok {
		return nil, internal.ErrNotFound
	}
	copied := *mapping
	return &copied, nil
}

func (m *memStore) RecordClick(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mapping, ok := m.mappings[code]
	if !ok {
		return internal.ErrNotFound
	}
	mapping.Clicks++
	m.day.TotalClicks++
	return nil
}

func (m *memStore) RecordCreation(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.day.URLsCreated++
	return nil
}

func (m *memStore) AggregateStats(_ context.Context) (*internal.AggregateStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &internal.AggregateStats{
		TotalURLs:   int64(len(m.mappings)),
		TodayURLs:   m.day.URLsCreated,
		TodayClicks: m.day.TotalClicks,
	}
	for _, mapping := range m.mappings {
		stats.TotalClicks += mapping.Clicks
	}
	return stats, nil
}

func (m *memStore) RecentMappings(_ context.Context, limit int) ([]internal.URLMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]internal.URLMapping, 0, len(m.mappings))
	for _, mapping := range m.mappings {
		out = append(out, *mapping)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) CodeBreakdown(_ context.Context, _ string) ([]internal.CodeAnalytics, error) {
	return nil, nil
}

func (m *memStore) ClearAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings = make(map[string]*internal.URLMapping)
	m.day = internal.DailyStat{}
	return nil
}

func (m *memStore) Ping(_ context.Context) error { return nil }

func TestAllocateCustomCode(t *testing.T) {
	st := newMemStore()
	alloc := New(st)
	ctx := context.Background()

	mapping, err := alloc.Allocate(ctx, "https://example.com", "ab")
	require.NoError(t, err)
	assert.Equal(t, "ab", mapping.ShortCode)
	assert.Equal(t, int64(1), st.day.URLsCreated)

	_, err = alloc.Allocate(ctx, "https://other.com", "ab")
	assert.ErrorIs(t, err, internal.ErrCodeTaken)
}

func TestAllocateCustomCodeFormat(t *testing.T) {
	st := newMemStore()
	alloc := New(st)
	ctx := context.Background()

	_, err := alloc.Allocate(ctx, "https://example.com", "bad code!")
	assert.ErrorIs(t, err, internal.ErrInvalidCodeFormat)

	_, err = alloc.Allocate(ctx, "https://example.com", strings.Repeat("a", 21))
	assert.ErrorIs(t, err, internal.ErrInvalidCodeFormat)

	// 20 chars of the allowed charset is fine.
	_, err = alloc.Allocate(ctx, "https://example.com", strings.Repeat("a", 19)+"_")
	assert.NoError(t, err)
}

func TestAllocateCustomCodeLostRace(t *testing.T) {
	st := newMemStore()
	st.failInserts = 1
	alloc := New(st)

	// Pre-check says free, the insert loses the race: no retry for a
	// caller-requested code.
	_, err := alloc.Allocate(context.Background(), "https://example.com", "mycode")
	assert.ErrorIs(t, err, internal.ErrCodeTaken)
	assert.Equal(t, int64(0), st.day.URLsCreated)
}

func TestAllocateURLValidation(t *testing.T) {
	alloc := New(newMemStore())
	ctx := context.Background()

	for _, raw := range []string{"", "not-a-url", "ftp://x.com", "https://", "http:example.com"} {
		_, err := alloc.Allocate(ctx, raw, "")
		assert.ErrorIs(t, err, internal.ErrInvalidURL, "url %q", raw)
	}

	mapping, err := alloc.Allocate(ctx, "https://x.com", "")
	require.NoError(t, err)
	assert.NotEmpty(t, mapping.ShortCode)
}

func TestAllocateRandomCodeShape(t *testing.T) {
	st := newMemStore()
	alloc := New(st)

	mapping, err := alloc.Allocate(context.Background(), "https://example.com", "")
	require.NoError(t, err)
	assert.Len(t, mapping.ShortCode, codeLength)
	for _, r := range mapping.ShortCode {
		assert.Contains(t, codeAlphabet, string(r))
	}
	assert.Equal(t, int64(1), st.day.URLsCreated)
}

func TestAllocateExhaustion(t *testing.T) {
	st := newMemStore()
	st.alwaysTaken = true
	alloc := New(st)

	_, err := alloc.Allocate(context.Background(), "https://example.com", "")
	assert.ErrorIs(t, err, internal.ErrAllocationExhausted)
	assert.Equal(t, 10, st.existsCalls)
	assert.Equal(t, 0, st.insertCalls)
}

func TestAllocateRetriesLostRace(t *testing.T) {
	st := newMemStore()
	st.failInserts = 3
	alloc := New(st)

	mapping, err := alloc.Allocate(context.Background(), "https://example.com", "")
	require.NoError(t, err)
	assert.NotEmpty(t, mapping.ShortCode)
	assert.Equal(t, 4, st.insertCalls)
	// The creation stat is bumped once, for the successful attempt only.
	assert.Equal(t, int64(1), st.day.URLsCreated)
}

func TestAllocateWithAttempts(t *testing.T) {
	st := newMemStore()
	st.alwaysTaken = true
	alloc := New(st).WithAttempts(3)

	_, err := alloc.Allocate(context.Background(), "https://example.com", "")
	assert.ErrorIs(t, err, internal.ErrAllocationExhausted)
	assert.Equal(t, 3, st.existsCalls)
}

func TestConcurrentAllocateUnique(t *testing.T) {
	st := newMemStore()
	alloc := New(st)

	const n = 50
	var wg sync.WaitGroup
	codes := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mapping, err := alloc.Allocate(context.Background(), "https://example.com", "")
			if err == nil {
				codes <- mapping.ShortCode
			}
		}()
	}
	wg.Wait()
	close(codes)

	seen := make(map[string]bool)
	for code := range codes {
		assert.False(t, seen[code], "code %q allocated twice", code)
		seen[code] = true
	}
	assert.Len(t, seen, n)

	stats, err := st.AggregateStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(n), stats.TotalURLs)
	assert.Equal(t, int64(n), stats.TodayURLs)
}

func TestResolve(t *testing.T) {
	st := newMemStore()
	alloc := New(st)
	ctx := context.Background()

	created, err := alloc.Allocate(ctx, "https://example.com", "mycode")
	require.NoError(t, err)

	resolved, err := alloc.Resolve(ctx, "mycode")
	require.NoError(t, err)
	assert.Equal(t, created.OriginalURL, resolved.OriginalURL)

	found, err := st.Lookup(ctx, "mycode")
	require.NoError(t, err)
	assert.Equal(t, int64(1), found.Clicks)
	assert.Equal(t, int64(1), st.day.TotalClicks)
}

func TestResolveNotFound(t *testing.T) {
	alloc := New(newMemStore())

	_, err := alloc.Resolve(context.Background(), "doesnotexist")
	assert.ErrorIs(t, err, internal.ErrNotFound)
}

func TestValidCode(t *testing.T) {
	assert.True(t, ValidCode("abc_DEF-123"))
	assert.True(t, ValidCode("a"))
	assert.False(t, ValidCode(""))
	assert.False(t, ValidCode("bad code!"))
	assert.False(t, ValidCode(strings.Repeat("a", 21)))
}
