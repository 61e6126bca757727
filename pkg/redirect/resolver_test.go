package redirect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"shortlink/pkg/analytics"
	"shortlink/pkg/cache"
	"shortlink/pkg/logging"
	"shortlink/pkg/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLinkStorage struct {
	mu       sync.Mutex
	links    map[string]*storage.Link
	getCalls int
	err      error
}

func newMockLinkStorage() *mockLinkStorage {
	return &mockLinkStorage{links: make(map[string]*storage.Link)}
}

func (m *mockLinkStorage) Create(ctx context.Context, link *storage.Link) error {
	m.links[link.Slug] = link
	return nil
}

func (m *mockLinkStorage) GetBySlug(ctx context.Context, slug string) (*storage.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.err != nil {
		return nil, m.err
	}
	return m.links[slug], nil
}

func (m *mockLinkStorage) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*storage.Link, error) {
	return nil, nil
}

func (m *mockLinkStorage) UpdateDestination(ctx context.Context, id uuid.UUID, destinationURL string) error {
	return nil
}

func (m *mockLinkStorage) UpdateExpiry(ctx context.Context, id uuid.UUID, expiresAt *time.Time) error {
	return nil
}

func (m *mockLinkStorage) Delete(ctx context.Context, id uuid.UUID) error {
	return nil
}

func (m *mockLinkStorage) IncrementClickCount(ctx context.Context, linkID uuid.UUID) error {
	return nil
}

func (m *mockLinkStorage) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

type mockCache struct {
	mu      sync.Mutex
	entries map[string]*cache.Entry
	setCh   chan string
	err     error
}

func newMockCache() *mockCache {
	return &mockCache{
		entries: make(map[string]*cache.Entry),
		setCh:   make(chan string, 8),
	}
}

func (m *mockCache) Get(ctx context.Context, slug string) (*cache.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.entries[slug], nil
}

func (m *mockCache) GetLinkID(ctx context.Context, slug string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[slug]; ok {
		return entry.LinkID, nil
	}
	return uuid.Nil, nil
}

func (m *mockCache) Set(ctx context.Context, slug string, destinationURL string, linkID uuid.UUID, ttl time.Duration) error {
	m.mu.Lock()
	m.entries[slug] = &cache.Entry{DestinationURL: destinationURL, LinkID: linkID}
	m.mu.Unlock()
	m.setCh <- slug
	return nil
}

func (m *mockCache) Invalidate(ctx context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, slug)
	return nil
}

func (m *mockCache) has(slug string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[slug]
	return ok
}

type mockRecorder struct {
	mu      sync.Mutex
	records []uuid.UUID
}

func (m *mockRecorder) Record(slug string, linkID uuid.UUID, snapshot analytics.RequestSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, linkID)
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func newTestResolver(links *mockLinkStorage, c *mockCache, rec *mockRecorder) *Resolver {
	logger := logging.NewLogger(logging.LevelError)
	return NewResolver(links, c, rec, logger, time.Hour)
}

func waitForSet(t *testing.T, c *mockCache) {
	t.Helper()
	select {
	case <-c.setCh:
	case <-time.After(2 * time.Second):
		t.Fatal("cache populate never happened")
	}
}

func TestResolveCacheHit(t *testing.T) {
	links := newMockLinkStorage()
	mc := newMockCache()
	rec := &mockRecorder{}
	resolver := newTestResolver(links, mc, rec)

	linkID := uuid.New()
	mc.entries["github"] = &cache.Entry{DestinationURL: "https://github.com", LinkID: linkID}

	outcome, err := resolver.Resolve(context.Background(), "github", analytics.RequestSnapshot{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRedirect, outcome.Kind)
	assert.Equal(t, "https://github.com", outcome.DestinationURL)
	assert.Equal(t, 0, links.calls(), "store must not be queried on a cache hit")
	assert.Equal(t, 1, rec.count())
}

func TestResolveCacheMissFillsCache(t *testing.T) {
	links := newMockLinkStorage()
	mc := newMockCache()
	rec := &mockRecorder{}
	resolver := newTestResolver(links, mc, rec)

	link := &storage.Link{ID: uuid.New(), Slug: "github", DestinationURL: "https://github.com"}
	links.links["github"] = link

	outcome, err := resolver.Resolve(context.Background(), "github", analytics.RequestSnapshot{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRedirect, outcome.Kind)
	assert.Equal(t, "https://github.com", outcome.DestinationURL)
	assert.Equal(t, 1, links.calls())

	waitForSet(t, mc)

	// Second call is served from the cache.
	outcome, err = resolver.Resolve(context.Background(), "github", analytics.RequestSnapshot{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRedirect, outcome.Kind)
	assert.Equal(t, "https://github.com", outcome.DestinationURL)
	assert.Equal(t, 1, links.calls(), "second call must be a cache hit")
	assert.Equal(t, 2, rec.count())
}

func TestResolveNotFound(t *testing.T) {
	links := newMockLinkStorage()
	mc := newMockCache()
	rec := &mockRecorder{}
	resolver := newTestResolver(links, mc, rec)

	outcome, err := resolver.Resolve(context.Background(), "missing", analytics.RequestSnapshot{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome.Kind)
	assert.Equal(t, 0, rec.count(), "no click recorded for a missing slug")
}

func TestResolveExpiredGone(t *testing.T) {
	links := newMockLinkStorage()
	mc := newMockCache()
	rec := &mockRecorder{}
	resolver := newTestResolver(links, mc, rec)

	yesterday := time.Now().Add(-24 * time.Hour)
	links.links["promo"] = &storage.Link{ID: uuid.New(), Slug: "promo", DestinationURL: "https://example.com/promo", ExpiresAt: &yesterday}

	outcome, err := resolver.Resolve(context.Background(), "promo", analytics.RequestSnapshot{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeGone, outcome.Kind)
	assert.Equal(t, 0, rec.count())

	// The cache must never hold a destination for an expired link.
	time.Sleep(50 * time.Millisecond)
	assert.False(t, mc.has("promo"))
}

func TestResolveCacheErrorFailsOpen(t *testing.T) {
	links := newMockLinkStorage()
	mc := newMockCache()
	mc.err = errors.New("redis down")
	rec := &mockRecorder{}
	resolver := newTestResolver(links, mc, rec)

	links.links["github"] = &storage.Link{ID: uuid.New(), Slug: "github", DestinationURL: "https://github.com"}

	outcome, err := resolver.Resolve(context.Background(), "github", analytics.RequestSnapshot{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRedirect, outcome.Kind)
	assert.Equal(t, 1, links.calls(), "cache outage degrades to a store lookup")
}

func TestResolveStoreErrorSurfaced(t *testing.T) {
	links := newMockLinkStorage()
	links.err = errors.New("postgres down")
	mc := newMockCache()
	rec := &mockRecorder{}
	resolver := newTestResolver(links, mc, rec)

	_, err := resolver.Resolve(context.Background(), "github", analytics.RequestSnapshot{})
	assert.Error(t, err)
	assert.Equal(t, 0, rec.count())
}

func TestResolveBothUnreachableFailsClosed(t *testing.T) {
	links := newMockLinkStorage()
	links.err = errors.New("postgres down")
	mc := newMockCache()
	mc.err = errors.New("redis down")
	rec := &mockRecorder{}
	resolver := newTestResolver(links, mc, rec)

	_, err := resolver.Resolve(context.Background(), "github", analytics.RequestSnapshot{})
	assert.Error(t, err)
}

func TestResolveRecorderGetsCachedLinkID(t *testing.T) {
	links := newMockLinkStorage()
	mc := newMockCache()
	rec := &mockRecorder{}
	resolver := newTestResolver(links, mc, rec)

	linkID := uuid.New()
	mc.entries["docs"] = &cache.Entry{DestinationURL: "https://developer.mozilla.org", LinkID: linkID}

	_, err := resolver.Resolve(context.Background(), "docs", analytics.RequestSnapshot{})
	require.NoError(t, err)
	require.Equal(t, 1, rec.count())
	assert.Equal(t, linkID, rec.records[0])
}
