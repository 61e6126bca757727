package analytics

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shortlink/pkg/cache"
	"shortlink/pkg/geo"
	"shortlink/pkg/logging"
	"shortlink/pkg/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLinkStorage struct {
	mu         sync.Mutex
	links      map[string]*storage.Link
	increments int64
	incrErr    error
}

func newCountingLinkStorage() *countingLinkStorage {
	return &countingLinkStorage{links: make(map[string]*storage.Link)}
}

func (m *countingLinkStorage) Create(ctx context.Context, link *storage.Link) error {
	m.links[link.Slug] = link
	return nil
}

func (m *countingLinkStorage) GetBySlug(ctx context.Context, slug string) (*storage.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[slug], nil
}

func (m *countingLinkStorage) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*storage.Link, error) {
	return nil, nil
}

func (m *countingLinkStorage) UpdateDestination(ctx context.Context, id uuid.UUID, destinationURL string) error {
	return nil
}

func (m *countingLinkStorage) UpdateExpiry(ctx context.Context, id uuid.UUID, expiresAt *time.Time) error {
	return nil
}

func (m *countingLinkStorage) Delete(ctx context.Context, id uuid.UUID) error {
	return nil
}

func (m *countingLinkStorage) IncrementClickCount(ctx context.Context, linkID uuid.UUID) error {
	if m.incrErr != nil {
		return m.incrErr
	}
	atomic.AddInt64(&m.increments, 1)
	return nil
}

type collectingClickStorage struct {
	mu     sync.Mutex
	events []*storage.ClickEvent
	err    error
}

func (m *collectingClickStorage) InsertClick(ctx context.Context, event *storage.ClickEvent) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *collectingClickStorage) ListClicks(ctx context.Context, linkID uuid.UUID, from, to time.Time, limit, offset int) ([]*storage.ClickEvent, error) {
	return nil, nil
}

func (m *collectingClickStorage) CountClicks(ctx context.Context, linkID uuid.UUID, from, to time.Time) (int64, error) {
	return 0, nil
}

func (m *collectingClickStorage) all() []*storage.ClickEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*storage.ClickEvent(nil), m.events...)
}

type idCache struct {
	ids map[string]uuid.UUID
}

func (m *idCache) Get(ctx context.Context, slug string) (*cache.Entry, error) { return nil, nil }

func (m *idCache) GetLinkID(ctx context.Context, slug string) (uuid.UUID, error) {
	if m.ids == nil {
		return uuid.Nil, nil
	}
	return m.ids[slug], nil
}

func (m *idCache) Set(ctx context.Context, slug string, destinationURL string, linkID uuid.UUID, ttl time.Duration) error {
	return nil
}

func (m *idCache) Invalidate(ctx context.Context, slug string) error { return nil }

func newTestRecorder(links storage.LinkStorage, clicks storage.ClickStorage, c cache.RedirectCacheInterface) *Recorder {
	logger := logging.NewLogger(logging.LevelError)
	return NewRecorder(links, clicks, c, geo.NewResolver(nil), logger, 4, 256)
}

func TestRecordConcurrentIncrements(t *testing.T) {
	links := newCountingLinkStorage()
	clicks := &collectingClickStorage{}
	recorder := newTestRecorder(links, clicks, &idCache{})

	linkID := uuid.New()
	const n = 50

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Record("github", linkID, RequestSnapshot{IP: "203.0.113.10", UserAgentRaw: "curl/8.0"})
		}()
	}
	wg.Wait()
	recorder.Close()

	assert.Equal(t, int64(n), atomic.LoadInt64(&links.increments), "every recording must increment the counter exactly once")
	assert.Len(t, clicks.all(), n)
}

func TestRecordResolvesLinkIDFromCache(t *testing.T) {
	links := newCountingLinkStorage()
	clicks := &collectingClickStorage{}
	linkID := uuid.New()
	recorder := newTestRecorder(links, clicks, &idCache{ids: map[string]uuid.UUID{"docs": linkID}})

	recorder.Record("docs", uuid.Nil, RequestSnapshot{IP: "203.0.113.10"})
	recorder.Close()

	events := clicks.all()
	require.Len(t, events, 1)
	assert.Equal(t, linkID, events[0].LinkID)
}

func TestRecordResolvesLinkIDFromStore(t *testing.T) {
	links := newCountingLinkStorage()
	linkID := uuid.New()
	links.links["docs"] = &storage.Link{ID: linkID, Slug: "docs", DestinationURL: "https://developer.mozilla.org"}
	clicks := &collectingClickStorage{}
	recorder := newTestRecorder(links, clicks, &idCache{})

	recorder.Record("docs", uuid.Nil, RequestSnapshot{IP: "203.0.113.10"})
	recorder.Close()

	events := clicks.all()
	require.Len(t, events, 1)
	assert.Equal(t, linkID, events[0].LinkID)
}

func TestRecordUnresolvableLinkDropped(t *testing.T) {
	links := newCountingLinkStorage()
	clicks := &collectingClickStorage{}
	recorder := newTestRecorder(links, clicks, &idCache{})

	recorder.Record("missing", uuid.Nil, RequestSnapshot{})
	recorder.Close()

	assert.Empty(t, clicks.all())
	assert.Equal(t, int64(0), atomic.LoadInt64(&links.increments))
}

func TestRecordInsertFailureStillIncrements(t *testing.T) {
	links := newCountingLinkStorage()
	clicks := &collectingClickStorage{err: errors.New("insert failed")}
	recorder := newTestRecorder(links, clicks, &idCache{})

	recorder.Record("github", uuid.New(), RequestSnapshot{})
	recorder.Close()

	assert.Equal(t, int64(1), atomic.LoadInt64(&links.increments))
}

func TestRecordIncrementFailureStillInserts(t *testing.T) {
	links := newCountingLinkStorage()
	links.incrErr = errors.New("increment failed")
	clicks := &collectingClickStorage{}
	recorder := newTestRecorder(links, clicks, &idCache{})

	recorder.Record("github", uuid.New(), RequestSnapshot{})
	recorder.Close()

	assert.Len(t, clicks.all(), 1)
}

func TestRecordReturnsBeforeProcessing(t *testing.T) {
	links := newCountingLinkStorage()
	clicks := &collectingClickStorage{}
	recorder := newTestRecorder(links, clicks, &idCache{})
	defer recorder.Close()

	start := time.Now()
	recorder.Record("github", uuid.New(), RequestSnapshot{})
	assert.Less(t, time.Since(start), 100*time.Millisecond, "enqueueing must not block the caller")
}

func TestRecordAfterCloseDropsClick(t *testing.T) {
	links := newCountingLinkStorage()
	clicks := &collectingClickStorage{}
	recorder := newTestRecorder(links, clicks, &idCache{})
	recorder.Close()

	assert.NotPanics(t, func() {
		recorder.Record("github", uuid.New(), RequestSnapshot{IP: "203.0.113.10"})
	})
	assert.Empty(t, clicks.all())
}

func TestCloseIsIdempotent(t *testing.T) {
	recorder := newTestRecorder(newCountingLinkStorage(), &collectingClickStorage{}, &idCache{})
	recorder.Close()
	assert.NotPanics(t, recorder.Close)
}

func TestRecordCapturesRequestAttributes(t *testing.T) {
	links := newCountingLinkStorage()
	clicks := &collectingClickStorage{}
	recorder := newTestRecorder(links, clicks, &idCache{})

	recorder.Record("github", uuid.New(), RequestSnapshot{
		IP:           "10.0.0.5",
		UserAgentRaw: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
		ReferrerRaw:  "https://news.ycombinator.com",
	})
	recorder.Close()

	events := clicks.all()
	require.Len(t, events, 1)
	event := events[0]
	assert.Equal(t, "10.0.0.5", event.IP)
	assert.Equal(t, "mobile", event.DeviceType)
	require.NotNil(t, event.Referrer)
	assert.Equal(t, "https://news.ycombinator.com", *event.Referrer)
	assert.Nil(t, event.Country, "private address must not resolve to a country")
	assert.False(t, event.ClickedAt.IsZero())
}
