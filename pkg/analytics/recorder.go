package analytics

import (
	"context"
	"sync"
	"time"

	"shortlink/pkg/cache"
	"shortlink/pkg/geo"
	"shortlink/pkg/logging"
	"shortlink/pkg/storage"

	"github.com/google/uuid"
)

// RequestSnapshot carries the request attributes the recorder needs, copied
// out of the framework request at the boundary. The recorder never touches
// an *http.Request.
type RequestSnapshot struct {
	IP           string
	UserAgentRaw string
	ReferrerRaw  string
}

const jobTimeout = 5 * time.Second

type clickJob struct {
	slug     string
	linkID   uuid.UUID
	snapshot RequestSnapshot
}

// Recorder durably records click events off the request path. Work is
// queued on a buffered channel and processed by a fixed pool of workers;
// enqueueing never blocks and failures never reach the caller.
type Recorder struct {
	links  storage.LinkStorage
	clicks storage.ClickStorage
	cache  cache.RedirectCacheInterface
	geo    *geo.Resolver
	logger *logging.Logger

	jobs   chan clickJob
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewRecorder(links storage.LinkStorage, clicks storage.ClickStorage, redirectCache cache.RedirectCacheInterface, geoResolver *geo.Resolver, logger *logging.Logger, workers, queueSize int) *Recorder {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	r := &Recorder{
		links:  links,
		clicks: clicks,
		cache:  redirectCache,
		geo:    geoResolver,
		logger: logger,
		jobs:   make(chan clickJob, queueSize),
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Record enqueues a click for asynchronous processing and returns
// immediately. linkID may be uuid.Nil on the cache-hit path; the worker
// resolves it from the linkid cache key or the store. A full queue drops
// the click, which is acceptable loss. A click racing shutdown is dropped
// the same way; the read lock keeps the send from hitting a closed channel.
func (r *Recorder) Record(slug string, linkID uuid.UUID, snapshot RequestSnapshot) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn(context.Background(), "click dropped, recorder closed", "slug", slug)
		return
	}
	select {
	case r.jobs <- clickJob{slug: slug, linkID: linkID, snapshot: snapshot}:
	default:
		r.logger.Warn(context.Background(), "click dropped, queue full", "slug", slug)
	}
}

// Close stops accepting clicks and waits for queued recordings to settle.
// Safe to call more than once.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.jobs)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for job := range r.jobs {
		r.process(job)
	}
}

// process is the outer boundary of the detached unit: every failure,
// including a panic, ends as a log line here.
func (r *Recorder) process(job clickJob) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error(ctx, "click recording panicked", "slug", job.slug, "panic", p)
		}
	}()

	linkID := r.resolveLinkID(ctx, job)
	if linkID == uuid.Nil {
		r.logger.Warn(ctx, "click for unresolvable link", "slug", job.slug)
		return
	}

	info := r.geo.Resolve(job.snapshot.IP, job.snapshot.UserAgentRaw)

	var referrer *string
	if job.snapshot.ReferrerRaw != "" {
		referrer = &job.snapshot.ReferrerRaw
	}

	event := &storage.ClickEvent{
		ID:         uuid.New(),
		LinkID:     linkID,
		ClickedAt:  time.Now(),
		IP:         job.snapshot.IP,
		UserAgent:  job.snapshot.UserAgentRaw,
		Referrer:   referrer,
		Country:    info.Country,
		City:       info.City,
		DeviceType: info.DeviceType,
		Browser:    info.Browser,
		OS:         info.OS,
	}

	// The insert and the counter increment are independent best-effort
	// writes; a partial failure leaves the counter eventually consistent
	// with the event rows.
	if err := r.clicks.InsertClick(ctx, event); err != nil {
		r.logger.Error(ctx, "click insert failed", "slug", job.slug, "error", err)
	}
	if err := r.links.IncrementClickCount(ctx, linkID); err != nil {
		r.logger.Error(ctx, "click count increment failed", "slug", job.slug, "error", err)
	}
}

func (r *Recorder) resolveLinkID(ctx context.Context, job clickJob) uuid.UUID {
	if job.linkID != uuid.Nil {
		return job.linkID
	}
	if id, err := r.cache.GetLinkID(ctx, job.slug); err == nil && id != uuid.Nil {
		return id
	}
	link, err := r.links.GetBySlug(ctx, job.slug)
	if err != nil || link == nil {
		return uuid.Nil
	}
	return link.ID
}
