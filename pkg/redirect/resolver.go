package redirect

import (
	"context"
	"fmt"
	"time"

	"shortlink/pkg/analytics"
	"shortlink/pkg/cache"
	"shortlink/pkg/logging"
	"shortlink/pkg/storage"

	"github.com/google/uuid"
)

type OutcomeKind string

const (
	OutcomeRedirect OutcomeKind = "redirect"
	OutcomeNotFound OutcomeKind = "not_found"
	OutcomeGone     OutcomeKind = "gone"
)

// Outcome tells the request layer how to answer. DestinationURL is set only
// for OutcomeRedirect.
type Outcome struct {
	Kind           OutcomeKind
	DestinationURL string
}

// ClickRecorder dispatches a click without blocking; the resolver never
// waits on it.
type ClickRecorder interface {
	Record(slug string, linkID uuid.UUID, snapshot analytics.RequestSnapshot)
}

const cacheWriteTimeout = 2 * time.Second

// Resolver answers "where does this slug go": cache first, store on miss,
// cache repopulated off the response path, click recorded fire-and-forget.
type Resolver struct {
	links    storage.LinkStorage
	cache    cache.RedirectCacheInterface
	recorder ClickRecorder
	logger   *logging.Logger
	ttl      time.Duration
	now      func() time.Time
}

func NewResolver(links storage.LinkStorage, redirectCache cache.RedirectCacheInterface, recorder ClickRecorder, logger *logging.Logger, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return &Resolver{
		links:    links,
		cache:    redirectCache,
		recorder: recorder,
		logger:   logger,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Resolve runs the redirect state machine for one request. A cache error
// degrades to a store lookup; a store error on the miss path is surfaced
// because no destination can be determined without it.
func (r *Resolver) Resolve(ctx context.Context, slug string, snapshot analytics.RequestSnapshot) (Outcome, error) {
	entry, err := r.cache.Get(ctx, slug)
	if err != nil {
		r.logger.Warn(ctx, "cache unavailable, falling back to store", "slug", slug, "error", err)
		entry = nil
	}

	if entry != nil {
		// Mutations invalidate synchronously, so a present entry is
		// trusted for this response without re-checking expiry.
		r.recorder.Record(slug, entry.LinkID, snapshot)
		return Outcome{Kind: OutcomeRedirect, DestinationURL: entry.DestinationURL}, nil
	}

	link, err := r.links.GetBySlug(ctx, slug)
	if err != nil {
		return Outcome{}, fmt.Errorf("resolve %q: %w", slug, err)
	}
	if link == nil {
		return Outcome{Kind: OutcomeNotFound}, nil
	}
	if link.Expired(r.now()) {
		// Expired links are never written back to the cache.
		return Outcome{Kind: OutcomeGone}, nil
	}

	r.populateCache(slug, link)
	r.recorder.Record(slug, link.ID, snapshot)
	return Outcome{Kind: OutcomeRedirect, DestinationURL: link.DestinationURL}, nil
}

// populateCache writes the entry on a detached context so the response is
// never delayed and a client disconnect cannot cancel the write.
func (r *Resolver) populateCache(slug string, link *storage.Link) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
		defer cancel()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error(ctx, "cache populate panicked", "slug", slug, "panic", p)
			}
		}()
		if err := r.cache.Set(ctx, slug, link.DestinationURL, link.ID, r.ttl); err != nil {
			r.logger.Warn(ctx, "cache populate failed", "slug", slug, "error", err)
		}
	}()
}
