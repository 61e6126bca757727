package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"shortlink/pkg/cache"
	"shortlink/pkg/logging"
	"shortlink/pkg/middleware"
	"shortlink/pkg/ratelimit"
	"shortlink/pkg/storage"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("link not found")
	ErrForbidden    = errors.New("not the owner of this link")
	ErrSlugTaken    = errors.New("slug already exists")
	ErrInvalidURL   = errors.New("invalid destination URL")
	ErrInvalidAlias = errors.New("invalid alias")
	ErrRateLimited  = errors.New("rate limit exceeded")
)

const (
	slugAttempts = 5

	createRateLimit  = 30
	createRateWindow = time.Minute
)

// RateLimiter gates link creation per owner. Allow reports whether one more
// request fits inside the sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LinkService owns the CRUD side of links. Every mutation that changes a
// link's destination, expiry or existence invalidates the redirect cache
// synchronously before reporting success, which is what lets the redirect
// path trust cache hits unconditionally.
type LinkService struct {
	storage  storage.LinkStorage
	cache    cache.RedirectCacheInterface
	limiter  RateLimiter
	logger   *logging.Logger
	cacheTTL time.Duration
	baseURL  string
}

// NewLinkService wires the CRUD service. limiter may be nil, which disables
// creation rate limiting.
func NewLinkService(linkStorage storage.LinkStorage, redirectCache cache.RedirectCacheInterface, limiter RateLimiter, logger *logging.Logger, cacheTTL time.Duration, baseURL string) *LinkService {
	if cacheTTL <= 0 {
		cacheTTL = cache.DefaultTTL
	}
	return &LinkService{
		storage:  linkStorage,
		cache:    redirectCache,
		limiter:  limiter,
		logger:   logger,
		cacheTTL: cacheTTL,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

type CreateLinkRequest struct {
	DestinationURL string     `json:"destination_url"`
	Alias          *string    `json:"alias,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

type CreateLinkResponse struct {
	ID       uuid.UUID `json:"id"`
	Slug     string    `json:"slug"`
	ShortURL string    `json:"short_url"`
}

func (s *LinkService) CreateLink(ctx context.Context, req *CreateLinkRequest) (*CreateLinkResponse, error) {
	if err := validateDestination(req.DestinationURL); err != nil {
		return nil, err
	}

	ownerID := middleware.GetOwnerIDFromContext(ctx)
	if ownerID == uuid.Nil {
		return nil, errors.New("owner_id not found in context")
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, ratelimit.Key(ownerID.String(), "create"), createRateLimit, createRateWindow)
		if err != nil {
			// A broken limiter must not block creation, fail open.
			s.logger.Warn(ctx, "rate limiter unavailable", "error", err)
		} else if !allowed {
			return nil, ErrRateLimited
		}
	}

	slug, err := s.pickSlug(ctx, req.Alias)
	if err != nil {
		return nil, err
	}

	link := &storage.Link{
		ID:             uuid.New(),
		Slug:           slug,
		DestinationURL: req.DestinationURL,
		ExpiresAt:      req.ExpiresAt,
		OwnerID:        ownerID,
	}
	if err := s.storage.Create(ctx, link); err != nil {
		return nil, fmt.Errorf("create link: %w", err)
	}
	s.logger.LogLinkOperation(ctx, "create", slug, true)

	// Warm the cache so the first redirect is already a hit. Best effort,
	// the miss path repopulates anyway.
	if link.ExpiresAt == nil || link.ExpiresAt.After(time.Now()) {
		if err := s.cache.Set(ctx, slug, link.DestinationURL, link.ID, s.cacheTTL); err != nil {
			s.logger.Warn(ctx, "cache warm failed", "slug", slug, "error", err)
		}
	}

	return &CreateLinkResponse{
		ID:       link.ID,
		Slug:     slug,
		ShortURL: s.baseURL + "/r/" + slug,
	}, nil
}

func (s *LinkService) pickSlug(ctx context.Context, alias *string) (string, error) {
	if alias != nil {
		if !ValidateAlias(*alias) {
			return "", ErrInvalidAlias
		}
		existing, err := s.storage.GetBySlug(ctx, *alias)
		if err != nil {
			return "", err
		}
		if existing != nil {
			return "", ErrSlugTaken
		}
		return *alias, nil
	}

	for i := 0; i < slugAttempts; i++ {
		slug, err := GenerateSlug()
		if err != nil {
			return "", err
		}
		existing, err := s.storage.GetBySlug(ctx, slug)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return slug, nil
		}
	}
	return "", errors.New("could not generate a unique slug")
}

func (s *LinkService) GetLink(ctx context.Context, slug string) (*storage.Link, error) {
	link, err := s.ownedLink(ctx, slug)
	if err != nil {
		return nil, err
	}
	return link, nil
}

func (s *LinkService) ListLinks(ctx context.Context) ([]*storage.Link, error) {
	ownerID := middleware.GetOwnerIDFromContext(ctx)
	if ownerID == uuid.Nil {
		return nil, errors.New("owner_id not found in context")
	}
	return s.storage.ListByOwner(ctx, ownerID)
}

type UpdateLinkRequest struct {
	DestinationURL *string    `json:"destination_url,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	ClearExpiry    bool       `json:"clear_expiry,omitempty"`
}

func (s *LinkService) UpdateLink(ctx context.Context, slug string, req *UpdateLinkRequest) error {
	link, err := s.ownedLink(ctx, slug)
	if err != nil {
		return err
	}

	if req.DestinationURL != nil {
		if err := validateDestination(*req.DestinationURL); err != nil {
			return err
		}
		if err := s.storage.UpdateDestination(ctx, link.ID, *req.DestinationURL); err != nil {
			return fmt.Errorf("update destination: %w", err)
		}
	}

	if req.ClearExpiry {
		if err := s.storage.UpdateExpiry(ctx, link.ID, nil); err != nil {
			return fmt.Errorf("clear expiry: %w", err)
		}
	} else if req.ExpiresAt != nil {
		if err := s.storage.UpdateExpiry(ctx, link.ID, req.ExpiresAt); err != nil {
			return fmt.Errorf("update expiry: %w", err)
		}
	}

	s.invalidate(ctx, slug)
	s.logger.LogLinkOperation(ctx, "update", slug, true)
	return nil
}

func (s *LinkService) DeleteLink(ctx context.Context, slug string) error {
	link, err := s.ownedLink(ctx, slug)
	if err != nil {
		return err
	}
	if err := s.storage.Delete(ctx, link.ID); err != nil {
		return fmt.Errorf("delete link: %w", err)
	}

	s.invalidate(ctx, slug)
	s.logger.LogLinkOperation(ctx, "delete", slug, true)
	return nil
}

// invalidate is awaited before the mutation reports success. A failure is
// logged rather than aborting the mutation; the stale entry then lives at
// most one TTL.
func (s *LinkService) invalidate(ctx context.Context, slug string) {
	if err := s.cache.Invalidate(ctx, slug); err != nil {
		s.logger.Error(ctx, "cache invalidation failed", "slug", slug, "error", err)
	}
}

func (s *LinkService) ownedLink(ctx context.Context, slug string) (*storage.Link, error) {
	ownerID := middleware.GetOwnerIDFromContext(ctx)
	if ownerID == uuid.Nil {
		return nil, errors.New("owner_id not found in context")
	}
	link, err := s.storage.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, ErrNotFound
	}
	if link.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return link, nil
}

func validateDestination(raw string) error {
	parsedURL, err := url.ParseRequestURI(raw)
	if err != nil {
		return ErrInvalidURL
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return ErrInvalidURL
	}

	host := strings.Split(parsedURL.Host, ":")[0]
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			return ErrInvalidURL
		}
		if ip.IsMulticast() || ip.IsUnspecified() {
			return ErrInvalidURL
		}
	} else {
		hostLower := strings.ToLower(host)
		if strings.Contains(hostLower, "localhost") || strings.Contains(hostLower, "127.0.0.1") || strings.Contains(hostLower, "0.0.0.0") {
			return ErrInvalidURL
		}
	}
	return nil
}
