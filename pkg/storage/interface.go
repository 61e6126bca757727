package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type LinkStorage interface {
	Create(ctx context.Context, link *Link) error
	GetBySlug(ctx context.Context, slug string) (*Link, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Link, error)
	UpdateDestination(ctx context.Context, id uuid.UUID, destinationURL string) error
	UpdateExpiry(ctx context.Context, id uuid.UUID, expiresAt *time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	IncrementClickCount(ctx context.Context, linkID uuid.UUID) error
}

type ClickStorage interface {
	InsertClick(ctx context.Context, event *ClickEvent) error
	ListClicks(ctx context.Context, linkID uuid.UUID, from, to time.Time, limit, offset int) ([]*ClickEvent, error)
	CountClicks(ctx context.Context, linkID uuid.UUID, from, to time.Time) (int64, error)
}

type UserStorage interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}
