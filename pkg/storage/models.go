package storage

import (
	"time"

	"github.com/google/uuid"
)

type Link struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	Slug           string     `json:"slug" db:"slug"`
	DestinationURL string     `json:"destination_url" db:"destination_url"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	ClickCount     int64      `json:"click_count" db:"click_count"`
	OwnerID        uuid.UUID  `json:"owner_id" db:"owner_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the link's expiry is set and strictly in the past.
func (l *Link) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

// ClickEvent is append-only: written once by the click recorder, never updated.
type ClickEvent struct {
	ID         uuid.UUID `json:"id" db:"id"`
	LinkID     uuid.UUID `json:"link_id" db:"link_id"`
	ClickedAt  time.Time `json:"clicked_at" db:"clicked_at"`
	IP         string    `json:"ip" db:"ip"`
	UserAgent  string    `json:"user_agent" db:"user_agent"`
	Referrer   *string   `json:"referrer,omitempty" db:"referrer"`
	Country    *string   `json:"country,omitempty" db:"country"`
	City       *string   `json:"city,omitempty" db:"city"`
	DeviceType string    `json:"device_type" db:"device_type"`
	Browser    *string   `json:"browser,omitempty" db:"browser"`
	OS         *string   `json:"os,omitempty" db:"os"`
}

type User struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
