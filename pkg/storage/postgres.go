package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresLinkStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresLinkStorage(pool *pgxpool.Pool) *PostgresLinkStorage {
	return &PostgresLinkStorage{pool: pool}
}

func (s *PostgresLinkStorage) Create(ctx context.Context, link *Link) error {
	query := `INSERT INTO links (id, slug, destination_url, expires_at, owner_id) VALUES ($1, $2, $3, $4, $5)`
	_, err := s.pool.Exec(ctx, query, link.ID, link.Slug, link.DestinationURL, link.ExpiresAt, link.OwnerID)
	return err
}

func (s *PostgresLinkStorage) GetBySlug(ctx context.Context, slug string) (*Link, error) {
	query := `SELECT id, slug, destination_url, expires_at, click_count, owner_id, created_at, updated_at FROM links WHERE slug = $1`
	row := s.pool.QueryRow(ctx, query, slug)
	var link Link
	err := row.Scan(&link.ID, &link.Slug, &link.DestinationURL, &link.ExpiresAt, &link.ClickCount, &link.OwnerID, &link.CreatedAt, &link.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &link, nil
}

func (s *PostgresLinkStorage) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Link, error) {
	query := `SELECT id, slug, destination_url, expires_at, click_count, owner_id, created_at, updated_at FROM links WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*Link
	for rows.Next() {
		var link Link
		if err := rows.Scan(&link.ID, &link.Slug, &link.DestinationURL, &link.ExpiresAt, &link.ClickCount, &link.OwnerID, &link.CreatedAt, &link.UpdatedAt); err != nil {
			return nil, err
		}
		links = append(links, &link)
	}
	return links, rows.Err()
}

func (s *PostgresLinkStorage) UpdateDestination(ctx context.Context, id uuid.UUID, destinationURL string) error {
	query := `UPDATE links SET destination_url = $2, updated_at = now() WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, destinationURL)
	return err
}

func (s *PostgresLinkStorage) UpdateExpiry(ctx context.Context, id uuid.UUID, expiresAt *time.Time) error {
	query := `UPDATE links SET expires_at = $2, updated_at = now() WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, expiresAt)
	return err
}

func (s *PostgresLinkStorage) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM links WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id)
	return err
}

// IncrementClickCount applies the increment in SQL so concurrent redirects
// for the same link never lose updates.
func (s *PostgresLinkStorage) IncrementClickCount(ctx context.Context, linkID uuid.UUID) error {
	query := `UPDATE links SET click_count = click_count + 1 WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, linkID)
	return err
}

type PostgresClickStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresClickStorage(pool *pgxpool.Pool) *PostgresClickStorage {
	return &PostgresClickStorage{pool: pool}
}

func (s *PostgresClickStorage) InsertClick(ctx context.Context, event *ClickEvent) error {
	query := `INSERT INTO click_events (id, link_id, clicked_at, ip, user_agent, referrer, country, city, device_type, browser, os)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.pool.Exec(ctx, query,
		event.ID, event.LinkID, event.ClickedAt, event.IP, event.UserAgent,
		event.Referrer, event.Country, event.City, event.DeviceType, event.Browser, event.OS)
	return err
}

// ListClicks returns a page of click events for a link, newest first.
// The (link_id, clicked_at) index serves both the range scan and the sort.
func (s *PostgresClickStorage) ListClicks(ctx context.Context, linkID uuid.UUID, from, to time.Time, limit, offset int) ([]*ClickEvent, error) {
	query := `SELECT id, link_id, clicked_at, ip, user_agent, referrer, country, city, device_type, browser, os
		FROM click_events
		WHERE link_id = $1 AND clicked_at >= $2 AND clicked_at <= $3
		ORDER BY clicked_at DESC
		LIMIT $4 OFFSET $5`
	rows, err := s.pool.Query(ctx, query, linkID, from, to, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*ClickEvent
	for rows.Next() {
		var event ClickEvent
		if err := rows.Scan(&event.ID, &event.LinkID, &event.ClickedAt, &event.IP, &event.UserAgent,
			&event.Referrer, &event.Country, &event.City, &event.DeviceType, &event.Browser, &event.OS); err != nil {
			return nil, err
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

func (s *PostgresClickStorage) CountClicks(ctx context.Context, linkID uuid.UUID, from, to time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM click_events WHERE link_id = $1 AND clicked_at >= $2 AND clicked_at <= $3`
	var total int64
	err := s.pool.QueryRow(ctx, query, linkID, from, to).Scan(&total)
	return total, err
}

type PostgresUserStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresUserStorage(pool *pgxpool.Pool) *PostgresUserStorage {
	return &PostgresUserStorage{pool: pool}
}

func (s *PostgresUserStorage) CreateUser(ctx context.Context, user *User) error {
	query := `INSERT INTO users (id, email, password_hash) VALUES ($1, $2, $3)`
	_, err := s.pool.Exec(ctx, query, user.ID, user.Email, user.PasswordHash)
	return err
}

func (s *PostgresUserStorage) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT id, email, password_hash, created_at FROM users WHERE email = $1`
	row := s.pool.QueryRow(ctx, query, email)
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}
