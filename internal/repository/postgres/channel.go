package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/pixelrelay/internal/domain"
	"github.com/ignite/pixelrelay/internal/service/ingest"
)

// ChannelRepo reads channels from PostgreSQL.
type ChannelRepo struct{ db *sql.DB }

// NewChannelRepo creates a Postgres-backed channel repository.
func NewChannelRepo(db *sql.DB) *ChannelRepo { return &ChannelRepo{db: db} }

const channelColumns = `id, name, pixel_id, access_token, test_event_code, allowed_domains, active, created_at, updated_at`

func (r *ChannelRepo) Get(ctx context.Context, id string) (*domain.Channel, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, id)
	ch, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, ingest.ErrChannelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return ch, nil
}

// ListActive returns every active channel ordered by id.
func (r *ChannelRepo) ListActive(ctx context.Context) ([]domain.Channel, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []domain.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

// Upsert inserts or replaces a channel. Used by seeding and tests; the
// operator surface that edits channels lives elsewhere.
func (r *ChannelRepo) Upsert(ctx context.Context, ch *domain.Channel) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO channels (id, name, pixel_id, access_token, test_event_code, allowed_domains, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, pixel_id = EXCLUDED.pixel_id, access_token = EXCLUDED.access_token,
			test_event_code = EXCLUDED.test_event_code, allowed_domains = EXCLUDED.allowed_domains,
			active = EXCLUDED.active, updated_at = NOW()
	`, ch.ID, ch.Name, ch.PixelID, ch.AccessToken, ch.TestEventCode, pq.Array(ch.AllowedDomains), ch.Active)
	if err != nil {
		return fmt.Errorf("upsert channel: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanChannel(s scanner) (*domain.Channel, error) {
	ch := &domain.Channel{}
	var domains pq.StringArray
	if err := s.Scan(&ch.ID, &ch.Name, &ch.PixelID, &ch.AccessToken, &ch.TestEventCode,
		&domains, &ch.Active, &ch.CreatedAt, &ch.UpdatedAt); err != nil {
		return nil, err
	}
	ch.AllowedDomains = []string(domains)
	return ch, nil
}
