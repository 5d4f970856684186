package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/pixelrelay/internal/domain"
	"github.com/ignite/pixelrelay/internal/service/profile"
)

// ProfileRepo implements profile.Repository against PostgreSQL.
type ProfileRepo struct{ db *sql.DB }

// NewProfileRepo creates a Postgres-backed identity profile repository.
func NewProfileRepo(db *sql.DB) *ProfileRepo { return &ProfileRepo{db: db} }

const profileColumns = `id, channel_id, external_id, email, phone, visitor_id, browser_id, click_id,
	emails, phones, first_name, last_name, gender, date_of_birth, city, state, zip, country,
	match_quality, event_count, first_seen_at, last_seen_at`

// lookupPredicates maps each lookup key to its WHERE fragment; $2 is the value.
var lookupPredicates = map[domain.LookupKey]string{
	domain.LookupExternalID: `external_id = $2`,
	domain.LookupEmail:      `(email = $2 OR $2 = ANY(emails))`,
	domain.LookupPhone:      `(phone = $2 OR $2 = ANY(phones))`,
	domain.LookupVisitorID:  `visitor_id = $2`,
	domain.LookupBrowserID:  `browser_id = $2`,
}

func (r *ProfileRepo) FindBy(ctx context.Context, channelID string, key domain.LookupKey, value string) (*domain.IdentityProfile, error) {
	pred, ok := lookupPredicates[key]
	if !ok {
		return nil, fmt.Errorf("unsupported profile lookup key %q", key)
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT `+profileColumns+`
		FROM identity_profiles
		WHERE (channel_id = $1 OR channel_id = '') AND `+pred+`
		ORDER BY (channel_id = $1) DESC, last_seen_at DESC
		LIMIT 1
	`, channelID, value)

	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, profile.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find profile by %s: %w", key, err)
	}
	return p, nil
}

func (r *ProfileRepo) Create(ctx context.Context, p *domain.IdentityProfile) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO identity_profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`, p.ID, p.ChannelID, p.ExternalID, p.Email, p.Phone, p.VisitorID, p.BrowserID, p.ClickID,
		pq.Array(nonNil(p.Emails)), pq.Array(nonNil(p.Phones)), p.FirstName, p.LastName, p.Gender, p.DateOfBirth,
		p.City, p.State, p.Zip, p.Country, p.MatchQuality, p.EventCount, p.FirstSeenAt, p.LastSeenAt)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

func (r *ProfileRepo) Update(ctx context.Context, p *domain.IdentityProfile) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE identity_profiles SET
			external_id = $2, email = $3, phone = $4, visitor_id = $5, browser_id = $6, click_id = $7,
			emails = $8, phones = $9, first_name = $10, last_name = $11, gender = $12, date_of_birth = $13,
			city = $14, state = $15, zip = $16, country = $17, match_quality = $18, event_count = $19,
			last_seen_at = $20
		WHERE id = $1
	`, p.ID, p.ExternalID, p.Email, p.Phone, p.VisitorID, p.BrowserID, p.ClickID,
		pq.Array(nonNil(p.Emails)), pq.Array(nonNil(p.Phones)), p.FirstName, p.LastName, p.Gender, p.DateOfBirth,
		p.City, p.State, p.Zip, p.Country, p.MatchQuality, p.EventCount, p.LastSeenAt)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return profile.ErrNotFound
	}
	return nil
}

func scanProfile(s scanner) (*domain.IdentityProfile, error) {
	p := &domain.IdentityProfile{}
	var emails, phones pq.StringArray
	if err := s.Scan(&p.ID, &p.ChannelID, &p.ExternalID, &p.Email, &p.Phone, &p.VisitorID, &p.BrowserID, &p.ClickID,
		&emails, &phones, &p.FirstName, &p.LastName, &p.Gender, &p.DateOfBirth, &p.City, &p.State, &p.Zip, &p.Country,
		&p.MatchQuality, &p.EventCount, &p.FirstSeenAt, &p.LastSeenAt); err != nil {
		return nil, err
	}
	p.Emails = []string(emails)
	p.Phones = []string(phones)
	return p, nil
}

// nonNil keeps NOT NULL array columns from receiving NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
