package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/subkit/pkg/pg"
	"github.com/dmitrymomot/subkit/pkg/usage"
)

// UsageStore is the PostgreSQL usage.Store. Consume is a single conditional
// upsert, so the limit check and the increment happen atomically on the row
// and concurrent consumers can never push a counter past its limit.
type UsageStore struct {
	db queryer
}

func NewUsageStore(pool *pgxpool.Pool) *UsageStore {
	if pool == nil {
		panic("postgres: connection pool is required")
	}
	return &UsageStore{db: pool}
}

const usageColumns = `subscription_id, feature_key, used, last_used_at, valid_until, created_at, updated_at`

func (s *UsageStore) Get(ctx context.Context, subID uuid.UUID, key string) (*usage.Record, error) {
	return scanRecord(s.db.QueryRow(ctx, `
		SELECT `+usageColumns+`
		FROM feature_usage
		WHERE subscription_id = $1 AND feature_key = $2`, subID, key))
}

func (s *UsageStore) List(ctx context.Context, subID uuid.UUID) ([]usage.Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+usageColumns+`
		FROM feature_usage
		WHERE subscription_id = $1
		ORDER BY feature_key`, subID)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (s *UsageStore) Save(ctx context.Context, rec *usage.Record) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO feature_usage (`+usageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (subscription_id, feature_key) DO UPDATE
		SET used = EXCLUDED.used,
			last_used_at = EXCLUDED.last_used_at,
			valid_until = EXCLUDED.valid_until,
			updated_at = EXCLUDED.updated_at`,
		rec.SubscriptionID, rec.FeatureKey, rec.Used, rec.LastUsedAt,
		rec.ValidUntil, rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

func (s *UsageStore) Consume(ctx context.Context, subID uuid.UUID, key string, amount int64, limit *int64, now time.Time, validUntil *time.Time) (*usage.Record, error) {
	// A fresh row skips the ON CONFLICT guard, so its headroom is checked
	// here. Existing rows are guarded inside the statement.
	if limit != nil && amount > *limit {
		return nil, usage.ErrUsageExceeded
	}

	rec, err := scanRecord(s.db.QueryRow(ctx, `
		INSERT INTO feature_usage (`+usageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $4, $4)
		ON CONFLICT (subscription_id, feature_key) DO UPDATE
		SET used = feature_usage.used + EXCLUDED.used,
			last_used_at = EXCLUDED.last_used_at,
			valid_until = EXCLUDED.valid_until,
			updated_at = EXCLUDED.updated_at
		WHERE $6::bigint IS NULL OR feature_usage.used + EXCLUDED.used <= $6
		RETURNING `+usageColumns,
		subID, key, amount, now, validUntil, limit,
	))
	if errors.Is(err, usage.ErrRecordNotFound) {
		// The guard rejected the update: no row came back.
		return nil, usage.ErrUsageExceeded
	}
	return rec, err
}

func (s *UsageStore) FindResetCandidates(ctx context.Context, asOf time.Time, limit int) ([]usage.Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+usageColumns+`
		FROM feature_usage
		WHERE used > 0 AND valid_until <= $1
		ORDER BY valid_until, subscription_id, feature_key
		LIMIT $2`, asOf, limit)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (s *UsageStore) DeleteBySubscription(ctx context.Context, subID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM feature_usage WHERE subscription_id = $1`, subID)
	return err
}

func scanRecord(row pgx.Row) (*usage.Record, error) {
	var rec usage.Record
	err := row.Scan(
		&rec.SubscriptionID, &rec.FeatureKey, &rec.Used, &rec.LastUsedAt,
		&rec.ValidUntil, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if pg.IsNotFoundError(err) {
		return nil, usage.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func collectRecords(rows pgx.Rows) ([]usage.Record, error) {
	defer rows.Close()

	var out []usage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
