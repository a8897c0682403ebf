package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/subkit/pkg/pg"
	"github.com/dmitrymomot/subkit/pkg/subscription"
)

// queryer is satisfied by both *pgxpool.Pool and pgx.Tx, letting one store
// type serve plain calls and transactional ones.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SubscriptionStore is the PostgreSQL subscription.Store. Lifecycle actions
// run inside InTx; row locks (SELECT ... FOR UPDATE) and a per-subscriber
// advisory lock serialize the invariant checks.
type SubscriptionStore struct {
	pool *pgxpool.Pool // nil when the store is bound to a transaction
	db   queryer
}

func NewSubscriptionStore(pool *pgxpool.Pool) *SubscriptionStore {
	if pool == nil {
		panic("postgres: connection pool is required")
	}
	return &SubscriptionStore{pool: pool, db: pool}
}

// InTx runs fn inside one database transaction. A store already bound to a
// transaction joins it instead of nesting.
func (s *SubscriptionStore) InTx(ctx context.Context, fn func(ctx context.Context, tx subscription.Store) error) error {
	if s.pool == nil {
		return fn(ctx, s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &SubscriptionStore{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const subscriptionColumns = `id, subscriber_type, subscriber_id, plan_id, pricing_id, status, auto_renew,
	starts_at, ends_at, grace_ends_at, trial_ends_at, canceled_at, deleted_at, created_at, updated_at`

func (s *SubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	// Serialize concurrent creations for the same subscriber: the caller
	// re-checks the one-active invariant in this transaction, and the
	// advisory lock makes that check race-free.
	if _, err := s.db.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`,
		sub.Subscriber.Type, sub.Subscriber.ID,
	); err != nil {
		return err
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sub.ID, sub.Subscriber.Type, sub.Subscriber.ID, sub.PlanID, sub.PricingID,
		sub.Status, sub.AutoRenew, sub.StartsAt, sub.EndsAt, sub.GraceEndsAt,
		sub.TrialEndsAt, sub.CanceledAt, sub.DeletedAt, sub.CreatedAt, sub.UpdatedAt,
	)
	if pg.IsDuplicateKeyError(err) {
		if constraintName(err) == "subscriptions_one_active_idx" {
			return subscription.ErrAlreadySubscribed
		}
		return subscription.ErrSubscriptionExists
	}
	return err
}

func (s *SubscriptionStore) Get(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	return scanSubscription(s.db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (s *SubscriptionStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	return scanSubscription(s.db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE`, id))
}

func (s *SubscriptionStore) Update(ctx context.Context, sub *subscription.Subscription) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE subscriptions
		SET plan_id = $2, pricing_id = $3, status = $4, auto_renew = $5,
			starts_at = $6, ends_at = $7, grace_ends_at = $8, trial_ends_at = $9,
			canceled_at = $10, deleted_at = $11, updated_at = $12
		WHERE id = $1`,
		sub.ID, sub.PlanID, sub.PricingID, sub.Status, sub.AutoRenew,
		sub.StartsAt, sub.EndsAt, sub.GraceEndsAt, sub.TrialEndsAt,
		sub.CanceledAt, sub.DeletedAt, sub.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrSubscriptionNotFound
	}
	return nil
}

func (s *SubscriptionStore) FindBySubscriber(ctx context.Context, ref subscription.SubscriberRef) ([]subscription.Subscription, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE subscriber_type = $1 AND subscriber_id = $2 AND deleted_at IS NULL
		ORDER BY created_at DESC, id`, ref.Type, ref.ID)
	if err != nil {
		return nil, err
	}
	return collectSubscriptions(rows)
}

func (s *SubscriptionStore) FindActiveBySubscriber(ctx context.Context, ref subscription.SubscriberRef) (*subscription.Subscription, error) {
	return scanSubscription(s.db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE subscriber_type = $1 AND subscriber_id = $2
			AND status IN ('trialing', 'active') AND deleted_at IS NULL
		LIMIT 1`, ref.Type, ref.ID))
}

// HasTrialed scans history including soft-deleted rows: deleting a
// subscription must not grant a fresh trial.
func (s *SubscriptionStore) HasTrialed(ctx context.Context, ref subscription.SubscriberRef, planID string) (bool, error) {
	var trialed bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM subscriptions
			WHERE subscriber_type = $1 AND subscriber_id = $2
				AND plan_id = $3 AND trial_ends_at IS NOT NULL
		)`, ref.Type, ref.ID, planID).Scan(&trialed)
	return trialed, err
}

func (s *SubscriptionStore) FindRenewalDue(ctx context.Context, now time.Time, lookahead time.Duration, limit int) ([]subscription.Subscription, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status = 'active' AND auto_renew AND deleted_at IS NULL
			AND ends_at > $1 AND ends_at <= $2
		ORDER BY ends_at, id
		LIMIT $3`, now, now.Add(lookahead), limit)
	if err != nil {
		return nil, err
	}
	return collectSubscriptions(rows)
}

func (s *SubscriptionStore) FindExpiryDue(ctx context.Context, now time.Time, limit int) ([]subscription.Subscription, error) {
	// COALESCE picks the grace deadline when one exists, the paid term
	// otherwise. Lifetime rows have neither and never match.
	rows, err := s.db.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status IN ('trialing', 'active') AND deleted_at IS NULL
			AND COALESCE(grace_ends_at, ends_at) <= $1
		ORDER BY ends_at, id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectSubscriptions(rows)
}

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	err := row.Scan(
		&sub.ID, &sub.Subscriber.Type, &sub.Subscriber.ID, &sub.PlanID, &sub.PricingID,
		&sub.Status, &sub.AutoRenew, &sub.StartsAt, &sub.EndsAt, &sub.GraceEndsAt,
		&sub.TrialEndsAt, &sub.CanceledAt, &sub.DeletedAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if pg.IsNotFoundError(err) {
		return nil, subscription.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func collectSubscriptions(rows pgx.Rows) ([]subscription.Subscription, error) {
	defer rows.Close()

	var out []subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
