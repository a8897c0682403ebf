package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subkit/pkg/catalog"
	"github.com/dmitrymomot/subkit/pkg/subscription"
	"github.com/dmitrymomot/subkit/pkg/usage"
)

var (
	_ subscription.Store = (*SubscriptionStore)(nil)
	_ usage.Store        = (*UsageStore)(nil)
)

type fakeQueryer struct {
	execErr error
	rowErr  error
	sqls    []string
}

func (f *fakeQueryer) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.sqls = append(f.sqls, sql)
	// The advisory-lock statement always succeeds; the configured error
	// belongs to the write that follows it.
	if strings.Contains(sql, "pg_advisory_xact_lock") {
		return pgconn.CommandTag{}, nil
	}
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeQueryer) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	f.sqls = append(f.sqls, sql)
	return nil, f.rowErr
}

func (f *fakeQueryer) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	f.sqls = append(f.sqls, sql)
	return fakeRow{err: f.rowErr}
}

type fakeRow struct{ err error }

func (r fakeRow) Scan(...any) error { return r.err }

func TestConsumeFirstInsertGuard(t *testing.T) {
	t.Parallel()

	db := &fakeQueryer{}
	store := &UsageStore{db: db}

	// A first consume that alone exceeds the limit never reaches the
	// database.
	_, err := store.Consume(context.Background(), uuid.New(), "api", 11, catalog.Limit(10), time.Now(), nil)
	require.ErrorIs(t, err, usage.ErrUsageExceeded)
	assert.Empty(t, db.sqls)
}

func TestConsumeGuardRejectionMapsToExceeded(t *testing.T) {
	t.Parallel()

	// The conditional upsert returns no row when the guard rejects the
	// increment.
	db := &fakeQueryer{rowErr: pgx.ErrNoRows}
	store := &UsageStore{db: db}

	_, err := store.Consume(context.Background(), uuid.New(), "api", 2, catalog.Limit(10), time.Now(), nil)
	assert.ErrorIs(t, err, usage.ErrUsageExceeded)
}

func TestGetMapsNoRows(t *testing.T) {
	t.Parallel()

	subs := &SubscriptionStore{db: &fakeQueryer{rowErr: pgx.ErrNoRows}}
	_, err := subs.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)

	records := &UsageStore{db: &fakeQueryer{rowErr: pgx.ErrNoRows}}
	_, err = records.Get(context.Background(), uuid.New(), "api")
	assert.ErrorIs(t, err, usage.ErrRecordNotFound)
}

func TestCreateMapsUniqueViolations(t *testing.T) {
	t.Parallel()

	sub := &subscription.Subscription{
		ID:         uuid.New(),
		Subscriber: subscription.SubscriberRef{Type: "user", ID: uuid.NewString()},
		Status:     subscription.StatusActive,
	}

	oneActive := &fakeQueryer{execErr: &pgconn.PgError{Code: "23505", ConstraintName: "subscriptions_one_active_idx"}}
	err := (&SubscriptionStore{db: oneActive}).Create(context.Background(), sub)
	assert.ErrorIs(t, err, subscription.ErrAlreadySubscribed)

	pkClash := &fakeQueryer{execErr: &pgconn.PgError{Code: "23505", ConstraintName: "subscriptions_pkey"}}
	err = (&SubscriptionStore{db: pkClash}).Create(context.Background(), sub)
	assert.ErrorIs(t, err, subscription.ErrSubscriptionExists)
}
