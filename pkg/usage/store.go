package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence contract for usage records.
//
// Consume is the concurrency-critical operation: the limit check and the
// increment must be one serialized step per record (a row lock or an atomic
// conditional write), never a check in application memory followed by a
// separate write. Two concurrent Consume calls for the same record must not
// both succeed past the limit.
type Store interface {
	// Get returns the record, or ErrRecordNotFound.
	Get(ctx context.Context, subID uuid.UUID, key string) (*Record, error)

	// List returns every record of the subscription.
	List(ctx context.Context, subID uuid.UUID) ([]Record, error)

	// Save upserts a record.
	Save(ctx context.Context, rec *Record) error

	// Consume atomically creates the record if missing, checks
	// used+amount <= limit (nil limit means unlimited) and increments,
	// stamping last_used_at with now and valid_until with validUntil (the
	// next reset boundary of the feature's period, nil for never-resetting
	// features). Returns ErrUsageExceeded with no mutation when the
	// headroom is insufficient.
	Consume(ctx context.Context, subID uuid.UUID, key string, amount int64, limit *int64, now time.Time, validUntil *time.Time) (*Record, error)

	// FindResetCandidates selects records with used > 0 whose reset marker
	// (valid_until) has lapsed as of asOf, oldest marker first. Records with
	// no marker never come back. Callers re-check each candidate against
	// the feature's current period and the subscription's status.
	FindResetCandidates(ctx context.Context, asOf time.Time, limit int) ([]Record, error)

	// DeleteBySubscription removes all records of a subscription.
	DeleteBySubscription(ctx context.Context, subID uuid.UUID) error
}
