package usage

import (
	"time"

	"github.com/google/uuid"
)

// Record is the usage counter for one (subscription, feature key) pair.
// Records are created lazily on first consumption; a missing record reads as
// zero usage. Used never decreases except through an explicit reset.
type Record struct {
	SubscriptionID uuid.UUID
	FeatureKey     string
	Used           int64
	LastUsedAt     *time.Time // cleared on reset
	ValidUntil     *time.Time // next reset boundary after the last consumption; nil when the feature never resets
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LastActivity returns the instant the reset sweeper compares against the
// period boundary: the last consumption when known, otherwise the last
// write to the record.
func (r *Record) LastActivity() time.Time {
	if r.LastUsedAt != nil {
		return *r.LastUsedAt
	}
	return r.UpdatedAt
}

// Clone returns a deep copy so stores never share pointer fields with
// callers.
func (r *Record) Clone() *Record {
	c := *r
	if r.LastUsedAt != nil {
		t := *r.LastUsedAt
		c.LastUsedAt = &t
	}
	if r.ValidUntil != nil {
		t := *r.ValidUntil
		c.ValidUntil = &t
	}
	return &c
}
