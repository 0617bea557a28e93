package dispatch

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLedgerUnavailable wraps every storage failure. The reminder tick
	// aborts on it rather than risk a duplicate send.
	ErrLedgerUnavailable = errors.New("dispatch ledger unavailable")

	// ErrClaimLost means the record no longer belongs to the claim token,
	// usually because a stuck claim was swept or reclaimed.
	ErrClaimLost = errors.New("claim no longer owns the dispatch record")
)

// DefaultRetention is how long records are kept past their occurrence date.
const DefaultRetention = 45 * 24 * time.Hour

type Status string

const (
	StatusClaimed Status = "claimed"
	StatusSent    Status = "sent"
	// StatusFailed marks a permanent delivery failure. It blocks reclaim of the
	// occurrence but does not count as sent.
	StatusFailed Status = "failed"
)

type Outcome int

const (
	Claimed Outcome = iota + 1
	AlreadyClaimed
)

func (o Outcome) String() string {
	switch o {
	case Claimed:
		return "claimed"
	case AlreadyClaimed:
		return "already_claimed"
	default:
		return "unknown"
	}
}

// Key identifies one occurrence of a stream for a user. The occurrence is the
// predicted due date, so a shifted date is a different key.
type Key struct {
	UserID         string
	StreamID       string
	OccurrenceDate time.Time
}

// NewKey truncates the occurrence to a UTC calendar date.
func NewKey(userID, streamID string, occurrence time.Time) Key {
	y, m, d := occurrence.Date()
	return Key{
		UserID:         userID,
		StreamID:       streamID,
		OccurrenceDate: time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
	}
}

func (k Key) String() string {
	return k.UserID + "/" + k.StreamID + "/" + k.OccurrenceDate.Format("2006-01-02")
}

// Claim is the exclusive right to notify one occurrence.
type Claim struct {
	Key       Key
	Token     string
	ClaimedAt time.Time
	// Reclaimed is set when the claim replaced a stale one.
	Reclaimed bool
}

type Record struct {
	Key           Key
	Status        Status
	ClaimToken    string
	ClaimedAt     time.Time
	SentAt        *time.Time
	FailureReason string
}

// Ledger is the durable at-most-once record of reminder deliveries.
// Implementations must make TryClaim atomic across processes.
type Ledger interface {
	// TryClaim returns Claimed with a fresh token when the key is free or held
	// by a claim older than the ledger's TTL, AlreadyClaimed otherwise.
	TryClaim(ctx context.Context, key Key) (Claim, Outcome, error)
	// MarkSent is idempotent. It also records a delivery whose claim was swept
	// meanwhile; ErrClaimLost means another token reclaimed the occurrence.
	MarkSent(ctx context.Context, claim Claim) error
	// Release deletes a claimed record so a later tick may retry.
	Release(ctx context.Context, claim Claim) error
	MarkFailed(ctx context.Context, claim Claim, reason string) error
	IsSent(ctx context.Context, key Key) (bool, error)
	// SweepStuck deletes claimed records older than olderThan.
	SweepStuck(ctx context.Context, olderThan time.Duration) (int, error)
	// Purge deletes records whose occurrence date is before the cutoff.
	Purge(ctx context.Context, before time.Time) (int, error)
	ListFailed(ctx context.Context, userID string) ([]*Record, error)
}

// PurgeCutoff is the occurrence date before which records may be purged.
func PurgeCutoff(now time.Time, retention time.Duration) time.Time {
	y, m, d := now.Add(-retention).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
