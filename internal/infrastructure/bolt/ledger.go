package bolt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	bbolt "go.etcd.io/bbolt"

	"bract/internal/domain/dispatch"
)

var bucketDispatch = []byte("dispatch")

const dateLayout = "2006-01-02"

type record struct {
	UserID         string          `json:"user_id"`
	StreamID       string          `json:"stream_id"`
	OccurrenceDate string          `json:"occurrence_date"`
	Status         dispatch.Status `json:"status"`
	ClaimToken     string          `json:"claim_token"`
	ClaimedAt      time.Time       `json:"claimed_at"`
	SentAt         *time.Time      `json:"sent_at,omitempty"`
	FailureReason  string          `json:"failure_reason,omitempty"`
}

func (r *record) toDomain() (*dispatch.Record, error) {
	occurrence, err := time.Parse(dateLayout, r.OccurrenceDate)
	if err != nil {
		return nil, err
	}
	return &dispatch.Record{
		Key:           dispatch.NewKey(r.UserID, r.StreamID, occurrence),
		Status:        r.Status,
		ClaimToken:    r.ClaimToken,
		ClaimedAt:     r.ClaimedAt,
		SentAt:        r.SentAt,
		FailureReason: r.FailureReason,
	}, nil
}

// Ledger is a single-node dispatch ledger backed by a bbolt file. Every
// state transition runs in one read-modify-write Update transaction, which
// bbolt serializes, so TryClaim is atomic for all goroutines sharing the file.
type Ledger struct {
	db       *bbolt.DB
	claimTTL time.Duration
	now      func() time.Time
}

// Open opens (or creates) the ledger file at path.
func Open(path string, claimTTL time.Duration) (*Ledger, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDispatch); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketDispatch, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Ledger{db: db, claimTTL: claimTTL, now: time.Now}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func encodeKey(k dispatch.Key) []byte {
	return []byte(k.UserID + "\x00" + k.StreamID + "\x00" + k.OccurrenceDate.Format(dateLayout))
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", dispatch.ErrLedgerUnavailable, err)
}

func get(b *bbolt.Bucket, key []byte) (*record, error) {
	data := b.Get(key)
	if data == nil {
		return nil, nil
	}
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func put(b *bbolt.Bucket, key []byte, r *record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func (l *Ledger) TryClaim(ctx context.Context, key dispatch.Key) (dispatch.Claim, dispatch.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return dispatch.Claim{}, 0, unavailable(err)
	}

	now := l.now().UTC()
	claim := dispatch.Claim{Key: key, Token: uuid.NewString(), ClaimedAt: now}
	outcome := dispatch.AlreadyClaimed

	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDispatch)
		k := encodeKey(key)

		existing, err := get(b, k)
		if err != nil {
			return err
		}
		if existing != nil {
			stale := existing.Status == dispatch.StatusClaimed && existing.ClaimedAt.Before(now.Add(-l.claimTTL))
			if !stale {
				return nil
			}
			claim.Reclaimed = true
		}

		outcome = dispatch.Claimed
		return put(b, k, &record{
			UserID:         key.UserID,
			StreamID:       key.StreamID,
			OccurrenceDate: key.OccurrenceDate.Format(dateLayout),
			Status:         dispatch.StatusClaimed,
			ClaimToken:     claim.Token,
			ClaimedAt:      now,
		})
	})
	if err != nil {
		return dispatch.Claim{}, 0, unavailable(err)
	}
	if outcome != dispatch.Claimed {
		return dispatch.Claim{}, outcome, nil
	}
	return claim, outcome, nil
}

// transition applies fn to the record owned by claim. A record that is gone or
// owned by another token yields ErrClaimLost.
func (l *Ledger) transition(claim dispatch.Claim, fn func(r *record) (keep bool)) error {
	var lost bool
	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDispatch)
		k := encodeKey(claim.Key)

		r, err := get(b, k)
		if err != nil {
			return err
		}
		if r == nil || r.ClaimToken != claim.Token {
			lost = true
			return nil
		}
		if !fn(r) {
			return b.Delete(k)
		}
		return put(b, k, r)
	})
	if err != nil {
		return unavailable(err)
	}
	if lost {
		return dispatch.ErrClaimLost
	}
	return nil
}

// MarkSent records a completed delivery. A record swept while the send was in
// flight is written back as sent; only a record reclaimed by another token
// yields ErrClaimLost.
func (l *Ledger) MarkSent(ctx context.Context, claim dispatch.Claim) error {
	now := l.now().UTC()
	var lost bool
	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDispatch)
		k := encodeKey(claim.Key)

		r, err := get(b, k)
		if err != nil {
			return err
		}
		switch {
		case r == nil:
			r = &record{
				UserID:         claim.Key.UserID,
				StreamID:       claim.Key.StreamID,
				OccurrenceDate: claim.Key.OccurrenceDate.Format(dateLayout),
				ClaimToken:     claim.Token,
				ClaimedAt:      claim.ClaimedAt,
			}
		case r.Status == dispatch.StatusSent:
			return nil
		case r.Status != dispatch.StatusClaimed || r.ClaimToken != claim.Token:
			lost = true
			return nil
		}

		r.Status = dispatch.StatusSent
		r.SentAt = &now
		return put(b, k, r)
	})
	if err != nil {
		return unavailable(err)
	}
	if lost {
		return dispatch.ErrClaimLost
	}
	return nil
}

func (l *Ledger) Release(ctx context.Context, claim dispatch.Claim) error {
	err := l.transition(claim, func(r *record) bool {
		return r.Status != dispatch.StatusClaimed
	})
	if errors.Is(err, dispatch.ErrClaimLost) {
		return nil
	}
	return err
}

func (l *Ledger) MarkFailed(ctx context.Context, claim dispatch.Claim, reason string) error {
	return l.transition(claim, func(r *record) bool {
		if r.Status == dispatch.StatusClaimed {
			r.Status = dispatch.StatusFailed
			r.FailureReason = reason
		}
		return true
	})
}

func (l *Ledger) IsSent(ctx context.Context, key dispatch.Key) (bool, error) {
	var sent bool
	err := l.db.View(func(tx *bbolt.Tx) error {
		r, err := get(tx.Bucket(bucketDispatch), encodeKey(key))
		if err != nil {
			return err
		}
		sent = r != nil && r.Status == dispatch.StatusSent
		return nil
	})
	return sent, unavailable(err)
}

// deleteWhere removes every record matching pred and returns how many went.
func (l *Ledger) deleteWhere(pred func(r *record) bool) (int, error) {
	var n int
	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDispatch)

		var doomed [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if pred(&r) {
				doomed = append(doomed, bytes.Clone(k))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = len(doomed)
		return nil
	})
	return n, unavailable(err)
}

func (l *Ledger) SweepStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := l.now().UTC().Add(-olderThan)
	return l.deleteWhere(func(r *record) bool {
		return r.Status == dispatch.StatusClaimed && r.ClaimedAt.Before(cutoff)
	})
}

func (l *Ledger) Purge(ctx context.Context, before time.Time) (int, error) {
	cutoff := before.Format(dateLayout)
	return l.deleteWhere(func(r *record) bool {
		return r.OccurrenceDate < cutoff
	})
}

func (l *Ledger) ListFailed(ctx context.Context, userID string) ([]*dispatch.Record, error) {
	prefix := []byte(userID + "\x00")

	var out []*dispatch.Record
	err := l.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketDispatch).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.Status != dispatch.StatusFailed {
				continue
			}
			rec, err := r.toDomain()
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}
