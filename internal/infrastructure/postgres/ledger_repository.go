package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"bract/internal/domain/dispatch"
)

const dateLayout = "2006-01-02"

// LedgerRepository is the dispatch ledger shared by every API and admin
// process. Claims use a conditional upsert so exactly one concurrent caller
// wins a key; timestamps come from the database clock.
type LedgerRepository struct {
	db       *DB
	claimTTL time.Duration
}

func NewLedgerRepository(db *DB, claimTTL time.Duration) *LedgerRepository {
	return &LedgerRepository{db: db, claimTTL: claimTTL}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", dispatch.ErrLedgerUnavailable, err)
}

func (r *LedgerRepository) TryClaim(ctx context.Context, key dispatch.Key) (dispatch.Claim, dispatch.Outcome, error) {
	claim := dispatch.Claim{Key: key, Token: uuid.NewString()}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO dispatch_records (user_id, stream_id, occurrence_date, status, claim_token, claimed_at)
		VALUES ($1, $2, $3::date, 'claimed', $4, NOW())
		ON CONFLICT (user_id, stream_id, occurrence_date) DO UPDATE
			SET claim_token = EXCLUDED.claim_token,
			    claimed_at = EXCLUDED.claimed_at,
			    sent_at = NULL,
			    failure_reason = ''
			WHERE dispatch_records.status = 'claimed'
			  AND dispatch_records.claimed_at < NOW() - make_interval(secs => $5)
		RETURNING claimed_at, (xmax <> 0)`,
		key.UserID, key.StreamID, key.OccurrenceDate.Format(dateLayout), claim.Token, r.claimTTL.Seconds(),
	).Scan(&claim.ClaimedAt, &claim.Reclaimed)

	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.Claim{}, dispatch.AlreadyClaimed, nil
	}
	if err != nil {
		return dispatch.Claim{}, 0, unavailable(err)
	}
	return claim, dispatch.Claimed, nil
}

// owned runs a conditional write scoped to the claim's key and token and
// reports whether any row matched.
func (r *LedgerRepository) owned(ctx context.Context, query string, claim dispatch.Claim, args ...any) (bool, error) {
	args = append([]any{claim.Key.UserID, claim.Key.StreamID, claim.Key.OccurrenceDate.Format(dateLayout), claim.Token}, args...)
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, unavailable(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, unavailable(err)
	}
	return n > 0, nil
}

// MarkSent records a completed delivery. A record swept while the send was in
// flight is written back as sent; only a record reclaimed by another token
// yields ErrClaimLost.
func (r *LedgerRepository) MarkSent(ctx context.Context, claim dispatch.Claim) error {
	ok, err := r.owned(ctx, `
		INSERT INTO dispatch_records (user_id, stream_id, occurrence_date, status, claim_token, claimed_at, sent_at)
		VALUES ($1, $2, $3::date, 'sent', $4, $5, NOW())
		ON CONFLICT (user_id, stream_id, occurrence_date) DO UPDATE
			SET status = 'sent',
			    sent_at = COALESCE(dispatch_records.sent_at, NOW())
			WHERE dispatch_records.status = 'sent'
			   OR (dispatch_records.status = 'claimed' AND dispatch_records.claim_token = EXCLUDED.claim_token)`,
		claim, claim.ClaimedAt,
	)
	if err != nil {
		return err
	}
	if !ok {
		return dispatch.ErrClaimLost
	}
	return nil
}

func (r *LedgerRepository) Release(ctx context.Context, claim dispatch.Claim) error {
	_, err := r.owned(ctx, `
		DELETE FROM dispatch_records
		WHERE user_id = $1 AND stream_id = $2 AND occurrence_date = $3::date
		  AND claim_token = $4 AND status = 'claimed'`,
		claim,
	)
	return err
}

func (r *LedgerRepository) MarkFailed(ctx context.Context, claim dispatch.Claim, reason string) error {
	ok, err := r.owned(ctx, `
		UPDATE dispatch_records
		SET status = 'failed', failure_reason = $5
		WHERE user_id = $1 AND stream_id = $2 AND occurrence_date = $3::date
		  AND claim_token = $4 AND status IN ('claimed', 'failed')`,
		claim, reason,
	)
	if err != nil {
		return err
	}
	if !ok {
		return dispatch.ErrClaimLost
	}
	return nil
}

func (r *LedgerRepository) IsSent(ctx context.Context, key dispatch.Key) (bool, error) {
	var sent bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM dispatch_records
			WHERE user_id = $1 AND stream_id = $2 AND occurrence_date = $3::date AND status = 'sent'
		)`,
		key.UserID, key.StreamID, key.OccurrenceDate.Format(dateLayout),
	).Scan(&sent)
	if err != nil {
		return false, unavailable(err)
	}
	return sent, nil
}

func (r *LedgerRepository) deleted(ctx context.Context, query string, args ...any) (int, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, unavailable(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

func (r *LedgerRepository) SweepStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	return r.deleted(ctx, `
		DELETE FROM dispatch_records
		WHERE status = 'claimed' AND claimed_at < NOW() - make_interval(secs => $1)`,
		olderThan.Seconds(),
	)
}

func (r *LedgerRepository) Purge(ctx context.Context, before time.Time) (int, error) {
	return r.deleted(ctx,
		`DELETE FROM dispatch_records WHERE occurrence_date < $1::date`,
		before.Format(dateLayout),
	)
}

func (r *LedgerRepository) ListFailed(ctx context.Context, userID string) ([]*dispatch.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, stream_id, occurrence_date, status, claim_token, claimed_at, sent_at, failure_reason
		FROM dispatch_records
		WHERE user_id = $1 AND status = 'failed'
		ORDER BY occurrence_date DESC, stream_id`,
		userID,
	)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var records []*dispatch.Record
	for rows.Next() {
		var (
			rec        dispatch.Record
			uid, sid   string
			occurrence time.Time
			status     string
			sentAt     sql.NullTime
		)
		if err := rows.Scan(&uid, &sid, &occurrence, &status, &rec.ClaimToken, &rec.ClaimedAt, &sentAt, &rec.FailureReason); err != nil {
			return nil, unavailable(err)
		}
		rec.Key = dispatch.NewKey(uid, sid, occurrence)
		rec.Status = dispatch.Status(status)
		if sentAt.Valid {
			rec.SentAt = &sentAt.Time
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return records, nil
}
