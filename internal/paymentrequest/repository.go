package paymentrequest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TransitionUpdate carries the fields written alongside a status transition.
// Zero values leave the stored columns untouched.
type TransitionUpdate struct {
	TransferID  string
	ClaimedAt   time.Time
	RespondedAt time.Time
}

// Repository persists payment requests. Transition is a compare-and-set on
// the status column and is the only way a request changes.
type Repository interface {
	Create(ctx context.Context, req Request) error
	Get(ctx context.Context, id string) (Request, error)
	Transition(ctx context.Context, id string, from, to Status, update TransitionUpdate) (Request, error)
	ListByTarget(ctx context.Context, targetID string, status Status) ([]Request, error)
	ListByRequester(ctx context.Context, requesterID string) ([]Request, error)
	ExpireBefore(ctx context.Context, now time.Time) (int64, error)
	// ListStaleClaims returns PROCESSING requests claimed at or before cutoff.
	ListStaleClaims(ctx context.Context, cutoff time.Time) ([]Request, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed request repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const requestColumns = `id::text, requester_id, target_id, amount, note, status,
        COALESCE(transfer_id, ''), created_at, expires_at, claimed_at, responded_at`

func (r *PostgresRepository) Create(ctx context.Context, req Request) error {
	_, err := r.db.Exec(ctx, `INSERT INTO payment_requests
        (id, requester_id, target_id, amount, note, status, created_at, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, req.RequesterID, req.TargetID, req.Amount, req.Note, string(req.Status),
		req.CreatedAt.UTC(), req.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert payment request: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Request, error) {
	key, err := uuid.Parse(id)
	if err != nil {
		return Request{}, ErrRequestNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM payment_requests WHERE id = $1`, key)
	return scanRequest(row)
}

func (r *PostgresRepository) Transition(ctx context.Context, id string, from, to Status, update TransitionUpdate) (Request, error) {
	key, err := uuid.Parse(id)
	if err != nil {
		return Request{}, ErrRequestNotFound
	}
	row := r.db.QueryRow(ctx, `UPDATE payment_requests
        SET status = $3,
            transfer_id = COALESCE(NULLIF($4, ''), transfer_id),
            claimed_at = COALESCE($5, claimed_at),
            responded_at = COALESCE($6, responded_at)
        WHERE id = $1 AND status = $2
        RETURNING `+requestColumns, key, string(from), string(to), update.TransferID,
		nullableTime(update.ClaimedAt), nullableTime(update.RespondedAt))
	req, err := scanRequest(row)
	if errors.Is(err, ErrRequestNotFound) {
		// Either the id is unknown or the status moved on.
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return Request{}, getErr
		}
		return Request{}, ErrStaleStatus
	}
	return req, err
}

func (r *PostgresRepository) ListByTarget(ctx context.Context, targetID string, status Status) ([]Request, error) {
	rows, err := r.db.Query(ctx, `SELECT `+requestColumns+` FROM payment_requests
        WHERE target_id = $1 AND ($2 = '' OR status = $2)
        ORDER BY created_at DESC`, targetID, string(status))
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func (r *PostgresRepository) ListByRequester(ctx context.Context, requesterID string) ([]Request, error) {
	rows, err := r.db.Query(ctx, `SELECT `+requestColumns+` FROM payment_requests
        WHERE requester_id = $1 ORDER BY created_at DESC`, requesterID)
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func (r *PostgresRepository) ExpireBefore(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE payment_requests SET status = 'EXPIRED'
        WHERE status = 'PENDING' AND expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("expire payment requests: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) ListStaleClaims(ctx context.Context, cutoff time.Time) ([]Request, error) {
	rows, err := r.db.Query(ctx, `SELECT `+requestColumns+` FROM payment_requests
        WHERE status = 'PROCESSING' AND (claimed_at IS NULL OR claimed_at <= $1)
        ORDER BY created_at`, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	return collectRequests(rows)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func scanRequest(row pgx.Row) (Request, error) {
	var (
		req         Request
		status      string
		claimedAt   *time.Time
		respondedAt *time.Time
	)
	err := row.Scan(&req.ID, &req.RequesterID, &req.TargetID, &req.Amount, &req.Note, &status,
		&req.TransferID, &req.CreatedAt, &req.ExpiresAt, &claimedAt, &respondedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrRequestNotFound
		}
		return Request{}, err
	}
	req.Status = Status(status)
	req.CreatedAt = req.CreatedAt.UTC()
	req.ExpiresAt = req.ExpiresAt.UTC()
	if claimedAt != nil {
		req.ClaimedAt = claimedAt.UTC()
	}
	if respondedAt != nil {
		req.RespondedAt = respondedAt.UTC()
	}
	return req, nil
}

func collectRequests(rows pgx.Rows) ([]Request, error) {
	defer rows.Close()
	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}
