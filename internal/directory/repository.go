package directory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository resolves account ids to display names and mobile numbers to
// account ids.
type Repository interface {
	Create(ctx context.Context, profile Profile) error
	FindByAccount(ctx context.Context, accountID string) (Profile, error)
	FindByMobile(ctx context.Context, mobile string) (Profile, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed directory repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new profile.
func (r *PostgresRepository) Create(ctx context.Context, profile Profile) error {
	_, err := r.db.Exec(ctx, `INSERT INTO directory_profiles (account_id, name, mobile, created_at)
        VALUES ($1, $2, $3, $4)`, profile.AccountID, profile.Name, NormalizeMobile(profile.Mobile), profile.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "directory_profiles_mobile_key" {
		return ErrMobileTaken
	}
	return err
}

// FindByAccount fetches the profile bound to an account.
func (r *PostgresRepository) FindByAccount(ctx context.Context, accountID string) (Profile, error) {
	row := r.db.QueryRow(ctx, `SELECT account_id, name, mobile, created_at FROM directory_profiles WHERE account_id = $1`, accountID)
	return scanProfile(row)
}

// FindByMobile fetches a profile by mobile number.
func (r *PostgresRepository) FindByMobile(ctx context.Context, mobile string) (Profile, error) {
	row := r.db.QueryRow(ctx, `SELECT account_id, name, mobile, created_at FROM directory_profiles WHERE mobile = $1`, NormalizeMobile(mobile))
	return scanProfile(row)
}

func scanProfile(row pgx.Row) (Profile, error) {
	var (
		p         Profile
		createdAt time.Time
	)
	if err := row.Scan(&p.AccountID, &p.Name, &p.Mobile, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrProfileNotFound
		}
		return Profile{}, err
	}
	p.CreatedAt = createdAt.UTC()
	return p, nil
}
