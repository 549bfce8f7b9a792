package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation  = "23505"
	pgCheckViolation   = "23514"
	pgLockNotAvailable = "55P03"
	pgDeadlockDetected = "40P01"
	idempotencyIndex   = "ledger_entries_idempotency_idx"
	accountColumns     = `id, balance, frozen, version, created_at, updated_at`
	entryColumns       = `id::text, seq, account_id, entry_type, amount, balance_after, reference, COALESCE(transfer_id, ''), COALESCE(idempotency_key, ''), created_at`
)

// PostgresStore persists accounts and the append-only ledger in PostgreSQL.
// Account rows are locked with SELECT ... FOR UPDATE and every unit of work
// runs in a single transaction bounded by lock_timeout.
type PostgresStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

func (s *PostgresStore) CreateAccount(ctx context.Context, account Account) error {
	_, err := s.db.Exec(ctx, `INSERT INTO accounts (id, balance, frozen, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		account.ID, account.Balance, account.Frozen, account.Version, account.CreatedAt.UTC(), account.UpdatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrAccountExists
		}
		return err
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (Account, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

func (s *PostgresStore) Entries(ctx context.Context, accountID string, filter EntryFilter) ([]Entry, error) {
	var (
		where = []string{"account_id = $1"}
		args  = []any{accountID}
	)
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, fmt.Sprintf("entry_type = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.BeforeSeq > 0 {
		args = append(args, filter.BeforeSeq)
		where = append(where, fmt.Sprintf("seq < $%d", len(args)))
	}
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE ` + strings.Join(where, " AND ")
	if filter.Newest {
		query += ` ORDER BY seq DESC`
	} else {
		query += ` ORDER BY seq ASC`
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		if _, err := s.GetAccount(ctx, accountID); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}

	if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
		return mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) LockAccount(ctx context.Context, id string) (Account, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	acct, err := scanAccount(row)
	if err != nil {
		return Account{}, mapPgError(err)
	}
	return acct, nil
}

func (t *postgresTx) UpdateAccount(ctx context.Context, account Account) error {
	cmd, err := t.tx.Exec(ctx, `UPDATE accounts SET balance = $2, frozen = $3, version = $4, updated_at = $5
        WHERE id = $1`, account.ID, account.Balance, account.Frozen, account.Version, account.UpdatedAt.UTC())
	if err != nil {
		return mapPgError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (t *postgresTx) AppendEntry(ctx context.Context, entry Entry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO ledger_entries
        (id, account_id, entry_type, amount, balance_after, reference, transfer_id, idempotency_key, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.AccountID, string(entry.Type), entry.Amount, entry.BalanceAfter, entry.Reference,
		nullable(entry.TransferID), nullable(entry.IdempotencyKey), entry.CreatedAt.UTC())
	return mapPgError(err)
}

func (t *postgresTx) EntriesByKey(ctx context.Context, key string) ([]Entry, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
        WHERE idempotency_key = $1 ORDER BY seq`, key)
	if err != nil {
		return nil, mapPgError(err)
	}
	return collectEntries(rows)
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.Balance, &a.Frozen, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e   Entry
			typ string
		)
		if err := rows.Scan(&e.ID, &e.Seq, &e.AccountID, &typ, &e.Amount, &e.BalanceAfter, &e.Reference,
			&e.TransferID, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EntryType(typ)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// mapPgError translates driver errors into the engine's error kinds. Errors
// that are already engine errors pass through untouched.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgLockNotAvailable, pgDeadlockDetected:
		return fmt.Errorf("%w: %s", ErrLockTimeout, pgErr.Message)
	case pgUniqueViolation:
		if pgErr.ConstraintName == idempotencyIndex {
			return ErrDuplicateOperation
		}
	case pgCheckViolation:
		if strings.Contains(pgErr.ConstraintName, "balance") {
			return ErrInsufficientFunds
		}
	}
	return err
}
