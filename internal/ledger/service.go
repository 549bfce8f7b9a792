package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/wallet-engine/internal/logging"
	"github.com/congo-pay/wallet-engine/internal/metrics"
)

// Service is the only writer of balances. Credits and debits, both standalone
// and as the two legs of a transfer, go through apply.
type Service struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option customises a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds the ledger service on top of store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: logging.Discard(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenAccount provisions an empty, unfrozen account. An empty id gets a UUID.
func (s *Service) OpenAccount(ctx context.Context, id string) (Account, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now().UTC()
	acct := Account{ID: id, CreatedAt: now, UpdatedAt: now}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return Account{}, err
	}
	s.logger.Info("account opened", "account_id", id)
	return acct, nil
}

// Account returns the committed state of an account.
func (s *Service) Account(ctx context.Context, id string) (Account, error) {
	return s.store.GetAccount(ctx, id)
}

// Statement returns the account's ledger entries matching filter.
func (s *Service) Statement(ctx context.Context, id string, filter EntryFilter) ([]Entry, error) {
	return s.store.Entries(ctx, id, filter)
}

// Credit adds funds to an account. Frozen accounts may still be credited.
func (s *Service) Credit(ctx context.Context, m Mutation) (Entry, error) {
	return s.mutate(ctx, EntryCredit, m)
}

// Debit removes funds from an account, refusing frozen accounts and
// overdrafts.
func (s *Service) Debit(ctx context.Context, m Mutation) (Entry, error) {
	return s.mutate(ctx, EntryDebit, m)
}

func (s *Service) mutate(ctx context.Context, typ EntryType, m Mutation) (Entry, error) {
	if m.Amount <= 0 {
		s.metrics.Mutation(string(typ), metrics.OutcomeRejected)
		return Entry{}, ErrAmountInvalid
	}

	var (
		out      Entry
		replayed bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		acct, err := tx.LockAccount(ctx, m.AccountID)
		if err != nil {
			return err
		}
		if m.IdempotencyKey != "" {
			prior, err := tx.EntriesByKey(ctx, m.IdempotencyKey)
			if err != nil {
				return err
			}
			if len(prior) > 0 {
				if len(prior) != 1 || prior[0].AccountID != m.AccountID || prior[0].Type != typ || prior[0].Amount != m.Amount {
					return ErrIdempotencyMismatch
				}
				out, replayed = prior[0], true
				return ErrDuplicateOperation
			}
		}
		_, out, err = s.apply(ctx, tx, acct, typ, m.Amount, m.Reference, m.IdempotencyKey, "")
		return err
	})

	s.observeMutation(typ, err)
	switch {
	case err == nil:
		s.logger.Info("balance mutated", "account_id", m.AccountID, "type", string(typ),
			"amount", m.Amount, "balance_after", out.BalanceAfter, "reference", m.Reference)
		return out, nil
	case replayed:
		return out, err
	default:
		return Entry{}, err
	}
}

// apply is the single place a balance changes. acct must be locked by tx.
func (s *Service) apply(ctx context.Context, tx Tx, acct Account, typ EntryType, amount int64, reference, key, transferID string) (Account, Entry, error) {
	switch typ {
	case EntryDebit:
		if acct.Frozen {
			return Account{}, Entry{}, ErrAccountFrozen
		}
		if acct.Balance < amount {
			return Account{}, Entry{}, ErrInsufficientFunds
		}
		acct.Balance -= amount
	case EntryCredit:
		if acct.Balance > math.MaxInt64-amount {
			return Account{}, Entry{}, fmt.Errorf("%w: balance overflow", ErrAmountInvalid)
		}
		acct.Balance += amount
	default:
		return Account{}, Entry{}, fmt.Errorf("unknown entry type %q", typ)
	}

	now := s.now().UTC()
	acct.Version++
	acct.UpdatedAt = now
	if err := tx.UpdateAccount(ctx, acct); err != nil {
		return Account{}, Entry{}, err
	}

	entry := Entry{
		ID:             uuid.NewString(),
		AccountID:      acct.ID,
		Type:           typ,
		Amount:         amount,
		BalanceAfter:   acct.Balance,
		Reference:      reference,
		TransferID:     transferID,
		IdempotencyKey: key,
		CreatedAt:      now,
	}
	if err := tx.AppendEntry(ctx, entry); err != nil {
		return Account{}, Entry{}, err
	}
	return acct, entry, nil
}

// Transfer debits the payer and credits the payee as one atomic unit. Both
// account locks are taken in ascending id order so opposing transfers cannot
// deadlock. When the idempotency key was already applied the original result
// is returned together with ErrDuplicateOperation.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	start := time.Now()
	res, err := s.transfer(ctx, in)
	s.metrics.Transfer(outcome(err), time.Since(start))
	if errors.Is(err, ErrLockTimeout) {
		s.metrics.LockTimeout()
		s.logger.Warn("transfer lock timeout", "payer_id", in.PayerID, "payee_id", in.PayeeID)
	}
	return res, err
}

func (s *Service) transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	if in.Amount <= 0 {
		return TransferResult{}, ErrAmountInvalid
	}
	if in.PayerID == in.PayeeID {
		return TransferResult{}, ErrSameAccount
	}

	// Fail fast on the payee without taking locks. A keyed request skips this
	// so that a replay is answered even if the payee has since been frozen.
	if in.IdempotencyKey == "" {
		payee, err := s.store.GetAccount(ctx, in.PayeeID)
		if err != nil {
			return TransferResult{}, err
		}
		if payee.Frozen {
			return TransferResult{}, ErrPayeeFrozen
		}
	}

	var (
		result   TransferResult
		replayed bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		first, second := in.PayerID, in.PayeeID
		if first > second {
			first, second = second, first
		}
		locked := make(map[string]Account, 2)
		for _, id := range []string{first, second} {
			acct, err := tx.LockAccount(ctx, id)
			if err != nil {
				return err
			}
			locked[id] = acct
		}

		if in.IdempotencyKey != "" {
			prior, err := tx.EntriesByKey(ctx, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if len(prior) > 0 {
				prev, err := replayTransfer(prior, in)
				if err != nil {
					return err
				}
				result, replayed = prev, true
				return ErrDuplicateOperation
			}
		}

		payer, payee := locked[in.PayerID], locked[in.PayeeID]
		if payee.Frozen {
			return ErrPayeeFrozen
		}
		if payer.Frozen {
			return ErrAccountFrozen
		}
		if payer.Balance < in.Amount {
			return ErrInsufficientFunds
		}

		transferID := uuid.NewString()
		_, debit, err := s.apply(ctx, tx, payer, EntryDebit, in.Amount, in.Reference, in.IdempotencyKey, transferID)
		if err != nil {
			return err
		}
		creditRef := in.CreditReference
		if creditRef == "" {
			creditRef = in.Reference
		}
		_, credit, err := s.apply(ctx, tx, payee, EntryCredit, in.Amount, creditRef, in.IdempotencyKey, transferID)
		if err != nil {
			return err
		}
		result = TransferResult{
			TransferID:  transferID,
			PayerID:     in.PayerID,
			PayeeID:     in.PayeeID,
			Amount:      in.Amount,
			Debit:       debit,
			Credit:      credit,
			CompletedAt: credit.CreatedAt,
		}
		return nil
	})

	switch {
	case err == nil:
		s.logger.Info("transfer completed", "transfer_id", result.TransferID, "payer_id", in.PayerID,
			"payee_id", in.PayeeID, "amount", in.Amount)
		return result, nil
	case replayed:
		return result, err
	default:
		return TransferResult{}, err
	}
}

func replayTransfer(prior []Entry, in TransferInput) (TransferResult, error) {
	var debit, credit Entry
	for _, e := range prior {
		switch {
		case e.Type == EntryDebit && e.AccountID == in.PayerID:
			debit = e
		case e.Type == EntryCredit && e.AccountID == in.PayeeID:
			credit = e
		}
	}
	if len(prior) != 2 || debit.ID == "" || credit.ID == "" || debit.TransferID == "" ||
		debit.TransferID != credit.TransferID || debit.Amount != in.Amount || credit.Amount != in.Amount {
		return TransferResult{}, ErrIdempotencyMismatch
	}
	return TransferResult{
		TransferID:  debit.TransferID,
		PayerID:     in.PayerID,
		PayeeID:     in.PayeeID,
		Amount:      in.Amount,
		Debit:       debit,
		Credit:      credit,
		CompletedAt: credit.CreatedAt,
	}, nil
}

// TransferByKey returns the committed transfer applied under an idempotency
// key, or ErrTransferNotFound when the key has not been used.
func (s *Service) TransferByKey(ctx context.Context, key string) (TransferResult, error) {
	if key == "" {
		return TransferResult{}, ErrTransferNotFound
	}
	var found []Entry
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		found, err = tx.EntriesByKey(ctx, key)
		return err
	})
	if err != nil {
		return TransferResult{}, err
	}

	var debit, credit Entry
	for _, e := range found {
		switch e.Type {
		case EntryDebit:
			debit = e
		case EntryCredit:
			credit = e
		}
	}
	if debit.TransferID == "" || debit.TransferID != credit.TransferID {
		return TransferResult{}, ErrTransferNotFound
	}
	return TransferResult{
		TransferID:  debit.TransferID,
		PayerID:     debit.AccountID,
		PayeeID:     credit.AccountID,
		Amount:      debit.Amount,
		Debit:       debit,
		Credit:      credit,
		CompletedAt: credit.CreatedAt,
	}, nil
}

// SetFrozen sets the frozen flag under the account lock. It reports whether
// the flag changed; setting the current value is a no-op.
func (s *Service) SetFrozen(ctx context.Context, id string, frozen bool) (bool, error) {
	var changed bool
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		acct, err := tx.LockAccount(ctx, id)
		if err != nil {
			return err
		}
		if acct.Frozen == frozen {
			return nil
		}
		acct.Frozen = frozen
		acct.Version++
		acct.UpdatedAt = s.now().UTC()
		changed = true
		return tx.UpdateAccount(ctx, acct)
	})
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			s.metrics.LockTimeout()
		}
		return false, err
	}
	if changed {
		s.logger.Info("account frozen flag changed", "account_id", id, "frozen", frozen)
	}
	return changed, nil
}

// Reconciliation is the result of replaying an account's ledger from zero.
type Reconciliation struct {
	AccountID       string
	StoredBalance   int64
	ReplayedBalance int64
	Entries         int
	// BrokenAt lists entry sequence numbers whose BalanceAfter does not
	// match the running total.
	BrokenAt   []int64
	Consistent bool
}

// Reconcile rebuilds the balance of id from its entries and compares it with
// the stored balance. The account lock is held while reading so that no
// mutation can interleave.
func (s *Service) Reconcile(ctx context.Context, id string) (Reconciliation, error) {
	var rec Reconciliation
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		acct, err := tx.LockAccount(ctx, id)
		if err != nil {
			return err
		}
		entries, err := s.store.Entries(ctx, id, EntryFilter{})
		if err != nil {
			return err
		}
		rec = Reconciliation{AccountID: id, StoredBalance: acct.Balance, Entries: len(entries)}
		var running int64
		for _, e := range entries {
			running += e.Signed()
			if e.BalanceAfter != running || running < 0 {
				rec.BrokenAt = append(rec.BrokenAt, e.Seq)
			}
		}
		rec.ReplayedBalance = running
		rec.Consistent = running == acct.Balance && len(rec.BrokenAt) == 0
		return nil
	})
	if err != nil {
		return Reconciliation{}, err
	}
	if !rec.Consistent {
		s.logger.Error("ledger reconciliation mismatch", "account_id", id,
			"stored", rec.StoredBalance, "replayed", rec.ReplayedBalance, "broken_entries", len(rec.BrokenAt))
	}
	return rec, nil
}

func (s *Service) observeMutation(typ EntryType, err error) {
	s.metrics.Mutation(string(typ), outcome(err))
	if errors.Is(err, ErrLockTimeout) {
		s.metrics.LockTimeout()
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, ErrDuplicateOperation):
		return metrics.OutcomeDuplicate
	case errors.Is(err, ErrLockTimeout), Code(err) == "Internal", Code(err) == "Cancelled":
		return metrics.OutcomeError
	default:
		return metrics.OutcomeRejected
	}
}
