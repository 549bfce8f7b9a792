// Package admin implements operator actions: single-account adjustments and
// bulk credits and freezes where every item succeeds or fails on its own.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/wallet-engine/internal/ledger"
	"github.com/congo-pay/wallet-engine/internal/logging"
	"github.com/congo-pay/wallet-engine/internal/metrics"
)

const (
	DefaultConcurrency = 4

	opCredit   = "credit"
	opFreeze   = "freeze"
	opUnfreeze = "unfreeze"
)

// Item statuses in a bulk report.
const (
	ItemSucceeded = "succeeded"
	ItemUnchanged = "unchanged"
	ItemFailed    = "failed"
)

// ErrEmptyBatch is returned for a bulk call with no account ids.
var ErrEmptyBatch = errors.New("no account ids given")

// Options tunes a Service.
type Options struct {
	Concurrency int
	// Retries is how many extra attempts a LockTimeout item gets. Zero
	// selects the default of 3 and a negative value disables retries.
	Retries     int
	BaseBackoff time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Service runs admin operations against the ledger.
type Service struct {
	ledger      *ledger.Service
	concurrency int
	retries     int
	backoff     time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewService constructs an admin service.
func NewService(l *ledger.Service, opts Options) *Service {
	s := &Service{
		ledger:      l,
		concurrency: opts.Concurrency,
		retries:     opts.Retries,
		backoff:     opts.BaseBackoff,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
	if s.concurrency <= 0 {
		s.concurrency = DefaultConcurrency
	}
	if s.retries < 0 {
		s.retries = 0
	} else if s.retries == 0 {
		s.retries = 3
	}
	if s.backoff <= 0 {
		s.backoff = 50 * time.Millisecond
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	return s
}

// ItemResult is the outcome for one account in a bulk operation.
type ItemResult struct {
	AccountID string `json:"account_id"`
	Status    string `json:"status"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Report summarises a bulk operation. Items are in input order.
type Report struct {
	Total     int          `json:"total"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Items     []ItemResult `json:"items"`
}

// BulkCreditInput credits the same amount to many accounts.
type BulkCreditInput struct {
	AccountIDs []string
	Amount     int64
	Reason     string
	// BatchID makes a re-run of the same batch report DuplicateOperation
	// instead of crediting again.
	BatchID string
}

// BulkCredit credits each account separately; one failure does not stop or
// undo the others.
func (s *Service) BulkCredit(ctx context.Context, in BulkCreditInput) (Report, error) {
	if len(in.AccountIDs) == 0 {
		return Report{}, ErrEmptyBatch
	}
	if in.Amount <= 0 {
		return Report{}, ledger.ErrAmountInvalid
	}
	reference := "BULK_ADMIN_" + reasonTag(in.Reason)

	return s.run(ctx, opCredit, in.AccountIDs, func(ctx context.Context, id string) (bool, error) {
		m := ledger.Mutation{AccountID: id, Amount: in.Amount, Reference: reference}
		if in.BatchID != "" {
			m.IdempotencyKey = bulkKey(in.BatchID, id)
		}
		_, err := s.ledger.Credit(ctx, m)
		return true, err
	}), nil
}

// BulkFreeze freezes every account. Already frozen accounts are reported as
// unchanged.
func (s *Service) BulkFreeze(ctx context.Context, ids []string) (Report, error) {
	return s.bulkFrozen(ctx, opFreeze, ids, true)
}

// BulkUnfreeze unfreezes every account. Accounts that are not frozen are
// reported as unchanged.
func (s *Service) BulkUnfreeze(ctx context.Context, ids []string) (Report, error) {
	return s.bulkFrozen(ctx, opUnfreeze, ids, false)
}

func (s *Service) bulkFrozen(ctx context.Context, op string, ids []string, frozen bool) (Report, error) {
	if len(ids) == 0 {
		return Report{}, ErrEmptyBatch
	}
	return s.run(ctx, op, ids, func(ctx context.Context, id string) (bool, error) {
		return s.ledger.SetFrozen(ctx, id, frozen)
	}), nil
}

// run applies fn to every id on a bounded pool. Results are written by index
// so the report follows input order.
func (s *Service) run(ctx context.Context, op string, ids []string, fn func(ctx context.Context, id string) (bool, error)) Report {
	items := make([]ItemResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			items[i] = s.runItem(gctx, op, id, fn)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Total: len(items), Items: items}
	for _, item := range items {
		if item.Status == ItemFailed {
			report.Failed++
		} else {
			report.Succeeded++
		}
	}
	s.logger.Info("bulk operation finished", "op", op, "total", report.Total,
		"succeeded", report.Succeeded, "failed", report.Failed)
	return report
}

func (s *Service) runItem(ctx context.Context, op, id string, fn func(ctx context.Context, id string) (bool, error)) ItemResult {
	var (
		changed bool
		err     error
	)
	for attempt := 0; ; attempt++ {
		changed, err = fn(ctx, id)
		if !ledger.IsRetriable(err) || attempt >= s.retries {
			break
		}
		if werr := wait(ctx, s.backoff<<attempt); werr != nil {
			err = werr
			break
		}
	}

	result := ItemResult{AccountID: id}
	switch {
	case err != nil:
		result.Status = ItemFailed
		result.Code = ledger.Code(err)
		result.Error = err.Error()
		s.logger.Warn("bulk item failed", "op", op, "account_id", id, "code", result.Code, "error", err)
	case !changed:
		result.Status = ItemUnchanged
	default:
		result.Status = ItemSucceeded
	}
	s.metrics.BulkItem(op, result.Status)
	return result
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Operator keys live in their own namespaces so they never meet the
// account-scoped keys of the payment routes in the ledger.
func bulkKey(batchID, accountID string) string {
	return "admin-bulk:" + batchID + ":" + accountID
}

func adjustKey(key string) string {
	if key == "" {
		return ""
	}
	return "admin-adjust:" + key
}

// AdjustInput is a single admin credit or debit.
type AdjustInput struct {
	AccountID      string
	Type           ledger.EntryType
	Amount         int64
	Reason         string
	IdempotencyKey string
}

// Adjust posts a manual correction to one account.
func (s *Service) Adjust(ctx context.Context, in AdjustInput) (ledger.Entry, error) {
	m := ledger.Mutation{
		AccountID:      in.AccountID,
		Amount:         in.Amount,
		Reference:      "ADMIN_" + reasonTag(in.Reason),
		IdempotencyKey: adjustKey(in.IdempotencyKey),
	}
	var (
		entry ledger.Entry
		err   error
	)
	switch in.Type {
	case ledger.EntryCredit:
		entry, err = s.ledger.Credit(ctx, m)
	case ledger.EntryDebit:
		entry, err = s.ledger.Debit(ctx, m)
	default:
		return ledger.Entry{}, fmt.Errorf("adjust type %q: %w", in.Type, ErrInvalidType)
	}
	if err == nil {
		s.logger.Info("admin adjustment", "account_id", in.AccountID, "type", in.Type,
			"amount", in.Amount, "reason", in.Reason)
	}
	return entry, err
}

// ErrInvalidType is returned for an adjustment that is neither CREDIT nor DEBIT.
var ErrInvalidType = errors.New("type must be CREDIT or DEBIT")

// Freeze blocks debits from one account.
func (s *Service) Freeze(ctx context.Context, id string) (bool, error) {
	return s.ledger.SetFrozen(ctx, id, true)
}

// Unfreeze lifts a freeze.
func (s *Service) Unfreeze(ctx context.Context, id string) (bool, error) {
	return s.ledger.SetFrozen(ctx, id, false)
}

// OpenAccount provisions a ledger account directly.
func (s *Service) OpenAccount(ctx context.Context, id string) (ledger.Account, error) {
	return s.ledger.OpenAccount(ctx, id)
}

// Reconcile replays an account's entries against its stored balance.
func (s *Service) Reconcile(ctx context.Context, id string) (ledger.Reconciliation, error) {
	return s.ledger.Reconcile(ctx, id)
}

func reasonTag(reason string) string {
	reason = strings.ToUpper(strings.TrimSpace(reason))
	if reason == "" {
		return "ADJUSTMENT"
	}
	return strings.Join(strings.Fields(reason), "_")
}
