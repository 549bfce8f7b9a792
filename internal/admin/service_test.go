package admin

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/wallet-engine/internal/ledger"
)

func newTestService(t *testing.T, ids ...string) (*Service, *ledger.Service, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewMemoryStore(50 * time.Millisecond)
	led := ledger.NewService(store)
	for _, id := range ids {
		_, err := led.OpenAccount(context.Background(), id)
		require.NoError(t, err)
	}
	return NewService(led, Options{Concurrency: 2, BaseBackoff: time.Millisecond}), led, store
}

func balance(t *testing.T, l *ledger.Service, id string) int64 {
	t.Helper()
	acct, err := l.Account(context.Background(), id)
	require.NoError(t, err)
	return acct.Balance
}

func TestBulkCreditIsolatesFailures(t *testing.T) {
	svc, led, _ := newTestService(t, "A", "B")

	report, err := svc.BulkCredit(context.Background(), BulkCreditInput{
		AccountIDs: []string{"A", "missing", "B"},
		Amount:     50,
		Reason:     "promo",
	})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Items, 3)
	assert.Equal(t, ItemResult{AccountID: "A", Status: ItemSucceeded}, report.Items[0])
	assert.Equal(t, "missing", report.Items[1].AccountID)
	assert.Equal(t, ItemFailed, report.Items[1].Status)
	assert.Equal(t, "AccountNotFound", report.Items[1].Code)
	assert.Equal(t, ItemResult{AccountID: "B", Status: ItemSucceeded}, report.Items[2])

	assert.Equal(t, int64(50), balance(t, led, "A"))
	assert.Equal(t, int64(50), balance(t, led, "B"))

	entries, err := led.Statement(context.Background(), "A", ledger.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "BULK_ADMIN_PROMO", entries[0].Reference)
}

func TestBulkCreditBatchRerunDoesNotDoubleCredit(t *testing.T) {
	svc, led, _ := newTestService(t, "A", "B")
	in := BulkCreditInput{AccountIDs: []string{"A", "B"}, Amount: 25, Reason: "refund", BatchID: "batch-7"}

	_, err := svc.BulkCredit(context.Background(), in)
	require.NoError(t, err)
	report, err := svc.BulkCredit(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Failed)
	for _, item := range report.Items {
		assert.Equal(t, "DuplicateOperation", item.Code)
	}
	assert.Equal(t, int64(25), balance(t, led, "A"))
}

func TestOperatorKeysDoNotCollideWithAccountKeys(t *testing.T) {
	svc, led, _ := newTestService(t, "A", "B")
	ctx := context.Background()

	// The payment routes scope client keys as "<account>:<key>". A batch
	// named after an account must not be mistaken for one of them.
	_, err := led.Credit(ctx, ledger.Mutation{AccountID: "B", Amount: 7, IdempotencyKey: "A:B"})
	require.NoError(t, err)

	report, err := svc.BulkCredit(ctx, BulkCreditInput{AccountIDs: []string{"B"}, Amount: 25, Reason: "promo", BatchID: "A"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded, "%+v", report.Items)

	_, err = led.Credit(ctx, ledger.Mutation{AccountID: "A", Amount: 3, IdempotencyKey: "A:fix-1"})
	require.NoError(t, err)
	_, err = svc.Adjust(ctx, AdjustInput{AccountID: "A", Type: ledger.EntryCredit, Amount: 10, Reason: "fix", IdempotencyKey: "A:fix-1"})
	require.NoError(t, err)

	assert.Equal(t, int64(32), balance(t, led, "B"))
	assert.Equal(t, int64(13), balance(t, led, "A"))
}

func TestBulkCreditValidates(t *testing.T) {
	svc, _, _ := newTestService(t, "A")

	_, err := svc.BulkCredit(context.Background(), BulkCreditInput{Amount: 10})
	assert.ErrorIs(t, err, ErrEmptyBatch)
	_, err = svc.BulkCredit(context.Background(), BulkCreditInput{AccountIDs: []string{"A"}, Amount: -1})
	assert.ErrorIs(t, err, ledger.ErrAmountInvalid)
}

func TestBulkFreezeIsIdempotent(t *testing.T) {
	svc, led, _ := newTestService(t, "A", "B")
	_, err := led.SetFrozen(context.Background(), "B", true)
	require.NoError(t, err)

	report, err := svc.BulkFreeze(context.Background(), []string{"A", "B", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, ItemSucceeded, report.Items[0].Status)
	assert.Equal(t, ItemUnchanged, report.Items[1].Status)
	assert.Equal(t, "AccountNotFound", report.Items[2].Code)
	assert.Equal(t, 2, report.Succeeded)

	again, err := svc.BulkFreeze(context.Background(), []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Failed)
	for _, item := range again.Items {
		assert.Equal(t, ItemUnchanged, item.Status)
	}

	_, err = led.Debit(context.Background(), ledger.Mutation{AccountID: "A", Amount: 1})
	assert.ErrorIs(t, err, ledger.ErrAccountFrozen)

	unfrozen, err := svc.BulkUnfreeze(context.Background(), []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, 2, unfrozen.Succeeded)
}

func TestBulkRetriesLockTimeout(t *testing.T) {
	svc, led, store := newTestService(t, "A")

	release := make(chan struct{})
	locked := make(chan struct{})
	go func() {
		_ = store.InTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
			if _, err := tx.LockAccount(ctx, "A"); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked
	time.AfterFunc(80*time.Millisecond, func() { close(release) })

	svc.backoff = 20 * time.Millisecond
	report, err := svc.BulkCredit(context.Background(), BulkCreditInput{AccountIDs: []string{"A"}, Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, ItemSucceeded, report.Items[0].Status, "%+v", report.Items[0])
	assert.Equal(t, int64(10), balance(t, led, "A"))
}

func TestBulkReportsLockTimeoutAfterRetries(t *testing.T) {
	svc, _, store := newTestService(t, "A")
	svc.retries = 1

	release := make(chan struct{})
	locked := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = store.InTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
			if _, err := tx.LockAccount(ctx, "A"); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	report, err := svc.BulkFreeze(context.Background(), []string{"A"})
	close(release)
	<-done
	require.NoError(t, err)
	assert.Equal(t, "LockTimeout", report.Items[0].Code)
}

func TestBulkKeepsInputOrderUnderConcurrency(t *testing.T) {
	var ids []string
	for i := 0; i < 20; i++ {
		ids = append(ids, fmt.Sprintf("acc-%02d", i))
	}
	svc, _, _ := newTestService(t, ids...)

	report, err := svc.BulkCredit(context.Background(), BulkCreditInput{AccountIDs: ids, Amount: 1})
	require.NoError(t, err)
	for i, item := range report.Items {
		assert.Equal(t, ids[i], item.AccountID)
	}
}

func TestAdjust(t *testing.T) {
	svc, led, _ := newTestService(t, "A")
	ctx := context.Background()

	entry, err := svc.Adjust(ctx, AdjustInput{AccountID: "A", Type: ledger.EntryCredit, Amount: 100, Reason: "chargeback reversal"})
	require.NoError(t, err)
	assert.Equal(t, "ADMIN_CHARGEBACK_REVERSAL", entry.Reference)

	_, err = svc.Adjust(ctx, AdjustInput{AccountID: "A", Type: ledger.EntryDebit, Amount: 500})
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	_, err = svc.Adjust(ctx, AdjustInput{AccountID: "A", Type: "BOTH", Amount: 5})
	assert.ErrorIs(t, err, ErrInvalidType)

	assert.Equal(t, int64(100), balance(t, led, "A"))
}
