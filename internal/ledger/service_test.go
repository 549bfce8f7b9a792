package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/wallet-engine/internal/metrics"
)

func newTestService(t *testing.T, lockTimeout time.Duration) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore(lockTimeout)
	return NewService(store), store
}

func balanceOf(t *testing.T, svc *Service, id string) int64 {
	t.Helper()
	acct, err := svc.Account(context.Background(), id)
	require.NoError(t, err)
	return acct.Balance
}

func TestTransferMovesFunds(t *testing.T) {
	svc, store := newTestService(t, time.Second)
	ctx := context.Background()
	SeedBalance(store, "A", 500)
	SeedBalance(store, "B", 0)

	res, err := svc.Transfer(ctx, TransferInput{PayerID: "A", PayeeID: "B", Amount: 200, Reference: "test"})
	require.NoError(t, err)

	assert.Equal(t, int64(300), balanceOf(t, svc, "A"))
	assert.Equal(t, int64(200), balanceOf(t, svc, "B"))

	assert.Equal(t, EntryDebit, res.Debit.Type)
	assert.Equal(t, "A", res.Debit.AccountID)
	assert.Equal(t, int64(300), res.Debit.BalanceAfter)
	assert.Equal(t, EntryCredit, res.Credit.Type)
	assert.Equal(t, "B", res.Credit.AccountID)
	assert.Equal(t, int64(200), res.Credit.BalanceAfter)
	assert.Equal(t, res.TransferID, res.Debit.TransferID)
	assert.Equal(t, res.TransferID, res.Credit.TransferID)
	assert.Equal(t, "test", res.Debit.Reference)

	entries, err := svc.Statement(ctx, "A", EntryFilter{Type: EntryDebit})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(200), entries[0].Amount)
}

func TestDebitInsufficientFundsWritesNothing(t *testing.T) {
	svc, store := newTestService(t, time.Second)
	ctx := context.Background()
	SeedBalance(store, "A", 300)

	_, err := svc.Debit(ctx, Mutation{AccountID: "A", Amount: 1_000, Reference: "x"})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	assert.Equal(t, int64(300), balanceOf(t, svc, "A"))
	entries, err := svc.Statement(ctx, "A", EntryFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the seed entry should exist")
}

func TestMutationValidation(t *testing.T) {
	svc, store := newTestService(t, time.Second)
	ctx := context.Background()
	SeedBalance(store, "A", 100)

	_, err := svc.Credit(ctx, Mutation{AccountID: "A", Amount: 0})
	assert.ErrorIs(t, err, ErrAmountInvalid)
	_, err = svc.Debit(ctx, Mutation{AccountID: "A", Amount: -5})
	assert.ErrorIs(t, err, ErrAmountInvalid)
	_, err = svc.Credit(ctx, Mutation{AccountID: "missing", Amount: 5})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestConcurrentDebitRace(t *testing.T) {
	svc, store := newTestService(t, time.Second)
	ctx := context.Background()
	SeedBalance(store, "A", 100)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Debit(ctx, Mutation{AccountID: "A", Amount: 60, Reference: "race"})
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, int64(40), balanceOf(t, svc, "A"))
}

func TestFrozenEnforcement(t *testing.T) {
	svc, store := newTestService(t, time.Second)
	ctx := context.Background()
	SeedBalance(store, "A", 500)
	SeedBalance(store, "B", 500)

	changed, err := svc.SetFrozen(ctx, "A", true)
	require.NoError(t, err)
	require.True(t, changed)

	_, err = svc.Debit(ctx, Mutation{AccountID: "A", Amount: 10})
	assert.ErrorIs(t, err, ErrAccountFrozen)

	_, err = svc.Transfer(ctx, TransferInput{PayerID: "A", PayeeID: "B", Amount: 10})
	assert.ErrorIs(t, err, ErrAccountFrozen)

	_, err = svc.Transfer(ctx, TransferInput{PayerID: "B", PayeeID: "A", Amount: 10})
	assert.ErrorIs(t, err, ErrPayeeFrozen)

	// Credits still land on a frozen account.
	_, err = svc.Credit(ctx, Mutation{AccountID: "A", Amount: 10, Reference: "refund"})
	require.NoError(t, err)
	assert.Equal(t, int64(510), balanceOf(t, svc, "A"))
	assert.Equal(t, int64(500), balanceOf(t, svc, "B"))

	changed, err = svc.SetFrozen(ctx, "A", true)
	require.NoError(t, err)
	assert.False(t, changed, "freezing a frozen account is a no-op")
}

func TestTransferValidationAndAtomicity(t *testing.T) {
	svc, store := newTestService(t, time.Second)
	ctx := context.Background()
	SeedBalance(store, "A", 500)

	_, err := svc.Transfer(ctx, TransferInput{PayerID: "A", PayeeID: "A", Amount: 10})
	assert.ErrorIs(t, err, ErrSameAccount)

	_, err = svc.Transfer(ctx, TransferInput{PayerID: "A", PayeeID: "B", Amount: 0})
	assert.ErrorIs(t, err, ErrAmountInvalid)

	_, err = svc.Transfer(ctx, TransferInput{PayerID: "A", PayeeID: "nobody", Amount: 10})
	assert.ErrorIs(t, err, ErrAccountNotFound)

	// The keyed path skips the pre-check and must still fail inside the lock
	// without leaving a half-applied transfer.
	_, err = svc.Transfer(ctx, TransferInput{PayerID: "A", PayeeID: "nobody", Amount: 10, IdempotencyKey: "k1"})
	assert.ErrorIs(t, err, ErrAccountNotFound)

	assert.Equal(t, int64(500), balanceOf(t, svc, "A"))
	entries, err := svc.Statement(ctx, "A", EntryFilter{Type: EntryDebit})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// failingStore fails the append of the payee's credit, after the payer's
// debit has already been written inside the same transaction.
type failingStore struct {
	Store
}

func (s failingStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, failingTx{Tx: tx})
	})
}

type failingTx struct {
	Tx
}

var errDiskFull = errors.New("disk full")

func (t failingTx) AppendEntry(ctx context.Context, entry Entry) error {
	if entry.Type == EntryCredit {
		return errDiskFull
	}
	return t.Tx.AppendEntry(ctx, entry)
}

func TestTransferFailureAfterDebitRollsBack(t *testing.T) {
	store := NewMemoryStore(time.Second)
	SeedBalance(store, "A", 500)
	SeedBalance(store, "B", 0)
	svc := NewService(failingStore{Store: store})
	ctx := context.Background()

	before, err := svc.Statement(ctx, "A", EntryFilter{})
	require.NoError(t, err)

	_, err = svc.Transfer(ctx, TransferInput{PayerID: "A", PayeeID: "B", Amount: 200, Reference: "test", IdempotencyKey: "k-fail"})
	require.ErrorIs(t, err, errDiskFull)

	assert.Equal(t, int64(500), balanceOf(t, svc, "A"))
	assert.Equal(t, int64(0), balanceOf(t, svc, "B"))
	after, err := svc.Statement(ctx, "A", EntryFilter{})
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = svc.TransferByKey(ctx, "k-fail")
	assert.ErrorIs(t, err, ErrTransferNotFound)

	// The key stays usable once the store recovers.
	healthy := NewService(store)
	_, err = healthy.Transfer(ctx, TransferInput{PayerID: "A", PayeeID: "B", Amount: 200, Reference: "test", IdempotencyKey: "k-fail"})
	require.NoError(t, err)
	assert.Equal(t, int64(300), balanceOf(t, healthy, "A"))
}

func TestTransferByKey(t *testing.T) {
	svc, store := newTestService(t, time.Second)
	ctx := context.Background()
	SeedBalance(store, "A", 500)
	SeedBalance(store, "B", 0)

	res, err := svc.Transfer(ctx, TransferInput{PayerID: "A", PayeeID: "B", Amount: 120, IdempotencyKey: "pr-1"})
	require.NoError(t, err)

	found, err := svc.TransferByKey(ctx, "pr-1")
	require.NoError(t, err)
	assert.Equal(t, res.TransferID, found.TransferID)
	assert.Equal(t, "A", found.PayerID)
	assert.Equal(t, "B", found.PayeeID)
	assert.Equal(t, int64(120), found.Amount)

	_, err = svc.Credit(ctx, Mutation{AccountID: "A", Amount: 5, IdempotencyKey: "credit-only"})
	require.NoError(t, err)
	_, err = svc.TransferByKey(ctx, "credit-only")
	assert.ErrorIs(t, err, ErrTransferNotFound)
	_, err = svc.TransferByKey(ctx, "unused")
	assert.ErrorIs(t, err, ErrTransferNotFound)
}

func TestTransferIdempotency(t *testing.T) {
	svc, store := newTestService(t, time.Second)
	ctx := context.Background()
	SeedBalance(store, "A", 500)
	SeedBalance(store, "B", 0)

	in := TransferInput{PayerID: "A", PayeeID: "B", Amount: 100, IdempotencyKey: "client-1"}
	first, err := svc.Transfer(ctx, in)
	require.NoError(t, err)

	second, err := svc.Transfer(ctx, in)
	require.ErrorIs(t, err, ErrDuplicateOperation)
	assert.Equal(t, first.TransferID, second.TransferID)
	assert.Equal(t, int64(400), balanceOf(t, svc, "A"))
	assert.Equal(t, int64(100), balanceOf(t, svc, "B"))

	// Same key, different payload.
	_, err = svc.Transfer(ctx, TransferInput{PayerID: "A", PayeeID: "B", Amount: 999, IdempotencyKey: "client-1"})
	assert.ErrorIs(t, err, ErrIdempotencyMismatch)

	// A replay is answered even after the payee was frozen.
	_, err = svc.SetFrozen(ctx, "B", true)
	require.NoError(t, err)
	_, err = svc.Transfer(ctx, in)
	assert.ErrorIs(t, err, ErrDuplicateOperation)
}

func TestCreditIdempotency(t *testing.T) {
	svc, store := newTestService(t, time.Second)
	ctx := context.Background()
	SeedBalance(store, "A", 0)

	m := Mutation{AccountID: "A", Amount: 50, Reference: "BULK_ADMIN_promo", IdempotencyKey: "batch-1:A"}
	first, err := svc.Credit(ctx, m)
	require.NoError(t, err)

	again, err := svc.Credit(ctx, m)
	require.ErrorIs(t, err, ErrDuplicateOperation)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, int64(50), balanceOf(t, svc, "A"))

	_, err = svc.Debit(ctx, Mutation{AccountID: "A", Amount: 50, IdempotencyKey: "batch-1:A"})
	assert.ErrorIs(t, err, ErrIdempotencyMismatch)
}

func TestTransferLockTimeoutIsRetriable(t *testing.T) {
	svc, store := newTestService(t, 30*time.Millisecond)
	ctx := context.Background()
	SeedBalance(store, "A", 500)
	SeedBalance(store, "B", 0)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			_, _ = tx.LockAccount(ctx, "B")
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	_, err := svc.Transfer(ctx, TransferInput{PayerID: "A", PayeeID: "B", Amount: 100})
	require.ErrorIs(t, err, ErrLockTimeout)
	assert.True(t, IsRetriable(err))
	assert.Equal(t, "LockTimeout", Code(err))

	close(release)
	<-done

	assert.Equal(t, int64(500), balanceOf(t, svc, "A"), "a timed out transfer has no effect")

	_, err = svc.Transfer(ctx, TransferInput{PayerID: "A", PayeeID: "B", Amount: 100})
	require.NoError(t, err)
}

func TestConservationUnderConcurrentTransfers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := NewMemoryStore(5 * time.Second)
	svc := NewService(store, WithMetrics(m))
	ctx := context.Background()

	ids := []string{"acc-1", "acc-2", "acc-3", "acc-4", "acc-5"}
	for _, id := range ids {
		SeedBalance(store, id, 1_000)
	}

	const workers = 8
	const perWorker = 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for i := 0; i < perWorker; i++ {
				from := ids[rnd.Intn(len(ids))]
				to := ids[rnd.Intn(len(ids))]
				if from == to {
					continue
				}
				_, err := svc.Transfer(ctx, TransferInput{
					PayerID:   from,
					PayeeID:   to,
					Amount:    int64(rnd.Intn(300) + 1),
					Reference: fmt.Sprintf("w%d-%d", seed, i),
				})
				if err != nil && !errors.Is(err, ErrInsufficientFunds) {
					t.Errorf("transfer %s->%s: %v", from, to, err)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	var total int64
	for _, id := range ids {
		bal := balanceOf(t, svc, id)
		assert.GreaterOrEqual(t, bal, int64(0))
		total += bal

		rec, err := svc.Reconcile(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.Consistent, "account %s: %+v", id, rec)
	}
	assert.Equal(t, int64(5_000), total)
	series, err := testutil.GatherAndCount(reg, "wallet_transfers_total")
	require.NoError(t, err)
	assert.Greater(t, series, 0)
}

func TestReconcileDetectsDrift(t *testing.T) {
	svc, store := newTestService(t, time.Second)
	ctx := context.Background()
	SeedBalance(store, "A", 100)
	_, err := svc.Debit(ctx, Mutation{AccountID: "A", Amount: 40})
	require.NoError(t, err)

	rec, err := svc.Reconcile(ctx, "A")
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assert.Equal(t, int64(60), rec.ReplayedBalance)
	assert.Equal(t, 2, rec.Entries)

	store.mu.Lock()
	store.accounts["A"].data.Balance = 75
	store.mu.Unlock()

	rec, err = svc.Reconcile(ctx, "A")
	require.NoError(t, err)
	assert.False(t, rec.Consistent)
	assert.Equal(t, int64(75), rec.StoredBalance)
	assert.Equal(t, int64(60), rec.ReplayedBalance)
}

func TestOpenAccount(t *testing.T) {
	svc, _ := newTestService(t, time.Second)
	ctx := context.Background()

	acct, err := svc.OpenAccount(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, acct.ID)
	assert.Zero(t, acct.Balance)
	assert.False(t, acct.Frozen)

	_, err = svc.OpenAccount(ctx, acct.ID)
	assert.ErrorIs(t, err, ErrAccountExists)
}

func TestCode(t *testing.T) {
	assert.Equal(t, "", Code(nil))
	assert.Equal(t, "AccountNotFound", Code(fmt.Errorf("wrap: %w", ErrAccountNotFound)))
	assert.Equal(t, "InsufficientFunds", Code(ErrInsufficientFunds))
	assert.Equal(t, "PayeeFrozen", Code(ErrPayeeFrozen))
	assert.Equal(t, "Internal", Code(errors.New("other")))
	assert.False(t, IsRetriable(ErrInsufficientFunds))
}
