package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultLockTimeout bounds how long a transaction waits for an account lock
// when the caller does not configure one.
const DefaultLockTimeout = 2 * time.Second

type memoryAccount struct {
	lock chan struct{}
	data Account
}

// MemoryStore is a concurrency-safe Store used by tests and by the service
// when no database is configured. Each account has its own lock so that
// unrelated accounts never contend.
type MemoryStore struct {
	mu          sync.RWMutex
	accounts    map[string]*memoryAccount
	entries     []Entry
	byAccount   map[string][]int
	byKey       map[string][]int
	seq         int64
	lockTimeout time.Duration
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &MemoryStore{
		accounts:    make(map[string]*memoryAccount),
		byAccount:   make(map[string][]int),
		byKey:       make(map[string][]int),
		lockTimeout: lockTimeout,
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, account Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[account.ID]; exists {
		return ErrAccountExists
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = account.CreatedAt
	}
	s.accounts[account.ID] = &memoryAccount{lock: make(chan struct{}, 1), data: account}
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct.data, nil
}

func (s *MemoryStore) Entries(_ context.Context, accountID string, filter EntryFilter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[accountID]; !ok {
		return nil, ErrAccountNotFound
	}

	idx := s.byAccount[accountID]
	out := make([]Entry, 0, len(idx))
	for _, i := range idx {
		e := s.entries[i]
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if !filter.Since.IsZero() && e.CreatedAt.Before(filter.Since) {
			continue
		}
		if filter.BeforeSeq > 0 && e.Seq >= filter.BeforeSeq {
			continue
		}
		out = append(out, e)
	}
	if filter.Newest {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memoryTx{
		store:   s,
		held:    make(map[string]*memoryAccount),
		pending: make(map[string]Account),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *MemoryStore) commit(tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Mirror the unique index on (idempotency_key, account_id, entry_type).
	for _, e := range tx.entries {
		if e.IdempotencyKey == "" {
			continue
		}
		for _, i := range s.byKey[e.IdempotencyKey] {
			prior := s.entries[i]
			if prior.AccountID == e.AccountID && prior.Type == e.Type {
				return ErrDuplicateOperation
			}
		}
	}

	for id, acct := range tx.pending {
		s.accounts[id].data = acct
	}
	for _, e := range tx.entries {
		s.seq++
		e.Seq = s.seq
		s.entries = append(s.entries, e)
		i := len(s.entries) - 1
		s.byAccount[e.AccountID] = append(s.byAccount[e.AccountID], i)
		if e.IdempotencyKey != "" {
			s.byKey[e.IdempotencyKey] = append(s.byKey[e.IdempotencyKey], i)
		}
	}
	return nil
}

type memoryTx struct {
	store   *MemoryStore
	held    map[string]*memoryAccount
	pending map[string]Account
	entries []Entry
}

func (t *memoryTx) LockAccount(ctx context.Context, id string) (Account, error) {
	if _, ok := t.held[id]; ok {
		return t.view(id), nil
	}

	t.store.mu.RLock()
	acct, ok := t.store.accounts[id]
	t.store.mu.RUnlock()
	if !ok {
		return Account{}, ErrAccountNotFound
	}

	timer := time.NewTimer(t.store.lockTimeout)
	defer timer.Stop()
	select {
	case acct.lock <- struct{}{}:
	case <-timer.C:
		return Account{}, fmt.Errorf("%w: account %s", ErrLockTimeout, id)
	case <-ctx.Done():
		return Account{}, ctx.Err()
	}

	t.held[id] = acct
	return t.view(id), nil
}

func (t *memoryTx) view(id string) Account {
	if acct, ok := t.pending[id]; ok {
		return acct
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.held[id].data
}

func (t *memoryTx) UpdateAccount(_ context.Context, account Account) error {
	if _, ok := t.held[account.ID]; !ok {
		return fmt.Errorf("update account %s: not locked by transaction", account.ID)
	}
	t.pending[account.ID] = account
	return nil
}

func (t *memoryTx) AppendEntry(_ context.Context, entry Entry) error {
	if _, ok := t.held[entry.AccountID]; !ok {
		return fmt.Errorf("append entry for %s: account not locked by transaction", entry.AccountID)
	}
	t.entries = append(t.entries, entry)
	return nil
}

func (t *memoryTx) EntriesByKey(_ context.Context, key string) ([]Entry, error) {
	t.store.mu.RLock()
	idx := t.store.byKey[key]
	out := make([]Entry, 0, len(idx))
	for _, i := range idx {
		out = append(out, t.store.entries[i])
	}
	t.store.mu.RUnlock()

	for _, e := range t.entries {
		if e.IdempotencyKey == key {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *memoryTx) release() {
	for _, acct := range t.held {
		<-acct.lock
	}
}
