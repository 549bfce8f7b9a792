package ledger

import (
	"time"

	"github.com/google/uuid"
)

// SeedBalance is a test helper that opens id in an in-memory store when
// missing and credits it with amount through a seed entry, so the ledger
// still reconstructs the balance.
func SeedBalance(store Store, id string, amount int64) {
	mem, ok := store.(*MemoryStore)
	if !ok {
		return
	}
	mem.mu.Lock()
	defer mem.mu.Unlock()

	now := time.Now().UTC()
	acct, exists := mem.accounts[id]
	if !exists {
		acct = &memoryAccount{lock: make(chan struct{}, 1), data: Account{ID: id, CreatedAt: now}}
		mem.accounts[id] = acct
	}
	if amount <= 0 {
		return
	}
	acct.data.Balance += amount
	acct.data.Version++
	acct.data.UpdatedAt = now

	mem.seq++
	mem.entries = append(mem.entries, Entry{
		ID:           uuid.NewString(),
		Seq:          mem.seq,
		AccountID:    id,
		Type:         EntryCredit,
		Amount:       amount,
		BalanceAfter: acct.data.Balance,
		Reference:    "SEED",
		CreatedAt:    now,
	})
	mem.byAccount[id] = append(mem.byAccount[id], len(mem.entries)-1)
}
