package directory

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu        sync.RWMutex
	byAccount map[string]Profile
	byMobile  map[string]string
}

// NewMemoryRepository builds an in-memory directory for tests and local runs.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		byAccount: make(map[string]Profile),
		byMobile:  make(map[string]string),
	}
}

func (r *memoryRepository) Create(_ context.Context, profile Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	profile.Mobile = NormalizeMobile(profile.Mobile)
	if _, taken := r.byMobile[profile.Mobile]; taken {
		return ErrMobileTaken
	}
	r.byAccount[profile.AccountID] = profile
	r.byMobile[profile.Mobile] = profile.AccountID
	return nil
}

func (r *memoryRepository) FindByAccount(_ context.Context, accountID string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byAccount[accountID]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return p, nil
}

func (r *memoryRepository) FindByMobile(_ context.Context, mobile string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byMobile[NormalizeMobile(mobile)]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return r.byAccount[id], nil
}
