package paymentrequest

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu       sync.Mutex
	requests map[string]Request
}

// NewMemoryRepository builds an in-memory request repository for tests and
// local runs.
func NewMemoryRepository() Repository {
	return &memoryRepository{requests: make(map[string]Request)}
}

func (r *memoryRepository) Create(_ context.Context, req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[req.ID] = req
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return Request{}, ErrRequestNotFound
	}
	return req, nil
}

func (r *memoryRepository) Transition(_ context.Context, id string, from, to Status, update TransitionUpdate) (Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return Request{}, ErrRequestNotFound
	}
	if req.Status != from {
		return Request{}, ErrStaleStatus
	}
	req.Status = to
	if update.TransferID != "" {
		req.TransferID = update.TransferID
	}
	if !update.ClaimedAt.IsZero() {
		req.ClaimedAt = update.ClaimedAt
	}
	if !update.RespondedAt.IsZero() {
		req.RespondedAt = update.RespondedAt
	}
	r.requests[id] = req
	return req, nil
}

func (r *memoryRepository) ListByTarget(_ context.Context, targetID string, status Status) ([]Request, error) {
	return r.filter(func(req Request) bool {
		return req.TargetID == targetID && (status == "" || req.Status == status)
	}), nil
}

func (r *memoryRepository) ListByRequester(_ context.Context, requesterID string) ([]Request, error) {
	return r.filter(func(req Request) bool { return req.RequesterID == requesterID }), nil
}

func (r *memoryRepository) ExpireBefore(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, req := range r.requests {
		if req.Status == StatusPending && !now.Before(req.ExpiresAt) {
			req.Status = StatusExpired
			r.requests[id] = req
			n++
		}
	}
	return n, nil
}

func (r *memoryRepository) ListStaleClaims(_ context.Context, cutoff time.Time) ([]Request, error) {
	out := r.filter(func(req Request) bool {
		return req.Status == StatusProcessing && !req.ClaimedAt.After(cutoff)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) filter(keep func(Request) bool) []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Request
	for _, req := range r.requests {
		if keep(req) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
