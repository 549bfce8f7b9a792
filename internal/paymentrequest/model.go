// Package paymentrequest lets one wallet ask another for money. The target
// accepts, which runs a ledger transfer, or rejects. Pending requests expire
// after a fixed lifetime.
package paymentrequest

import (
	"errors"
	"strings"
	"time"
)

// Status is the lifecycle state of a request.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusAccepted   Status = "ACCEPTED"
	StatusRejected   Status = "REJECTED"
	StatusExpired    Status = "EXPIRED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusExpired
}

// Action is the target's response to a request.
type Action string

const (
	ActionAccept Action = "ACCEPT"
	ActionReject Action = "REJECT"
)

// ParseAction accepts either action name in any case.
func ParseAction(raw string) (Action, error) {
	switch Action(strings.ToUpper(strings.TrimSpace(raw))) {
	case ActionAccept:
		return ActionAccept, nil
	case ActionReject:
		return ActionReject, nil
	}
	return "", ErrInvalidAction
}

// DefaultTTL is how long a request stays answerable.
const DefaultTTL = 24 * time.Hour

// DefaultClaimTimeout is how long an acceptance may stay in flight before
// the request is settled from the ledger.
const DefaultClaimTimeout = time.Minute

// Request is a demand by RequesterID for TargetID to pay Amount.
type Request struct {
	ID          string
	RequesterID string
	TargetID    string
	Amount      int64
	Note        string
	Status      Status
	TransferID  string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ClaimedAt   time.Time
	RespondedAt time.Time
}

// EffectiveStatus treats a pending request at or past its expiry as expired,
// whether or not that has been persisted yet.
func (r Request) EffectiveStatus(now time.Time) Status {
	if r.Status == StatusPending && !now.Before(r.ExpiresAt) {
		return StatusExpired
	}
	return r.Status
}

// Expired reports whether the request can no longer be answered at now. An
// in-flight acceptance past expiry counts, since only a committed transfer
// can still make it accepted.
func (r Request) Expired(now time.Time) bool {
	if r.Status == StatusProcessing {
		return !now.Before(r.ExpiresAt)
	}
	return r.EffectiveStatus(now) == StatusExpired
}

var (
	ErrRequestNotFound  = errors.New("payment request not found")
	ErrUnauthorized     = errors.New("not allowed to act on this payment request")
	ErrAlreadyProcessed = errors.New("payment request already processed")
	ErrRequestExpired   = errors.New("payment request expired")
	ErrInvalidAction    = errors.New("action must be ACCEPT or REJECT")

	// ErrStaleStatus is returned by Repository.Transition when the stored
	// status no longer matches the expected one.
	ErrStaleStatus = errors.New("payment request status changed")
)

// Code returns the stable kind name for request errors, or "" when err is not
// one of them.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrRequestNotFound):
		return "RequestNotFound"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrAlreadyProcessed), errors.Is(err, ErrStaleStatus):
		return "AlreadyProcessed"
	case errors.Is(err, ErrRequestExpired):
		return "RequestExpired"
	case errors.Is(err, ErrInvalidAction):
		return "InvalidAction"
	}
	return ""
}
