package paymentrequest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/wallet-engine/internal/directory"
	"github.com/congo-pay/wallet-engine/internal/ledger"
	"github.com/congo-pay/wallet-engine/internal/logging"
	"github.com/congo-pay/wallet-engine/internal/metrics"
	"github.com/congo-pay/wallet-engine/internal/money"
	"github.com/congo-pay/wallet-engine/internal/notification"
)

// Directory resolves mobile numbers and display data for accounts.
type Directory interface {
	FindByAccount(ctx context.Context, accountID string) (directory.Profile, error)
	FindByMobile(ctx context.Context, mobile string) (directory.Profile, error)
}

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	TTL time.Duration
	// ClaimTimeout is how long an accepted request may stay PROCESSING
	// before it is settled from the ledger. It must exceed the time a
	// transfer can spend waiting for account locks.
	ClaimTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

// Service runs the payment request lifecycle.
type Service struct {
	repo         Repository
	ledger       *ledger.Service
	directory    Directory
	notifier     notification.Notifier
	logger       *slog.Logger
	metrics      *metrics.Metrics
	ttl          time.Duration
	claimTimeout time.Duration
	now          func() time.Time
}

// NewService constructs a payment request service. notifier and dir may be nil.
func NewService(repo Repository, l *ledger.Service, dir Directory, notifier notification.Notifier, opts Options) *Service {
	s := &Service{
		repo:         repo,
		ledger:       l,
		directory:    dir,
		notifier:     notifier,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		ttl:          opts.TTL,
		claimTimeout: opts.ClaimTimeout,
		now:          opts.Now,
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.claimTimeout <= 0 {
		s.claimTimeout = DefaultClaimTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CreateInput describes a new request.
type CreateInput struct {
	RequesterID string
	TargetID    string
	Amount      int64
	Note        string
}

// Create records a pending request and notifies the target.
func (s *Service) Create(ctx context.Context, in CreateInput) (Request, error) {
	if in.Amount <= 0 {
		return Request{}, ledger.ErrAmountInvalid
	}
	if in.RequesterID == in.TargetID {
		return Request{}, ledger.ErrSameAccount
	}
	for _, id := range []string{in.RequesterID, in.TargetID} {
		if _, err := s.ledger.Account(ctx, id); err != nil {
			return Request{}, err
		}
	}

	now := s.now().UTC()
	req := Request{
		ID:          uuid.NewString(),
		RequesterID: in.RequesterID,
		TargetID:    in.TargetID,
		Amount:      in.Amount,
		Note:        in.Note,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return Request{}, err
	}
	s.metrics.RequestTransition(string(StatusPending))
	s.logger.Info("payment request created", "request_id", req.ID, "requester_id", req.RequesterID,
		"target_id", req.TargetID, "amount", req.Amount)

	requester := s.profile(ctx, req.RequesterID)
	s.notify(ctx, notification.Message{
		Kind:        notification.KindPaymentRequestCreated,
		From:        req.RequesterID,
		To:          req.TargetID,
		Destination: s.profile(ctx, req.TargetID).Mobile,
		Amount:      req.Amount,
		Reference:   req.ID,
		Body:        fmt.Sprintf("%s requests %s from you", displayName(requester), money.Format(req.Amount)),
	})
	return req, nil
}

// CreateByMobile resolves the target by mobile number and creates the request.
func (s *Service) CreateByMobile(ctx context.Context, requesterID, mobile string, amount int64, note string) (Request, error) {
	if s.directory == nil {
		return Request{}, ledger.ErrAccountNotFound
	}
	target, err := s.directory.FindByMobile(ctx, mobile)
	if err != nil {
		if errors.Is(err, directory.ErrProfileNotFound) {
			return Request{}, fmt.Errorf("no wallet for mobile %s: %w", directory.NormalizeMobile(mobile), ledger.ErrAccountNotFound)
		}
		return Request{}, err
	}
	return s.Create(ctx, CreateInput{RequesterID: requesterID, TargetID: target.AccountID, Amount: amount, Note: note})
}

// Get returns a request to either of its parties.
func (s *Service) Get(ctx context.Context, id, actorID string) (Request, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if actorID != req.RequesterID && actorID != req.TargetID {
		return Request{}, ErrUnauthorized
	}
	return s.lazyExpire(ctx, req), nil
}

// ListPending returns the requests still awaiting the target's answer, newest
// first.
func (s *Service) ListPending(ctx context.Context, targetID string) ([]Request, error) {
	reqs, err := s.repo.ListByTarget(ctx, targetID, StatusPending)
	if err != nil {
		return nil, err
	}
	out := reqs[:0]
	for _, req := range reqs {
		if req = s.lazyExpire(ctx, req); req.Status == StatusPending {
			out = append(out, req)
		}
	}
	return out, nil
}

// ListSent returns every request the requester created, newest first.
func (s *Service) ListSent(ctx context.Context, requesterID string) ([]Request, error) {
	reqs, err := s.repo.ListByRequester(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	for i := range reqs {
		reqs[i] = s.lazyExpire(ctx, reqs[i])
	}
	return reqs, nil
}

// RespondInput is the target's answer to a request.
type RespondInput struct {
	RequestID string
	ActorID   string
	Action    string
}

// Respond accepts or rejects a request on behalf of its target. Accepting
// transfers the amount from target to requester. If that transfer fails the
// request stays PENDING and the ledger error is returned.
func (s *Service) Respond(ctx context.Context, in RespondInput) (Request, error) {
	action, err := ParseAction(in.Action)
	if err != nil {
		return Request{}, err
	}
	req, err := s.repo.Get(ctx, in.RequestID)
	if err != nil {
		return Request{}, err
	}
	if req.TargetID != in.ActorID {
		return Request{}, ErrUnauthorized
	}

	now := s.now().UTC()
	switch req.Status {
	case StatusPending:
	case StatusProcessing:
		// An earlier accept claimed the request but never finished.
		if action == ActionReject {
			return Request{}, ErrAlreadyProcessed
		}
		if req.Expired(now) {
			return s.recoverClaim(ctx, req)
		}
		resumed, err := s.repo.Transition(ctx, req.ID, StatusProcessing, StatusProcessing, TransitionUpdate{ClaimedAt: now})
		if err != nil {
			if errors.Is(err, ErrStaleStatus) {
				return Request{}, ErrAlreadyProcessed
			}
			return Request{}, err
		}
		return s.settle(ctx, resumed)
	case StatusExpired:
		return Request{}, ErrRequestExpired
	default:
		return Request{}, ErrAlreadyProcessed
	}

	if req.Expired(now) {
		s.lazyExpire(ctx, req)
		return Request{}, ErrRequestExpired
	}

	if action == ActionReject {
		return s.reject(ctx, req)
	}

	claimed, err := s.repo.Transition(ctx, req.ID, StatusPending, StatusProcessing, TransitionUpdate{ClaimedAt: now})
	if err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return Request{}, ErrAlreadyProcessed
		}
		return Request{}, err
	}
	s.metrics.RequestTransition(string(StatusProcessing))
	return s.settle(ctx, claimed)
}

func (s *Service) reject(ctx context.Context, req Request) (Request, error) {
	done, err := s.repo.Transition(ctx, req.ID, StatusPending, StatusRejected, TransitionUpdate{RespondedAt: s.now().UTC()})
	if err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return Request{}, ErrAlreadyProcessed
		}
		return Request{}, err
	}
	s.metrics.RequestTransition(string(StatusRejected))
	s.logger.Info("payment request rejected", "request_id", done.ID)

	s.notify(ctx, notification.Message{
		Kind:        notification.KindPaymentRequestRejected,
		From:        done.TargetID,
		To:          done.RequesterID,
		Destination: s.profile(ctx, done.RequesterID).Mobile,
		Amount:      done.Amount,
		Reference:   done.ID,
		Body:        fmt.Sprintf("%s declined your request for %s", displayName(s.profile(ctx, done.TargetID)), money.Format(done.Amount)),
	})
	return done, nil
}

func transferKey(requestID string) string {
	return "payment-request:" + requestID
}

// settle runs the transfer for a claimed request and finalises it. The
// transfer is keyed by the request id, so settling twice never pays twice.
func (s *Service) settle(ctx context.Context, req Request) (Request, error) {
	res, err := s.ledger.Transfer(ctx, ledger.TransferInput{
		PayerID:        req.TargetID,
		PayeeID:        req.RequesterID,
		Amount:         req.Amount,
		Reference:      "PAYMENT_REQUEST_" + req.ID,
		IdempotencyKey: transferKey(req.ID),
	})
	if err != nil && !errors.Is(err, ledger.ErrDuplicateOperation) {
		if _, rerr := s.repo.Transition(context.WithoutCancel(ctx), req.ID, StatusProcessing, StatusPending, TransitionUpdate{}); rerr != nil {
			s.logger.Error("release payment request claim", "request_id", req.ID, "error", rerr)
		}
		s.logger.Warn("payment request transfer failed", "request_id", req.ID, "error", err)
		return Request{}, err
	}
	return s.finalise(ctx, req, res.TransferID)
}

// finalise records a committed transfer on a claimed request. The money has
// moved, so a request that was released or expired meanwhile is still
// accepted; only another finalise wins over this one.
func (s *Service) finalise(ctx context.Context, req Request, transferID string) (Request, error) {
	ctx = context.WithoutCancel(ctx)
	update := TransitionUpdate{TransferID: transferID, RespondedAt: s.now().UTC()}
	done, err := s.repo.Transition(ctx, req.ID, StatusProcessing, StatusAccepted, update)
	if errors.Is(err, ErrStaleStatus) {
		current, gerr := s.repo.Get(ctx, req.ID)
		if gerr != nil {
			return Request{}, gerr
		}
		if current.Status != StatusPending && current.Status != StatusExpired {
			return Request{}, ErrAlreadyProcessed
		}
		if current.Status == StatusExpired {
			s.logger.Warn("payment request paid after expiry", "request_id", req.ID, "transfer_id", transferID)
		}
		done, err = s.repo.Transition(ctx, req.ID, current.Status, StatusAccepted, update)
		if errors.Is(err, ErrStaleStatus) {
			return Request{}, ErrAlreadyProcessed
		}
	}
	if err != nil {
		return Request{}, err
	}
	s.metrics.RequestTransition(string(StatusAccepted))
	s.logger.Info("payment request accepted", "request_id", done.ID, "transfer_id", done.TransferID)

	s.notify(ctx, notification.Message{
		Kind:        notification.KindPaymentRequestAccepted,
		From:        done.TargetID,
		To:          done.RequesterID,
		Destination: s.profile(ctx, done.RequesterID).Mobile,
		Amount:      done.Amount,
		Reference:   done.ID,
		Body:        fmt.Sprintf("%s paid your request for %s", displayName(s.profile(ctx, done.TargetID)), money.Format(done.Amount)),
	})
	return done, nil
}

// recoverClaim settles a PROCESSING request from ledger evidence once its
// claim is older than the claim timeout. A committed transfer finalises the
// request as ACCEPTED. Without one the claim is dropped: the request becomes
// EXPIRED when past its expiry, with ErrRequestExpired, and PENDING otherwise.
// A younger claim may still be settling and yields ErrAlreadyProcessed.
func (s *Service) recoverClaim(ctx context.Context, req Request) (Request, error) {
	now := s.now().UTC()
	if now.Before(req.ClaimedAt.Add(s.claimTimeout)) {
		return req, ErrAlreadyProcessed
	}

	res, err := s.ledger.TransferByKey(ctx, transferKey(req.ID))
	switch {
	case err == nil:
		return s.finalise(ctx, req, res.TransferID)
	case !errors.Is(err, ledger.ErrTransferNotFound):
		return req, err
	}

	to := StatusPending
	if req.Expired(now) {
		to = StatusExpired
	}
	released, err := s.repo.Transition(ctx, req.ID, StatusProcessing, to, TransitionUpdate{})
	if err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return req, ErrAlreadyProcessed
		}
		return req, err
	}
	s.metrics.RequestTransition(string(to))
	s.logger.Info("payment request claim released", "request_id", req.ID, "status", string(to))
	if to == StatusExpired {
		return released, ErrRequestExpired
	}
	return released, nil
}

// ExpireDue marks every overdue pending request EXPIRED.
func (s *Service) ExpireDue(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireBefore(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	for i := int64(0); i < n; i++ {
		s.metrics.RequestTransition(string(StatusExpired))
	}
	return n, nil
}

// RecoverClaims resolves every PROCESSING request whose claim is older than
// the claim timeout, typically left behind by a crash between claim and
// transfer. It returns how many requests left PROCESSING.
func (s *Service) RecoverClaims(ctx context.Context) (int, error) {
	stale, err := s.repo.ListStaleClaims(ctx, s.now().UTC().Add(-s.claimTimeout))
	if err != nil {
		return 0, err
	}
	var (
		recovered int
		errs      []error
	)
	for _, req := range stale {
		_, err := s.recoverClaim(ctx, req)
		switch {
		case err == nil, errors.Is(err, ErrRequestExpired):
			recovered++
		case errors.Is(err, ErrAlreadyProcessed):
		default:
			errs = append(errs, fmt.Errorf("recover payment request %s: %w", req.ID, err))
		}
	}
	return recovered, errors.Join(errs...)
}

// lazyExpire persists EXPIRED for an overdue request and returns the
// resulting view. Persistence failures are logged; the view is still expired.
func (s *Service) lazyExpire(ctx context.Context, req Request) Request {
	if req.Status.Terminal() || !req.Expired(s.now()) {
		return req
	}
	if req.Status == StatusProcessing {
		recovered, err := s.recoverClaim(ctx, req)
		if err != nil && !errors.Is(err, ErrRequestExpired) {
			if !errors.Is(err, ErrAlreadyProcessed) {
				s.logger.Warn("recover payment request claim", "request_id", req.ID, "error", err)
			}
			return req
		}
		return recovered
	}

	expired, err := s.repo.Transition(ctx, req.ID, StatusPending, StatusExpired, TransitionUpdate{})
	switch {
	case err == nil:
		s.metrics.RequestTransition(string(StatusExpired))
		return expired
	case errors.Is(err, ErrStaleStatus):
		if current, gerr := s.repo.Get(ctx, req.ID); gerr == nil {
			return current
		}
	default:
		s.logger.Warn("persist payment request expiry", "request_id", req.ID, "error", err)
	}
	req.Status = StatusExpired
	return req
}

func (s *Service) profile(ctx context.Context, accountID string) directory.Profile {
	if s.directory == nil {
		return directory.Profile{AccountID: accountID}
	}
	p, err := s.directory.FindByAccount(ctx, accountID)
	if err != nil {
		return directory.Profile{AccountID: accountID}
	}
	return p
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Warn("notification not queued", "kind", msg.Kind, "to", msg.To, "error", err)
	}
}

func displayName(p directory.Profile) string {
	if p.Name != "" {
		return p.Name
	}
	if p.Mobile != "" {
		return p.Mobile
	}
	return p.AccountID
}
