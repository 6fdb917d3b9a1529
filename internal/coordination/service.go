package coordination

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/christopherjohns/guestsync/internal/claim"
	"github.com/christopherjohns/guestsync/internal/guest"
	"github.com/christopherjohns/guestsync/internal/logging"
	"github.com/christopherjohns/guestsync/internal/metrics"
)

var (
	ErrInvalidRequest = errors.New("coordination: invalid guest update")
	ErrClosed         = errors.New("coordination: service closed")
)

// Outcome is the arbitration result of one request.
type Outcome int

const (
	OutcomeInvalid Outcome = iota
	OutcomeAccepted
	OutcomeRejected
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Service owns the claim registry and coordinates claims across connections.
type Service struct {
	registry  claim.Registry
	persister guest.Persister
	transport Transport
	log       *slog.Logger
	metrics   *metrics.Metrics

	persistTimeout   time.Duration
	releaseOnFailure bool

	// mu guards closed; requests hold it shared until their persist is
	// tracked so Close cannot start waiting before then.
	mu       sync.RWMutex
	closed   bool
	inflight conc.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithPersistTimeout bounds each persistence call. Zero (the default) lets a
// slow store delay only its own request.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.persistTimeout = d
	}
}

// WithReleaseOnFailure controls whether a failed persist rolls back the
// claim. Enabled by default.
func WithReleaseOnFailure(release bool) Option {
	return func(s *Service) {
		s.releaseOnFailure = release
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.log = l
	}
}

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New creates a Service.
func New(registry claim.Registry, persister guest.Persister, transport Transport, opts ...Option) *Service {
	s := &Service{
		registry:         registry,
		persister:        persister,
		transport:        transport,
		log:              logging.Nop(),
		metrics:          metrics.Nop(),
		releaseOnFailure: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "coordination")
	return s
}

// HandleGuestUpdated arbitrates one claim request from connID. It returns
// once the outcome is decided and, for accepted claims, broadcast; the
// persistence call continues in the background.
func (s *Service) HandleGuestUpdated(ctx context.Context, connID string, u guest.Update, ids guest.ClaimContext) (Outcome, error) {
	log := s.log.With("conn", connID, "group", ids.GroupID, "guest", u.ID, "user", ids.UserID)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.transport.Send(connID, EventError, MessagePayload{Message: MsgShuttingDown})
		return OutcomeInvalid, ErrClosed
	}

	if err := u.Validate(); err != nil || ids.GroupID == "" {
		s.metrics.Claims.WithLabelValues(metrics.ClaimInvalid).Inc()
		s.transport.Send(connID, EventError, MessagePayload{Message: MsgInvalidRequest})
		log.Debug("rejected malformed guest update")
		return OutcomeInvalid, ErrInvalidRequest
	}

	won, err := s.registry.TryClaim(ctx, ids.GroupID, u.ID)
	if err != nil {
		s.metrics.Claims.WithLabelValues(metrics.ClaimError).Inc()
		s.transport.Send(connID, EventError, MessagePayload{Message: MsgClaimUnavailable})
		log.Error("arbitration failed", "error", err)
		return OutcomeFailed, fmt.Errorf("arbitrate guest %s: %w", u.ID, err)
	}
	if !won {
		s.metrics.Claims.WithLabelValues(metrics.ClaimRejected).Inc()
		s.transport.Send(connID, EventSelectionConflict, MessagePayload{Message: MsgSelectionConflict})
		log.Info("selection conflict")
		return OutcomeRejected, nil
	}

	s.metrics.Claims.WithLabelValues(metrics.ClaimAccepted).Inc()
	s.transport.Broadcast(ids.GroupID, EventGuestUpdatedCompleted, CompletedPayload{Guest: u, IDs: ids})
	log.Info("claim accepted")

	s.inflight.Go(func() {
		s.reconcile(log, connID, u, ids)
	})
	return OutcomeAccepted, nil
}

// reconcile stores the guest and reports the result. It runs detached from
// the requesting connection so a disconnect does not abandon the write.
func (s *Service) reconcile(log *slog.Logger, connID string, u guest.Update, ids guest.ClaimContext) {
	ctx := context.Background()
	if s.persistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.persistTimeout)
		defer cancel()
	}

	s.metrics.PersistInFlight.Inc()
	start := time.Now()
	err := s.store(ctx, u, ids)
	s.metrics.PersistDuration.Observe(time.Since(start).Seconds())
	s.metrics.PersistInFlight.Dec()

	if err == nil {
		s.metrics.Persists.WithLabelValues(metrics.PersistSuccess).Inc()
		s.transport.Send(connID, EventSuccessGuest, SuccessPayload{Success: "ok", User: ids.UserID})
		log.Debug("guest stored")
		return
	}

	s.metrics.Persists.WithLabelValues(metrics.PersistFailure).Inc()
	log.Error("error updating guest in store", "error", err)

	if s.releaseOnFailure {
		released, rerr := s.registry.Release(context.Background(), ids.GroupID, u.ID)
		switch {
		case rerr != nil:
			log.Error("failed to release claim after store error", "error", rerr)
		case released:
			s.metrics.Releases.Inc()
			s.transport.Broadcast(ids.GroupID, EventGuestUpdatedCompleted, CompletedPayload{Guest: u, IDs: ids, Released: true})
		}
	}
	s.transport.Broadcast(ids.GroupID, EventUpdateError, MessagePayload{Message: MsgUpdateError})
}

// store calls the persister, turning a panic into an error. Group-aware
// persisters receive the claim context.
func (s *Service) store(ctx context.Context, u guest.Update, ids guest.ClaimContext) (err error) {
	var pc panics.Catcher
	pc.Try(func() {
		if cs, ok := s.persister.(guest.ClaimStorer); ok {
			err = cs.StoreClaim(ctx, u, ids)
			return
		}
		err = s.persister.Store(ctx, u)
	})
	if r := pc.Recovered(); r != nil {
		return fmt.Errorf("guest store panicked: %w", r.AsError())
	}
	return err
}

// Claimed lists the claimed guests of group.
func (s *Service) Claimed(ctx context.Context, group string) ([]string, error) {
	return s.registry.Claimed(ctx, group)
}

// Dispose forgets every claim of group. Call it when a group reaches the end
// of its life.
func (s *Service) Dispose(ctx context.Context, group string) error {
	if err := s.registry.Dispose(ctx, group); err != nil {
		return fmt.Errorf("dispose group %s: %w", group, err)
	}
	s.log.Info("group disposed", "group", group)
	return nil
}

// Close stops accepting requests and waits for outstanding persistence
// calls to be reconciled.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.inflight.Wait()
}
