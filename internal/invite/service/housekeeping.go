package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/northbridgehq/gatepass/internal/invite/domain"
	"github.com/northbridgehq/gatepass/internal/invite/store"
)

// sweepBatchSize caps how many expired records one sweep pass picks up.
const sweepBatchSize = 500

// Sweeper is the background worker that moves expired active invitations to
// EXPIRED and prunes signing keys past their verification cutoff. Each record
// is swept independently; a failure on one never stops the rest.
type Sweeper struct {
	Store    store.Store
	Audit    AuditSink
	Logger   *slog.Logger
	Interval time.Duration

	// SweepSigningKeys is set in store key mode; file and ephemeral modes
	// keep no key records to prune.
	SweepSigningKeys bool

	now func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSweeper creates a sweeper with the given interval. An interval of 0 or
// negative defaults to 1 hour; disabling is the caller's job (don't Start).
func NewSweeper(st store.Store, audit AuditSink, logger *slog.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &Sweeper{
		Store:    st,
		Audit:    audit,
		Logger:   logger,
		Interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// WithClock overrides the clock. Test hook.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Start begins the background worker. Non-blocking; runs one sweep
// immediately, then on every tick. Call Stop() to shut down.
func (s *Sweeper) Start() {
	go s.run()
	s.Logger.Info("sweeper started", "interval", s.Interval)
}

// Stop gracefully shuts down the worker. Blocks until any in-progress sweep
// finishes.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("sweeper stopped")
}

func (s *Sweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.Sweep(context.Background())

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Sweep runs one pass and returns how many invitations it expired. Exported
// for the run-once CLI path.
func (s *Sweeper) Sweep(ctx context.Context) int {
	now := s.now().UTC()

	expired := s.sweepExpiredInvitations(ctx, now)

	if s.SweepSigningKeys {
		if err := s.Store.SigningKeys().DeleteExpiredSigningKeys(ctx); err != nil {
			s.Logger.Error("failed to delete expired signing keys", "error", err)
		}
	}

	s.Logger.Info("sweep completed", "expired_invitations", expired)
	return expired
}

func (s *Sweeper) sweepExpiredInvitations(ctx context.Context, now time.Time) int {
	records, err := s.Store.Invitations().ListExpiredActive(ctx, now, sweepBatchSize)
	if err != nil {
		s.Logger.Error("failed to list expired invitations", "error", err)
		return 0
	}

	var swept int
	for _, inv := range records {
		// CAS per record: a validator or another sweeper may have moved
		// it since the list; losers skip quietly.
		ok, err := s.Store.Invitations().UpdateStateAndAttempts(ctx, inv.ID,
			inv.State, domain.StateExpired, inv.ValidationAttempts, 0, store.UpdateFields{})
		if err != nil {
			s.Logger.Error("failed to expire invitation",
				"invitation_id", inv.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}

		inv.State = domain.StateExpired
		emitAudit(ctx, s.Audit, auditEvent(domain.EventInvitationExpired, &inv,
			"sweeper", domain.OutcomeSuccess, nil, map[string]any{
				"expired_at": inv.ExpiresAt.Format(time.RFC3339),
			}))
		swept++
	}
	return swept
}
