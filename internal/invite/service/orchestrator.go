package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/northbridgehq/gatepass/internal/invite/domain"
	"github.com/northbridgehq/gatepass/internal/invite/store"
	inviteerr "github.com/northbridgehq/gatepass/internal/platform/errors"
	"github.com/northbridgehq/gatepass/pkg/cryptox"
	"github.com/northbridgehq/gatepass/pkg/slogx"
)

// Orchestrator drives the invitation lifecycle: creation, delivery
// progression, revocation, resend, consumption. Every mutation goes through
// the store's conditional update so concurrent operators cannot double-apply
// a transition, and every outcome, success or rejection, emits exactly one
// audit event.
type Orchestrator struct {
	store   store.Store
	issuer  *Issuer
	limiter CreationLimiter
	audit   AuditSink
	now     func() time.Time
}

func NewOrchestrator(st store.Store, issuer *Issuer, limiter CreationLimiter, audit AuditSink) *Orchestrator {
	return &Orchestrator{
		store:   st,
		issuer:  issuer,
		limiter: limiter,
		audit:   audit,
		now:     time.Now,
	}
}

// WithClock overrides the clock. Test hook.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// emitFailure records the failure outcome of a rejected mutation under the
// same event type the success path uses.
func (o *Orchestrator) emitFailure(ctx context.Context, eventType string, inv *domain.Invitation, actor string, err error) {
	code := string(inviteerr.CodeOf(err))
	emitAudit(ctx, o.audit, auditEvent(eventType, inv, actor, domain.OutcomeFailure, &code, failureDetails(err)))
}

// CreateInvitation issues and persists a new invitation.
func (o *Orchestrator) CreateInvitation(ctx context.Context, req IssueRequest) (IssueResult, error) {
	result, err := o.createInvitation(ctx, req)
	if err != nil {
		// No record exists yet; attribute the event by recipient only.
		o.emitFailure(ctx, domain.EventInvitationCreated,
			&domain.Invitation{RecipientEmail: req.RecipientEmail}, req.CreatedBy, err)
		return IssueResult{}, err
	}

	emitAudit(ctx, o.audit, auditEvent(domain.EventInvitationCreated, &result.Invitation,
		req.CreatedBy, domain.OutcomeSuccess, nil, map[string]any{
			"expires_at": result.Invitation.ExpiresAt.Format(time.RFC3339),
		}))

	slogx.FromContext(ctx).Info("invitation created",
		slog.String("invitation_id", result.Invitation.ID),
		slog.String("recipient_email", req.RecipientEmail),
		slog.Time("expires_at", result.Invitation.ExpiresAt),
	)
	return result, nil
}

func (o *Orchestrator) createInvitation(ctx context.Context, req IssueRequest) (IssueResult, error) {
	// 1. Creation quota for the requesting actor.
	if o.limiter != nil {
		allowed, err := o.limiter.AllowCreate(ctx, req.CreatedBy)
		if err != nil {
			return IssueResult{}, inviteerr.Wrap(inviteerr.CodeDatabaseError, "creation quota check failed", err)
		}
		if !allowed {
			slogx.FromContext(ctx).Warn("creation rate limited", slog.String("created_by", req.CreatedBy))
			return IssueResult{}, inviteerr.New(inviteerr.CodeCreationRateLimited, "creation quota exceeded")
		}
	}

	// 2. One active invitation per recipient.
	_, err := o.store.Invitations().GetActiveInvitationByRecipient(ctx, req.RecipientEmail)
	switch {
	case err == nil:
		return IssueResult{}, inviteerr.Newf(inviteerr.CodeDuplicateActive,
			"active invitation already exists for %s", req.RecipientEmail)
	case !errors.Is(err, store.ErrNotFound):
		return IssueResult{}, inviteerr.Wrap(inviteerr.CodeDatabaseError, "recipient lookup failed", err)
	}

	// 3. Mint the token and record snapshot.
	result, err := o.issuer.Issue(req)
	if err != nil {
		return IssueResult{}, err
	}

	// 4. Persist. The partial unique index backstops the duplicate check
	// against racing creates.
	if err := o.store.Invitations().CreateInvitation(ctx, result.Invitation); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return IssueResult{}, inviteerr.Newf(inviteerr.CodeDuplicateActive,
				"active invitation already exists for %s", req.RecipientEmail)
		}
		return IssueResult{}, inviteerr.Wrap(inviteerr.CodeDatabaseError, "invitation insert failed", err)
	}
	return result, nil
}

// RevokeInvitation permanently invalidates an invitation's token.
func (o *Orchestrator) RevokeInvitation(ctx context.Context, id, revokedBy, reason string) error {
	ctx = slogx.WithInvitation(ctx, id)

	inv, err := o.revokeInvitation(ctx, id, revokedBy, reason)
	if err != nil {
		o.emitFailure(ctx, domain.EventTokenRevoked, inv, revokedBy, err)
		return err
	}

	emitAudit(ctx, o.audit, auditEvent(domain.EventTokenRevoked, inv,
		revokedBy, domain.OutcomeSuccess, nil, map[string]any{"reason": reason}))

	slogx.FromContext(ctx).Info("invitation revoked", slog.String("revoked_by", revokedBy))
	return nil
}

func (o *Orchestrator) revokeInvitation(ctx context.Context, id, revokedBy, reason string) (*domain.Invitation, error) {
	inv, err := o.getByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch inv.State {
	case domain.StateRevoked:
		return &inv, inviteerr.New(inviteerr.CodeAlreadyRevoked, "invitation already revoked")
	case domain.StateConsumed:
		return &inv, inviteerr.New(inviteerr.CodeAlreadyConsumed, "invitation already consumed")
	}
	if !domain.CanTransition(inv.State, domain.StateRevoked) {
		return &inv, inviteerr.Newf(inviteerr.CodeInvalidState, "cannot revoke from %s", inv.State).
			WithDetails(map[string]any{"state": inv.State.String()})
	}

	now := o.now().UTC()
	ok, err := o.store.Invitations().UpdateStateAndAttempts(ctx, inv.ID,
		inv.State, domain.StateRevoked, inv.ValidationAttempts, 0,
		store.UpdateFields{
			RevokedAt:     &now,
			RevokedBy:     &revokedBy,
			RevokedReason: &reason,
		})
	if err != nil {
		return &inv, inviteerr.Wrap(inviteerr.CodeDatabaseError, "revoke failed", err)
	}
	if !ok {
		return &inv, inviteerr.New(inviteerr.CodeDatabaseError, "concurrent update lost").
			WithDetails(map[string]any{"conflict": true})
	}

	inv.State = domain.StateRevoked
	return &inv, nil
}

// ResendInvitation replaces the invitation's token wholesale: fresh token,
// fresh jti, fresh expiry, attempts zeroed, state back to CREATED. The old
// token value stops resolving the moment the hash is replaced.
func (o *Orchestrator) ResendInvitation(ctx context.Context, id string, expiryDays int, actor string) (IssueResult, error) {
	ctx = slogx.WithInvitation(ctx, id)

	result, inv, err := o.resendInvitation(ctx, id, expiryDays, actor)
	if err != nil {
		o.emitFailure(ctx, domain.EventInvitationResent, inv, actor, err)
		return IssueResult{}, err
	}

	emitAudit(ctx, o.audit, auditEvent(domain.EventInvitationResent, &result.Invitation,
		actor, domain.OutcomeSuccess, nil, map[string]any{
			"expires_at": result.Invitation.ExpiresAt.Format(time.RFC3339),
		}))

	slogx.FromContext(ctx).Info("invitation resent",
		slog.Time("expires_at", result.Invitation.ExpiresAt))
	return result, nil
}

func (o *Orchestrator) resendInvitation(ctx context.Context, id string, expiryDays int, actor string) (IssueResult, *domain.Invitation, error) {
	inv, err := o.getByID(ctx, id)
	if err != nil {
		return IssueResult{}, nil, err
	}

	if !domain.CanResend(inv.State) {
		return IssueResult{}, &inv, inviteerr.New(inviteerr.CodeCannotResendConsumed, "consumed invitations cannot be resent")
	}

	// Re-mint for the same record id with the original recipient
	// metadata. The issuer validates the expiry bounds as on first issue.
	result, err := o.issuer.issueFor(inv.ID, IssueRequest{
		RecipientEmail: inv.RecipientEmail,
		CompanyName:    inv.CompanyName,
		ContactName:    inv.ContactName,
		ExpiryDays:     expiryDays,
		CreatedBy:      actor,
	})
	if err != nil {
		return IssueResult{}, &inv, err
	}

	fresh := result.Invitation
	hash := fresh.TokenHash
	snapshot := fresh.ClaimsSnapshot

	ok, err := o.store.Invitations().UpdateStateAndAttempts(ctx, inv.ID,
		inv.State, domain.StateCreated, inv.ValidationAttempts, 0,
		store.UpdateFields{
			TokenHash:      &hash,
			ClaimsSnapshot: &snapshot,
			IssuedAt:       &fresh.IssuedAt,
			ExpiresAt:      &fresh.ExpiresAt,
			ResetAttempts:  true,
		})
	if err != nil {
		return IssueResult{}, &inv, inviteerr.Wrap(inviteerr.CodeDatabaseError, "resend failed", err)
	}
	if !ok {
		return IssueResult{}, &inv, inviteerr.New(inviteerr.CodeDatabaseError, "concurrent update lost").
			WithDetails(map[string]any{"conflict": true})
	}

	// The persisted record keeps its original id; only the token rotates.
	inv.TokenHash = hash
	inv.ClaimsSnapshot = snapshot
	inv.State = domain.StateCreated
	inv.IssuedAt = fresh.IssuedAt
	inv.ExpiresAt = fresh.ExpiresAt
	inv.ValidationAttempts = 0
	result.Invitation = inv

	return result, &inv, nil
}

// Status is the read-only projection returned by GetStatus.
type Status struct {
	Invitation domain.Invitation
	IsActive   bool
	IsExpired  bool
}

// GetStatus returns the invitation with derived activity flags. Read path;
// no audit event.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (Status, error) {
	inv, err := o.getByID(ctx, id)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Invitation: inv,
		IsActive:   inv.IsActive(),
		IsExpired:  inv.IsExpired(o.now().UTC()),
	}, nil
}

// MarkSent records that the delivery pipeline handed the invitation to the
// mail system. Requires CREATED.
func (o *Orchestrator) MarkSent(ctx context.Context, id, actor string) error {
	return o.advance(ctx, id, actor, domain.StateCreated, domain.StateSent, domain.EventInvitationSent)
}

// MarkDelivered records delivery confirmation. Requires SENT.
func (o *Orchestrator) MarkDelivered(ctx context.Context, id, actor string) error {
	return o.advance(ctx, id, actor, domain.StateSent, domain.StateDelivered, domain.EventInvitationDelivered)
}

// MarkOpened records a link-open signal. Requires DELIVERED.
func (o *Orchestrator) MarkOpened(ctx context.Context, id, actor string) error {
	return o.advance(ctx, id, actor, domain.StateDelivered, domain.StateOpened, domain.EventInvitationOpened)
}

// advance applies one exact-predecessor delivery transition.
func (o *Orchestrator) advance(ctx context.Context, id, actor string, from, to domain.State, eventType string) error {
	ctx = slogx.WithInvitation(ctx, id)

	inv, err := o.advanceState(ctx, id, from, to)
	if err != nil {
		o.emitFailure(ctx, eventType, inv, actor, err)
		return err
	}

	emitAudit(ctx, o.audit, auditEvent(eventType, inv, actor, domain.OutcomeSuccess, nil, nil))

	slogx.FromContext(ctx).Debug("invitation advanced", slog.String("state", to.String()))
	return nil
}

func (o *Orchestrator) advanceState(ctx context.Context, id string, from, to domain.State) (*domain.Invitation, error) {
	inv, err := o.getByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if inv.State != from || !domain.CanTransition(from, to) {
		return &inv, inviteerr.Newf(inviteerr.CodeInvalidState,
			"cannot transition %s from %s", to, inv.State).
			WithDetails(map[string]any{"state": inv.State.String(), "required": from.String()})
	}

	ok, err := o.store.Invitations().UpdateStateAndAttempts(ctx, inv.ID,
		from, to, inv.ValidationAttempts, 0, store.UpdateFields{})
	if err != nil {
		return &inv, inviteerr.Wrap(inviteerr.CodeDatabaseError, "transition failed", err)
	}
	if !ok {
		return &inv, inviteerr.New(inviteerr.CodeDatabaseError, "concurrent update lost").
			WithDetails(map[string]any{"conflict": true})
	}

	inv.State = to
	return &inv, nil
}

// ConsumeInvitation is the single-use terminal effect: VALIDATED→CONSUMED.
// After this the recipient's onboarding is underway and the token is dead
// for good; not even resend can bring the record back.
func (o *Orchestrator) ConsumeInvitation(ctx context.Context, id, actor string) error {
	ctx = slogx.WithInvitation(ctx, id)

	inv, err := o.consumeInvitation(ctx, id)
	if err != nil {
		o.emitFailure(ctx, domain.EventInvitationConsumed, inv, actor, err)
		return err
	}

	emitAudit(ctx, o.audit, auditEvent(domain.EventInvitationConsumed, inv,
		actor, domain.OutcomeSuccess, nil, nil))

	slogx.FromContext(ctx).Info("invitation consumed")
	return nil
}

func (o *Orchestrator) consumeInvitation(ctx context.Context, id string) (*domain.Invitation, error) {
	inv, err := o.getByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case inv.State == domain.StateConsumed:
		return &inv, inviteerr.New(inviteerr.CodeAlreadyConsumed, "invitation already consumed")
	case inv.State != domain.StateValidated:
		return &inv, inviteerr.Newf(inviteerr.CodeInvalidState,
			"cannot consume from %s", inv.State).
			WithDetails(map[string]any{"state": inv.State.String()})
	}

	now := o.now().UTC()
	ok, err := o.store.Invitations().UpdateStateAndAttempts(ctx, inv.ID,
		domain.StateValidated, domain.StateConsumed, inv.ValidationAttempts, 0,
		store.UpdateFields{ConsumedAt: &now})
	if err != nil {
		return &inv, inviteerr.Wrap(inviteerr.CodeDatabaseError, "consume failed", err)
	}
	if !ok {
		return &inv, inviteerr.New(inviteerr.CodeDatabaseError, "concurrent update lost").
			WithDetails(map[string]any{"conflict": true})
	}

	inv.State = domain.StateConsumed
	return &inv, nil
}

// FailInvitation marks an invitation operationally failed (bounced email,
// compliance stop). Terminal but distinguished from revocation.
func (o *Orchestrator) FailInvitation(ctx context.Context, id, actor, reason string) error {
	ctx = slogx.WithInvitation(ctx, id)

	inv, err := o.failInvitation(ctx, id, reason)
	if err != nil {
		o.emitFailure(ctx, domain.EventInvitationFailed, inv, actor, err)
		return err
	}

	emitAudit(ctx, o.audit, auditEvent(domain.EventInvitationFailed, inv,
		actor, domain.OutcomeSuccess, nil, map[string]any{"reason": reason}))

	slogx.FromContext(ctx).Info("invitation failed", slog.String("reason", reason))
	return nil
}

func (o *Orchestrator) failInvitation(ctx context.Context, id, reason string) (*domain.Invitation, error) {
	inv, err := o.getByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !domain.CanTransition(inv.State, domain.StateFailed) {
		return &inv, inviteerr.Newf(inviteerr.CodeInvalidState,
			"cannot fail from %s", inv.State).
			WithDetails(map[string]any{"state": inv.State.String()})
	}

	ok, err := o.store.Invitations().UpdateStateAndAttempts(ctx, inv.ID,
		inv.State, domain.StateFailed, inv.ValidationAttempts, 0,
		store.UpdateFields{FailedReason: &reason})
	if err != nil {
		return &inv, inviteerr.Wrap(inviteerr.CodeDatabaseError, "fail transition failed", err)
	}
	if !ok {
		return &inv, inviteerr.New(inviteerr.CodeDatabaseError, "concurrent update lost").
			WithDetails(map[string]any{"conflict": true})
	}

	inv.State = domain.StateFailed
	return &inv, nil
}

// ListInvitations is the operator listing. Read path; no audit event.
func (o *Orchestrator) ListInvitations(ctx context.Context, filter store.ListFilter) ([]domain.Invitation, error) {
	invs, err := o.store.Invitations().ListInvitations(ctx, filter)
	if err != nil {
		return nil, inviteerr.Wrap(inviteerr.CodeDatabaseError, "listing failed", err)
	}
	return invs, nil
}

// AuditTrail returns the recorded events for one invitation, oldest first.
func (o *Orchestrator) AuditTrail(ctx context.Context, id string, limit int) ([]domain.AuditEvent, error) {
	events, err := o.store.AuditEvents().ListAuditEvents(ctx, id, limit)
	if err != nil {
		return nil, inviteerr.Wrap(inviteerr.CodeDatabaseError, "audit listing failed", err)
	}
	return events, nil
}

// VerifyTokenHash reports whether a raw token matches an invitation's
// current hash. Diagnostic helper for operators comparing links.
func (o *Orchestrator) VerifyTokenHash(ctx context.Context, id, token string) (bool, error) {
	inv, err := o.getByID(ctx, id)
	if err != nil {
		return false, err
	}
	return inv.TokenHash == cryptox.FingerprintToken(token), nil
}

func (o *Orchestrator) getByID(ctx context.Context, id string) (domain.Invitation, error) {
	inv, err := o.store.Invitations().GetInvitationByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Invitation{}, inviteerr.Newf(inviteerr.CodeNotFound, "invitation %s not found", id)
		}
		return domain.Invitation{}, inviteerr.Wrap(inviteerr.CodeDatabaseError, "invitation lookup failed", err)
	}
	return inv, nil
}
