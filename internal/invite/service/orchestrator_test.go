package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/northbridgehq/gatepass/internal/invite/domain"
	"github.com/northbridgehq/gatepass/internal/invite/store"
	inviteerr "github.com/northbridgehq/gatepass/internal/platform/errors"
)

func TestCreateInvitationDuplicateActive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, inv := h.mint(t, "supplier@acme.example")

	_, err := h.orch.CreateInvitation(ctx, IssueRequest{
		RecipientEmail: "supplier@acme.example",
		CreatedBy:      "procurement-2",
	})
	require.True(t, inviteerr.IsCode(err, inviteerr.CodeDuplicateActive), "got %v", err)

	// Revoking the first frees the recipient slot.
	require.NoError(t, h.orch.RevokeInvitation(ctx, inv.ID, "procurement-1", "re-issue"))
	_, err = h.orch.CreateInvitation(ctx, IssueRequest{
		RecipientEmail: "supplier@acme.example",
		CreatedBy:      "procurement-2",
	})
	require.NoError(t, err)
}

func TestCreateInvitationRateLimited(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	limiter := NewStoreCreationLimiter(h.store, 2, time.Hour)
	orch := NewOrchestrator(h.store, h.issuer, limiter, h.audit)

	for i, email := range []string{"a@acme.example", "b@acme.example"} {
		_, err := orch.CreateInvitation(ctx, IssueRequest{RecipientEmail: email, CreatedBy: "procurement-1"})
		require.NoError(t, err, "create %d", i)
	}

	_, err := orch.CreateInvitation(ctx, IssueRequest{
		RecipientEmail: "c@acme.example",
		CreatedBy:      "procurement-1",
	})
	require.True(t, inviteerr.IsCode(err, inviteerr.CodeCreationRateLimited), "got %v", err)

	// A different actor still has quota.
	_, err = orch.CreateInvitation(ctx, IssueRequest{
		RecipientEmail: "c@acme.example",
		CreatedBy:      "procurement-2",
	})
	require.NoError(t, err)
}

func TestRevokeInvitation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, inv := h.mint(t, "supplier@acme.example")

	require.NoError(t, h.orch.RevokeInvitation(ctx, inv.ID, "security", "supplier offboarded"))

	got, err := h.store.Invitations().GetInvitationByID(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateRevoked, got.State)
	require.NotNil(t, got.RevokedAt)
	require.Equal(t, "security", *got.RevokedBy)
	require.Equal(t, "supplier offboarded", *got.RevokedReason)

	err = h.orch.RevokeInvitation(ctx, inv.ID, "security", "again")
	require.True(t, inviteerr.IsCode(err, inviteerr.CodeAlreadyRevoked), "got %v", err)

	// One success event for the revoke, one failure event for the repeat.
	events := h.audit.byType(domain.EventTokenRevoked)
	require.Len(t, events, 2)
	require.Equal(t, domain.OutcomeSuccess, events[0].Outcome)
	require.Equal(t, domain.OutcomeFailure, events[1].Outcome)
	require.Equal(t, string(inviteerr.CodeAlreadyRevoked), *events[1].ErrorCode)
}

func TestRevokeConsumedRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	token, inv := h.mint(t, "supplier@acme.example")

	_, err := h.validator.Validate(ctx, token, "")
	require.NoError(t, err)
	require.NoError(t, h.orch.ConsumeInvitation(ctx, inv.ID, "portal"))

	err = h.orch.RevokeInvitation(ctx, inv.ID, "security", "too late")
	require.True(t, inviteerr.IsCode(err, inviteerr.CodeAlreadyConsumed), "got %v", err)
}

func TestResendFromEveryNonConsumedState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// Even a revoked invitation can be resent: the record returns to
	// CREATED with a rotated token.
	_, inv := h.mint(t, "supplier@acme.example")
	require.NoError(t, h.orch.RevokeInvitation(ctx, inv.ID, "security", "rotate"))

	result, err := h.orch.ResendInvitation(ctx, inv.ID, 0, "procurement-1")
	require.NoError(t, err)
	require.Equal(t, inv.ID, result.Invitation.ID)
	require.Equal(t, domain.StateCreated, result.Invitation.State)
	require.Zero(t, result.Invitation.ValidationAttempts)

	require.Len(t, h.audit.byType(domain.EventInvitationResent), 1)
}

func TestResendConsumedRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	token, inv := h.mint(t, "supplier@acme.example")

	_, err := h.validator.Validate(ctx, token, "")
	require.NoError(t, err)
	require.NoError(t, h.orch.ConsumeInvitation(ctx, inv.ID, "portal"))

	_, err = h.orch.ResendInvitation(ctx, inv.ID, 0, "procurement-1")
	require.True(t, inviteerr.IsCode(err, inviteerr.CodeCannotResendConsumed), "got %v", err)
}

func TestGetStatusProjection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, inv := h.mint(t, "supplier@acme.example")

	status, err := h.orch.GetStatus(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, status.IsActive)
	require.False(t, status.IsExpired)

	// Past the expiry the record reads expired even before the sweeper
	// has transitioned it.
	h.orch.WithClock(func() time.Time { return time.Now().Add(8 * 24 * time.Hour) })
	status, err = h.orch.GetStatus(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, status.IsActive)
	require.True(t, status.IsExpired)

	_, err = h.orch.GetStatus(ctx, "nope")
	require.True(t, inviteerr.IsCode(err, inviteerr.CodeNotFound), "got %v", err)
}

func TestDeliveryProgression(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, inv := h.mint(t, "supplier@acme.example")

	require.NoError(t, h.orch.MarkSent(ctx, inv.ID, "mailer"))
	require.NoError(t, h.orch.MarkDelivered(ctx, inv.ID, "mailer"))
	require.NoError(t, h.orch.MarkOpened(ctx, inv.ID, "tracker"))

	got, err := h.store.Invitations().GetInvitationByID(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateOpened, got.State)

	// Skipping a step is rejected with its own failure event.
	err = h.orch.MarkSent(ctx, inv.ID, "mailer")
	require.True(t, inviteerr.IsCode(err, inviteerr.CodeInvalidState), "got %v", err)

	sent := h.audit.byType(domain.EventInvitationSent)
	require.Len(t, sent, 2)
	require.Equal(t, domain.OutcomeSuccess, sent[0].Outcome)
	require.Equal(t, domain.OutcomeFailure, sent[1].Outcome)
	require.Len(t, h.audit.byType(domain.EventInvitationDelivered), 1)
	require.Len(t, h.audit.byType(domain.EventInvitationOpened), 1)
}

func TestMarkDeliveredRequiresSent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, inv := h.mint(t, "supplier@acme.example")

	err := h.orch.MarkDelivered(ctx, inv.ID, "mailer")
	require.True(t, inviteerr.IsCode(err, inviteerr.CodeInvalidState), "got %v", err)
}

func TestConsumeRequiresValidated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	token, inv := h.mint(t, "supplier@acme.example")

	err := h.orch.ConsumeInvitation(ctx, inv.ID, "portal")
	require.True(t, inviteerr.IsCode(err, inviteerr.CodeInvalidState), "got %v", err)

	_, err = h.validator.Validate(ctx, token, "")
	require.NoError(t, err)
	require.NoError(t, h.orch.ConsumeInvitation(ctx, inv.ID, "portal"))

	got, err := h.store.Invitations().GetInvitationByID(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateConsumed, got.State)
	require.NotNil(t, got.ConsumedAt)

	err = h.orch.ConsumeInvitation(ctx, inv.ID, "portal")
	require.True(t, inviteerr.IsCode(err, inviteerr.CodeAlreadyConsumed), "got %v", err)
}

func TestFailInvitation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, inv := h.mint(t, "supplier@acme.example")

	require.NoError(t, h.orch.FailInvitation(ctx, inv.ID, "mailer", "hard bounce"))

	got, err := h.store.Invitations().GetInvitationByID(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateFailed, got.State)
	require.Equal(t, "hard bounce", *got.FailedReason)

	err = h.orch.FailInvitation(ctx, inv.ID, "mailer", "again")
	require.True(t, inviteerr.IsCode(err, inviteerr.CodeInvalidState), "got %v", err)
}

func TestListAndAuditTrail(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, first := h.mint(t, "a@acme.example")
	h.mint(t, "b@acme.example")
	require.NoError(t, h.orch.MarkSent(ctx, first.ID, "mailer"))

	state := domain.StateSent
	sent, err := h.orch.ListInvitations(ctx, store.ListFilter{State: &state})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	require.Equal(t, first.ID, sent[0].ID)

	all, err := h.orch.ListInvitations(ctx, store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	byEmail, err := h.orch.ListInvitations(ctx, store.ListFilter{RecipientEmail: "b@acme.example"})
	require.NoError(t, err)
	require.Len(t, byEmail, 1)
}

func TestAuditTrailFromStore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// Wire a store-backed sink so the trail is queryable.
	storeSink := &StoreSink{Store: h.store}
	orch := NewOrchestrator(h.store, h.issuer, nil, storeSink)

	result, err := orch.CreateInvitation(ctx, IssueRequest{
		RecipientEmail: "supplier@acme.example",
		CreatedBy:      "procurement-1",
	})
	require.NoError(t, err)
	require.NoError(t, orch.MarkSent(ctx, result.Invitation.ID, "mailer"))

	trail, err := orch.AuditTrail(ctx, result.Invitation.ID, 0)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	require.Equal(t, domain.EventInvitationCreated, trail[0].EventType)
	require.Equal(t, domain.EventInvitationSent, trail[1].EventType)
}

func TestOrchestratorEveryOutcomeEmitsOneEvent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	token, inv := h.mint(t, "supplier@acme.example")

	// Each rejected mutation adds exactly one failure event under the
	// operation's own event type, same contract as the success path.
	before := len(h.audit.events)

	_, err := h.orch.CreateInvitation(ctx, IssueRequest{
		RecipientEmail: "supplier@acme.example",
		CreatedBy:      "procurement-2",
	})
	require.True(t, inviteerr.IsCode(err, inviteerr.CodeDuplicateActive), "got %v", err)

	err = h.orch.MarkDelivered(ctx, inv.ID, "mailer")
	require.True(t, inviteerr.IsCode(err, inviteerr.CodeInvalidState), "got %v", err)

	err = h.orch.ConsumeInvitation(ctx, inv.ID, "portal")
	require.True(t, inviteerr.IsCode(err, inviteerr.CodeInvalidState), "got %v", err)

	_, err = h.validator.Validate(ctx, token, "")
	require.NoError(t, err)
	require.NoError(t, h.orch.ConsumeInvitation(ctx, inv.ID, "portal"))

	_, err = h.orch.ResendInvitation(ctx, inv.ID, 0, "procurement-1")
	require.True(t, inviteerr.IsCode(err, inviteerr.CodeCannotResendConsumed), "got %v", err)

	err = h.orch.RevokeInvitation(ctx, inv.ID, "security", "too late")
	require.True(t, inviteerr.IsCode(err, inviteerr.CodeAlreadyConsumed), "got %v", err)

	// 5 rejections + validate success + consume success = 7 new events.
	require.Len(t, h.audit.events, before+7)

	wantFailures := map[string]inviteerr.Code{
		domain.EventInvitationCreated:   inviteerr.CodeDuplicateActive,
		domain.EventInvitationDelivered: inviteerr.CodeInvalidState,
		domain.EventInvitationResent:    inviteerr.CodeCannotResendConsumed,
		domain.EventTokenRevoked:        inviteerr.CodeAlreadyConsumed,
	}
	for eventType, code := range wantFailures {
		var failures []domain.AuditEvent
		for _, ev := range h.audit.byType(eventType) {
			if ev.Outcome == domain.OutcomeFailure {
				failures = append(failures, ev)
			}
		}
		require.Len(t, failures, 1, "event type %s", eventType)
		require.Equal(t, string(code), *failures[0].ErrorCode, "event type %s", eventType)
	}

	// The consume rejection and the later success share the event type.
	consumed := h.audit.byType(domain.EventInvitationConsumed)
	require.Len(t, consumed, 2)
	require.Equal(t, domain.OutcomeFailure, consumed[0].Outcome)
	require.Equal(t, string(inviteerr.CodeInvalidState), *consumed[0].ErrorCode)
	require.Equal(t, domain.OutcomeSuccess, consumed[1].Outcome)
}

func TestVerifyTokenHash(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	token, inv := h.mint(t, "supplier@acme.example")

	match, err := h.orch.VerifyTokenHash(ctx, inv.ID, token)
	require.NoError(t, err)
	require.True(t, match)

	match, err = h.orch.VerifyTokenHash(ctx, inv.ID, token+"x")
	require.NoError(t, err)
	require.False(t, match)
}
