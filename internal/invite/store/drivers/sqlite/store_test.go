package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/northbridgehq/gatepass/internal/invite/domain"
	"github.com/northbridgehq/gatepass/internal/invite/store"
	"github.com/northbridgehq/gatepass/pkg/idx"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

func testInvitation(email string) domain.Invitation {
	now := time.Now().UTC().Truncate(time.Second)
	return domain.Invitation{
		ID:             idx.New().String(),
		RecipientEmail: email,
		CompanyName:    "Acme Fasteners",
		ContactName:    "Jo Bloggs",
		TokenHash:      idx.New().String(), // unique per record is all that matters here
		ClaimsSnapshot: "{}",
		State:          domain.StateCreated,
		IssuedAt:       now,
		ExpiresAt:      now.Add(7 * 24 * time.Hour),
		CreatedBy:      "procurement-1",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestInvitationRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	inv := testInvitation("supplier@acme.example")
	require.NoError(t, s.Invitations().CreateInvitation(ctx, inv))

	byID, err := s.Invitations().GetInvitationByID(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, inv.RecipientEmail, byID.RecipientEmail)
	require.Equal(t, domain.StateCreated, byID.State)
	require.Nil(t, byID.RevokedAt)
	require.Zero(t, byID.ValidationAttempts)

	byHash, err := s.Invitations().GetInvitationByTokenHash(ctx, inv.TokenHash)
	require.NoError(t, err)
	require.Equal(t, inv.ID, byHash.ID)

	_, err = s.Invitations().GetInvitationByID(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDuplicateActiveRecipientRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := testInvitation("dup@acme.example")
	require.NoError(t, s.Invitations().CreateInvitation(ctx, first))

	second := testInvitation("dup@acme.example")
	err := s.Invitations().CreateInvitation(ctx, second)
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	// Once the first record reaches a terminal state the slot frees up.
	reason := "cleanup"
	ok, err := s.Invitations().UpdateStateAndAttempts(ctx, first.ID,
		domain.StateCreated, domain.StateRevoked, 0, 0,
		store.UpdateFields{RevokedReason: &reason})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Invitations().CreateInvitation(ctx, second))
}

func TestUpdateStateAndAttemptsConditional(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	inv := testInvitation("cas@acme.example")
	require.NoError(t, s.Invitations().CreateInvitation(ctx, inv))

	// Wrong expected state writes nothing.
	ok, err := s.Invitations().UpdateStateAndAttempts(ctx, inv.ID,
		domain.StateSent, domain.StateDelivered, 0, 0, store.UpdateFields{})
	require.NoError(t, err)
	require.False(t, ok)

	// Matching state and counter applies.
	ok, err = s.Invitations().UpdateStateAndAttempts(ctx, inv.ID,
		domain.StateCreated, domain.StateSent, 0, 0, store.UpdateFields{})
	require.NoError(t, err)
	require.True(t, ok)

	// Counter-only bump: state stays, attempts increment.
	ok, err = s.Invitations().UpdateStateAndAttempts(ctx, inv.ID,
		domain.StateSent, domain.StateSent, 0, 1, store.UpdateFields{})
	require.NoError(t, err)
	require.True(t, ok)

	// Stale counter loses.
	ok, err = s.Invitations().UpdateStateAndAttempts(ctx, inv.ID,
		domain.StateSent, domain.StateSent, 0, 1, store.UpdateFields{})
	require.NoError(t, err)
	require.False(t, ok)

	got, err := s.Invitations().GetInvitationByID(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateSent, got.State)
	require.Equal(t, 1, got.ValidationAttempts)
}

func TestUpdateStateResendFields(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	inv := testInvitation("resend@acme.example")
	require.NoError(t, s.Invitations().CreateInvitation(ctx, inv))

	ok, err := s.Invitations().UpdateStateAndAttempts(ctx, inv.ID,
		domain.StateCreated, domain.StateCreated, 0, 1, store.UpdateFields{})
	require.NoError(t, err)
	require.True(t, ok)

	newHash := idx.New().String()
	newSnapshot := `{"jti":"fresh"}`
	issued := time.Now().UTC().Truncate(time.Second)
	expires := issued.Add(14 * 24 * time.Hour)

	ok, err = s.Invitations().UpdateStateAndAttempts(ctx, inv.ID,
		domain.StateCreated, domain.StateCreated, 1, 0, store.UpdateFields{
			TokenHash:      &newHash,
			ClaimsSnapshot: &newSnapshot,
			IssuedAt:       &issued,
			ExpiresAt:      &expires,
			ResetAttempts:  true,
		})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.Invitations().GetInvitationByID(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, newHash, got.TokenHash)
	require.Zero(t, got.ValidationAttempts)

	// Old hash no longer resolves.
	_, err = s.Invitations().GetInvitationByTokenHash(ctx, inv.TokenHash)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListExpiredActiveAndCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)

	stale := testInvitation("stale@acme.example")
	stale.IssuedAt = now.Add(-8 * 24 * time.Hour)
	stale.ExpiresAt = now.Add(-24 * time.Hour)
	stale.CreatedAt = stale.IssuedAt
	require.NoError(t, s.Invitations().CreateInvitation(ctx, stale))

	fresh := testInvitation("fresh@acme.example")
	require.NoError(t, s.Invitations().CreateInvitation(ctx, fresh))

	expired, err := s.Invitations().ListExpiredActive(ctx, now, 50)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, stale.ID, expired[0].ID)

	count, err := s.Invitations().CountCreatedBy(ctx, "procurement-1", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, count) // stale was created 8 days ago

	state := domain.StateCreated
	listed, err := s.Invitations().ListInvitations(ctx, store.ListFilter{State: &state})
	require.NoError(t, err)
	require.Len(t, listed, 2)
}

func TestAuditEventsAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	invID := idx.New().String()
	code := "TOKEN_EXPIRED"
	events := []domain.AuditEvent{
		{
			ID:           idx.New().String(),
			EventType:    domain.EventInvitationCreated,
			InvitationID: invID,
			Actor:        "procurement-1",
			Outcome:      domain.OutcomeSuccess,
			DetailsJSON:  "{}",
			OccurredAt:   time.Now().UTC().Truncate(time.Second),
		},
		{
			ID:           idx.New().String(),
			EventType:    domain.EventTokenValidationFailed,
			InvitationID: invID,
			Actor:        "supplier",
			Outcome:      domain.OutcomeFailure,
			ErrorCode:    &code,
			DetailsJSON:  `{"step":"expiry"}`,
			OccurredAt:   time.Now().UTC().Truncate(time.Second).Add(time.Second),
		},
	}
	for _, ev := range events {
		require.NoError(t, s.AuditEvents().AppendAuditEvent(ctx, ev))
	}

	got, err := s.AuditEvents().ListAuditEvents(ctx, invID, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, domain.EventInvitationCreated, got[0].EventType)
	require.Nil(t, got[0].ErrorCode)
	require.NotNil(t, got[1].ErrorCode)
	require.Equal(t, code, *got[1].ErrorCode)
}

func TestSigningKeyLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	key := domain.SigningKey{
		ID:                  idx.New().String(),
		Kid:                 "gatepass-test1",
		Algorithm:           "RS256",
		PrivateKeyEncrypted: []byte("sealed"),
		CreatedAt:           now,
		ExpiresAt:           now.Add(30 * 24 * time.Hour),
	}
	require.NoError(t, s.SigningKeys().CreateSigningKey(ctx, key))
	require.ErrorIs(t, s.SigningKeys().CreateSigningKey(ctx, key), store.ErrAlreadyExists)

	active, err := s.SigningKeys().ListActiveSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, s.SigningKeys().RetireSigningKey(ctx, key.Kid))

	active, err = s.SigningKeys().ListActiveSigningKeys(ctx)
	require.NoError(t, err)
	require.Empty(t, active)

	all, err := s.SigningKeys().ListAllSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NotNil(t, all[0].RetiredAt)

	got, err := s.SigningKeys().GetSigningKeyByKid(ctx, key.Kid)
	require.NoError(t, err)
	require.Equal(t, key.ID, got.ID)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	inv := testInvitation("tx@acme.example")
	err := s.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Invitations().CreateInvitation(ctx, inv); err != nil {
			return err
		}
		return context.Canceled // force rollback
	})
	require.Error(t, err)

	_, err = s.Invitations().GetInvitationByID(ctx, inv.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}
