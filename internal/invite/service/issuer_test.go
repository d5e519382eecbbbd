package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/northbridgehq/gatepass/internal/invite/domain"
	inviteerr "github.com/northbridgehq/gatepass/internal/platform/errors"
	"github.com/northbridgehq/gatepass/pkg/cryptox"
	"github.com/northbridgehq/gatepass/pkg/jwtx"
)

func testIssuerConfig() IssuerConfig {
	return IssuerConfig{
		Issuer:            "gatepass",
		Subject:           "supplier-onboarding-invite",
		Audience:          []string{"supplier-portal"},
		Scope:             []string{"supplier.onboard"},
		BaseURL:           "https://portal.example.com/onboard",
		DefaultExpiryDays: 7,
		MinExpiryDays:     1,
		MaxExpiryDays:     30,
	}
}

func newTestKeyManager(t *testing.T) *jwtx.KeyManager {
	t.Helper()

	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmRS256,
		Issuer:    "gatepass",
		Audience:  []string{"supplier-portal"},
		RSABits:   2048,
		NumKeys:   1,
	})
	require.NoError(t, err)
	return km
}

func TestIssueHappyPath(t *testing.T) {
	km := newTestKeyManager(t)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	issuer := NewIssuer(testIssuerConfig(), km).WithClock(func() time.Time { return t0 })

	result, err := issuer.Issue(IssueRequest{
		RecipientEmail: "supplier@acme.example",
		CompanyName:    "Acme Fasteners",
		ContactName:    "Jo Bloggs",
		CreatedBy:      "procurement-1",
	})
	require.NoError(t, err)

	inv := result.Invitation
	require.Equal(t, domain.StateCreated, inv.State)
	require.Zero(t, inv.ValidationAttempts)
	require.Equal(t, t0, inv.IssuedAt)

	// Default expiry is exactly expiryDays worth of seconds.
	require.Equal(t, 7*24*time.Hour, inv.ExpiresAt.Sub(inv.IssuedAt))

	// Hash is the deterministic fingerprint of the raw token.
	require.Equal(t, cryptox.FingerprintToken(result.Token), inv.TokenHash)

	// Token verifies against the minting keyset, and the jti never equals
	// the invitation id.
	claims, err := km.Verifier.Verify(result.Token)
	require.NoError(t, err)
	require.Equal(t, inv.ID, claims.InvitationID)
	require.NotEqual(t, claims.InvitationID, claims.ID)
	require.Equal(t, "supplier@acme.example", claims.SupplierEmail)
	require.Equal(t, jwtx.PurposeSupplierOnboarding, claims.Purpose)
	require.Equal(t, 1, claims.AllowedUses)
	require.Equal(t, "CREATED", claims.InitialState)
}

func TestIssueExpiryBounds(t *testing.T) {
	km := newTestKeyManager(t)
	issuer := NewIssuer(testIssuerConfig(), km)

	tests := []struct {
		name     string
		days     int
		wantCode inviteerr.Code
		wantTTL  time.Duration
	}{
		{name: "zero means default", days: 0, wantTTL: 7 * 24 * time.Hour},
		{name: "explicit in range", days: 14, wantTTL: 14 * 24 * time.Hour},
		{name: "minimum", days: 1, wantTTL: 24 * time.Hour},
		{name: "maximum", days: 30, wantTTL: 30 * 24 * time.Hour},
		{name: "negative", days: -1, wantCode: inviteerr.CodeInvalidExpiry},
		{name: "above max", days: 31, wantCode: inviteerr.CodeInvalidExpiry},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := issuer.Issue(IssueRequest{
				RecipientEmail: "supplier@acme.example",
				ExpiryDays:     tc.days,
			})
			if tc.wantCode != "" {
				require.True(t, inviteerr.IsCode(err, tc.wantCode), "got %v", err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantTTL, result.Invitation.ExpiresAt.Sub(result.Invitation.IssuedAt))
		})
	}
}

func TestIssueEmailValidation(t *testing.T) {
	km := newTestKeyManager(t)
	issuer := NewIssuer(testIssuerConfig(), km)

	tests := []struct {
		name  string
		email string
		valid bool
	}{
		{name: "plain address", email: "a@b.example", valid: true},
		{name: "subdomain", email: "jo.bloggs@mail.acme.example", valid: true},
		{name: "plus tag", email: "jo+supplier@acme.example", valid: true},
		{name: "empty", email: "", valid: false},
		{name: "whitespace only", email: "   ", valid: false},
		{name: "no at sign", email: "acme.example", valid: false},
		{name: "no domain dot", email: "a@localhost", valid: false},
		{name: "display name form", email: "Jo <jo@acme.example>", valid: false},
		{name: "double at", email: "a@@acme.example", valid: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := issuer.Issue(IssueRequest{RecipientEmail: tc.email})
			if tc.valid {
				require.NoError(t, err)
			} else {
				require.True(t, inviteerr.IsCode(err, inviteerr.CodeInvalidInput), "got %v", err)
			}
		})
	}
}

func TestIssueDistinctTokensDistinctHashes(t *testing.T) {
	km := newTestKeyManager(t)
	issuer := NewIssuer(testIssuerConfig(), km)

	first, err := issuer.Issue(IssueRequest{RecipientEmail: "a@acme.example"})
	require.NoError(t, err)
	second, err := issuer.Issue(IssueRequest{RecipientEmail: "a@acme.example"})
	require.NoError(t, err)

	require.NotEqual(t, first.Token, second.Token)
	require.NotEqual(t, first.Invitation.TokenHash, second.Invitation.TokenHash)
}

func TestFormatLink(t *testing.T) {
	link := FormatLink("https://portal.example.com/onboard", "abc.def.g+h/i=")
	require.Equal(t, "https://portal.example.com/onboard?token=abc.def.g%2Bh%2Fi%3D", link)
	require.True(t, strings.HasPrefix(link, "https://portal.example.com/onboard?token="))
}
