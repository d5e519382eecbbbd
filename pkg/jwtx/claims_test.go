package jwtx_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/northbridgehq/gatepass/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestNewInviteClaims(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	claims := jwtx.NewInviteClaims(jwtx.InviteParams{
		InvitationID:   "2b8c1f30-33bc-4d14-8f53-2a1f1c9d8d42",
		SupplierEmail:  "ops@acme-metals.com",
		CompanyName:    "ACME Metals",
		ContactName:    "Jordan Veer",
		RequesterID:    "buyer-042",
		RequesterName:  "Pat Chen",
		DepartmentCode: "PROC",
		CostCenter:     "CC-1200",
		Issuer:         "gatepass",
		Subject:        "supplier-onboarding-invite",
		Audience:       []string{"supplier-portal"},
		Scope:          []string{"supplier.onboard"},
		TTL:            7 * 24 * time.Hour,
		InitialState:   "CREATED",
		Now:            now,
	})

	require.Equal(t, "gatepass", claims.Issuer)
	require.Equal(t, "supplier-onboarding-invite", claims.Subject)
	require.Equal(t, now, claims.IssuedAt.Time)
	require.Equal(t, now.Add(7*24*time.Hour), claims.ExpiresAt.Time)
	require.Equal(t, "supplier_onboarding", claims.Purpose)
	require.Equal(t, 1, claims.AllowedUses)
	require.Equal(t, "CREATED", claims.InitialState)
	require.Equal(t, now.Format(time.RFC3339), claims.CreatedAt)

	// jti is freshly minted and must never equal the invitation id
	require.NotEmpty(t, claims.ID)
	require.NotEqual(t, claims.InvitationID, claims.ID)
}

func TestNewInviteClaimsDefaultsTTL(t *testing.T) {
	now := time.Now().UTC()
	claims := jwtx.NewInviteClaims(jwtx.InviteParams{
		InvitationID:  "id",
		SupplierEmail: "a@b.com",
		Now:           now,
	})
	require.Equal(t, now.Add(jwtx.DefaultInviteTTL), claims.ExpiresAt.Time)
}

func TestNewInviteClaimsFreshJTIPerCall(t *testing.T) {
	p := jwtx.InviteParams{
		InvitationID:  "same-invitation",
		SupplierEmail: "a@b.com",
		Now:           time.Now().UTC(),
	}
	first := jwtx.NewInviteClaims(p)
	second := jwtx.NewInviteClaims(p)
	require.NotEqual(t, first.ID, second.ID)
}

// TestClaimsWireFormat pins the JSON field names. These are a fixed wire
// contract with the portal that consumes the links.
func TestClaimsWireFormat(t *testing.T) {
	claims := jwtx.NewInviteClaims(jwtx.InviteParams{
		InvitationID:   "2b8c1f30-33bc-4d14-8f53-2a1f1c9d8d42",
		SupplierEmail:  "ops@acme-metals.com",
		CompanyName:    "ACME Metals",
		ContactName:    "Jordan Veer",
		RequesterID:    "buyer-042",
		RequesterName:  "Pat Chen",
		DepartmentCode: "PROC",
		CostCenter:     "CC-1200",
		Issuer:         "gatepass",
		Subject:        "supplier-onboarding-invite",
		Audience:       []string{"supplier-portal"},
		Scope:          []string{"supplier.onboard"},
		TTL:            time.Hour,
		InitialState:   "CREATED",
		Now:            time.Now().UTC(),
	})

	raw, err := json.Marshal(claims)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))

	for _, name := range []string{
		"iss", "sub", "aud", "exp", "iat", "jti", "scope",
		"invitation_id", "supplier_email", "company_name", "contact_name",
		"requester_id", "requester_name", "department_code", "cost_center",
		"created_at", "purpose", "allowed_uses", "initial_state",
	} {
		require.Contains(t, fields, name, "claims payload must carry %q", name)
	}

	require.Equal(t, "supplier_onboarding", fields["purpose"])
	require.Equal(t, float64(1), fields["allowed_uses"])
}

func TestValidateIssuer(t *testing.T) {
	c := &jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "gatepass",
		},
	}

	t.Run("matching issuer", func(t *testing.T) {
		require.NoError(t, c.ValidateIssuer("gatepass"))
	})

	t.Run("empty expected issuer", func(t *testing.T) {
		require.NoError(t, c.ValidateIssuer(""))
	})

	t.Run("mismatched issuer", func(t *testing.T) {
		err := c.ValidateIssuer("other-service")
		require.ErrorIs(t, err, jwtx.ErrIssuer)
	})
}

func TestValidateAudience(t *testing.T) {
	c := &jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience: []string{"supplier-portal", "admin-portal"},
		},
	}

	t.Run("contains match", func(t *testing.T) {
		require.NoError(t, c.ValidateAudience([]string{"supplier-portal"}))
	})

	t.Run("multiple match", func(t *testing.T) {
		require.NoError(t, c.ValidateAudience([]string{"foo", "admin-portal"}))
	})

	t.Run("no match", func(t *testing.T) {
		err := c.ValidateAudience([]string{"billing"})
		require.ErrorIs(t, err, jwtx.ErrAudience)
	})

	t.Run("empty expected list", func(t *testing.T) {
		require.NoError(t, c.ValidateAudience(nil))
	})
}

func TestValidateExpiry(t *testing.T) {
	now := time.Now().UTC()

	t.Run("valid token", func(t *testing.T) {
		claims := &jwtx.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(1 * time.Minute)),
			},
		}
		require.NoError(t, claims.ValidateExpiry())
	})

	t.Run("expired token", func(t *testing.T) {
		claims := &jwtx.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(-1 * time.Minute)),
			},
		}
		require.ErrorIs(t, claims.ValidateExpiry(), jwtx.ErrExpired)
	})

	t.Run("not yet valid", func(t *testing.T) {
		claims := &jwtx.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				NotBefore: jwt.NewNumericDate(now.Add(1 * time.Minute)),
			},
		}
		require.ErrorIs(t, claims.ValidateExpiry(), jwtx.ErrNotYetValid)
	})
}

func TestValidateExpiryWithLeeway(t *testing.T) {
	now := time.Now().UTC()

	t.Run("just expired but within leeway", func(t *testing.T) {
		claims := &jwtx.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(-10 * time.Second)),
			},
		}
		require.NoError(t, claims.ValidateExpiryWithLeeway(30*time.Second))
	})

	t.Run("expired beyond leeway", func(t *testing.T) {
		claims := &jwtx.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(-1 * time.Minute)),
			},
		}
		require.ErrorIs(t, claims.ValidateExpiryWithLeeway(30*time.Second), jwtx.ErrExpired)
	})
}

func TestValidateRequired(t *testing.T) {
	t.Run("both present", func(t *testing.T) {
		c := &jwtx.Claims{InvitationID: "id", SupplierEmail: "a@b.com"}
		require.NoError(t, c.ValidateRequired())
	})

	t.Run("missing invitation id", func(t *testing.T) {
		c := &jwtx.Claims{SupplierEmail: "a@b.com"}
		require.ErrorIs(t, c.ValidateRequired(), jwtx.ErrInvalidClaim)
	})

	t.Run("missing supplier email", func(t *testing.T) {
		c := &jwtx.Claims{InvitationID: "id"}
		require.ErrorIs(t, c.ValidateRequired(), jwtx.ErrInvalidClaim)
	})
}
