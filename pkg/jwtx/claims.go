package jwtx

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultInviteTTL is the default lifetime for invitation tokens.
// Invitations are delivered out-of-band (email), so the window is days
// rather than the minutes a session token would get.
const DefaultInviteTTL = 7 * 24 * time.Hour

// PurposeSupplierOnboarding is the only purpose tokens are minted for.
const PurposeSupplierOnboarding = "supplier_onboarding"

// Claims are the signed claims carried by an invitation token. The field set
// is a fixed wire contract shared with the portal that consumes the links,
// so changes here must stay additive.
type Claims struct {
	jwt.RegisteredClaims

	// Scope lists the grants the token confers, e.g. ["supplier.onboard"].
	Scope []string `json:"scope,omitempty"`

	/* Invitation custom fields */

	// InvitationID ties the token back to its business record. Distinct
	// from the jti, which tracks token freshness across resends.
	InvitationID string `json:"invitation_id,omitempty"`

	// SupplierEmail is the recipient the invitation was addressed to.
	SupplierEmail string `json:"supplier_email,omitempty"`

	CompanyName string `json:"company_name,omitempty"`
	ContactName string `json:"contact_name,omitempty"`

	// Requester fields identify who asked for the supplier to be onboarded.
	RequesterID    string `json:"requester_id,omitempty"`
	RequesterName  string `json:"requester_name,omitempty"`
	DepartmentCode string `json:"department_code,omitempty"`
	CostCenter     string `json:"cost_center,omitempty"`

	// CreatedAt is the issuance instant as ISO-8601, duplicating iat for
	// consumers that want a human-readable timestamp.
	CreatedAt string `json:"created_at,omitempty"`

	// Purpose is always "supplier_onboarding" for tokens minted here.
	Purpose string `json:"purpose,omitempty"`

	// AllowedUses is always 1. The single-use property is enforced against
	// the backing record; the claim just documents it to the consumer.
	AllowedUses int `json:"allowed_uses,omitempty"`

	// InitialState mirrors the record state at mint time.
	InitialState string `json:"initial_state,omitempty"`
}

// InviteParams collects the inputs for NewInviteClaims. Issuer, Subject,
// Audience and Scope come from service config; the rest from the create
// request.
type InviteParams struct {
	InvitationID   string
	SupplierEmail  string
	CompanyName    string
	ContactName    string
	RequesterID    string
	RequesterName  string
	DepartmentCode string
	CostCenter     string

	Issuer       string
	Subject      string
	Audience     []string
	Scope        []string
	TTL          time.Duration
	InitialState string

	Now time.Time
}

// NewInviteClaims builds the full claims set for a fresh invitation token.
// A new jti is minted on every call, so a resend produces a token that is
// distinguishable from its predecessor even for the same invitation.
func NewInviteClaims(p InviteParams) Claims {
	now := p.Now.UTC()
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultInviteTTL
	}

	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.Issuer,
			Subject:   p.Subject,
			Audience:  jwt.ClaimStrings(p.Audience),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Scope:          p.Scope,
		InvitationID:   p.InvitationID,
		SupplierEmail:  p.SupplierEmail,
		CompanyName:    p.CompanyName,
		ContactName:    p.ContactName,
		RequesterID:    p.RequesterID,
		RequesterName:  p.RequesterName,
		DepartmentCode: p.DepartmentCode,
		CostCenter:     p.CostCenter,
		CreatedAt:      now.Format(time.RFC3339),
		Purpose:        PurposeSupplierOnboarding,
		AllowedUses:    1,
		InitialState:   p.InitialState,
	}
}

// NewJTI returns a fresh UUIDv4 for the "jti" claim. Kept separate from the
// invitation id so token freshness can be tracked across resends.
func NewJTI() string {
	return uuid.NewString()
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrIssuer
	}

	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil // nothing to enforce
	}

	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}

	return ErrAudience
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't before nbf.
func (c *Claims) ValidateExpiry() error {
	now := time.Now().UTC()

	// Check expired (exp)
	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Time) {
		return ErrExpired
	}

	// Check if a valid token isn't used before it is valid (nbf)
	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}

	return nil
}

// ValidateExpiryWithLeeway adds a small grace period for clock skew.
func (c *Claims) ValidateExpiryWithLeeway(leeway time.Duration) error {
	now := time.Now().UTC()

	// Check After Leeway
	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}

	// Check Before Leeway
	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}

	return nil
}

// ValidateRequired checks the claims the validation pipeline cannot proceed
// without: the business record pointer and the recipient binding.
func (c *Claims) ValidateRequired() error {
	if c.InvitationID == "" || c.SupplierEmail == "" {
		return ErrInvalidClaim
	}
	return nil
}
