package domain

import "time"

// Invitation is the persisted record behind a magic-link token. Records are
// never deleted; terminal states are kept for audit.
type Invitation struct {
	ID string // UUIDv4, immutable

	// Supplier-identifying metadata. Attacker-untrusted until validated.
	RecipientEmail string
	CompanyName    string
	ContactName    string

	// TokenHash is the SHA-256 hex digest of the current signed token.
	// Unique lookup key; replaced wholesale on resend.
	TokenHash string

	// ClaimsSnapshot is the serialized signed claims, kept for audit and
	// debugging only. Trust always derives from live signature
	// verification, never from this copy.
	ClaimsSnapshot string

	State State

	IssuedAt  time.Time
	ExpiresAt time.Time

	// ValidationAttempts counts validations against the current token.
	// Monotonically increasing except on resend, which zeroes it.
	ValidationAttempts int

	LastValidatedAt *time.Time
	LastValidatedIP *string
	RevokedAt       *time.Time
	RevokedBy       *string
	RevokedReason   *string
	ConsumedAt      *time.Time
	FailedReason    *string

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsExpired reports whether the persisted expiry has passed.
func (inv *Invitation) IsExpired(now time.Time) bool {
	return now.After(inv.ExpiresAt)
}

// IsActive reports whether the invitation's token can still be presented.
func (inv *Invitation) IsActive() bool {
	return inv.State.IsActive()
}
