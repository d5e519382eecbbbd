package domain

import "time"

// SigningKey is a token-signing key persisted for the store key mode.
// Private key material is encrypted at rest; retired keys keep verifying
// outstanding invitation tokens until their grace period ends.
type SigningKey struct {
	ID                  string     // ULID
	Kid                 string     // Key identifier published in JWKS (e.g. "gatepass-abc123")
	Algorithm           string     // RS256, ES256, or EdDSA
	PrivateKeyEncrypted []byte     // AES-256-GCM encrypted private key PEM
	CreatedAt           time.Time  // When the key was created
	RetiredAt           *time.Time // When retired from active signing (nil = active)
	ExpiresAt           time.Time  // Verification cutoff; swept after this
}

// IsActive returns true if the key is not retired and not expired.
func (k *SigningKey) IsActive(now time.Time) bool {
	return k.RetiredAt == nil && now.Before(k.ExpiresAt)
}

// IsExpired returns true if the key has passed its expiration time.
func (k *SigningKey) IsExpired(now time.Time) bool {
	return now.After(k.ExpiresAt)
}
