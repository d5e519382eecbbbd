package jwtx

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ES256Verifier validates JWTs signed using ES256 (ECDSA P-256 with SHA-256).
type ES256Verifier struct {
	keys   *KeySet
	issuer string
	aud    []string
}

// NewVerifierES256 creates a verifier using a KeySet of ECDSA P-256 public keys.
func NewVerifierES256(keys *KeySet, issuer string, aud []string) *ES256Verifier {
	return &ES256Verifier{keys: keys, issuer: issuer, aud: aud}
}

// Verify checks the signature and returns the parsed Claims. Claim checks
// run after the signature check in a fixed order (expiry, issuer, audience,
// required fields) so callers always observe the earliest failure.
func (v *ES256Verifier) Verify(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, ErrAlgMismatch
		}

		// Need the kid to know which key to use
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: missing kid header", ErrUnknownKID)
		}

		// Try to find this key in our set
		pub, err := v.keys.Get(kid)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKID, kid)
		}

		// Make sure it's actually an ECDSA key
		ecdsaPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: kid %q is not an ECDSA key", ErrUnknownKID, kid)
		}
		return ecdsaPub, nil
	})
	if err != nil {
		return nil, mapParseError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidSig
	}

	// Signature is good, now the claim checks in pipeline order
	if err := claims.ValidateExpiry(); err != nil {
		return nil, err
	}
	if err := claims.ValidateIssuer(v.issuer); err != nil {
		return nil, err
	}
	if err := claims.ValidateAudience(v.aud); err != nil {
		return nil, err
	}
	if err := claims.ValidateRequired(); err != nil {
		return nil, err
	}

	return claims, nil
}
