package jwtx_test

import (
	"testing"
	"time"

	"github.com/northbridgehq/gatepass/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestNewEphemeralKeyManager_AllAlgorithms(t *testing.T) {
	tests := []struct {
		name      string
		algorithm string
		rsaBits   int
	}{
		{name: "RS256 default bits", algorithm: jwtx.AlgorithmRS256},
		{name: "RS256 2048 bits", algorithm: jwtx.AlgorithmRS256, rsaBits: 2048},
		{name: "ES256", algorithm: jwtx.AlgorithmES256},
		{name: "EdDSA", algorithm: jwtx.AlgorithmEdDSA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// 2048-bit RSA keeps test keygen fast
			bits := tt.rsaBits
			if tt.algorithm == jwtx.AlgorithmRS256 && bits == 0 {
				bits = 2048
			}

			km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
				Algorithm: tt.algorithm,
				Issuer:    exampleIssuer,
				RSABits:   bits,
				NumKeys:   1,
			})
			require.NoError(t, err)
			require.True(t, km.IsReady())
			require.Equal(t, tt.algorithm, km.Algorithm())
			require.NotNil(t, km.GetSigner())
		})
	}
}

func TestKeyManager_SignAndVerifyRoundTrip(t *testing.T) {
	algorithms := []struct {
		name string
		alg  string
	}{
		{"ES256", jwtx.AlgorithmES256},
		{"EdDSA", jwtx.AlgorithmEdDSA},
	}

	for _, tt := range algorithms {
		t.Run(tt.name, func(t *testing.T) {
			km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
				Algorithm: tt.alg,
				Issuer:    exampleIssuer,
				NumKeys:   1,
			})
			require.NoError(t, err)

			claims := exampleClaims(exampleIssuer, nil, 2*time.Minute)

			token, err := km.GetSigner().Sign(claims)
			require.NoError(t, err)

			parsed, err := km.Verifier.Verify(token)
			require.NoError(t, err)
			require.Equal(t, claims.InvitationID, parsed.InvitationID)
		})
	}
}

func TestNewEphemeralKeyManager_RequiresIssuer(t *testing.T) {
	_, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmEdDSA,
	})
	require.Error(t, err)
}

func TestNewEphemeralKeyManager_RejectsUnknownAlgorithm(t *testing.T) {
	_, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: "HS256",
		Issuer:    exampleIssuer,
		NumKeys:   1,
	})
	require.Error(t, err)
}

func TestKeyManager_IsReady(t *testing.T) {
	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmEdDSA,
		Issuer:    exampleIssuer,
		NumKeys:   1,
	})
	require.NoError(t, err)
	require.True(t, km.IsReady())

	emptyKS := jwtx.NewKeySet()
	require.False(t, emptyKS.IsReady())
}

func TestKeyManager_MultiKeyMode(t *testing.T) {
	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmEdDSA,
		Issuer:    exampleIssuer,
		NumKeys:   3,
	})
	require.NoError(t, err)
	require.Equal(t, 3, km.NumSigners())
	require.Len(t, km.KeySet.PublicJWKS().Keys, 3)

	// Every signer's tokens verify against the shared keyset
	for i := 0; i < 10; i++ {
		signer := km.GetSigner()
		require.NotNil(t, signer)

		token, err := signer.Sign(exampleClaims(exampleIssuer, nil, time.Minute))
		require.NoError(t, err)

		_, err = km.Verifier.Verify(token)
		require.NoError(t, err)
	}
}

func TestKeyManager_RetireSigner(t *testing.T) {
	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmEdDSA,
		Issuer:    exampleIssuer,
		NumKeys:   2,
	})
	require.NoError(t, err)

	retired := km.GetSigners()[0]
	token, err := retired.Sign(exampleClaims(exampleIssuer, nil, time.Minute))
	require.NoError(t, err)

	require.NoError(t, km.RetireSignerByKid(retired.KID()))
	require.Equal(t, 1, km.NumSigners())

	// Retired key stays in the KeySet, so its tokens still verify
	_, err = km.Verifier.Verify(token)
	require.NoError(t, err)

	// The last signer cannot be retired
	last := km.GetSigners()[0]
	require.Error(t, km.RetireSignerByKid(last.KID()))
}

func TestKeyManager_ReplaceSigners(t *testing.T) {
	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmEdDSA,
		Issuer:    exampleIssuer,
		NumKeys:   1,
	})
	require.NoError(t, err)

	oldSigner := km.GetSigner()
	oldToken, err := oldSigner.Sign(exampleClaims(exampleIssuer, nil, time.Minute))
	require.NoError(t, err)

	replacement, err := jwtx.NewSignerEdDSA("rotated-key", newEd25519PEM(t))
	require.NoError(t, err)
	require.NoError(t, km.ReplaceSigners([]jwtx.Signer{replacement}))

	// New key signs and verifies
	token, err := km.GetSigner().Sign(exampleClaims(exampleIssuer, nil, time.Minute))
	require.NoError(t, err)
	_, err = km.Verifier.Verify(token)
	require.NoError(t, err)

	// Old key was dropped from the keyset entirely
	_, err = km.Verifier.Verify(oldToken)
	require.ErrorIs(t, err, jwtx.ErrUnknownKID)

	// Empty replacement set is refused
	require.Error(t, km.ReplaceSigners(nil))
}
