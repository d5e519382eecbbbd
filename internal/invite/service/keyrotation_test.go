package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/northbridgehq/gatepass/pkg/cryptox"
	"github.com/northbridgehq/gatepass/pkg/jwtx"
)

func TestRotateKeyStoreMode(t *testing.T) {
	os.Setenv("GATEPASS_MASTER_KEY", "rotation-test-master-secret-0001")
	t.Cleanup(func() {
		os.Unsetenv("GATEPASS_MASTER_KEY")
		cryptox.ResetMasterSecretForTesting()
	})
	cryptox.ResetMasterSecretForTesting()

	ctx := context.Background()
	h := newHarness(t)

	svc := &KeyRotationService{
		Store:       h.store,
		KeyManager:  h.km,
		Algorithm:   jwtx.AlgorithmRS256,
		RSABits:     2048,
		GracePeriod: 30 * 24 * time.Hour,
	}

	before := h.km.NumSigners()

	resp, err := svc.RotateKey(ctx, RotateKeyRequest{})
	require.NoError(t, err)
	require.NotEmpty(t, resp.NewKey.Kid)
	require.NotEmpty(t, resp.NewKey.PrivateKeyEncrypted)
	require.Equal(t, before+1, resp.ActiveKeys)

	// The persisted blob decrypts back to signing material.
	stored, err := h.store.SigningKeys().GetSigningKeyByKid(ctx, resp.NewKey.Kid)
	require.NoError(t, err)
	pemData, err := cryptox.DecryptPrivateKey(stored.PrivateKeyEncrypted)
	require.NoError(t, err)

	signer, err := jwtx.NewSignerRS256(stored.Kid, pemData)
	require.NoError(t, err)
	require.Equal(t, stored.Kid, signer.KID())

	// Tokens minted before rotation still verify after a retiring
	// rotation: the retired key stays in the keyset for its grace period.
	token, _ := h.mint(t, "supplier@acme.example")

	resp2, err := svc.RotateKey(ctx, RotateKeyRequest{RetireExisting: true})
	require.NoError(t, err)
	require.NotEmpty(t, resp2.RetiredKeys)

	_, err = h.km.Verifier.Verify(token)
	require.NoError(t, err)

	keys, err := svc.ListSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
}

func TestRetireKeyStoreMode(t *testing.T) {
	os.Setenv("GATEPASS_MASTER_KEY", "rotation-test-master-secret-0002")
	t.Cleanup(func() {
		os.Unsetenv("GATEPASS_MASTER_KEY")
		cryptox.ResetMasterSecretForTesting()
	})
	cryptox.ResetMasterSecretForTesting()

	ctx := context.Background()
	h := newHarness(t)

	svc := &KeyRotationService{
		Store:      h.store,
		KeyManager: h.km,
		Algorithm:  jwtx.AlgorithmRS256,
		RSABits:    2048,
	}

	resp, err := svc.RotateKey(ctx, RotateKeyRequest{})
	require.NoError(t, err)

	require.NoError(t, svc.RetireKey(ctx, resp.NewKey.Kid))

	stored, err := h.store.SigningKeys().GetSigningKeyByKid(ctx, resp.NewKey.Kid)
	require.NoError(t, err)
	require.NotNil(t, stored.RetiredAt)

	// Double retirement is rejected.
	require.Error(t, svc.RetireKey(ctx, resp.NewKey.Kid))
}

func TestRotateKeyEphemeralMode(t *testing.T) {
	ctx := context.Background()
	km := newTestKeyManager(t)

	svc := &KeyRotationService{
		KeyManager: km,
		Algorithm:  jwtx.AlgorithmRS256,
		RSABits:    2048,
	}

	resp, err := svc.RotateKey(ctx, RotateKeyRequest{RetireExisting: true})
	require.NoError(t, err)
	require.Len(t, resp.RetiredKeys, 1)
	require.Equal(t, 1, resp.ActiveKeys)
	require.Empty(t, resp.NewKey.PrivateKeyEncrypted) // nothing persisted
}
