package service

import (
	"context"
	"fmt"
	"time"

	"github.com/northbridgehq/gatepass/internal/invite/domain"
	"github.com/northbridgehq/gatepass/internal/invite/store"
	"github.com/northbridgehq/gatepass/pkg/cryptox"
	"github.com/northbridgehq/gatepass/pkg/idx"
	"github.com/northbridgehq/gatepass/pkg/jwtx"
)

// KeyRotationService rotates and retires token-signing keys at runtime.
// Outstanding invitation tokens keep verifying against retired keys until
// their grace period ends, so a rotation never strands links already sent.
//
// Store == nil means ephemeral mode: rotation happens in the KeyManager only
// and nothing survives a restart.
type KeyRotationService struct {
	Store       store.Store // nil for ephemeral mode
	KeyManager  *jwtx.KeyManager
	Algorithm   string
	RSABits     int
	GracePeriod time.Duration
}

// RotateKeyRequest configures one rotation.
type RotateKeyRequest struct {
	// RetireExisting marks current active keys retired; otherwise the new
	// key joins them.
	RetireExisting bool
}

// RotateKeyResponse reports the rotation outcome.
type RotateKeyResponse struct {
	NewKey      domain.SigningKey   `json:"new_key"`
	RetiredKeys []domain.SigningKey `json:"retired_keys,omitempty"`
	ActiveKeys  int                 `json:"active_keys"`
}

// RotateKey generates a new signing key and optionally retires the existing
// ones. Works in both ephemeral and store modes.
func (s *KeyRotationService) RotateKey(ctx context.Context, req RotateKeyRequest) (*RotateKeyResponse, error) {
	if s.KeyManager == nil {
		return nil, fmt.Errorf("KeyManager is required")
	}

	kid, err := newKeyID()
	if err != nil {
		return nil, err
	}

	pemData, signer, err := s.generateSigner(kid)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	gracePeriod := s.GracePeriod
	if gracePeriod <= 0 {
		gracePeriod = 30 * 24 * time.Hour
	}

	var retiredKeys []domain.SigningKey
	var newKey domain.SigningKey

	if s.Store != nil {
		encryptedKey, err := cryptox.EncryptPrivateKey(pemData)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt private key: %w", err)
		}

		newKey = domain.SigningKey{
			ID:                  idx.New().String(),
			Kid:                 kid,
			Algorithm:           s.Algorithm,
			PrivateKeyEncrypted: encryptedKey,
			CreatedAt:           now,
			ExpiresAt:           now.Add(gracePeriod),
		}

		err = s.Store.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.SigningKeys().CreateSigningKey(ctx, newKey); err != nil {
				return fmt.Errorf("failed to create new signing key: %w", err)
			}

			if !req.RetireExisting {
				return nil
			}

			activeKeys, err := tx.SigningKeys().ListActiveSigningKeys(ctx)
			if err != nil {
				return fmt.Errorf("failed to list active keys: %w", err)
			}

			for _, key := range activeKeys {
				if key.Kid == newKey.Kid {
					continue
				}

				if err := tx.SigningKeys().RetireSigningKey(ctx, key.Kid); err != nil {
					return fmt.Errorf("failed to retire key %s: %w", key.Kid, err)
				}

				// Key might not be loaded in this process; not fatal.
				_ = s.KeyManager.RetireSignerByKid(key.Kid)

				key.RetiredAt = &now
				retiredKeys = append(retiredKeys, key)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		newKey = domain.SigningKey{
			Kid:       kid,
			Algorithm: s.Algorithm,
			CreatedAt: now,
		}

		if req.RetireExisting {
			for _, current := range s.KeyManager.GetSigners() {
				if err := s.KeyManager.RetireSignerByKid(current.KID()); err != nil {
					return nil, fmt.Errorf("failed to retire key %s: %w", current.KID(), err)
				}

				retiredKeys = append(retiredKeys, domain.SigningKey{
					Kid:       current.KID(),
					Algorithm: s.Algorithm,
					RetiredAt: &now,
				})
			}
		}
	}

	if err := s.KeyManager.AddSigner(signer); err != nil {
		return nil, fmt.Errorf("failed to add signer to key manager: %w", err)
	}

	return &RotateKeyResponse{
		NewKey:      newKey,
		RetiredKeys: retiredKeys,
		ActiveKeys:  s.KeyManager.NumSigners(),
	}, nil
}

// ListSigningKeys returns all signing keys with their status. Store mode
// reads the database; ephemeral mode reflects the KeyManager.
func (s *KeyRotationService) ListSigningKeys(ctx context.Context) ([]domain.SigningKey, error) {
	if s.Store != nil {
		return s.Store.SigningKeys().ListAllSigningKeys(ctx)
	}

	if s.KeyManager == nil {
		return nil, fmt.Errorf("KeyManager is required")
	}

	signers := s.KeyManager.GetSigners()
	keys := make([]domain.SigningKey, len(signers))
	for i, signer := range signers {
		keys[i] = domain.SigningKey{
			Kid:       signer.KID(),
			Algorithm: s.Algorithm,
		}
	}
	return keys, nil
}

// RetireKey retires one key without minting a replacement. The key keeps
// verifying until its grace period ends.
func (s *KeyRotationService) RetireKey(ctx context.Context, kid string) error {
	if s.KeyManager == nil {
		return fmt.Errorf("KeyManager is required")
	}

	if s.Store == nil {
		return s.KeyManager.RetireSignerByKid(kid)
	}

	key, err := s.Store.SigningKeys().GetSigningKeyByKid(ctx, kid)
	if err != nil {
		return fmt.Errorf("failed to get key: %w", err)
	}
	if key.RetiredAt != nil {
		return fmt.Errorf("key %s is already retired", kid)
	}

	if err := s.Store.SigningKeys().RetireSigningKey(ctx, kid); err != nil {
		return fmt.Errorf("failed to retire key: %w", err)
	}

	// Key might not be loaded in this process; not fatal.
	_ = s.KeyManager.RetireSignerByKid(kid)

	return nil
}

func (s *KeyRotationService) generateSigner(kid string) ([]byte, jwtx.Signer, error) {
	var (
		pemData []byte
		err     error
	)
	switch s.Algorithm {
	case jwtx.AlgorithmRS256:
		rsaBits := s.RSABits
		if rsaBits == 0 {
			rsaBits = 4096
		}
		pemData, err = cryptox.GenerateRSAKey(rsaBits)
	case jwtx.AlgorithmES256:
		pemData, err = cryptox.GenerateES256Key()
	case jwtx.AlgorithmEdDSA:
		pemData, err = cryptox.GenerateEd25519Key()
	default:
		return nil, nil, fmt.Errorf("unsupported algorithm: %s", s.Algorithm)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	var signer jwtx.Signer
	switch s.Algorithm {
	case jwtx.AlgorithmRS256:
		signer, err = jwtx.NewSignerRS256(kid, pemData)
	case jwtx.AlgorithmES256:
		signer, err = jwtx.NewSignerES256(kid, pemData)
	case jwtx.AlgorithmEdDSA:
		signer, err = jwtx.NewSignerEdDSA(kid, pemData)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create signer: %w", err)
	}
	return pemData, signer, nil
}

// newKeyID mints a random kid with the service prefix.
func newKeyID() (string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", fmt.Errorf("failed to generate key ID: %w", err)
	}
	return fmt.Sprintf("gatepass-%s", token), nil
}
