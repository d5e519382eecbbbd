package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/northbridgehq/gatepass/internal/invite/store"
	"github.com/northbridgehq/gatepass/pkg/cryptox"
	"github.com/northbridgehq/gatepass/pkg/jwtx"
)

// InitKeys builds the KeyManager for the configured mode.
//
// Modes:
//   - "file": externally provisioned PEM keys in a directory, reloaded on
//     rotation when watching is enabled. The intended production mode.
//   - "store": keys live encrypted in the database and survive restarts;
//     new keys are generated up to the configured count.
//   - "ephemeral": fresh keys at startup, nothing persisted. Every
//     outstanding invitation link dies on restart. Explicit opt-in only;
//     missing key material in the other modes is a startup error, never a
//     reason to fall through to this.
func InitKeys(ctx context.Context, cfg Config, db store.Store, logger *slog.Logger) (*jwtx.KeyManager, error) {
	switch cfg.KeyMode {
	case KeyModeFile:
		logger.Info("loading signing keys from directory",
			"dir", cfg.KeyDir,
			"algorithm", cfg.Algorithm,
			"watch", cfg.KeyWatch,
		)

		km, err := jwtx.NewFileKeyManager(ctx, jwtx.FileKeyManagerOptions{
			Dir:       cfg.KeyDir,
			Algorithm: cfg.Algorithm,
			Issuer:    cfg.Issuer,
			Audience:  cfg.Audience,
			Watch:     cfg.KeyWatch,
		})
		if err != nil {
			return nil, fmt.Errorf("file key mode: %w", err)
		}

		logger.Info("signing keys loaded", "num_keys", km.NumSigners())
		return km, nil

	case KeyModeStore:
		if cfg.MasterKeyPath != "" {
			cryptox.SetMasterSecretPath(cfg.MasterKeyPath)
		}

		km, err := jwtx.NewPersistentKeyManager(ctx, jwtx.PersistentKeyManagerOptions{
			Store:       store.NewKeyStoreAdapter(db),
			Algorithm:   cfg.Algorithm,
			Issuer:      cfg.Issuer,
			Audience:    cfg.Audience,
			RSABits:     cfg.RSABits,
			NumKeys:     cfg.NumKeys,
			GracePeriod: cfg.KeyGracePeriod,
		})
		if err != nil {
			return nil, fmt.Errorf("store key mode: %w", err)
		}

		logger.Info("persistent signing keys ready",
			"algorithm", km.Algorithm(),
			"num_keys", km.NumSigners(),
			"grace_period", cfg.KeyGracePeriod,
		)
		return km, nil

	case KeyModeEphemeral:
		km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
			Algorithm: cfg.Algorithm,
			Issuer:    cfg.Issuer,
			Audience:  cfg.Audience,
			RSABits:   cfg.RSABits,
			NumKeys:   cfg.NumKeys,
		})
		if err != nil {
			return nil, fmt.Errorf("ephemeral key mode: %w", err)
		}

		logger.Warn("EPHEMERAL KEY MODE: signing keys exist only in memory; every outstanding invitation link becomes invalid on restart. Do not use in production.")
		return km, nil

	default:
		return nil, fmt.Errorf("invalid key mode %q", cfg.KeyMode)
	}
}
