package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/northbridgehq/gatepass/internal/invite/app"
	"github.com/northbridgehq/gatepass/internal/invite/service"
	"github.com/northbridgehq/gatepass/pkg/cryptox"
)

// RotateKeyConfig carries the flags for the rotate-key subcommand.
type RotateKeyConfig struct {
	RetireExisting bool
}

// ParseRotateKeyConfig parses rotate-key flags from args.
func ParseRotateKeyConfig(args []string) (RotateKeyConfig, error) {
	var cfg RotateKeyConfig
	fs := flag.NewFlagSet("rotate-key", flag.ContinueOnError)
	fs.BoolVar(&cfg.RetireExisting, "retire-existing", false, "retire current active keys instead of keeping them alongside")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// RunRotateKey mints a new signing key. Retired keys keep verifying
// outstanding tokens until their grace period ends.
func RunRotateKey(ctx context.Context, a *app.Application, cfg RotateKeyConfig, stdout io.Writer) error {
	res, err := a.KeyRotation.RotateKey(ctx, service.RotateKeyRequest{RetireExisting: cfg.RetireExisting})
	if err != nil {
		return err
	}
	return printJSON(stdout, res)
}

// RetireKeyConfig carries the flags for the retire-key subcommand.
type RetireKeyConfig struct {
	Kid string
}

// ParseRetireKeyConfig parses retire-key flags from args.
func ParseRetireKeyConfig(args []string) (RetireKeyConfig, error) {
	var cfg RetireKeyConfig
	fs := flag.NewFlagSet("retire-key", flag.ContinueOnError)
	fs.StringVar(&cfg.Kid, "kid", "", "key id to retire (required)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.Kid == "" {
		return cfg, fmt.Errorf("retire-key: -kid is required")
	}
	return cfg, nil
}

// RunRetireKey retires one signing key by kid.
func RunRetireKey(ctx context.Context, a *app.Application, cfg RetireKeyConfig, stdout io.Writer) error {
	if err := a.KeyRotation.RetireKey(ctx, cfg.Kid); err != nil {
		return err
	}
	return printJSON(stdout, map[string]any{"kid": cfg.Kid, "retired": true})
}

// RunListKeys lists signing keys (persisted metadata in store mode, live
// signer kids otherwise).
func RunListKeys(ctx context.Context, a *app.Application, stdout io.Writer) error {
	keys, err := a.KeyRotation.ListSigningKeys(ctx)
	if err != nil {
		return err
	}
	return printJSON(stdout, map[string]any{"count": len(keys), "keys": keys})
}

// RunJWKS prints the public JWKS document for the active key set.
func RunJWKS(a *app.Application, stdout io.Writer) error {
	return printJSON(stdout, a.KeyManager.KeySet.PublicJWKS())
}

// KeygenConfig carries the flags for the keygen subcommand.
type KeygenConfig struct {
	Algorithm string
	RSABits   int
	Out       string
}

// ParseKeygenConfig parses keygen flags from args.
func ParseKeygenConfig(args []string) (KeygenConfig, error) {
	var cfg KeygenConfig
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.StringVar(&cfg.Algorithm, "algorithm", "RS256", "signing algorithm: RS256, ES256 or EdDSA")
	fs.IntVar(&cfg.RSABits, "bits", 2048, "RSA key size (RS256 only)")
	fs.StringVar(&cfg.Out, "out", "", "output path; the filename without .pem becomes the kid (default stdout)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	switch cfg.Algorithm {
	case "RS256", "ES256", "EdDSA":
	default:
		return cfg, fmt.Errorf("keygen: unsupported algorithm %q", cfg.Algorithm)
	}
	if cfg.Algorithm == "RS256" && cfg.RSABits < 2048 {
		return cfg, fmt.Errorf("keygen: RSA keys must be at least 2048 bits")
	}
	return cfg, nil
}

// RunKeygen generates a PEM private key suitable for the file key directory.
// It needs no config or database.
func RunKeygen(cfg KeygenConfig, stdout io.Writer) error {
	var (
		pemData []byte
		err     error
	)
	switch cfg.Algorithm {
	case "RS256":
		pemData, err = cryptox.GenerateRSAKey(cfg.RSABits)
	case "ES256":
		pemData, err = cryptox.GenerateES256Key()
	case "EdDSA":
		pemData, err = cryptox.GenerateEd25519Key()
	}
	if err != nil {
		return fmt.Errorf("generate %s key: %w", cfg.Algorithm, err)
	}

	if cfg.Out == "" {
		_, err = stdout.Write(pemData)
		return err
	}
	if err := os.WriteFile(cfg.Out, pemData, 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	fmt.Fprintf(stdout, "wrote %s private key to %s\n", cfg.Algorithm, cfg.Out)
	return nil
}
