// Package cli implements the gatepass command line. Each subcommand is a
// ParseConfig/Run pair over the shared application wiring; outputs are JSON
// on stdout so the commands compose with scripts.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/northbridgehq/gatepass/internal/invite/app"
)

const usageText = `gatepass - invitation token lifecycle engine

Usage: gatepass <command> [flags]

Lifecycle:
  create      issue a new invitation token
  validate    run the validation pipeline on a presented token
  status      show one invitation with derived flags
  list        list invitations by state and/or recipient
  audit       print the audit trail for an invitation
  revoke      permanently invalidate an invitation
  resend      rotate an invitation's token and reset attempts
  consume     mark a validated invitation consumed (single use)
  fail        mark an invitation operationally failed
  mark        record delivery progress (sent, delivered, opened)
  sweep       run one housekeeping pass now

Keys:
  keygen      generate a PEM signing key for file mode
  rotate-key  mint a new signing key (optionally retiring the old)
  retire-key  retire one signing key by kid
  keys        list signing keys
  jwks        print the public JWKS document
`

// Run dispatches one subcommand. args excludes the program name.
func Run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		fmt.Fprint(stdout, usageText)
		return fmt.Errorf("missing command")
	}
	cmd, rest := args[0], args[1:]

	// keygen works without config or database.
	if cmd == "keygen" {
		cfg, err := ParseKeygenConfig(rest)
		if err != nil {
			return err
		}
		return RunKeygen(cfg, stdout)
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = application.Close() }()

	switch cmd {
	case "create":
		c, err := ParseCreateConfig(rest)
		if err != nil {
			return err
		}
		return RunCreate(ctx, application, c, stdout)
	case "validate":
		c, err := ParseValidateConfig(rest)
		if err != nil {
			return err
		}
		return RunValidate(ctx, application, c, stdout)
	case "status":
		c, err := ParseIDConfig("status", rest)
		if err != nil {
			return err
		}
		return RunStatus(ctx, application, c, stdout)
	case "list":
		c, err := ParseListConfig(rest)
		if err != nil {
			return err
		}
		return RunList(ctx, application, c, stdout)
	case "audit":
		c, err := ParseIDConfig("audit", rest)
		if err != nil {
			return err
		}
		return RunAudit(ctx, application, c, stdout)
	case "revoke":
		c, err := ParseRevokeConfig(rest)
		if err != nil {
			return err
		}
		return RunRevoke(ctx, application, c, stdout)
	case "resend":
		c, err := ParseResendConfig(rest)
		if err != nil {
			return err
		}
		return RunResend(ctx, application, c, stdout)
	case "consume":
		c, err := ParseActorIDConfig("consume", rest)
		if err != nil {
			return err
		}
		return RunConsume(ctx, application, c, stdout)
	case "fail":
		c, err := ParseFailConfig(rest)
		if err != nil {
			return err
		}
		return RunFail(ctx, application, c, stdout)
	case "mark":
		c, err := ParseMarkConfig(rest)
		if err != nil {
			return err
		}
		return RunMark(ctx, application, c, stdout)
	case "sweep":
		return RunSweep(ctx, application, stdout)
	case "rotate-key":
		c, err := ParseRotateKeyConfig(rest)
		if err != nil {
			return err
		}
		return RunRotateKey(ctx, application, c, stdout)
	case "retire-key":
		c, err := ParseRetireKeyConfig(rest)
		if err != nil {
			return err
		}
		return RunRetireKey(ctx, application, c, stdout)
	case "keys":
		return RunListKeys(ctx, application, stdout)
	case "jwks":
		return RunJWKS(application, stdout)
	default:
		fmt.Fprint(stdout, usageText)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
