package cli

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/northbridgehq/gatepass/internal/invite/app"
	"github.com/northbridgehq/gatepass/internal/invite/domain"
	"github.com/northbridgehq/gatepass/internal/invite/store"
)

// IDConfig is the shared shape for subcommands that only need an invitation id.
type IDConfig struct {
	ID string
}

// ParseIDConfig parses a bare -id flag for the named subcommand.
func ParseIDConfig(name string, args []string) (IDConfig, error) {
	var cfg IDConfig
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&cfg.ID, "id", "", "invitation id (required)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.ID == "" {
		return cfg, fmt.Errorf("%s: -id is required", name)
	}
	return cfg, nil
}

// ActorIDConfig adds an acting operator to IDConfig.
type ActorIDConfig struct {
	ID    string
	Actor string
}

// ParseActorIDConfig parses -id and -actor for the named subcommand.
func ParseActorIDConfig(name string, args []string) (ActorIDConfig, error) {
	var cfg ActorIDConfig
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&cfg.ID, "id", "", "invitation id (required)")
	fs.StringVar(&cfg.Actor, "actor", "cli", "acting operator recorded in the audit trail")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.ID == "" {
		return cfg, fmt.Errorf("%s: -id is required", name)
	}
	return cfg, nil
}

// RunStatus prints one invitation with its derived activity flags.
func RunStatus(ctx context.Context, a *app.Application, cfg IDConfig, stdout io.Writer) error {
	st, err := a.Orch.GetStatus(ctx, cfg.ID)
	if err != nil {
		return err
	}
	return printJSON(stdout, map[string]any{
		"invitation": st.Invitation,
		"is_active":  st.IsActive,
		"is_expired": st.IsExpired,
	})
}

// RevokeConfig carries the flags for the revoke subcommand.
type RevokeConfig struct {
	ID     string
	Actor  string
	Reason string
}

// ParseRevokeConfig parses revoke flags from args.
func ParseRevokeConfig(args []string) (RevokeConfig, error) {
	var cfg RevokeConfig
	fs := flag.NewFlagSet("revoke", flag.ContinueOnError)
	fs.StringVar(&cfg.ID, "id", "", "invitation id (required)")
	fs.StringVar(&cfg.Actor, "actor", "cli", "acting operator recorded in the audit trail")
	fs.StringVar(&cfg.Reason, "reason", "", "revocation reason (required)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.ID == "" {
		return cfg, fmt.Errorf("revoke: -id is required")
	}
	if cfg.Reason == "" {
		return cfg, fmt.Errorf("revoke: -reason is required")
	}
	return cfg, nil
}

// RunRevoke permanently invalidates an invitation.
func RunRevoke(ctx context.Context, a *app.Application, cfg RevokeConfig, stdout io.Writer) error {
	if err := a.Orch.RevokeInvitation(ctx, cfg.ID, cfg.Actor, cfg.Reason); err != nil {
		return err
	}
	return printJSON(stdout, map[string]any{"id": cfg.ID, "revoked": true})
}

// ResendConfig carries the flags for the resend subcommand.
type ResendConfig struct {
	ID         string
	Actor      string
	ExpiryDays int
}

// ParseResendConfig parses resend flags from args.
func ParseResendConfig(args []string) (ResendConfig, error) {
	var cfg ResendConfig
	fs := flag.NewFlagSet("resend", flag.ContinueOnError)
	fs.StringVar(&cfg.ID, "id", "", "invitation id (required)")
	fs.StringVar(&cfg.Actor, "actor", "cli", "acting operator recorded in the audit trail")
	fs.IntVar(&cfg.ExpiryDays, "expiry-days", 0, "new token lifetime in days (0 = configured default)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.ID == "" {
		return cfg, fmt.Errorf("resend: -id is required")
	}
	return cfg, nil
}

// RunResend rotates the invitation's token. The old token stops resolving the
// moment the new one is stored.
func RunResend(ctx context.Context, a *app.Application, cfg ResendConfig, stdout io.Writer) error {
	res, err := a.Orch.ResendInvitation(ctx, cfg.ID, cfg.ExpiryDays, cfg.Actor)
	if err != nil {
		return err
	}
	return printJSON(stdout, map[string]any{
		"invitation": res.Invitation,
		"token":      res.Token,
		"link":       res.Link,
	})
}

// RunConsume marks a validated invitation consumed.
func RunConsume(ctx context.Context, a *app.Application, cfg ActorIDConfig, stdout io.Writer) error {
	if err := a.Orch.ConsumeInvitation(ctx, cfg.ID, cfg.Actor); err != nil {
		return err
	}
	return printJSON(stdout, map[string]any{"id": cfg.ID, "consumed": true})
}

// FailConfig carries the flags for the fail subcommand.
type FailConfig struct {
	ID     string
	Actor  string
	Reason string
}

// ParseFailConfig parses fail flags from args.
func ParseFailConfig(args []string) (FailConfig, error) {
	var cfg FailConfig
	fs := flag.NewFlagSet("fail", flag.ContinueOnError)
	fs.StringVar(&cfg.ID, "id", "", "invitation id (required)")
	fs.StringVar(&cfg.Actor, "actor", "cli", "acting operator recorded in the audit trail")
	fs.StringVar(&cfg.Reason, "reason", "", "failure reason (required)")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.ID == "" {
		return cfg, fmt.Errorf("fail: -id is required")
	}
	if cfg.Reason == "" {
		return cfg, fmt.Errorf("fail: -reason is required")
	}
	return cfg, nil
}

// RunFail marks an invitation operationally failed.
func RunFail(ctx context.Context, a *app.Application, cfg FailConfig, stdout io.Writer) error {
	if err := a.Orch.FailInvitation(ctx, cfg.ID, cfg.Actor, cfg.Reason); err != nil {
		return err
	}
	return printJSON(stdout, map[string]any{"id": cfg.ID, "failed": true})
}

// MarkConfig carries the flags for the mark subcommand.
type MarkConfig struct {
	ID    string
	Stage string
	Actor string
}

// ParseMarkConfig parses mark flags from args. Stage must be one of
// sent, delivered or opened.
func ParseMarkConfig(args []string) (MarkConfig, error) {
	var cfg MarkConfig
	fs := flag.NewFlagSet("mark", flag.ContinueOnError)
	fs.StringVar(&cfg.ID, "id", "", "invitation id (required)")
	fs.StringVar(&cfg.Stage, "stage", "", "delivery stage: sent, delivered or opened (required)")
	fs.StringVar(&cfg.Actor, "actor", "cli", "acting operator recorded in the audit trail")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.ID == "" {
		return cfg, fmt.Errorf("mark: -id is required")
	}
	switch cfg.Stage {
	case "sent", "delivered", "opened":
	default:
		return cfg, fmt.Errorf("mark: -stage must be sent, delivered or opened, got %q", cfg.Stage)
	}
	return cfg, nil
}

// RunMark records delivery progress for an invitation.
func RunMark(ctx context.Context, a *app.Application, cfg MarkConfig, stdout io.Writer) error {
	var err error
	switch cfg.Stage {
	case "sent":
		err = a.Orch.MarkSent(ctx, cfg.ID, cfg.Actor)
	case "delivered":
		err = a.Orch.MarkDelivered(ctx, cfg.ID, cfg.Actor)
	case "opened":
		err = a.Orch.MarkOpened(ctx, cfg.ID, cfg.Actor)
	}
	if err != nil {
		return err
	}
	return printJSON(stdout, map[string]any{"id": cfg.ID, "stage": cfg.Stage})
}

// ListConfig carries the flags for the list subcommand.
type ListConfig struct {
	State string
	Email string
	Limit int
}

// ParseListConfig parses list flags from args.
func ParseListConfig(args []string) (ListConfig, error) {
	var cfg ListConfig
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.StringVar(&cfg.State, "state", "", "filter by lifecycle state label (e.g. CREATED)")
	fs.StringVar(&cfg.Email, "email", "", "filter by recipient email")
	fs.IntVar(&cfg.Limit, "limit", 50, "maximum rows returned")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.State != "" {
		if _, err := domain.StateFromLabel(cfg.State); err != nil {
			return cfg, fmt.Errorf("list: %w", err)
		}
	}
	return cfg, nil
}

// RunList lists invitations newest first.
func RunList(ctx context.Context, a *app.Application, cfg ListConfig, stdout io.Writer) error {
	filter := store.ListFilter{RecipientEmail: cfg.Email, Limit: cfg.Limit}
	if cfg.State != "" {
		st, err := domain.StateFromLabel(cfg.State)
		if err != nil {
			return err
		}
		filter.State = &st
	}
	invs, err := a.Orch.ListInvitations(ctx, filter)
	if err != nil {
		return err
	}
	return printJSON(stdout, map[string]any{"count": len(invs), "invitations": invs})
}

// RunAudit prints the ordered audit trail for one invitation.
func RunAudit(ctx context.Context, a *app.Application, cfg IDConfig, stdout io.Writer) error {
	events, err := a.Orch.AuditTrail(ctx, cfg.ID, 0)
	if err != nil {
		return err
	}
	return printJSON(stdout, map[string]any{"count": len(events), "events": events})
}

// RunSweep runs one housekeeping pass and reports how many invitations
// transitioned to EXPIRED.
func RunSweep(ctx context.Context, a *app.Application, stdout io.Writer) error {
	n := a.Sweeper.Sweep(ctx)
	return printJSON(stdout, map[string]any{"expired": n})
}
