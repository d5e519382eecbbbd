package cli

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/northbridgehq/gatepass/internal/invite/app"
	"github.com/northbridgehq/gatepass/internal/invite/service"
)

// CreateConfig carries the flags for the create subcommand.
type CreateConfig struct {
	Email      string
	Company    string
	Contact    string
	Requester  string
	Department string
	CostCenter string
	ExpiryDays int
	Actor      string
}

// ParseCreateConfig parses create flags from args.
func ParseCreateConfig(args []string) (CreateConfig, error) {
	var cfg CreateConfig
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.StringVar(&cfg.Email, "email", "", "recipient email address (required)")
	fs.StringVar(&cfg.Company, "company", "", "supplier company name")
	fs.StringVar(&cfg.Contact, "contact", "", "supplier contact name")
	fs.StringVar(&cfg.Requester, "requester", "", "internal requester id")
	fs.StringVar(&cfg.Department, "department", "", "department code")
	fs.StringVar(&cfg.CostCenter, "cost-center", "", "cost center")
	fs.IntVar(&cfg.ExpiryDays, "expiry-days", 0, "token lifetime in days (0 = configured default)")
	fs.StringVar(&cfg.Actor, "actor", "cli", "acting operator recorded in the audit trail")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.Email == "" {
		return cfg, fmt.Errorf("create: -email is required")
	}
	return cfg, nil
}

// RunCreate issues a new invitation and prints the token and magic link.
func RunCreate(ctx context.Context, a *app.Application, cfg CreateConfig, stdout io.Writer) error {
	res, err := a.Orch.CreateInvitation(ctx, service.IssueRequest{
		RecipientEmail: cfg.Email,
		CompanyName:    cfg.Company,
		ContactName:    cfg.Contact,
		RequesterID:    cfg.Requester,
		RequesterName:  cfg.Actor,
		DepartmentCode: cfg.Department,
		CostCenter:     cfg.CostCenter,
		ExpiryDays:     cfg.ExpiryDays,
		CreatedBy:      cfg.Actor,
	})
	if err != nil {
		return err
	}
	return printJSON(stdout, map[string]any{
		"invitation": res.Invitation,
		"token":      res.Token,
		"link":       res.Link,
	})
}
