package cli

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/northbridgehq/gatepass/internal/invite/app"
)

// ValidateConfig carries the flags for the validate subcommand.
type ValidateConfig struct {
	Token    string
	CallerIP string
}

// ParseValidateConfig parses validate flags from args.
func ParseValidateConfig(args []string) (ValidateConfig, error) {
	var cfg ValidateConfig
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.StringVar(&cfg.Token, "token", "", "presented invitation token (required)")
	fs.StringVar(&cfg.CallerIP, "caller-ip", "", "caller IP recorded on success")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.Token == "" {
		return cfg, fmt.Errorf("validate: -token is required")
	}
	return cfg, nil
}

// RunValidate runs the full validation pipeline on the presented token.
// Failures surface the taxonomy error code on stderr via the returned error.
func RunValidate(ctx context.Context, a *app.Application, cfg ValidateConfig, stdout io.Writer) error {
	res, err := a.Validator.Validate(ctx, cfg.Token, cfg.CallerIP)
	if err != nil {
		return err
	}
	return printJSON(stdout, map[string]any{
		"claims":     res.Claims,
		"invitation": res.Invitation,
	})
}
