package service

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/northbridgehq/gatepass/internal/invite/domain"
	inviteerr "github.com/northbridgehq/gatepass/internal/platform/errors"
	"github.com/northbridgehq/gatepass/pkg/cryptox"
	"github.com/northbridgehq/gatepass/pkg/jwtx"
)

// SignerSource yields the current signing key. The KeyManager satisfies it;
// tests can plug a fixed signer.
type SignerSource interface {
	GetSigner() jwtx.Signer
}

// IssuerConfig carries the issuance policy. Issuer/Audience land in the
// signed claims; the expiry bounds clamp the per-request expiryDays input.
type IssuerConfig struct {
	Issuer   string
	Subject  string
	Audience []string
	Scope    []string

	// BaseURL is the portal URL magic links point at.
	BaseURL string

	DefaultExpiryDays int
	MinExpiryDays     int
	MaxExpiryDays     int
}

// IssueRequest is the input for one token issuance.
type IssueRequest struct {
	RecipientEmail string
	CompanyName    string
	ContactName    string
	RequesterID    string
	RequesterName  string
	DepartmentCode string
	CostCenter     string

	// ExpiryDays of 0 means "use the configured default". Out-of-bounds
	// values are rejected, not clamped silently.
	ExpiryDays int

	// CreatedBy is the operator or system actor issuing the invitation.
	CreatedBy string
}

// IssueResult pairs the raw signed token with the record snapshot. The raw
// token is returned exactly once; only its hash is persisted.
type IssueResult struct {
	Token      string
	Link       string
	Invitation domain.Invitation
}

// Issuer mints signed invitation tokens. Pure apart from the clock, the RNG
// behind ids, and the signing key.
type Issuer struct {
	cfg  IssuerConfig
	keys SignerSource
	now  func() time.Time
}

func NewIssuer(cfg IssuerConfig, keys SignerSource) *Issuer {
	return &Issuer{cfg: cfg, keys: keys, now: time.Now}
}

// WithClock overrides the clock. Test hook.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Issue validates the request, signs a fresh token, and returns it with a
// CREATED record snapshot. Nothing is persisted here; the Orchestrator owns
// the store write. The invitation id names the business record; the jti
// names this token and changes on every resend.
func (i *Issuer) Issue(req IssueRequest) (IssueResult, error) {
	return i.issueFor(uuid.NewString(), req)
}

// issueFor mints a token bound to an existing invitation id. Resend reuses
// the record id so the new token still resolves to the same record.
func (i *Issuer) issueFor(invitationID string, req IssueRequest) (IssueResult, error) {
	// 1. Validate the recipient email.
	if err := validateEmail(req.RecipientEmail); err != nil {
		return IssueResult{}, err
	}

	// 2. Resolve and bound the expiry window.
	expiryDays, err := i.resolveExpiryDays(req.ExpiryDays)
	if err != nil {
		return IssueResult{}, err
	}

	now := i.now().UTC()
	ttl := time.Duration(expiryDays) * 24 * time.Hour

	// 3. Build and sign the claims.
	claims := jwtx.NewInviteClaims(jwtx.InviteParams{
		InvitationID:   invitationID,
		SupplierEmail:  req.RecipientEmail,
		CompanyName:    req.CompanyName,
		ContactName:    req.ContactName,
		RequesterID:    req.RequesterID,
		RequesterName:  req.RequesterName,
		DepartmentCode: req.DepartmentCode,
		CostCenter:     req.CostCenter,
		Issuer:         i.cfg.Issuer,
		Subject:        i.cfg.Subject,
		Audience:       i.cfg.Audience,
		Scope:          i.cfg.Scope,
		TTL:            ttl,
		InitialState:   domain.StateCreated.String(),
		Now:            now,
	})

	signer := i.keys.GetSigner()
	if signer == nil {
		return IssueResult{}, inviteerr.New(inviteerr.CodeUnknown, "no signing key available")
	}

	token, err := signer.Sign(claims)
	if err != nil {
		return IssueResult{}, inviteerr.Wrap(inviteerr.CodeUnknown, "signing failed", err)
	}

	// 4. Fingerprint for storage; the raw token never touches the store.
	hash := cryptox.FingerprintToken(token)

	snapshot, err := json.Marshal(claims)
	if err != nil {
		return IssueResult{}, inviteerr.Wrap(inviteerr.CodeUnknown, "claims snapshot failed", err)
	}

	inv := domain.Invitation{
		ID:             invitationID,
		RecipientEmail: req.RecipientEmail,
		CompanyName:    req.CompanyName,
		ContactName:    req.ContactName,
		TokenHash:      hash,
		ClaimsSnapshot: string(snapshot),
		State:          domain.StateCreated,
		IssuedAt:       now,
		ExpiresAt:      now.Add(ttl),
		CreatedBy:      req.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	return IssueResult{
		Token:      token,
		Link:       FormatLink(i.cfg.BaseURL, token),
		Invitation: inv,
	}, nil
}

func (i *Issuer) resolveExpiryDays(days int) (int, error) {
	if days == 0 {
		return i.cfg.DefaultExpiryDays, nil
	}
	if days < i.cfg.MinExpiryDays || days > i.cfg.MaxExpiryDays {
		return 0, inviteerr.Newf(inviteerr.CodeInvalidExpiry,
			"expiry days %d outside [%d, %d]", days, i.cfg.MinExpiryDays, i.cfg.MaxExpiryDays).
			WithDetails(map[string]any{
				"expiry_days": days,
				"min":         i.cfg.MinExpiryDays,
				"max":         i.cfg.MaxExpiryDays,
			})
	}
	return days, nil
}

// validateEmail applies RFC 5322 parsing plus a domain-dot requirement, so
// bare hostnames like "a@localhost" don't slip through.
func validateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return inviteerr.New(inviteerr.CodeInvalidInput, "recipient email is required")
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return inviteerr.Newf(inviteerr.CodeInvalidInput, "invalid recipient email %q", email)
	}

	at := strings.LastIndex(addr.Address, "@")
	if at < 0 || !strings.Contains(addr.Address[at+1:], ".") {
		return inviteerr.Newf(inviteerr.CodeInvalidInput, "invalid recipient email %q", email)
	}
	return nil
}

// FormatLink renders the magic link. Pure function, no I/O.
func FormatLink(baseURL, token string) string {
	return fmt.Sprintf("%s?token=%s", baseURL, url.QueryEscape(token))
}
