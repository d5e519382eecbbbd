package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/northbridgehq/gatepass/internal/invite/domain"
	"github.com/northbridgehq/gatepass/internal/invite/store"
	inviteerr "github.com/northbridgehq/gatepass/internal/platform/errors"
	"github.com/northbridgehq/gatepass/pkg/cryptox"
	"github.com/northbridgehq/gatepass/pkg/jwtx"
	"github.com/northbridgehq/gatepass/pkg/slogx"
)

// DefaultMaxValidationAttempts bounds validations per token value. Resend
// issues a fresh token and zeroes the counter.
const DefaultMaxValidationAttempts = 5

// ValidatorConfig carries the validation policy.
type ValidatorConfig struct {
	MaxAttempts int
}

// ValidationResult reports a successful validation: the verified claims plus
// the post-transition record snapshot.
type ValidationResult struct {
	Claims     jwtx.Claims
	Invitation domain.Invitation
}

// Validator runs the ordered token-validation pipeline. Checks short-circuit
// on first failure; structural and cryptographic checks (steps before the
// record lookup) never touch the store.
type Validator struct {
	cfg      ValidatorConfig
	verifier jwtx.Verifier
	store    store.Store
	audit    AuditSink
	now      func() time.Time
}

func NewValidator(cfg ValidatorConfig, verifier jwtx.Verifier, st store.Store, audit AuditSink) *Validator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxValidationAttempts
	}
	return &Validator{
		cfg:      cfg,
		verifier: verifier,
		store:    st,
		audit:    audit,
		now:      time.Now,
	}
}

// WithClock overrides the clock. Test hook.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Validate runs the full pipeline for one presented token. callerIP is
// recorded on success and may be empty. Exactly one audit event is emitted
// per call, success or failure.
func (v *Validator) Validate(ctx context.Context, token, callerIP string) (ValidationResult, error) {
	log := slogx.FromContext(ctx)

	result, inv, verr := v.validate(ctx, token, callerIP)
	if verr != nil {
		code := string(inviteerr.CodeOf(verr))
		emitAudit(ctx, v.audit, auditEvent(domain.EventTokenValidationFailed, inv,
			actorFor(inv), domain.OutcomeFailure, &code, failureDetails(verr)))

		log.Warn("token validation failed",
			slog.String("code", code),
			slog.Any("error", verr),
		)
		return ValidationResult{}, verr
	}

	emitAudit(ctx, v.audit, auditEvent(domain.EventTokenValidated, &result.Invitation,
		result.Invitation.RecipientEmail, domain.OutcomeSuccess, nil, map[string]any{
			"attempts": result.Invitation.ValidationAttempts,
		}))

	log.Info("token validated",
		slog.String("invitation_id", result.Invitation.ID),
		slog.Int("attempts", result.Invitation.ValidationAttempts),
	)
	return result, nil
}

// validate is the pipeline body. It returns the record (when one was found)
// so the caller can attribute the audit event even on failure.
func (v *Validator) validate(ctx context.Context, token, callerIP string) (ValidationResult, *domain.Invitation, error) {
	// 1. Structural check. Whitespace-only is "missing", a wrong segment
	// count is "not a JWT"; neither touches the store.
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return ValidationResult{}, nil, inviteerr.New(inviteerr.CodeMissingToken, "token is required")
	}
	if strings.Count(trimmed, ".") != 2 {
		return ValidationResult{}, nil, inviteerr.New(inviteerr.CodeInvalidFormat, "token is not a three-segment JWT")
	}

	// 2-4. Signature, signed expiry, and required claims. The verifier
	// runs these in pipeline order and reports the earliest failure.
	claims, err := v.verifier.Verify(trimmed)
	if err != nil {
		return ValidationResult{}, nil, mapVerifyError(err)
	}

	// 5. Record lookup by token fingerprint.
	hash := cryptox.FingerprintToken(trimmed)
	inv, err := v.store.Invitations().GetInvitationByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ValidationResult{}, nil, inviteerr.New(inviteerr.CodeNotFound, "no invitation for token")
		}
		return ValidationResult{}, nil, inviteerr.Wrap(inviteerr.CodeDatabaseError, "invitation lookup failed", err)
	}

	// 6. State check. Terminal states reject; the attempt counter still
	// increments so abuse against dead tokens stays visible.
	if rejectErr := stateRejection(inv.State); rejectErr != nil {
		v.bumpAttempts(ctx, &inv)
		return ValidationResult{}, &inv, rejectErr
	}

	// 7. Persisted expiry cross-check. Defends against clock skew between
	// the signing and validating hosts. An overdue record transitions to
	// EXPIRED right here rather than waiting for the next sweep.
	now := v.now().UTC()
	if inv.IsExpired(now) {
		v.expire(ctx, &inv)
		return ValidationResult{}, &inv, inviteerr.New(inviteerr.CodeTokenExpired, "invitation expired").
			WithDetails(map[string]any{"expires_at": inv.ExpiresAt.Format(time.RFC3339)})
	}

	// 8. Attempt rate limit.
	if inv.ValidationAttempts >= v.cfg.MaxAttempts {
		v.bumpAttempts(ctx, &inv)
		return ValidationResult{}, &inv, inviteerr.Newf(inviteerr.CodeRateLimitExceeded,
			"validation attempts exhausted (%d)", v.cfg.MaxAttempts).
			WithDetails(map[string]any{"max_attempts": v.cfg.MaxAttempts})
	}

	// 9. Success transition. One conditional write covers the state, the
	// counter, and the validated-at fields; a lost race is surfaced, not
	// retried.
	ok, err := v.store.Invitations().UpdateStateAndAttempts(ctx, inv.ID,
		inv.State, domain.StateValidated,
		inv.ValidationAttempts, 1,
		store.UpdateFields{
			LastValidatedAt: &now,
			LastValidatedIP: optionalString(callerIP),
		})
	if err != nil {
		return ValidationResult{}, &inv, inviteerr.Wrap(inviteerr.CodeDatabaseError, "validation update failed", err)
	}
	if !ok {
		return ValidationResult{}, &inv, inviteerr.New(inviteerr.CodeDatabaseError, "concurrent update lost").
			WithDetails(map[string]any{"conflict": true})
	}

	inv.State = domain.StateValidated
	inv.ValidationAttempts++
	inv.LastValidatedAt = &now
	inv.LastValidatedIP = optionalString(callerIP)

	return ValidationResult{Claims: claims, Invitation: inv}, &inv, nil
}

// expire applies the overdue transition at presentation time: active state
// to EXPIRED plus the attempt increment, one conditional write. A lost race
// means a concurrent validator or the sweeper already moved the record.
func (v *Validator) expire(ctx context.Context, inv *domain.Invitation) {
	ok, err := v.store.Invitations().UpdateStateAndAttempts(ctx, inv.ID,
		inv.State, domain.StateExpired, inv.ValidationAttempts, 1, store.UpdateFields{})
	if err != nil {
		slogx.FromContext(ctx).Warn("expiry transition failed",
			slog.String("invitation_id", inv.ID),
			slog.Any("error", err),
		)
		return
	}
	if ok {
		inv.State = domain.StateExpired
		inv.ValidationAttempts++
	}
}

// bumpAttempts counter-only CAS: same state in and out, +1 attempts. A lost
// race just means someone else already counted; not an error.
func (v *Validator) bumpAttempts(ctx context.Context, inv *domain.Invitation) {
	ok, err := v.store.Invitations().UpdateStateAndAttempts(ctx, inv.ID,
		inv.State, inv.State, inv.ValidationAttempts, 1, store.UpdateFields{})
	if err != nil {
		slogx.FromContext(ctx).Warn("attempt increment failed",
			slog.String("invitation_id", inv.ID),
			slog.Any("error", err),
		)
		return
	}
	if ok {
		inv.ValidationAttempts++
	}
}

// stateRejection maps a non-validatable persisted state to its taxonomy
// error. Active states return nil.
func stateRejection(s domain.State) error {
	switch s {
	case domain.StateConsumed:
		return inviteerr.New(inviteerr.CodeAlreadyConsumed, "invitation already consumed")
	case domain.StateRevoked:
		return inviteerr.New(inviteerr.CodeRevoked, "invitation revoked")
	case domain.StateExpired:
		return inviteerr.New(inviteerr.CodeTokenExpired, "invitation expired")
	case domain.StateFailed:
		return inviteerr.New(inviteerr.CodeUnknown, "invitation in unexpected state").
			WithDetails(map[string]any{"state": s.String()})
	default:
		return nil
	}
}

// mapVerifyError folds jwtx sentinels onto taxonomy codes, preserving the
// pipeline's failure ordering.
func mapVerifyError(err error) error {
	switch {
	case errors.Is(err, jwtx.ErrMalformed):
		return inviteerr.Wrap(inviteerr.CodeInvalidFormat, "malformed token", err)
	case errors.Is(err, jwtx.ErrExpired):
		return inviteerr.Wrap(inviteerr.CodeTokenExpired, "token expired", err)
	case errors.Is(err, jwtx.ErrAlgMismatch),
		errors.Is(err, jwtx.ErrUnknownKID),
		errors.Is(err, jwtx.ErrInvalidSig):
		return inviteerr.Wrap(inviteerr.CodeSignatureInvalid, "signature verification failed", err)
	case errors.Is(err, jwtx.ErrIssuer),
		errors.Is(err, jwtx.ErrAudience),
		errors.Is(err, jwtx.ErrNotYetValid),
		errors.Is(err, jwtx.ErrInvalidClaim):
		return inviteerr.Wrap(inviteerr.CodeInvalidClaims, "claims validation failed", err)
	default:
		return inviteerr.Wrap(inviteerr.CodeUnknown, "token verification failed", err)
	}
}

func failureDetails(err error) map[string]any {
	var ie *inviteerr.Error
	if errors.As(err, &ie) && len(ie.Details) > 0 {
		return ie.Details
	}
	return nil
}

// actorFor attributes failure events. Before the record lookup succeeds
// there is no recipient to attribute, so the presenter stays anonymous.
func actorFor(inv *domain.Invitation) string {
	if inv != nil {
		return inv.RecipientEmail
	}
	return "anonymous"
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
