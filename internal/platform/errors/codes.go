// Package errors provides the typed error taxonomy for the invitation
// engine. Every rejected path carries a stable machine-readable code so
// callers can tell "reject this token" apart from "retry the check".
package errors

// Code is a machine-readable error code.
type Code string

// Issuance and lifecycle errors.
const (
	// CodeInvalidInput reports a missing or malformed issuance input,
	// typically the recipient email.
	CodeInvalidInput Code = "INVALID_INPUT"

	// CodeInvalidExpiry reports an expiry-days value outside the
	// configured bounds.
	CodeInvalidExpiry Code = "INVALID_EXPIRY"

	// CodeDuplicateActive reports an active invitation already
	// outstanding for the recipient email.
	CodeDuplicateActive Code = "DUPLICATE_ACTIVE"

	// CodeCreationRateLimited reports the caller exceeded the creation
	// quota for the window.
	CodeCreationRateLimited Code = "CREATION_RATE_LIMITED"

	// CodeAlreadyRevoked reports a revoke against a record that is
	// already revoked.
	CodeAlreadyRevoked Code = "ALREADY_REVOKED"

	// CodeCannotResendConsumed reports a resend against a consumed
	// record; consumption is final.
	CodeCannotResendConsumed Code = "CANNOT_RESEND_CONSUMED"

	// CodeInvalidState reports a lifecycle operation attempted from a
	// state its transition table does not allow.
	CodeInvalidState Code = "INVALID_STATE"
)

// Validation errors.
const (
	// CodeMissingToken reports an empty or whitespace-only token.
	CodeMissingToken Code = "MISSING_TOKEN"

	// CodeInvalidFormat reports a token that is not a three-segment JWT.
	CodeInvalidFormat Code = "INVALID_FORMAT"

	// CodeSignatureInvalid reports a signature that failed verification,
	// including unknown-key and algorithm-mismatch cases.
	CodeSignatureInvalid Code = "SIGNATURE_INVALID"

	// CodeTokenExpired reports an expired token, whether by signed exp
	// claim or by the persisted expiry cross-check.
	CodeTokenExpired Code = "TOKEN_EXPIRED"

	// CodeInvalidClaims reports a verified token missing required claims.
	CodeInvalidClaims Code = "INVALID_CLAIMS"

	// CodeNotFound reports no record for the presented token hash or id.
	CodeNotFound Code = "NOT_FOUND"

	// CodeAlreadyConsumed reports a token whose record is consumed.
	CodeAlreadyConsumed Code = "ALREADY_CONSUMED"

	// CodeRevoked reports a token whose record was revoked.
	CodeRevoked Code = "REVOKED"

	// CodeRateLimitExceeded reports too many validation attempts.
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"

	// CodeDatabaseError reports a store failure or a lost concurrent
	// update. Transient; the only retryable code.
	CodeDatabaseError Code = "DATABASE_ERROR"

	// CodeUnknown covers anything the taxonomy does not name.
	CodeUnknown Code = "UNKNOWN_ERROR"
)
