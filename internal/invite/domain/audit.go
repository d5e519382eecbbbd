package domain

import "time"

// Audit event types. One event is emitted per operation outcome.
const (
	EventInvitationCreated     = "INVITATION_CREATED"
	EventInvitationSent        = "INVITATION_SENT"
	EventInvitationDelivered   = "INVITATION_DELIVERED"
	EventInvitationOpened      = "INVITATION_OPENED"
	EventTokenValidated        = "TOKEN_VALIDATED"
	EventTokenValidationFailed = "TOKEN_VALIDATION_FAILED"
	EventInvitationConsumed    = "INVITATION_CONSUMED"
	EventInvitationFailed      = "INVITATION_FAILED"
	EventTokenRevoked          = "TOKEN_REVOKED"
	EventInvitationResent      = "INVITATION_RESENT"
	EventInvitationExpired     = "INVITATION_EXPIRED"
)

// Audit outcomes.
const (
	OutcomeSuccess = "SUCCESS"
	OutcomeFailure = "FAILURE"
)

// AuditEvent is one append-only entry in the audit log.
type AuditEvent struct {
	ID             string // ULID, time-ordered
	EventType      string
	InvitationID   string
	RecipientEmail string
	Actor          string
	Outcome        string
	ErrorCode      *string // taxonomy code on failure, nil on success
	DetailsJSON    string
	OccurredAt     time.Time
}
