package store

import (
	"context"
	"errors"
	"time"

	"github.com/northbridgehq/gatepass/internal/invite/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
	// ErrConflict reports a lost conditional update: the record's state or
	// attempt counter moved between the caller's read and its write.
	ErrConflict = errors.New("store: conflict")
)

// Store is the root data access interface. Concrete drivers (sqlite,
// postgres) implement this. It exposes sub-repositories to keep concerns
// tidy and testable.
type Store interface {
	Invitations() Invitations
	AuditEvents() AuditEvents
	SigningKeys() SigningKeys

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, rolling back when fn
	// returns an error and committing otherwise. The recommended way to
	// do multi-step atomic operations.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources (optional for sqlite).
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds
// Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// UpdateFields carries the optional column writes that ride along with a
// conditional state/attempts update. Nil pointers leave columns untouched.
type UpdateFields struct {
	LastValidatedAt *time.Time
	LastValidatedIP *string

	RevokedAt     *time.Time
	RevokedBy     *string
	RevokedReason *string

	ConsumedAt   *time.Time
	FailedReason *string

	// Resend replaces the token in place.
	TokenHash      *string
	ClaimsSnapshot *string
	IssuedAt       *time.Time
	ExpiresAt      *time.Time

	// ResetAttempts zeroes validation_attempts instead of applying the
	// delta. Only resend uses this.
	ResetAttempts bool
}

// ListFilter narrows ListInvitations. Zero values mean "any".
type ListFilter struct {
	State          *domain.State
	RecipientEmail string
	Limit          int
}

type Invitations interface {
	// CreateInvitation inserts a new record. ErrAlreadyExists reports a
	// token-hash collision or a second active invitation for the same
	// recipient (both are unique-constraint backed).
	CreateInvitation(ctx context.Context, inv domain.Invitation) error

	// GetInvitationByID fetches a record by its invitation id.
	GetInvitationByID(ctx context.Context, id string) (domain.Invitation, error)

	// GetInvitationByTokenHash fetches a record by the SHA-256 hex digest
	// of the presented token.
	GetInvitationByTokenHash(ctx context.Context, hash string) (domain.Invitation, error)

	// GetActiveInvitationByRecipient returns the single active-state
	// record for the email, if any.
	GetActiveInvitationByRecipient(ctx context.Context, email string) (domain.Invitation, error)

	// UpdateStateAndAttempts is the atomic conditional update every state
	// transition goes through. The write applies only when the persisted
	// state still equals expectedState AND validation_attempts still
	// equals expectedAttempts; otherwise it reports false and writes
	// nothing. attemptsDelta is added to the counter (ignored when
	// fields.ResetAttempts is set) and updated_at is bumped. New state,
	// counter, and extra fields land in one statement so a concurrent
	// loser can never half-apply.
	UpdateStateAndAttempts(
		ctx context.Context,
		id string,
		expectedState, newState domain.State,
		expectedAttempts, attemptsDelta int,
		fields UpdateFields,
	) (bool, error)

	// ListInvitations returns records matching the filter, newest first.
	ListInvitations(ctx context.Context, filter ListFilter) ([]domain.Invitation, error)

	// ListExpiredActive returns active-state records whose expires_at is
	// at or before now, oldest first, capped at limit. The sweeper's
	// work queue.
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]domain.Invitation, error)

	// CountCreatedBy counts records created by the actor since the given
	// instant. Backs the store-based creation rate limiter.
	CountCreatedBy(ctx context.Context, actor string, since time.Time) (int, error)
}

type AuditEvents interface {
	// AppendAuditEvent inserts one event. The table is append-only;
	// there are no update or delete operations.
	AppendAuditEvent(ctx context.Context, ev domain.AuditEvent) error

	// ListAuditEvents returns events for an invitation, oldest first,
	// capped at limit (0 means a sane default).
	ListAuditEvents(ctx context.Context, invitationID string, limit int) ([]domain.AuditEvent, error)
}

type SigningKeys interface {
	// CreateSigningKey stores a new signing key with encrypted private
	// key material.
	CreateSigningKey(ctx context.Context, key domain.SigningKey) error

	// GetSigningKeyByKid fetches a signing key by its key identifier.
	GetSigningKeyByKid(ctx context.Context, kid string) (domain.SigningKey, error)

	// ListActiveSigningKeys returns all non-retired, non-expired signing
	// keys ordered by creation date (newest first).
	ListActiveSigningKeys(ctx context.Context) ([]domain.SigningKey, error)

	// ListAllSigningKeys returns all signing keys (including retired and
	// expired) ordered by creation date (newest first). Used for
	// verification during the grace period.
	ListAllSigningKeys(ctx context.Context) ([]domain.SigningKey, error)

	// RetireSigningKey marks a key as retired (sets retired_at). Retired
	// keys still verify but stop signing.
	RetireSigningKey(ctx context.Context, kid string) error

	// DeleteExpiredSigningKeys removes keys past expires_at. Key records
	// are operational material, not business records, so the sweeper may
	// delete them.
	DeleteExpiredSigningKeys(ctx context.Context) error
}
