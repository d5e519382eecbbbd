package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/northbridgehq/gatepass/internal/invite/domain"
	"github.com/northbridgehq/gatepass/internal/invite/store"
)

type invitationsRepo struct {
	db dbtx
}

const invitationColumns = `id, recipient_email, company_name, contact_name, token_hash,
	claims_snapshot, state, issued_at, expires_at, validation_attempts,
	last_validated_at, last_validated_ip, revoked_at, revoked_by, revoked_reason,
	consumed_at, failed_reason, created_by, created_at, updated_at`

func (r *invitationsRepo) CreateInvitation(ctx context.Context, inv domain.Invitation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO invitations (`+invitationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID,
		inv.RecipientEmail,
		inv.CompanyName,
		inv.ContactName,
		inv.TokenHash,
		inv.ClaimsSnapshot,
		inv.State.String(),
		inv.IssuedAt,
		inv.ExpiresAt,
		inv.ValidationAttempts,
		mapOptionalTime(inv.LastValidatedAt),
		mapOptionalString(inv.LastValidatedIP),
		mapOptionalTime(inv.RevokedAt),
		mapOptionalString(inv.RevokedBy),
		mapOptionalString(inv.RevokedReason),
		mapOptionalTime(inv.ConsumedAt),
		mapOptionalString(inv.FailedReason),
		inv.CreatedBy,
		inv.CreatedAt,
		inv.UpdatedAt,
	)
	return mapConstraint(err)
}

func (r *invitationsRepo) GetInvitationByID(ctx context.Context, id string) (domain.Invitation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE id = ?`, id)
	return scanInvitation(row)
}

func (r *invitationsRepo) GetInvitationByTokenHash(ctx context.Context, hash string) (domain.Invitation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE token_hash = ?`, hash)
	return scanInvitation(row)
}

func (r *invitationsRepo) GetActiveInvitationByRecipient(ctx context.Context, email string) (domain.Invitation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations
		 WHERE recipient_email = ?
		   AND state IN ('CREATED','SENT','DELIVERED','OPENED','VALIDATED')`, email)
	return scanInvitation(row)
}

// UpdateStateAndAttempts performs the conditional write in a single UPDATE
// guarded on both the state label and the attempt counter. RowsAffected == 0
// means a concurrent writer won and nothing was changed.
func (r *invitationsRepo) UpdateStateAndAttempts(
	ctx context.Context,
	id string,
	expectedState, newState domain.State,
	expectedAttempts, attemptsDelta int,
	fields store.UpdateFields,
) (bool, error) {
	sets := []string{"state = ?", "updated_at = ?"}
	args := []any{newState.String(), time.Now().UTC()}

	if fields.ResetAttempts {
		sets = append(sets, "validation_attempts = 0")
	} else if attemptsDelta != 0 {
		sets = append(sets, fmt.Sprintf("validation_attempts = validation_attempts + %d", attemptsDelta))
	}

	appendSet := func(col string, val any) {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}

	if fields.LastValidatedAt != nil {
		appendSet("last_validated_at", *fields.LastValidatedAt)
	}
	if fields.LastValidatedIP != nil {
		appendSet("last_validated_ip", *fields.LastValidatedIP)
	}
	if fields.RevokedAt != nil {
		appendSet("revoked_at", *fields.RevokedAt)
	}
	if fields.RevokedBy != nil {
		appendSet("revoked_by", *fields.RevokedBy)
	}
	if fields.RevokedReason != nil {
		appendSet("revoked_reason", *fields.RevokedReason)
	}
	if fields.ConsumedAt != nil {
		appendSet("consumed_at", *fields.ConsumedAt)
	}
	if fields.FailedReason != nil {
		appendSet("failed_reason", *fields.FailedReason)
	}
	if fields.TokenHash != nil {
		appendSet("token_hash", *fields.TokenHash)
	}
	if fields.ClaimsSnapshot != nil {
		appendSet("claims_snapshot", *fields.ClaimsSnapshot)
	}
	if fields.IssuedAt != nil {
		appendSet("issued_at", *fields.IssuedAt)
	}
	if fields.ExpiresAt != nil {
		appendSet("expires_at", *fields.ExpiresAt)
	}

	args = append(args, id, expectedState.String(), expectedAttempts)

	res, err := r.db.ExecContext(ctx, `
		UPDATE invitations SET `+strings.Join(sets, ", ")+`
		WHERE id = ? AND state = ? AND validation_attempts = ?`, args...)
	if err != nil {
		return false, mapConstraint(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *invitationsRepo) ListInvitations(ctx context.Context, filter store.ListFilter) ([]domain.Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations`
	var where []string
	var args []any

	if filter.State != nil {
		where = append(where, "state = ?")
		args = append(args, filter.State.String())
	}
	if filter.RecipientEmail != "" {
		where = append(where, "recipient_email = ?")
		args = append(args, filter.RecipientEmail)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInvitations(rows)
}

func (r *invitationsRepo) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]domain.Invitation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+invitationColumns+` FROM invitations
		WHERE state IN ('CREATED','SENT','DELIVERED','OPENED','VALIDATED')
		  AND expires_at <= ?
		ORDER BY expires_at ASC
		LIMIT ?`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInvitations(rows)
}

func (r *invitationsRepo) CountCreatedBy(ctx context.Context, actor string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM invitations
		WHERE created_by = ? AND created_at >= ?`, actor, since).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvitation(row rowScanner) (domain.Invitation, error) {
	var (
		inv             domain.Invitation
		stateLabel      string
		lastValidatedAt sql.NullTime
		lastValidatedIP sql.NullString
		revokedAt       sql.NullTime
		revokedBy       sql.NullString
		revokedReason   sql.NullString
		consumedAt      sql.NullTime
		failedReason    sql.NullString
	)
	err := row.Scan(
		&inv.ID,
		&inv.RecipientEmail,
		&inv.CompanyName,
		&inv.ContactName,
		&inv.TokenHash,
		&inv.ClaimsSnapshot,
		&stateLabel,
		&inv.IssuedAt,
		&inv.ExpiresAt,
		&inv.ValidationAttempts,
		&lastValidatedAt,
		&lastValidatedIP,
		&revokedAt,
		&revokedBy,
		&revokedReason,
		&consumedAt,
		&failedReason,
		&inv.CreatedBy,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return domain.Invitation{}, mapNotFound(err)
	}

	state, err := domain.StateFromLabel(stateLabel)
	if err != nil {
		return domain.Invitation{}, err
	}
	inv.State = state
	inv.LastValidatedAt = mapNullTimePtr(lastValidatedAt)
	inv.LastValidatedIP = mapNullStringPtr(lastValidatedIP)
	inv.RevokedAt = mapNullTimePtr(revokedAt)
	inv.RevokedBy = mapNullStringPtr(revokedBy)
	inv.RevokedReason = mapNullStringPtr(revokedReason)
	inv.ConsumedAt = mapNullTimePtr(consumedAt)
	inv.FailedReason = mapNullStringPtr(failedReason)
	return inv, nil
}

func scanInvitations(rows *sql.Rows) ([]domain.Invitation, error) {
	var out []domain.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}
