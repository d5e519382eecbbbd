package sqlite

import (
	"context"
	"database/sql"

	"github.com/northbridgehq/gatepass/internal/invite/domain"
)

type auditEventsRepo struct {
	db dbtx
}

const defaultAuditListLimit = 100

func (r *auditEventsRepo) AppendAuditEvent(ctx context.Context, ev domain.AuditEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, event_type, invitation_id, recipient_email, actor,
			outcome, error_code, details_json, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID,
		ev.EventType,
		ev.InvitationID,
		ev.RecipientEmail,
		ev.Actor,
		ev.Outcome,
		mapOptionalString(ev.ErrorCode),
		ev.DetailsJSON,
		ev.OccurredAt,
	)
	return mapConstraint(err)
}

func (r *auditEventsRepo) ListAuditEvents(ctx context.Context, invitationID string, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 {
		limit = defaultAuditListLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_type, invitation_id, recipient_email, actor,
		       outcome, error_code, details_json, occurred_at
		FROM audit_events
		WHERE invitation_id = ?
		ORDER BY occurred_at ASC, id ASC
		LIMIT ?`, invitationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var (
			ev      domain.AuditEvent
			errCode sql.NullString
		)
		if err := rows.Scan(
			&ev.ID,
			&ev.EventType,
			&ev.InvitationID,
			&ev.RecipientEmail,
			&ev.Actor,
			&ev.Outcome,
			&errCode,
			&ev.DetailsJSON,
			&ev.OccurredAt,
		); err != nil {
			return nil, err
		}
		ev.ErrorCode = mapNullStringPtr(errCode)
		out = append(out, ev)
	}
	return out, rows.Err()
}
