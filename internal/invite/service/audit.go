package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/northbridgehq/gatepass/internal/invite/domain"
	"github.com/northbridgehq/gatepass/internal/invite/store"
	"github.com/northbridgehq/gatepass/pkg/idx"
	"github.com/northbridgehq/gatepass/pkg/slogx"
)

// AuditSink receives lifecycle events. Appends are best-effort: callers log
// failures locally and never let a sink error fail the primary operation.
type AuditSink interface {
	Append(ctx context.Context, ev domain.AuditEvent) error
}

// LogSink writes audit events as structured log lines.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Append(_ context.Context, ev domain.AuditEvent) error {
	attrs := []any{
		slog.String("audit_id", ev.ID),
		slog.String("event_type", ev.EventType),
		slog.String("invitation_id", ev.InvitationID),
		slog.String("actor", ev.Actor),
		slog.String("outcome", ev.Outcome),
	}
	if ev.RecipientEmail != "" {
		attrs = append(attrs, slog.String("recipient_email", ev.RecipientEmail))
	}
	if ev.ErrorCode != nil {
		attrs = append(attrs, slog.String("error_code", *ev.ErrorCode))
	}
	if ev.DetailsJSON != "" && ev.DetailsJSON != "{}" {
		attrs = append(attrs, slog.String("details", ev.DetailsJSON))
	}

	if ev.Outcome == domain.OutcomeFailure {
		s.Logger.Warn("audit", attrs...)
	} else {
		s.Logger.Info("audit", attrs...)
	}
	return nil
}

// StoreSink appends audit events to the audit_events table.
type StoreSink struct {
	Store store.Store
}

func (s *StoreSink) Append(ctx context.Context, ev domain.AuditEvent) error {
	return s.Store.AuditEvents().AppendAuditEvent(ctx, ev)
}

// MultiSink fans out to every sink. All sinks get the event even when an
// earlier one fails; the first error is reported.
type MultiSink struct {
	Sinks []AuditSink
}

func (s *MultiSink) Append(ctx context.Context, ev domain.AuditEvent) error {
	var firstErr error
	for _, sink := range s.Sinks {
		if err := sink.Append(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// auditEvent assembles a fully-populated event. The error code pointer is nil
// on success outcomes.
func auditEvent(eventType string, inv *domain.Invitation, actor, outcome string, errorCode *string, details map[string]any) domain.AuditEvent {
	ev := domain.AuditEvent{
		ID:          idx.New().String(),
		EventType:   eventType,
		Actor:       actor,
		Outcome:     outcome,
		ErrorCode:   errorCode,
		DetailsJSON: marshalDetails(details),
		OccurredAt:  time.Now().UTC(),
	}
	if inv != nil {
		ev.InvitationID = inv.ID
		ev.RecipientEmail = inv.RecipientEmail
	}
	return ev
}

func marshalDetails(details map[string]any) string {
	if len(details) == 0 {
		return "{}"
	}
	b, err := json.Marshal(details)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// emitAudit appends best-effort. Failures land in the context logger only.
func emitAudit(ctx context.Context, sink AuditSink, ev domain.AuditEvent) {
	if sink == nil {
		return
	}
	if err := sink.Append(ctx, ev); err != nil {
		slogx.FromContext(ctx).Warn("audit append failed",
			slog.String("event_type", ev.EventType),
			slog.String("invitation_id", ev.InvitationID),
			slog.Any("error", err),
		)
	}
}
