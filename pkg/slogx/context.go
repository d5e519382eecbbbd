package slogx

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

func FromContext(ctx context.Context) *slog.Logger {
	l, ok := ctx.Value(ctxKey{}).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return l
}

// WithInvitation attaches the invitation id to the context logger so every
// downstream log line carries it.
func WithInvitation(ctx context.Context, invitationID string) context.Context {
	l := FromContext(ctx)
	return WithContext(ctx, l.With("invitation_id", invitationID))
}
