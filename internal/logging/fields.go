package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent names the subsystem emitting a line.
	FieldComponent = "component"
	// FieldEventType is a stable machine-readable tag for warnings and errors.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step to the operator.
	FieldErrorHint = "error_hint"
	// FieldImpact states the consequence of a warning.
	FieldImpact = "impact"
	// FieldFrame is the recording or replay frame a line refers to.
	FieldFrame = "frame"

	FieldSessionID     = "session_id"
	FieldParticipantID = "participant_id"
	FieldEntityID      = "entity_id"
	FieldRecordingDir  = "recording_dir"
)

type ctxKey int

const (
	sessionKey ctxKey = iota
	participantKey
)

// ContextWithSession stores the session and participant a run records for.
func ContextWithSession(ctx context.Context, sessionID, participantID string) context.Context {
	if sessionID != "" {
		ctx = context.WithValue(ctx, sessionKey, sessionID)
	}
	if participantID != "" {
		ctx = context.WithValue(ctx, participantKey, participantID)
	}
	return ctx
}

// ContextFields extracts the standard attributes stored in ctx.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if id, ok := ctx.Value(sessionKey).(string); ok {
		fields = append(fields, slog.String(FieldSessionID, id))
	}
	if id, ok := ctx.Value(participantKey).(string); ok {
		fields = append(fields, slog.String(FieldParticipantID, id))
	}
	return fields
}

// WithContext returns logger tagged with the fields stored in ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
