package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, enabling zero-touch logging where business
// context (session_token, project_id, etc.) is automatically included in all log statements.
type LogFields struct {
	SessionToken *string // SDK-supplied session token
	SessionID    *string // Durable session UUID
	ProjectID    *string // Owning project UUID
	MessageID    *string // Redis stream message ID
	Attempt      *int64  // Render job attempt number
	Stage        *string // Pipeline stage (e.g., "record", "thumbnail", "upload")
	Component    string  // Component name (OTel semantic convention style, e.g., "studio.worker.render")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// mergeFields merges two LogFields, preferring non-nil/non-empty values from 'new'.
func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.SessionToken != nil {
		result.SessionToken = new.SessionToken
	}
	if new.SessionID != nil {
		result.SessionID = new.SessionID
	}
	if new.ProjectID != nil {
		result.ProjectID = new.ProjectID
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.Attempt != nil {
		result.Attempt = new.Attempt
	}
	if new.Stage != nil {
		result.Stage = new.Stage
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{SessionToken: logger.Ptr(token)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like payloads or error messages.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
