package tools

import "context"

// DefaultUserID is used when no user is attached to the context.
const DefaultUserID = "user_default"

type contextKey string

const (
	userIDKey contextKey = "user_id"
	jobIDKey  contextKey = "job_id"
)

// WithUserID attaches the calling user to ctx.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFromContext returns the calling user, or [DefaultUserID].
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok && id != "" {
		return id
	}
	return DefaultUserID
}

// WithJobID attaches the running job to ctx.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext returns the running job id, or "" outside a job.
func JobIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey).(string)
	return id
}
