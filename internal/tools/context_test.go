package tools

import (
	"context"
	"testing"
)

func TestUserIDFromContext(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"unset", context.Background(), DefaultUserID},
		{"set", WithUserID(context.Background(), "u1"), "u1"},
		{"empty", WithUserID(context.Background(), ""), DefaultUserID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserIDFromContext(tt.ctx); got != tt.want {
				t.Errorf("UserIDFromContext() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJobIDFromContext(t *testing.T) {
	if got := JobIDFromContext(context.Background()); got != "" {
		t.Errorf("unset job id = %q, want empty", got)
	}
	ctx := WithJobID(context.Background(), "job-1")
	if got := JobIDFromContext(ctx); got != "job-1" {
		t.Errorf("job id = %q, want job-1", got)
	}
}
