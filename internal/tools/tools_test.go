package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func echoTool() *Tool {
	return &Tool{
		Name:        "echo",
		Description: "Echo the message back.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
				"times":   map[string]any{"type": "integer", "minimum": 1},
			},
			"required": []string{"message"},
		},
		Handler: func(ctx context.Context, args map[string]any) Result {
			msg := StringArg(args, "message")
			return OK(strings.Repeat(msg, IntArg(args, "times", 1)))
		},
	}
}

func TestRegistry_Execute(t *testing.T) {
	r := NewRegistry(nil)
	r.MustRegister(echoTool())

	tests := []struct {
		name    string
		args    map[string]any
		want    any
		wantErr string
	}{
		{"ok", map[string]any{"message": "hi"}, "hi", ""},
		{"integer arg", map[string]any{"message": "a", "times": float64(3)}, "aaa", ""},
		{"missing required", map[string]any{}, nil, "invalid input for echo"},
		{"wrong type", map[string]any{"message": 42}, nil, "invalid input for echo"},
		{"below minimum", map[string]any{"message": "x", "times": 0}, nil, "invalid input for echo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Execute(context.Background(), "echo", tt.args)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if tt.wantErr != "" {
				if !strings.Contains(res.Error, tt.wantErr) {
					t.Errorf("error = %q, want it to contain %q", res.Error, tt.wantErr)
				}
				return
			}
			if res.Failed() {
				t.Fatalf("unexpected error: %s", res.Error)
			}
			if res.Output != tt.want {
				t.Errorf("output = %v, want %v", res.Output, tt.want)
			}
		})
	}
}

func TestRegistry_ExecuteUnknown(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Execute(context.Background(), "nope", nil)
	var unavailable *ErrToolUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("err = %v, want *ErrToolUnavailable", err)
	}
	if unavailable.ToolName != "nope" {
		t.Errorf("ToolName = %q, want nope", unavailable.ToolName)
	}
}

func TestRegistry_ExecuteRecoversPanic(t *testing.T) {
	r := NewRegistry(nil)
	r.MustRegister(&Tool{
		Name: "boom",
		Handler: func(context.Context, map[string]any) Result {
			panic("kaboom")
		},
	})

	res, err := r.Execute(context.Background(), "boom", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(res.Error, "kaboom") {
		t.Errorf("error = %q, want panic message", res.Error)
	}
}

func TestRegistry_RegisterRejectsBadSchema(t *testing.T) {
	r := NewRegistry(nil)
	err := r.Register(&Tool{
		Name:       "bad",
		Parameters: map[string]any{"type": "not-a-type"},
		Handler:    func(context.Context, map[string]any) Result { return OK(nil) },
	})
	if err == nil {
		t.Error("Register should reject an invalid schema")
	}
}

func TestRegistry_SpecsAndNames(t *testing.T) {
	r := NewRegistry(nil)
	noop := func(context.Context, map[string]any) Result { return OK(nil) }
	r.MustRegister(
		&Tool{Name: "zeta", Handler: noop},
		&Tool{Name: "alpha", Handler: noop},
		&Tool{Name: "mid", Handler: noop},
	)

	if got := strings.Join(r.Names(), ","); got != "alpha,mid,zeta" {
		t.Errorf("Names() = %s", got)
	}

	all := r.Specs(nil)
	if len(all) != 3 || all[0].Name != "alpha" {
		t.Errorf("Specs(nil) = %+v", all)
	}
	some := r.Specs([]string{"zeta", "missing"})
	if len(some) != 1 || some[0].Name != "zeta" {
		t.Errorf("Specs(allowed) = %+v", some)
	}
	if some[0].InputSchema["type"] != "object" {
		t.Errorf("default schema = %v", some[0].InputSchema)
	}
}

func TestMarshalOutput(t *testing.T) {
	tests := []struct {
		name string
		res  Result
		want string
	}{
		{"string", OK("ok"), `"ok"`},
		{"object", OK(map[string]int{"n": 1}), `{"n":1}`},
		{"nil", OK(nil), `null`},
		{"error", Errorf("bad %s", "thing"), `{"error":"bad thing"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MarshalOutput(tt.res); got != tt.want {
				t.Errorf("MarshalOutput() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("héllo", 2); got != "h" {
		t.Errorf("Truncate split a rune: %q", got)
	}
	if got := Truncate("abc", 10); got != "abc" {
		t.Errorf("Truncate(abc, 10) = %q", got)
	}
}
