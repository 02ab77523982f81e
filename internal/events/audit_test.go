package events

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAuditLog_AppendAndRead(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLog(dir)
	l.now = func() time.Time { return time.Date(2026, 5, 1, 23, 30, 0, 0, time.UTC) }

	if _, err := l.Append("user_default", TypeUserMessage, map[string]any{"content": "hi"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := l.Append("user_default", TypeAssistantMessage, map[string]any{"content": "hello"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "2026-05-01", "user_default.jsonl")); err != nil {
		t.Fatalf("expected dated file: %v", err)
	}

	got, err := l.ReadEvents("user_default", "2026-05-01")
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Type != TypeUserMessage || got[1].Payload["content"] != "hello" {
		t.Errorf("events = %+v", got)
	}
	if got[0].ID == "" || got[0].ID == got[1].ID {
		t.Error("events need distinct ids")
	}
}

func TestAuditLog_ReadMissing(t *testing.T) {
	l := NewAuditLog(t.TempDir())
	got, err := l.ReadEvents("nobody", "2026-01-01")
	if err != nil || len(got) != 0 {
		t.Errorf("ReadEvents = %v, %v; want empty, nil", got, err)
	}
	if _, err := l.ReadEvents("nobody", "yesterday"); err == nil {
		t.Error("malformed date should fail")
	}
}

func TestAuditLog_NilDiscards(t *testing.T) {
	var l *AuditLog
	if ev, err := l.Append("u", TypeUserMessage, nil); ev != nil || err != nil {
		t.Errorf("nil Append = %v, %v", ev, err)
	}
}

func TestSafeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"user_default", "user_default"},
		{"../../etc/passwd", ".._.._etc_passwd"},
		{"..", "_"},
		{"", "_"},
		{"a b", "a_b"},
	}
	for _, tt := range tests {
		if got := safeName(tt.in); got != tt.want {
			t.Errorf("safeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
