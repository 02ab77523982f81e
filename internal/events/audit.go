package events

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nugget/luminary/internal/database"
)

// Audit event types.
const (
	TypeUserMessage      = "user_message"
	TypeAssistantMessage = "assistant_message"
)

// AuditEvent is one line of a per-user, per-day JSONL file.
type AuditEvent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	UserID    string         `json:"userId"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// AuditLog appends events under <dir>/<YYYY-MM-DD>/<userId>.jsonl.
type AuditLog struct {
	dir string
	now func() time.Time

	mu sync.Mutex
}

// NewAuditLog writes beneath dir, normally <data_dir>/events.
func NewAuditLog(dir string) *AuditLog {
	return &AuditLog{dir: dir, now: time.Now}
}

// Append records an event. Safe on a nil receiver, which discards it.
func (l *AuditLog) Append(userID, typ string, payload map[string]any) (*AuditEvent, error) {
	if l == nil {
		return nil, nil
	}
	ev := &AuditEvent{
		ID:        database.NewID(),
		Type:      typ,
		UserID:    userID,
		Timestamp: l.now().UTC(),
		Payload:   payload,
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode audit event: %w", err)
	}

	path := l.path(userID, ev.Timestamp.Format(time.DateOnly))
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("append audit event: %w", err)
	}
	return ev, nil
}

// ReadEvents returns the events recorded for userID on date
// (YYYY-MM-DD). A missing file yields no events.
func (l *AuditLog) ReadEvents(userID, date string) ([]AuditEvent, error) {
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return nil, fmt.Errorf("invalid date %q: want YYYY-MM-DD", date)
	}
	f, err := os.Open(l.path(userID, date))
	if errors.Is(err, fs.ErrNotExist) {
		return []AuditEvent{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := []AuditEvent{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(strings.TrimSpace(sc.Text())) == 0 {
			continue
		}
		var ev AuditEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("decode audit line: %w", err)
		}
		out = append(out, ev)
	}
	return out, sc.Err()
}

func (l *AuditLog) path(userID, date string) string {
	return filepath.Join(l.dir, date, safeName(userID)+".jsonl")
}

// safeName keeps user ids from escaping the audit directory.
func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
	if s == "" || strings.Trim(s, ".") == "" {
		return "_"
	}
	return s
}
