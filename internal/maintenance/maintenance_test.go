package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nugget/luminary/internal/database"
	"github.com/nugget/luminary/internal/database/dbtest"
	"github.com/nugget/luminary/internal/events"
	"github.com/nugget/luminary/internal/llm"
	"github.com/nugget/luminary/internal/llm/llmtest"
	"github.com/nugget/luminary/internal/memory"
)

// newWorker returns a worker whose clock runs eight days ahead, so every
// note written during the test counts as old.
func newWorker(t *testing.T, client llm.Client) (*Worker, *memory.Store) {
	t.Helper()
	notes := memory.NewStore(dbtest.New(t), nil, nil)
	w := New(notes, client, nil, nil, Config{})
	w.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }
	return w, notes
}

func seedVolatile(t *testing.T, notes *memory.Store, userID string, n int, tags ...string) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range n {
		note, err := notes.Write(context.Background(), memory.WriteInput{
			Kind:      memory.KindLog,
			Content:   fmt.Sprintf("%s event %d", userID, i),
			UserID:    userID,
			Tags:      tags,
			Stability: memory.Volatile,
		})
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
		ids[i] = note.ID
	}
	return ids
}

func liveSummaries(t *testing.T, notes *memory.Store, userID string) []*memory.Note {
	t.Helper()
	got, err := notes.Query(context.Background(), memory.Filter{UserID: userID, Kind: memory.KindSummary})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	return got
}

func TestRunOnce_Prunes(t *testing.T) {
	w, notes := newWorker(t, nil)
	ctx := context.Background()
	seedVolatile(t, notes, "u1", 2)

	past := database.FormatTime(time.Now().Add(-time.Hour))
	if _, err := notes.DB().ExecContext(ctx, `UPDATE memory_notes SET expires_at = ?`, past); err != nil {
		t.Fatal(err)
	}

	res, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Pruned != 2 || res.Merged != 0 {
		t.Errorf("RunOnce = %+v, want pruned 2 merged 0", res)
	}
}

func TestRunOnce_MergesBatchesPerUser(t *testing.T) {
	w, notes := newWorker(t, llmtest.New(
		llmtest.Text("u1 summary A"),
		llmtest.Text("u1 summary B"),
	))
	ctx := context.Background()

	seedVolatile(t, notes, "u1", 6, "home")
	seedVolatile(t, notes, "u2", 2)

	res, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	// u1: batches of 5 and 1; the singleton is left alone. u2 has too few.
	if res.Merged != 1 {
		t.Errorf("Merged = %d, want 1", res.Merged)
	}
	if !strings.Contains(res.Message, "merged 1 batches") {
		t.Errorf("Message = %q", res.Message)
	}

	sums := liveSummaries(t, notes, "u1")
	if len(sums) != 1 {
		t.Fatalf("u1 summaries = %d, want 1", len(sums))
	}
	s := sums[0]
	if s.Content != "u1 summary A" || s.Stability != memory.Stable {
		t.Errorf("summary = %q stability %s", s.Content, s.Stability)
	}
	if len(s.Tags) != 1 || s.Tags[0] != "home" {
		t.Errorf("summary tags = %v", s.Tags)
	}
	if len(s.Evidence) != 5 {
		t.Errorf("summary evidence = %d ids, want 5", len(s.Evidence))
	}
	if len(liveSummaries(t, notes, "u2")) != 0 {
		t.Error("u2 notes should not be merged")
	}

	logs, err := notes.Query(ctx, memory.Filter{UserID: "u1", Kind: memory.KindLog})
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Errorf("u1 live logs = %d, want 1 left after merge", len(logs))
	}
}

func TestRunOnce_NeverMixesUsers(t *testing.T) {
	w, notes := newWorker(t, nil)
	seedVolatile(t, notes, "u1", 3)
	seedVolatile(t, notes, "u2", 3)

	res, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Merged != 2 {
		t.Fatalf("Merged = %d, want 2", res.Merged)
	}
	for _, user := range []string{"u1", "u2"} {
		sums := liveSummaries(t, notes, user)
		if len(sums) != 1 {
			t.Fatalf("%s summaries = %d", user, len(sums))
		}
		other := "u2"
		if user == "u2" {
			other = "u1"
		}
		if strings.Contains(sums[0].Content, other) {
			t.Errorf("%s summary contains %s content: %q", user, other, sums[0].Content)
		}
	}
}

func TestRunOnce_FallbackConcatenation(t *testing.T) {
	tests := []struct {
		name   string
		client llm.Client
	}{
		{"nil client", nil},
		{"unconfigured", llm.Unconfigured{Reason: "no key"}},
		{"llm error", llmtest.New(llmtest.Fail(errors.New("503 overloaded")))},
		{"empty text", llmtest.New(llmtest.Text("  "))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, notes := newWorker(t, tt.client)
			seedVolatile(t, notes, "u1", 3)

			res, err := w.RunOnce(context.Background())
			if err != nil {
				t.Fatalf("RunOnce: %v", err)
			}
			if res.Merged != 1 {
				t.Fatalf("Merged = %d, want 1", res.Merged)
			}
			want := "u1 event 0\n\nu1 event 1\n\nu1 event 2"
			if got := liveSummaries(t, notes, "u1")[0].Content; got != want {
				t.Errorf("content = %q, want %q", got, want)
			}
		})
	}
}

func TestRunOnce_RecentNotesUntouched(t *testing.T) {
	w, notes := newWorker(t, nil)
	w.now = time.Now
	seedVolatile(t, notes, "u1", 4)

	res, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if res.Merged != 0 {
		t.Errorf("Merged = %d, want 0 for fresh notes", res.Merged)
	}
}

func TestRunOnce_EmitsEvent(t *testing.T) {
	w, notes := newWorker(t, nil)
	bus := events.New()
	w.bus = bus
	ch := bus.Subscribe(4)
	defer bus.Unsubscribe(ch)
	seedVolatile(t, notes, "u1", 3)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case e := <-ch:
		if e.Kind != events.KindMaintenanceComplete || e.Data["merged"] != 1 {
			t.Errorf("event = %+v", e)
		}
	default:
		t.Fatal("no maintenance event published")
	}
}

func TestStartStop(t *testing.T) {
	w, notes := newWorker(t, nil)
	seedVolatile(t, notes, "u1", 3)

	w.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for len(liveSummaries(t, notes, "u1")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("startup pass did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}
	w.Stop()
}
