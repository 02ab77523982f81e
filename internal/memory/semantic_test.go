package memory

import (
	"context"
	"testing"

	"github.com/nugget/luminary/internal/embeddings/embedtest"
)

func TestSearch_FiltersVisibility(t *testing.T) {
	s := newTestStore(t, &embedtest.Hash{})
	ctx := context.Background()

	coffee, _ := s.Write(ctx, WriteInput{Kind: KindRule, Content: "user drinks coffee black", UserID: "u1"})
	s.Write(ctx, WriteInput{Kind: KindRule, Content: "user enjoys hiking trails", UserID: "u1"})
	s.Write(ctx, WriteInput{Kind: KindRule, Content: "other person drinks coffee black", UserID: "u2"})
	old, _ := s.Write(ctx, WriteInput{Kind: KindLog, Content: "coffee black order", UserID: "u1"})
	if _, err := s.Supersede(ctx, []string{old.ID}, WriteInput{Kind: KindLog, Content: "switched to tea", UserID: "u1"}); err != nil {
		t.Fatalf("Supersede: %v", err)
	}

	notes, err := s.Search(ctx, "u1", "coffee black", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(notes) == 0 || notes[0].ID != coffee.ID {
		t.Fatalf("top result = %v, want the coffee note", notes)
	}
	for _, n := range notes {
		if n.UserID != "u1" {
			t.Errorf("result from %s leaked into u1 search", n.UserID)
		}
		if n.ID == old.ID {
			t.Error("superseded note returned by semantic search")
		}
	}
}

func TestWrite_EmbeddingFailureIsNotFatal(t *testing.T) {
	e := &embedtest.Hash{Fail: true}
	s := newTestStore(t, e)

	if _, err := s.Write(context.Background(), WriteInput{Kind: KindLog, Content: "still saved", UserID: "u1"}); err != nil {
		t.Fatalf("Write with failing embedder: %v", err)
	}
	if e.Calls() != 1 {
		t.Errorf("embedder calls = %d, want 1", e.Calls())
	}
	var vectors int
	s.db.QueryRow(`SELECT COUNT(*) FROM vec_notes`).Scan(&vectors)
	if vectors != 0 {
		t.Errorf("vectors = %d, want 0", vectors)
	}
}

func TestSearch_NoIndex(t *testing.T) {
	s := newTestStore(t, nil)
	notes, err := s.Search(context.Background(), "u1", "anything", 5)
	if err != nil || notes != nil {
		t.Errorf("Search without index = %v, %v; want nil, nil", notes, err)
	}
}
