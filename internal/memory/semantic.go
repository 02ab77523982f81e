package memory

import (
	"context"
	"fmt"

	"github.com/nugget/luminary/internal/embeddings"
)

// indexNote stores an embedding for note when an embedder is present.
// The vector table is keyed by integer rowids allocated in vec_note_map.
func (s *Store) indexNote(ctx context.Context, note *Note) {
	if s.embedder == nil || note == nil {
		return
	}
	vec, err := s.embedder.Embed(ctx, note.Content)
	if err != nil {
		s.logger.Warn("embedding failed, note stored without vector", "note_id", note.ID, "error", err)
		return
	}
	if err := s.storeEmbedding(ctx, note.ID, vec); err != nil {
		s.logger.Warn("store embedding failed", "note_id", note.ID, "error", err)
	}
}

func (s *Store) storeEmbedding(ctx context.Context, noteID string, vec []float32) error {
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO vec_note_map (note_id) VALUES (?)`, noteID); err != nil {
		return fmt.Errorf("map note: %w", err)
	}
	var rowid int64
	if err := s.db.QueryRowContext(ctx, `SELECT rowid FROM vec_note_map WHERE note_id = ?`, noteID).Scan(&rowid); err != nil {
		return fmt.Errorf("lookup rowid: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO vec_notes (rowid, embedding) VALUES (?, ?)`,
		rowid, embeddings.Encode(vec)); err != nil {
		return fmt.Errorf("store vector: %w", err)
	}
	return nil
}

// nearestIDs returns the ids of the k notes whose vectors are closest
// to query, nearest first. Visibility is not checked here.
func (s *Store) nearestIDs(ctx context.Context, query []float32, k int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.note_id, v.embedding FROM vec_notes v JOIN vec_note_map m ON m.rowid = v.rowid`)
	if err != nil {
		return nil, fmt.Errorf("scan vectors: %w", err)
	}
	defer rows.Close()

	var candidates []embeddings.Candidate
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scan vector: %w", err)
		}
		vec, err := embeddings.Decode(blob)
		if err != nil {
			s.logger.Warn("skipping corrupt embedding", "note_id", id, "error", err)
			continue
		}
		candidates = append(candidates, embeddings.Candidate{Key: id, Vector: vec})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	matches := embeddings.Nearest(query, candidates, k)
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.Key
	}
	return ids, nil
}

// SemanticIDs embeds text and returns the ids of the nearest k indexed
// notes. It returns nil without error when no index is configured.
func (s *Store) SemanticIDs(ctx context.Context, text string, k int) ([]string, error) {
	if s.embedder == nil || text == "" {
		return nil, nil
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.nearestIDs(ctx, vec, k)
}

// Search returns up to k live notes owned by userID that are nearest to
// text. Superseded, expired, and other users' notes are dropped after
// the vector lookup.
func (s *Store) Search(ctx context.Context, userID, text string, k int) ([]*Note, error) {
	ids, err := s.SemanticIDs(ctx, text, k)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	now := s.now()
	var notes []*Note
	for _, id := range ids {
		n, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		if !n.Live(now) || n.UserID != userID {
			continue
		}
		notes = append(notes, n)
	}
	return notes, nil
}
