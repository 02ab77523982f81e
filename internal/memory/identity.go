package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nugget/luminary/internal/database"
)

// Identity returns the live identity note of kind for userID.
func (s *Store) Identity(ctx context.Context, userID string, kind Kind) (*Note, error) {
	if !kind.Identity() {
		return nil, fmt.Errorf("%q is not an identity kind", kind)
	}
	return identityNote(ctx, s.db, userID, kind)
}

func identityNote(ctx context.Context, q execer, userID string, kind Kind) (*Note, error) {
	n, err := scanNote(q.QueryRowContext(ctx, `
		SELECT `+noteColumns+` FROM memory_notes
		WHERE kind = ? AND user_id = ? AND superseded_by IS NULL
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, kind, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s note for %s: %w", kind, userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s note: %w", kind, err)
	}
	return n, nil
}

// UpsertIdentity creates or rewrites the identity note of kind for
// userID. An existing note is updated in place, and only when its
// content differs. It reports whether anything was written.
func (s *Store) UpsertIdentity(ctx context.Context, userID string, kind Kind, content string) (*Note, bool, error) {
	if !kind.Identity() {
		return nil, false, fmt.Errorf("%q is not an identity kind", kind)
	}
	if content == "" {
		return nil, false, fmt.Errorf("%s content is required", kind)
	}

	var (
		note    *Note
		changed bool
	)
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		existing, err := identityNote(ctx, tx, userID, kind)
		switch {
		case errors.Is(err, ErrNotFound):
			note, err = s.insertNote(ctx, tx, WriteInput{
				Kind:        kind,
				Content:     content,
				UserID:      userID,
				Stability:   Permanent,
				Sensitivity: Normal,
			})
			changed = err == nil
			return err
		case err != nil:
			return err
		}

		if existing.Content == content {
			note = existing
			return nil
		}
		now := s.now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE memory_notes SET content = ?, updated_at = ? WHERE id = ?`,
			content, database.FormatTime(now), existing.ID); err != nil {
			return fmt.Errorf("update %s note: %w", kind, err)
		}
		existing.Content = content
		existing.UpdatedAt = now
		note = existing
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		s.indexNote(ctx, note)
	}
	return note, changed, nil
}

// EnsureIdentity creates each identity note in defaults that userID
// does not have yet. Existing notes are left untouched.
func (s *Store) EnsureIdentity(ctx context.Context, userID string, defaults map[Kind]string) error {
	for _, kind := range []Kind{KindSoul, KindAgent, KindUser} {
		content, ok := defaults[kind]
		if !ok || content == "" {
			continue
		}
		_, err := s.Identity(ctx, userID, kind)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if _, _, err := s.UpsertIdentity(ctx, userID, kind, content); err != nil {
			return fmt.Errorf("initialize %s: %w", kind, err)
		}
		s.logger.Info("identity note initialized", "kind", kind, "user_id", userID)
	}
	return nil
}

// UpdateSoul replaces the soul note for userID.
func (s *Store) UpdateSoul(ctx context.Context, userID, content string) (*Note, error) {
	note, _, err := s.UpsertIdentity(ctx, userID, KindSoul, content)
	return note, err
}
