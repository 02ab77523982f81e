// Package memory stores the agent's long-term notes and user profiles.
//
// Notes carry a stability class, an optional expiry, and an optional
// supersession link. A superseded note is kept for audit but excluded
// from every read except a direct lookup by id. Identity notes (soul,
// agent, user) are singletons per user and are rewritten in place.
package memory

import (
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/nugget/luminary/internal/embeddings"
)

// ErrNotFound is returned when a note or user does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden is returned when a caller tries to change a note it may
// not touch.
var ErrForbidden = errors.New("forbidden")

// Store manages notes, their semantic index, and user profiles in the
// shared database.
type Store struct {
	db       *sql.DB
	embedder embeddings.Embedder
	logger   *slog.Logger
	now      func() time.Time
}

// NewStore creates a store over an already migrated database. A nil
// embedder disables the semantic index.
func NewStore(db *sql.DB, embedder embeddings.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:       db,
		embedder: embedder,
		logger:   logger.With("component", "memory"),
		now:      time.Now,
	}
}

// DB exposes the underlying handle for callers that compose their own
// transactions with [database.WithTx].
func (s *Store) DB() *sql.DB {
	return s.db
}

// Semantic reports whether the vector index is available.
func (s *Store) Semantic() bool {
	return s.embedder != nil
}
