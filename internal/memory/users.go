package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nugget/luminary/internal/database"
)

// User is a profile row.
type User struct {
	ID            string         `json:"id"`
	DisplayName   string         `json:"displayName"`
	PreferredName string         `json:"preferredName,omitempty"`
	Locale        string         `json:"locale"`
	Timezone      string         `json:"timezone"`
	Preferences   map[string]any `json:"preferences"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Name returns the preferred name, falling back to the display name.
func (u *User) Name() string {
	if u.PreferredName != "" {
		return u.PreferredName
	}
	return u.DisplayName
}

// UserDefaults seeds a new profile in [Store.EnsureUser].
type UserDefaults struct {
	DisplayName string
	Locale      string
	Timezone    string
}

const userColumns = `id, display_name, preferred_name, locale, timezone, preferences, created_at, updated_at`

func scanUser(row scanner) (*User, error) {
	var (
		u                   User
		preferred           sql.NullString
		prefs, created, upd string
	)
	if err := row.Scan(&u.ID, &u.DisplayName, &preferred, &u.Locale, &u.Timezone, &prefs, &created, &upd); err != nil {
		return nil, err
	}
	u.PreferredName = preferred.String
	if err := json.Unmarshal([]byte(prefs), &u.Preferences); err != nil || u.Preferences == nil {
		u.Preferences = map[string]any{}
	}
	u.CreatedAt, _ = database.ParseTime(created)
	u.UpdatedAt, _ = database.ParseTime(upd)
	return &u, nil
}

// GetUser returns the profile for id.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	return getUser(ctx, s.db, id)
}

func getUser(ctx context.Context, q execer, id string) (*User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// EnsureUser returns the profile for id, creating it from defaults when
// missing. Safe to call on every request.
func (s *Store) EnsureUser(ctx context.Context, id string, defaults UserDefaults) (*User, error) {
	u, err := s.GetUser(ctx, id)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if defaults.DisplayName == "" {
		defaults.DisplayName = "User"
	}
	if defaults.Locale == "" {
		defaults.Locale = "en"
	}
	if defaults.Timezone == "" {
		defaults.Timezone = "UTC"
	}
	now := database.FormatTime(s.now())
	prefs := `{"onboarded":false,"interests":[]}`
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO users (id, display_name, locale, timezone, preferences, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, defaults.DisplayName, defaults.Locale, defaults.Timezone, prefs, now, now); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("user initialized", "user_id", id)
	return s.GetUser(ctx, id)
}

// UserUpdate lists profile changes. Nil fields are left unchanged;
// Preferences is deep-merged into the stored preferences.
type UserUpdate struct {
	DisplayName   *string
	PreferredName *string
	Locale        *string
	Timezone      *string
	Preferences   map[string]any
}

// UpdateUser applies upd inside a transaction so concurrent preference
// merges do not lose writes.
func (s *Store) UpdateUser(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	var out *User
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		u, err := getUser(ctx, tx, id)
		if err != nil {
			return err
		}
		if upd.DisplayName != nil {
			u.DisplayName = *upd.DisplayName
		}
		if upd.PreferredName != nil {
			u.PreferredName = *upd.PreferredName
		}
		if upd.Locale != nil {
			u.Locale = *upd.Locale
		}
		if upd.Timezone != nil {
			if _, err := time.LoadLocation(*upd.Timezone); err != nil {
				return fmt.Errorf("invalid timezone %q: %w", *upd.Timezone, err)
			}
			u.Timezone = *upd.Timezone
		}
		u.Preferences = mergeMaps(u.Preferences, upd.Preferences)

		prefs, err := json.Marshal(u.Preferences)
		if err != nil {
			return fmt.Errorf("encode preferences: %w", err)
		}
		u.UpdatedAt = s.now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET display_name = ?, preferred_name = ?, locale = ?, timezone = ?,
				preferences = ?, updated_at = ?
			WHERE id = ?`,
			u.DisplayName, database.NullString(u.PreferredName), u.Locale, u.Timezone,
			string(prefs), database.FormatTime(u.UpdatedAt), id); err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		out = u
		return nil
	})
	return out, err
}

// mergeMaps overlays src onto dst, recursing into nested objects.
func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				dst[k] = mergeMaps(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}
