package dm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Profile is the display info of a user.
type Profile struct {
	UserID      string
	DisplayName string
	AvatarURL   string
}

// ProfileStore resolves user ids to display info.
type ProfileStore interface {
	// LookupProfile returns ErrProfileNotFound for unknown users.
	LookupProfile(ctx context.Context, userID string) (Profile, error)
	UpsertProfile(ctx context.Context, p Profile) error
}

// InMemoryProfileStore is the dev profile directory.
type InMemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewInMemoryProfileStore constructs a store seeded with profiles.
func NewInMemoryProfileStore(seed ...Profile) *InMemoryProfileStore {
	s := &InMemoryProfileStore{profiles: make(map[string]Profile, len(seed))}
	for _, p := range seed {
		_ = s.UpsertProfile(context.Background(), p)
	}
	return s
}

// LookupProfile returns the profile for userID.
func (s *InMemoryProfileStore) LookupProfile(ctx context.Context, userID string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	s.mu.RLock()
	p, ok := s.profiles[strings.TrimSpace(userID)]
	s.mu.RUnlock()
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return p, nil
}

// UpsertProfile inserts or replaces p.
func (s *InMemoryProfileStore) UpsertProfile(_ context.Context, p Profile) error {
	p.UserID = strings.TrimSpace(p.UserID)
	if p.UserID == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	s.profiles[p.UserID] = p
	s.mu.Unlock()
	return nil
}

// ParseDevProfiles parses "u1=Alice,u2=Bob" entries. Entries without a name are skipped.
func ParseDevProfiles(entries []string) []Profile {
	out := make([]Profile, 0, len(entries))
	for _, e := range entries {
		id, name, ok := strings.Cut(e, "=")
		id, name = strings.TrimSpace(id), strings.TrimSpace(name)
		if !ok || id == "" || name == "" {
			continue
		}
		out = append(out, Profile{UserID: id, DisplayName: name})
	}
	return out
}

// PostgresProfileStore reads display info from the profiles table.
type PostgresProfileStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresProfileStore constructs a profile store backed by PostgreSQL.
func NewPostgresProfileStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresProfileStore, error) {
	o, err := applyPGOptions(pool, opts)
	if err != nil {
		return nil, err
	}
	return &PostgresProfileStore{pool: pool, schema: o.schema}, nil
}

// LookupProfile returns the profile for userID.
func (s *PostgresProfileStore) LookupProfile(ctx context.Context, userID string) (Profile, error) {
	if s == nil || s.pool == nil {
		return Profile{}, errNilStore
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Profile{}, ErrProfileNotFound
	}

	p := Profile{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT display_name, avatar_url FROM `+pgIdent(s.schema, "profiles")+` WHERE user_id = $1`,
		userID,
	).Scan(&p.DisplayName, &p.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

// UpsertProfile inserts or replaces p.
func (s *PostgresProfileStore) UpsertProfile(ctx context.Context, p Profile) error {
	if s == nil || s.pool == nil {
		return errNilStore
	}
	p.UserID = strings.TrimSpace(p.UserID)
	if p.UserID == "" {
		return ErrInvalidInput
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(s.schema, "profiles")+` (user_id, display_name, avatar_url)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE
		    SET display_name = EXCLUDED.display_name,
		        avatar_url = EXCLUDED.avatar_url,
		        updated_at = now()`,
		p.UserID, p.DisplayName, p.AvatarURL,
	); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}
