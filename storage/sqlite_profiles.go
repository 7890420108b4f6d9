package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"killwatch/core"
)

// ErrProfileNotFound is returned when a profile ID does not exist.
var ErrProfileNotFound = errors.New("profile not found")

// ProfileStore persists surveillance profiles in SQLite.
type ProfileStore struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewProfileStore creates a profile store over an open SQLite handle.
func NewProfileStore(sqlite *SQLite, logger *zap.SugaredLogger) *ProfileStore {
	return &ProfileStore{sqlite: sqlite, logger: logger}
}

const profileColumns = "id, name, owner_id, enabled, version, filter_tree, notification, created_at, updated_at"

// GetAllProfiles returns every stored profile, enabled or not.
func (ps *ProfileStore) GetAllProfiles() ([]core.Profile, error) {
	rows, err := ps.sqlite.ReadDB.Query(
		"SELECT " + profileColumns + " FROM profiles ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()
	return ps.scanProfiles(rows)
}

// GetProfile returns one profile by ID, or ErrProfileNotFound.
func (ps *ProfileStore) GetProfile(id string) (*core.Profile, error) {
	row := ps.sqlite.ReadDB.QueryRow(
		"SELECT "+profileColumns+" FROM profiles WHERE id = ?", id)
	p, err := ps.scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile %s: %w", id, err)
	}
	return p, nil
}

// UpsertProfile inserts or replaces a profile row.
func (ps *ProfileStore) UpsertProfile(p *core.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	tree, err := p.FilterTreeJSON()
	if err != nil {
		return err
	}
	notification, err := json.Marshal(p.Notification)
	if err != nil {
		return fmt.Errorf("failed to encode notification settings for profile %s: %w", p.ID, err)
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err = ps.sqlite.WriteDB.Exec(`
		INSERT INTO profiles (id, name, owner_id, enabled, version, filter_tree, notification, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			owner_id = excluded.owner_id,
			enabled = excluded.enabled,
			version = excluded.version,
			filter_tree = excluded.filter_tree,
			notification = excluded.notification,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, p.OwnerID, boolToInt(p.Enabled), p.Version,
		string(tree), string(notification), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert profile %s: %w", p.ID, err)
	}
	return nil
}

// DeleteProfile removes a profile row. Returns ErrProfileNotFound when the ID
// does not exist.
func (ps *ProfileStore) DeleteProfile(id string) error {
	res, err := ps.sqlite.WriteDB.Exec("DELETE FROM profiles WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete profile %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result for profile %s: %w", id, err)
	}
	if affected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// GetProfileCount returns the number of stored profiles.
func (ps *ProfileStore) GetProfileCount() (int64, error) {
	var count int64
	if err := ps.sqlite.ReadDB.QueryRow("SELECT COUNT(*) FROM profiles").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count profiles: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (ps *ProfileStore) scanProfile(row rowScanner) (*core.Profile, error) {
	var (
		p            core.Profile
		enabled      int
		tree         string
		notification string
	)
	err := row.Scan(&p.ID, &p.Name, &p.OwnerID, &enabled, &p.Version,
		&tree, &notification, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Enabled = enabled != 0

	node, err := core.ParseFilterTree([]byte(tree))
	if err != nil {
		return nil, fmt.Errorf("stored filter tree for profile %s is corrupt: %w", p.ID, err)
	}
	p.FilterTree = *node

	if notification != "" {
		if err := json.Unmarshal([]byte(notification), &p.Notification); err != nil {
			return nil, fmt.Errorf("stored notification settings for profile %s are corrupt: %w", p.ID, err)
		}
	}
	return &p, nil
}

func (ps *ProfileStore) scanProfiles(rows *sql.Rows) ([]core.Profile, error) {
	var out []core.Profile
	for rows.Next() {
		p, err := ps.scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profile rows: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
