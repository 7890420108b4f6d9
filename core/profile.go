package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// Profile is a user-defined surveillance watch: a filter tree plus an opaque
// notification payload handed through to the dispatcher on match.
type Profile struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	OwnerID string `json:"owner_id" yaml:"owner_id"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Version int    `json:"version" yaml:"version"`

	FilterTree FilterNode `json:"filter_tree" yaml:"filter_tree"`

	// Notification is not interpreted by the engine; the dispatcher consumes it.
	Notification map[string]any `json:"notification,omitempty" yaml:"notification,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at,omitempty"`
}

// Validate checks the envelope fields a profile must carry before its filter
// tree is even compiled.
func (p *Profile) Validate() error {
	if p == nil {
		return fmt.Errorf("cannot validate nil profile")
	}
	if p.ID == "" {
		return fmt.Errorf("profile id cannot be empty")
	}
	if p.Name == "" {
		return fmt.Errorf("profile name cannot be empty")
	}
	return nil
}

// FilterTreeJSON renders the filter tree in its wire form for storage.
func (p *Profile) FilterTreeJSON() ([]byte, error) {
	data, err := json.Marshal(p.FilterTree)
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter tree for profile %s: %w", p.ID, err)
	}
	return data, nil
}

// Match is one unit of match output handed to the notification dispatcher.
type Match struct {
	ProfileID string    `json:"profile_id"`
	Killmail  *Killmail `json:"killmail"`
	MatchedAt time.Time `json:"matched_at"`
}

// MatchStats is the best-effort per-profile bookkeeping kept by the matching
// engine for observability.
type MatchStats struct {
	MatchCount    int64     `json:"match_count"`
	LastMatchedAt time.Time `json:"last_matched_at"`
}
