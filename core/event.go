package core

import (
	"fmt"
	"time"
)

// Killmail is a single combat-log record produced by the ingestion pipeline.
// Killmails are immutable once received; the engine never mutates them.
type Killmail struct {
	KillmailID int64     `json:"killmail_id"`
	Hash       string    `json:"hash"`
	Time       time.Time `json:"time"`

	SystemID         int64   `json:"system_id"`
	RegionID         int64   `json:"region_id"`
	ShipTypeID       int64   `json:"ship_type_id"`
	VictimCorpID     int64   `json:"victim_corp_id"`
	VictimAllianceID int64   `json:"victim_alliance_id"`
	ISKValue         float64 `json:"isk_value"`
	AttackerCount    int64   `json:"attacker_count"`
	Solo             bool    `json:"solo"`

	ModuleTags          []string `json:"module_tags"`
	AttackerShipTypeIDs []int64  `json:"attacker_ship_type_ids"`
	AttackerCorpIDs     []int64  `json:"attacker_corp_ids"`
}

// Identity returns the cache identity of a killmail. The hash disambiguates
// IDs reused across retried deliveries with diverging payloads.
func (k *Killmail) Identity() string {
	return fmt.Sprintf("%d:%s", k.KillmailID, k.Hash)
}
