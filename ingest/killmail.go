package ingest

import (
	"fmt"
	"time"

	"killwatch/core"
)

// wire structures for the killmail feeds. Both the long-poll and websocket
// sources deliver the same enriched shape: an ESI killmail plus a zkb block
// carrying the appraised value, the hash, and feed labels.
type feedPackage struct {
	KillID   int64        `json:"killID"`
	Killmail *esiKillmail `json:"killmail"`
	Zkb      *zkbMetadata `json:"zkb"`
}

type esiKillmail struct {
	KillmailID    int64         `json:"killmail_id"`
	KillmailTime  time.Time     `json:"killmail_time"`
	SolarSystemID int64         `json:"solar_system_id"`
	RegionID      int64         `json:"region_id"` // enrichment adds this; zero when absent
	Victim        esiVictim     `json:"victim"`
	Attackers     []esiAttacker `json:"attackers"`
}

type esiVictim struct {
	CorporationID int64 `json:"corporation_id"`
	AllianceID    int64 `json:"alliance_id"`
	ShipTypeID    int64 `json:"ship_type_id"`
}

type esiAttacker struct {
	CorporationID int64 `json:"corporation_id"`
	ShipTypeID    int64 `json:"ship_type_id"`
	FinalBlow     bool  `json:"final_blow"`
}

type zkbMetadata struct {
	TotalValue float64  `json:"totalValue"`
	Hash       string   `json:"hash"`
	Labels     []string `json:"labels"`
}

// normalize converts a feed package into the engine's killmail record.
func normalize(pkg *feedPackage) (*core.Killmail, error) {
	if pkg == nil || pkg.Killmail == nil || pkg.Zkb == nil {
		return nil, fmt.Errorf("feed package is missing killmail or zkb block")
	}

	km := &core.Killmail{
		KillmailID:       pkg.Killmail.KillmailID,
		Hash:             pkg.Zkb.Hash,
		Time:             pkg.Killmail.KillmailTime,
		SystemID:         pkg.Killmail.SolarSystemID,
		RegionID:         pkg.Killmail.RegionID,
		ShipTypeID:       pkg.Killmail.Victim.ShipTypeID,
		VictimCorpID:     pkg.Killmail.Victim.CorporationID,
		VictimAllianceID: pkg.Killmail.Victim.AllianceID,
		ISKValue:         pkg.Zkb.TotalValue,
		AttackerCount:    int64(len(pkg.Killmail.Attackers)),
		Solo:             len(pkg.Killmail.Attackers) == 1,
		ModuleTags:       pkg.Zkb.Labels,
	}
	if km.KillmailID == 0 {
		km.KillmailID = pkg.KillID
	}
	if km.KillmailID == 0 {
		return nil, fmt.Errorf("feed package has no killmail id")
	}

	seenShip := make(map[int64]struct{})
	seenCorp := make(map[int64]struct{})
	for _, a := range pkg.Killmail.Attackers {
		if a.ShipTypeID != 0 {
			if _, ok := seenShip[a.ShipTypeID]; !ok {
				seenShip[a.ShipTypeID] = struct{}{}
				km.AttackerShipTypeIDs = append(km.AttackerShipTypeIDs, a.ShipTypeID)
			}
		}
		if a.CorporationID != 0 {
			if _, ok := seenCorp[a.CorporationID]; !ok {
				seenCorp[a.CorporationID] = struct{}{}
				km.AttackerCorpIDs = append(km.AttackerCorpIDs, a.CorporationID)
			}
		}
	}
	return km, nil
}
