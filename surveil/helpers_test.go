package surveil

import (
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"killwatch/core"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func leaf(field, op string, value any) core.FilterNode {
	return core.FilterNode{Field: field, Operator: op, Value: value}
}

func group(cond string, rules ...core.FilterNode) core.FilterNode {
	return core.FilterNode{Condition: cond, Rules: rules}
}

func testKillmail() *core.Killmail {
	return &core.Killmail{
		KillmailID:          1001,
		Hash:                "abc123",
		SystemID:            30000142,
		RegionID:            10000002,
		ShipTypeID:          670,
		VictimCorpID:        98000001,
		VictimAllianceID:    99000001,
		ISKValue:            150000000,
		AttackerCount:       5,
		Solo:                false,
		ModuleTags:          []string{"T2", "High Slot"},
		AttackerShipTypeIDs: []int64{17738, 17740},
		AttackerCorpIDs:     []int64{98000002},
	}
}

// Small value domains keep random trees and killmails overlapping enough
// that both match and non-match outcomes occur.
var (
	genSystems = []float64{30000142, 30000144, 30002187, 31000001}
	genShips   = []float64{670, 17738, 17740, 33472}
	genTags    = []string{"T2", "T3", "High Slot", "Officer", "Capital"}
	genISK     = []float64{5e6, 5e7, 1.5e8, 2e9, 8e10}
)

func genLeaf(r *rand.Rand) core.FilterNode {
	switch r.Intn(8) {
	case 0:
		return leaf("system_id", core.OpEq, genSystems[r.Intn(len(genSystems))])
	case 1:
		return leaf("system_id", core.OpIn, []any{genSystems[r.Intn(len(genSystems))], genSystems[r.Intn(len(genSystems))]})
	case 2:
		return leaf("ship_type_id", core.OpNe, genShips[r.Intn(len(genShips))])
	case 3:
		ops := []string{core.OpGt, core.OpGte, core.OpLt, core.OpLte}
		return leaf("isk_value", ops[r.Intn(len(ops))], genISK[r.Intn(len(genISK))])
	case 4:
		return leaf("module_tags", core.OpContainsAny, []any{genTags[r.Intn(len(genTags))], genTags[r.Intn(len(genTags))]})
	case 5:
		return leaf("module_tags", core.OpContainsAll, []any{genTags[r.Intn(len(genTags))]})
	case 6:
		return leaf("module_tags", core.OpNotContains, []any{genTags[r.Intn(len(genTags))]})
	default:
		return leaf("attacker_count", core.OpGt, float64(r.Intn(10)))
	}
}

func genTree(r *rand.Rand, depth int) core.FilterNode {
	if depth <= 0 || r.Intn(3) == 0 {
		return genLeaf(r)
	}
	cond := core.CombinatorAnd
	if r.Intn(2) == 0 {
		cond = core.CombinatorOr
	}
	n := 2 + r.Intn(2)
	rules := make([]core.FilterNode, n)
	for i := range rules {
		rules[i] = genTree(r, depth-1)
	}
	return core.FilterNode{Condition: cond, Rules: rules}
}

func genKillmail(r *rand.Rand, id int64) *core.Killmail {
	tags := make([]string, 0, 3)
	for _, t := range genTags {
		if r.Intn(3) == 0 {
			tags = append(tags, t)
		}
	}
	return &core.Killmail{
		KillmailID:    id,
		Hash:          fmt.Sprintf("h%d", id),
		SystemID:      int64(genSystems[r.Intn(len(genSystems))]),
		ShipTypeID:    int64(genShips[r.Intn(len(genShips))]),
		ISKValue:      genISK[r.Intn(len(genISK))] * (0.5 + r.Float64()),
		AttackerCount: int64(1 + r.Intn(12)),
		ModuleTags:    tags,
	}
}
