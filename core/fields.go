package core

import (
	"encoding/json"
	"strconv"
)

// FieldKind classifies a matchable killmail field.
type FieldKind int

const (
	// FieldNumeric fields support ordering comparisons in addition to
	// equality and membership.
	FieldNumeric FieldKind = iota
	// FieldScalar fields are categorical scalars (equality and membership only).
	FieldScalar
	// FieldSet fields are unordered sets of scalars (contains operators only).
	FieldSet
)

// ScalarType is the value type of a field, or the element type for set fields.
type ScalarType int

const (
	TypeNumber ScalarType = iota
	TypeString
	TypeBool
)

// FieldDef describes one matchable field: its kind, value type and accessor.
type FieldDef struct {
	Name string
	Kind FieldKind
	Type ScalarType

	// Scalar extracts the canonical scalar value for numeric/scalar fields.
	Scalar func(*Killmail) any
	// Set extracts canonical elements for set fields.
	Set func(*Killmail) []any
}

// Fields is the registry of matchable killmail fields. Deployments that
// enrich killmails with additional fields extend this registry; the compiler
// and index manager consult it and never hard-code field names.
var Fields = map[string]FieldDef{
	"isk_value": {
		Name: "isk_value", Kind: FieldNumeric, Type: TypeNumber,
		Scalar: func(k *Killmail) any { return k.ISKValue },
	},
	"attacker_count": {
		Name: "attacker_count", Kind: FieldNumeric, Type: TypeNumber,
		Scalar: func(k *Killmail) any { return float64(k.AttackerCount) },
	},
	"system_id": {
		Name: "system_id", Kind: FieldScalar, Type: TypeNumber,
		Scalar: func(k *Killmail) any { return float64(k.SystemID) },
	},
	"region_id": {
		Name: "region_id", Kind: FieldScalar, Type: TypeNumber,
		Scalar: func(k *Killmail) any { return float64(k.RegionID) },
	},
	"ship_type_id": {
		Name: "ship_type_id", Kind: FieldScalar, Type: TypeNumber,
		Scalar: func(k *Killmail) any { return float64(k.ShipTypeID) },
	},
	"victim_corp_id": {
		Name: "victim_corp_id", Kind: FieldScalar, Type: TypeNumber,
		Scalar: func(k *Killmail) any { return float64(k.VictimCorpID) },
	},
	"victim_alliance_id": {
		Name: "victim_alliance_id", Kind: FieldScalar, Type: TypeNumber,
		Scalar: func(k *Killmail) any { return float64(k.VictimAllianceID) },
	},
	"solo": {
		Name: "solo", Kind: FieldScalar, Type: TypeBool,
		Scalar: func(k *Killmail) any { return k.Solo },
	},
	"module_tags": {
		Name: "module_tags", Kind: FieldSet, Type: TypeString,
		Set: func(k *Killmail) []any {
			out := make([]any, len(k.ModuleTags))
			for i, t := range k.ModuleTags {
				out[i] = t
			}
			return out
		},
	},
	"attacker_ship_type_ids": {
		Name: "attacker_ship_type_ids", Kind: FieldSet, Type: TypeNumber,
		Set: func(k *Killmail) []any {
			out := make([]any, len(k.AttackerShipTypeIDs))
			for i, v := range k.AttackerShipTypeIDs {
				out[i] = float64(v)
			}
			return out
		},
	},
	"attacker_corp_ids": {
		Name: "attacker_corp_ids", Kind: FieldSet, Type: TypeNumber,
		Set: func(k *Killmail) []any {
			out := make([]any, len(k.AttackerCorpIDs))
			for i, v := range k.AttackerCorpIDs {
				out[i] = float64(v)
			}
			return out
		},
	},
}

// Canon normalizes a JSON-decoded scalar literal to its canonical in-engine
// representation: all numbers become float64, strings and bools pass through.
// Returns false for non-scalar values.
func Canon(v any) (any, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, false
		}
		return f, true
	case string:
		return t, true
	case bool:
		return t, true
	default:
		return nil, false
	}
}

// CanonType reports the ScalarType of an already-canonical scalar.
func CanonType(v any) (ScalarType, bool) {
	switch v.(type) {
	case float64:
		return TypeNumber, true
	case string:
		return TypeString, true
	case bool:
		return TypeBool, true
	default:
		return 0, false
	}
}

// CanonKey renders a canonical scalar as an index key. The type prefix keeps
// the string "42" and the number 42 from colliding in the same table.
func CanonKey(v any) string {
	switch t := v.(type) {
	case float64:
		return "n:" + strconv.FormatFloat(t, 'g', -1, 64)
	case string:
		return "s:" + t
	case bool:
		return "b:" + strconv.FormatBool(t)
	default:
		return ""
	}
}
