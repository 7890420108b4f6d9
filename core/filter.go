package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Combinators for group nodes.
const (
	CombinatorAnd = "and"
	CombinatorOr  = "or"
)

// Supported leaf operators.
const (
	OpEq          = "eq"
	OpNe          = "ne"
	OpGt          = "gt"
	OpLt          = "lt"
	OpGte         = "gte"
	OpLte         = "lte"
	OpIn          = "in"
	OpNotIn       = "not_in"
	OpContainsAny = "contains_any"
	OpContainsAll = "contains_all"
	OpNotContains = "not_contains"
)

// Operators lists every supported leaf operator.
var Operators = []string{
	OpEq, OpNe, OpGt, OpLt, OpGte, OpLte,
	OpIn, OpNotIn, OpContainsAny, OpContainsAll, OpNotContains,
}

// FilterNode is one node of a profile's filter tree: either a group
// (Condition + Rules) or a leaf (Field + Operator + Value). The two forms are
// mutually exclusive; IsGroup distinguishes them after decoding.
type FilterNode struct {
	Condition string       `json:"condition,omitempty" yaml:"condition,omitempty"`
	Rules     []FilterNode `json:"rules,omitempty" yaml:"rules,omitempty"`

	Field    string `json:"field,omitempty" yaml:"field,omitempty"`
	Operator string `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// IsGroup reports whether the node is a group node.
func (n *FilterNode) IsGroup() bool {
	return n.Condition != ""
}

// CompileError describes why a filter tree was rejected. Profiles that fail
// compilation never reach the index or matching stages.
type CompileError struct {
	Field    string
	Operator string
	Reason   string
}

func (e *CompileError) Error() string {
	var b strings.Builder
	b.WriteString("filter compile error")
	if e.Field != "" {
		fmt.Fprintf(&b, " on field %q", e.Field)
	}
	if e.Operator != "" {
		fmt.Fprintf(&b, " (operator %q)", e.Operator)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

// ParseFilterTree decodes a filter tree from its JSON wire form.
func ParseFilterTree(raw []byte) (*FilterNode, error) {
	var node FilterNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("failed to decode filter tree: %w", err)
	}
	return &node, nil
}

// Interpret walks a filter tree directly against a killmail. It is the
// semantic definition the compiled predicates must agree with, kept as the
// test oracle and for defensive re-checks. An error means the tree would not
// have compiled in the first place.
func Interpret(node *FilterNode, km *Killmail) (bool, error) {
	if node == nil {
		return false, &CompileError{Reason: "nil filter node"}
	}

	if node.IsGroup() {
		if len(node.Rules) == 0 {
			return false, &CompileError{Reason: "group node has no rules"}
		}
		switch node.Condition {
		case CombinatorAnd:
			for i := range node.Rules {
				ok, err := Interpret(&node.Rules[i], km)
				if err != nil {
					return false, err
				}
				if !ok {
					return false, nil
				}
			}
			return true, nil
		case CombinatorOr:
			for i := range node.Rules {
				ok, err := Interpret(&node.Rules[i], km)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
			return false, nil
		default:
			return false, &CompileError{Reason: fmt.Sprintf("unknown combinator %q", node.Condition)}
		}
	}

	return interpretLeaf(node, km)
}

func interpretLeaf(node *FilterNode, km *Killmail) (bool, error) {
	def, ok := Fields[node.Field]
	if !ok {
		return false, &CompileError{Field: node.Field, Operator: node.Operator, Reason: "unknown field"}
	}

	switch node.Operator {
	case OpEq, OpNe:
		if def.Kind == FieldSet {
			return false, &CompileError{Field: node.Field, Operator: node.Operator, Reason: "scalar operator on set field"}
		}
		want, err := LeafScalarLiteral(node, def)
		if err != nil {
			return false, err
		}
		got := def.Scalar(km)
		if node.Operator == OpEq {
			return got == want, nil
		}
		return got != want, nil

	case OpGt, OpLt, OpGte, OpLte:
		if def.Kind != FieldNumeric {
			return false, &CompileError{Field: node.Field, Operator: node.Operator, Reason: "ordering operator on non-numeric field"}
		}
		want, err := LeafScalarLiteral(node, def)
		if err != nil {
			return false, err
		}
		threshold := want.(float64)
		got := def.Scalar(km).(float64)
		switch node.Operator {
		case OpGt:
			return got > threshold, nil
		case OpLt:
			return got < threshold, nil
		case OpGte:
			return got >= threshold, nil
		default:
			return got <= threshold, nil
		}

	case OpIn, OpNotIn:
		if def.Kind == FieldSet {
			return false, &CompileError{Field: node.Field, Operator: node.Operator, Reason: "membership operator on set field"}
		}
		members, err := LeafArrayLiteral(node, def)
		if err != nil {
			return false, err
		}
		got := def.Scalar(km)
		_, found := members[got]
		if node.Operator == OpIn {
			return found, nil
		}
		return !found, nil

	case OpContainsAny, OpContainsAll, OpNotContains:
		if def.Kind != FieldSet {
			return false, &CompileError{Field: node.Field, Operator: node.Operator, Reason: "contains operator on non-set field"}
		}
		members, err := LeafArrayLiteral(node, def)
		if err != nil {
			return false, err
		}
		have := make(map[any]struct{})
		for _, v := range def.Set(km) {
			have[v] = struct{}{}
		}
		switch node.Operator {
		case OpContainsAny:
			for m := range members {
				if _, ok := have[m]; ok {
					return true, nil
				}
			}
			return false, nil
		case OpContainsAll:
			for m := range members {
				if _, ok := have[m]; !ok {
					return false, nil
				}
			}
			return true, nil
		default: // not_contains: empty intersection
			for m := range members {
				if _, ok := have[m]; ok {
					return false, nil
				}
			}
			return true, nil
		}

	default:
		return false, &CompileError{Field: node.Field, Operator: node.Operator, Reason: "unknown operator"}
	}
}

// LeafScalarLiteral canonicalizes a leaf's scalar literal and type-checks it
// against the field definition.
func LeafScalarLiteral(node *FilterNode, def FieldDef) (any, error) {
	v, ok := Canon(node.Value)
	if !ok {
		return nil, &CompileError{Field: node.Field, Operator: node.Operator, Reason: "value is not a scalar"}
	}
	t, _ := CanonType(v)
	if t != def.Type {
		return nil, &CompileError{Field: node.Field, Operator: node.Operator, Reason: "value type does not match field type"}
	}
	return v, nil
}

// LeafArrayLiteral canonicalizes a leaf's array literal into a membership set,
// type-checking every element against the field definition.
func LeafArrayLiteral(node *FilterNode, def FieldDef) (map[any]struct{}, error) {
	arr, ok := node.Value.([]any)
	if !ok {
		return nil, &CompileError{Field: node.Field, Operator: node.Operator, Reason: "value is not an array"}
	}
	if len(arr) == 0 {
		return nil, &CompileError{Field: node.Field, Operator: node.Operator, Reason: "value array is empty"}
	}
	members := make(map[any]struct{}, len(arr))
	for _, raw := range arr {
		v, ok := Canon(raw)
		if !ok {
			return nil, &CompileError{Field: node.Field, Operator: node.Operator, Reason: "array element is not a scalar"}
		}
		t, _ := CanonType(v)
		if t != def.Type {
			return nil, &CompileError{Field: node.Field, Operator: node.Operator, Reason: "array element type does not match field type"}
		}
		members[v] = struct{}{}
	}
	return members, nil
}
