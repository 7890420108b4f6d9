package surveil

import (
	"killwatch/core"
)

// Predicate is the executable form of a filter tree: a pure function over a
// killmail. Predicates are immutable once compiled and safe for concurrent use.
type Predicate func(*core.Killmail) bool

// Compile turns a filter tree into a predicate. The result must agree with
// core.Interpret on every killmail; compilation is an optimization, never a
// semantic change. Unknown fields, unknown operators, and operator/field type
// mismatches fail with a *core.CompileError so a broken profile is rejected
// up front instead of silently becoming always-true or always-false.
func Compile(node *core.FilterNode) (Predicate, error) {
	if node == nil {
		return nil, &core.CompileError{Reason: "nil filter node"}
	}
	if node.IsGroup() {
		return compileGroup(node)
	}
	return compileLeaf(node)
}

func compileGroup(node *core.FilterNode) (Predicate, error) {
	if len(node.Rules) == 0 {
		return nil, &core.CompileError{Reason: "group node has no rules"}
	}

	children := make([]Predicate, len(node.Rules))
	for i := range node.Rules {
		child, err := Compile(&node.Rules[i])
		if err != nil {
			return nil, err
		}
		children[i] = child
	}

	switch node.Condition {
	case core.CombinatorAnd:
		return func(km *core.Killmail) bool {
			for _, child := range children {
				if !child(km) {
					return false
				}
			}
			return true
		}, nil
	case core.CombinatorOr:
		return func(km *core.Killmail) bool {
			for _, child := range children {
				if child(km) {
					return true
				}
			}
			return false
		}, nil
	default:
		return nil, &core.CompileError{Reason: "unknown combinator " + node.Condition}
	}
}

func compileLeaf(node *core.FilterNode) (Predicate, error) {
	def, ok := core.Fields[node.Field]
	if !ok {
		return nil, &core.CompileError{Field: node.Field, Operator: node.Operator, Reason: "unknown field"}
	}

	switch node.Operator {
	case core.OpEq, core.OpNe:
		if def.Kind == core.FieldSet {
			return nil, &core.CompileError{Field: node.Field, Operator: node.Operator, Reason: "scalar operator on set field"}
		}
		want, err := core.LeafScalarLiteral(node, def)
		if err != nil {
			return nil, err
		}
		get := def.Scalar
		if node.Operator == core.OpEq {
			return func(km *core.Killmail) bool { return get(km) == want }, nil
		}
		return func(km *core.Killmail) bool { return get(km) != want }, nil

	case core.OpGt, core.OpLt, core.OpGte, core.OpLte:
		if def.Kind != core.FieldNumeric {
			return nil, &core.CompileError{Field: node.Field, Operator: node.Operator, Reason: "ordering operator on non-numeric field"}
		}
		want, err := core.LeafScalarLiteral(node, def)
		if err != nil {
			return nil, err
		}
		threshold := want.(float64)
		get := def.Scalar
		switch node.Operator {
		case core.OpGt:
			return func(km *core.Killmail) bool { return get(km).(float64) > threshold }, nil
		case core.OpLt:
			return func(km *core.Killmail) bool { return get(km).(float64) < threshold }, nil
		case core.OpGte:
			return func(km *core.Killmail) bool { return get(km).(float64) >= threshold }, nil
		default:
			return func(km *core.Killmail) bool { return get(km).(float64) <= threshold }, nil
		}

	case core.OpIn, core.OpNotIn:
		if def.Kind == core.FieldSet {
			return nil, &core.CompileError{Field: node.Field, Operator: node.Operator, Reason: "membership operator on set field"}
		}
		members, err := core.LeafArrayLiteral(node, def)
		if err != nil {
			return nil, err
		}
		get := def.Scalar
		if node.Operator == core.OpIn {
			return func(km *core.Killmail) bool {
				_, found := members[get(km)]
				return found
			}, nil
		}
		return func(km *core.Killmail) bool {
			_, found := members[get(km)]
			return !found
		}, nil

	case core.OpContainsAny, core.OpContainsAll, core.OpNotContains:
		if def.Kind != core.FieldSet {
			return nil, &core.CompileError{Field: node.Field, Operator: node.Operator, Reason: "contains operator on non-set field"}
		}
		members, err := core.LeafArrayLiteral(node, def)
		if err != nil {
			return nil, err
		}
		get := def.Set
		switch node.Operator {
		case core.OpContainsAny:
			return func(km *core.Killmail) bool {
				for _, v := range get(km) {
					if _, ok := members[v]; ok {
						return true
					}
				}
				return false
			}, nil
		case core.OpContainsAll:
			return func(km *core.Killmail) bool {
				have := make(map[any]struct{}, 8)
				for _, v := range get(km) {
					have[v] = struct{}{}
				}
				for m := range members {
					if _, ok := have[m]; !ok {
						return false
					}
				}
				return true
			}, nil
		default:
			return func(km *core.Killmail) bool {
				for _, v := range get(km) {
					if _, ok := members[v]; ok {
						return false
					}
				}
				return true
			}, nil
		}

	default:
		return nil, &core.CompileError{Field: node.Field, Operator: node.Operator, Reason: "unknown operator"}
	}
}
