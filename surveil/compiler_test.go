package surveil

import (
	"errors"
	"math/rand"
	"testing"

	"killwatch/core"
)

func mustCompile(t *testing.T, node core.FilterNode) Predicate {
	t.Helper()
	pred, err := Compile(&node)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return pred
}

func TestCompile_ScalarOperators(t *testing.T) {
	km := testKillmail()

	cases := []struct {
		name string
		node core.FilterNode
		want bool
	}{
		{"eq match", leaf("system_id", core.OpEq, float64(30000142)), true},
		{"eq no match", leaf("system_id", core.OpEq, float64(30000144)), false},
		{"ne match", leaf("ship_type_id", core.OpNe, float64(671)), true},
		{"ne no match", leaf("ship_type_id", core.OpNe, float64(670)), false},
		{"gt match", leaf("isk_value", core.OpGt, float64(100000000)), true},
		{"gt no match", leaf("isk_value", core.OpGt, float64(200000000)), false},
		{"gt boundary", leaf("isk_value", core.OpGt, float64(150000000)), false},
		{"gte boundary", leaf("isk_value", core.OpGte, float64(150000000)), true},
		{"lt match", leaf("isk_value", core.OpLt, float64(200000000)), true},
		{"lte boundary", leaf("isk_value", core.OpLte, float64(150000000)), true},
		{"in match", leaf("system_id", core.OpIn, []any{float64(30000142), float64(30000144)}), true},
		{"in no match", leaf("system_id", core.OpIn, []any{float64(30000144)}), false},
		{"not_in match", leaf("system_id", core.OpNotIn, []any{float64(30000144)}), true},
		{"not_in no match", leaf("system_id", core.OpNotIn, []any{float64(30000142)}), false},
		{"bool eq", leaf("solo", core.OpEq, false), true},
		{"int literal canonicalized", leaf("system_id", core.OpEq, 30000142), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pred := mustCompile(t, tc.node)
			if got := pred(km); got != tc.want {
				t.Errorf("predicate = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCompile_SetOperators(t *testing.T) {
	km := testKillmail() // tags: T2, High Slot

	cases := []struct {
		name string
		node core.FilterNode
		want bool
	}{
		{"contains_any hit", leaf("module_tags", core.OpContainsAny, []any{"T2", "Officer"}), true},
		{"contains_any miss", leaf("module_tags", core.OpContainsAny, []any{"Officer", "Capital"}), false},
		{"contains_all hit", leaf("module_tags", core.OpContainsAll, []any{"T2", "High Slot"}), true},
		{"contains_all partial", leaf("module_tags", core.OpContainsAll, []any{"T2", "Officer"}), false},
		{"not_contains hit", leaf("module_tags", core.OpNotContains, []any{"Officer"}), true},
		{"not_contains miss", leaf("module_tags", core.OpNotContains, []any{"T2"}), false},
		{"numeric set contains_any", leaf("attacker_ship_type_ids", core.OpContainsAny, []any{float64(17738)}), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pred := mustCompile(t, tc.node)
			if got := pred(km); got != tc.want {
				t.Errorf("predicate = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCompile_Groups(t *testing.T) {
	km := testKillmail()

	and := group(core.CombinatorAnd,
		leaf("module_tags", core.OpContainsAny, []any{"T2"}),
		leaf("isk_value", core.OpGt, float64(100000000)),
	)
	if !mustCompile(t, and)(km) {
		t.Error("AND group should match")
	}

	or := group(core.CombinatorOr,
		leaf("isk_value", core.OpGt, float64(1000000000)),
		leaf("system_id", core.OpIn, []any{float64(30000142), float64(30000144)}),
	)
	if !mustCompile(t, or)(km) {
		t.Error("OR group should match via the system_id branch")
	}

	nested := group(core.CombinatorOr,
		group(core.CombinatorAnd,
			leaf("system_id", core.OpEq, float64(99)),
			leaf("isk_value", core.OpGt, float64(0)),
		),
		leaf("ship_type_id", core.OpEq, float64(670)),
	)
	if !mustCompile(t, nested)(km) {
		t.Error("nested tree should match via the ship_type_id leaf")
	}
}

func TestCompile_Errors(t *testing.T) {
	cases := []struct {
		name string
		node core.FilterNode
	}{
		{"unknown field", leaf("pod_value", core.OpEq, float64(1))},
		{"unknown operator", leaf("system_id", "matches", float64(1))},
		{"ordering on categorical", leaf("ship_type_id", core.OpGt, float64(1))},
		{"ordering on set", leaf("module_tags", core.OpGt, float64(1))},
		{"eq on set", leaf("module_tags", core.OpEq, "T2")},
		{"contains on scalar", leaf("system_id", core.OpContainsAny, []any{float64(1)})},
		{"eq type mismatch", leaf("system_id", core.OpEq, "Jita")},
		{"in with scalar literal", leaf("system_id", core.OpIn, float64(1))},
		{"in with empty array", leaf("system_id", core.OpIn, []any{})},
		{"in with mistyped element", leaf("system_id", core.OpIn, []any{float64(1), "Jita"})},
		{"contains with mistyped element", leaf("module_tags", core.OpContainsAny, []any{float64(1)})},
		{"empty group", group(core.CombinatorAnd)},
		{"unknown combinator", core.FilterNode{Condition: "xor", Rules: []core.FilterNode{leaf("solo", core.OpEq, true)}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(&tc.node)
			if err == nil {
				t.Fatal("expected compile error, got nil")
			}
			var ce *core.CompileError
			if !errors.As(err, &ce) {
				t.Errorf("expected *core.CompileError, got %T", err)
			}
		})
	}
}

// TestCompile_InterpreterEquivalence checks the central compiler contract:
// for randomly generated well-typed trees and killmails, the compiled
// predicate and the tree interpreter always agree.
func TestCompile_InterpreterEquivalence(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		tree := genTree(r, 3)
		pred, err := Compile(&tree)
		if err != nil {
			t.Fatalf("generated tree failed to compile: %v", err)
		}
		for j := 0; j < 20; j++ {
			km := genKillmail(r, int64(i*100+j))
			want, err := core.Interpret(&tree, km)
			if err != nil {
				t.Fatalf("interpreter rejected a compilable tree: %v", err)
			}
			if got := pred(km); got != want {
				t.Fatalf("tree %d killmail %d: compiled=%v interpreted=%v (tree=%+v)", i, j, got, want, tree)
			}
		}
	}
}
