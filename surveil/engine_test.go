package surveil

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"killwatch/core"
)

func newTestStack(t *testing.T, cache *ResultCache) (*Engine, *Controller) {
	t.Helper()
	index := NewIndexManager(testLogger())
	engine := NewEngine(index, cache, testLogger())
	controller := NewController(engine, index, cache, testLogger())
	return engine, controller
}

func testProfile(id string, tree core.FilterNode) *core.Profile {
	return &core.Profile{
		ID:         id,
		Name:       "profile " + id,
		Enabled:    true,
		Version:    1,
		FilterTree: tree,
	}
}

func mustUpsert(t *testing.T, c *Controller, p *core.Profile) {
	t.Helper()
	if err := c.Upsert(p); err != nil {
		t.Fatalf("Upsert(%s) failed: %v", p.ID, err)
	}
}

func matchedIDs(matches []core.Match) []string {
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ProfileID)
	}
	return ids
}

func TestEngine_MatchScenarios(t *testing.T) {
	engine, controller := newTestStack(t, nil)
	ctx := context.Background()

	// High value T2 losses in Jita.
	mustUpsert(t, controller, testProfile("jita-whales", group(core.CombinatorAnd,
		leaf("system_id", core.OpEq, float64(30000142)),
		leaf("isk_value", core.OpGt, float64(100000000)),
		leaf("module_tags", core.OpContainsAny, []any{"T2"}),
	)))
	// Any solo kill.
	mustUpsert(t, controller, testProfile("solo-kills", leaf("solo", core.OpEq, true)))
	// Out of region entirely.
	mustUpsert(t, controller, testProfile("elsewhere", leaf("region_id", core.OpEq, float64(10000043))))

	km := testKillmail() // Jita, 150M ISK, T2 tags, not solo
	matches := engine.Match(ctx, km)
	got := matchedIDs(matches)
	if len(got) != 1 || got[0] != "jita-whales" {
		t.Fatalf("matched %v, want [jita-whales]", got)
	}
	for _, m := range matches {
		if m.Killmail != km {
			t.Error("match should carry the evaluated killmail")
		}
		if m.MatchedAt.IsZero() {
			t.Error("match timestamp should be set")
		}
	}

	cheap := testKillmail()
	cheap.KillmailID = 1002
	cheap.Hash = "def456"
	cheap.ISKValue = 50000000
	if got := matchedIDs(engine.Match(ctx, cheap)); len(got) != 0 {
		t.Fatalf("low value killmail matched %v, want none", got)
	}

	solo := testKillmail()
	solo.KillmailID = 1003
	solo.Hash = "ghi789"
	solo.Solo = true
	got = matchedIDs(engine.Match(ctx, solo))
	if len(got) != 2 || got[0] != "jita-whales" || got[1] != "solo-kills" {
		t.Fatalf("matched %v, want [jita-whales solo-kills] in ID order", got)
	}
}

func TestEngine_UpdateReplacesOldVersion(t *testing.T) {
	engine, controller := newTestStack(t, nil)
	ctx := context.Background()

	p := testProfile("p1", leaf("system_id", core.OpEq, float64(30000142)))
	mustUpsert(t, controller, p)

	km := testKillmail()
	if len(engine.Match(ctx, km)) != 1 {
		t.Fatal("initial version should match")
	}

	updated := testProfile("p1", leaf("system_id", core.OpEq, float64(30000144)))
	updated.Version = 2
	mustUpsert(t, controller, updated)

	if len(engine.Match(ctx, km)) != 0 {
		t.Error("old version should no longer match after update")
	}
	moved := testKillmail()
	moved.KillmailID = 2
	moved.Hash = "h2"
	moved.SystemID = 30000144
	if len(engine.Match(ctx, moved)) != 1 {
		t.Error("new version should match its own system")
	}
	if engine.PublishedCount() != 1 {
		t.Errorf("PublishedCount = %d, want 1", engine.PublishedCount())
	}
}

func TestEngine_CompileFailureLeavesOldVersionLive(t *testing.T) {
	engine, controller := newTestStack(t, nil)
	ctx := context.Background()

	mustUpsert(t, controller, testProfile("p1", leaf("system_id", core.OpEq, float64(30000142))))

	broken := testProfile("p1", leaf("system_id", "between", float64(1)))
	broken.Version = 2
	if err := controller.Upsert(broken); err == nil {
		t.Fatal("expected compile error")
	}

	// The previous version keeps matching.
	if len(engine.Match(ctx, testKillmail())) != 1 {
		t.Error("failed upsert must not withdraw the previous version")
	}
	if p, ok := engine.Profile("p1"); !ok || p.Version != 1 {
		t.Error("published snapshot should still be version 1")
	}
}

func TestEngine_DeleteWithdrawsProfile(t *testing.T) {
	engine, controller := newTestStack(t, nil)
	ctx := context.Background()

	mustUpsert(t, controller, testProfile("p1", leaf("system_id", core.OpEq, float64(30000142))))
	controller.Delete("p1")

	if len(engine.Match(ctx, testKillmail())) != 0 {
		t.Error("deleted profile must not match")
	}
	if engine.PublishedCount() != 0 {
		t.Errorf("PublishedCount = %d, want 0", engine.PublishedCount())
	}

	// Deleting twice or deleting unknown IDs is fine.
	controller.Delete("p1")
	controller.Delete("ghost")
}

func TestEngine_DisabledProfileWithdrawn(t *testing.T) {
	engine, controller := newTestStack(t, nil)
	ctx := context.Background()

	mustUpsert(t, controller, testProfile("p1", leaf("system_id", core.OpEq, float64(30000142))))

	disabled := testProfile("p1", leaf("system_id", core.OpEq, float64(30000142)))
	disabled.Enabled = false
	mustUpsert(t, controller, disabled)

	if len(engine.Match(ctx, testKillmail())) != 0 {
		t.Error("disabled profile must not match")
	}

	disabled.Enabled = true
	mustUpsert(t, controller, disabled)
	if len(engine.Match(ctx, testKillmail())) != 1 {
		t.Error("re-enabled profile should match again")
	}
}

// TestEngine_BruteForceEquivalence loads a large random profile population and
// checks that the indexed engine returns exactly the set a brute-force
// interpreter pass over all profiles would.
func TestEngine_BruteForceEquivalence(t *testing.T) {
	r := rand.New(rand.NewSource(99))
	engine, controller := newTestStack(t, nil)
	ctx := context.Background()

	trees := make(map[string]core.FilterNode, 1000)
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("p%04d", i)
		tree := genTree(r, 3)
		trees[id] = tree
		mustUpsert(t, controller, testProfile(id, tree))
	}

	for j := 0; j < 100; j++ {
		km := genKillmail(r, int64(j))

		want := make(map[string]struct{})
		for id, tree := range trees {
			ok, err := core.Interpret(&tree, km)
			if err != nil {
				t.Fatalf("interpret failed: %v", err)
			}
			if ok {
				want[id] = struct{}{}
			}
		}

		got := matchedIDs(engine.Match(ctx, km))
		if len(got) != len(want) {
			t.Fatalf("killmail %d: engine matched %d profiles, brute force %d", j, len(got), len(want))
		}
		for _, id := range got {
			if _, ok := want[id]; !ok {
				t.Fatalf("killmail %d: engine matched %s which brute force did not", j, id)
			}
		}
	}
}

func TestEngine_PanicIsolation(t *testing.T) {
	index := NewIndexManager(testLogger())
	engine := NewEngine(index, nil, testLogger())
	ctx := context.Background()

	// Publish directly so one predicate can be made to panic; the compiler
	// never produces one, but malformed event data could.
	bad := testProfile("bad", leaf("solo", core.OpEq, true))
	engine.publish(bad, func(km *core.Killmail) bool { panic("boom") })
	index.IndexProfile("bad", &core.FilterNode{Field: "ship_type_id", Operator: core.OpNe, Value: float64(1)})

	good := testProfile("good", leaf("system_id", core.OpEq, float64(30000142)))
	pred, err := Compile(&good.FilterTree)
	if err != nil {
		t.Fatal(err)
	}
	engine.publish(good, pred)
	index.IndexProfile("good", &good.FilterTree)

	got := matchedIDs(engine.Match(ctx, testKillmail()))
	if len(got) != 1 || got[0] != "good" {
		t.Fatalf("matched %v, want [good]: panic in one predicate must not affect others", got)
	}
}

func TestEngine_DanglingCandidateTolerated(t *testing.T) {
	index := NewIndexManager(testLogger())
	engine := NewEngine(index, nil, testLogger())

	// Index entry without a published predicate, as a concurrent delete can
	// briefly produce.
	tree := leaf("system_id", core.OpEq, float64(30000142))
	index.IndexProfile("ghost", &tree)

	if got := engine.Match(context.Background(), testKillmail()); len(got) != 0 {
		t.Fatalf("dangling candidate produced matches: %v", matchedIDs(got))
	}
}

func TestEngine_CachedResultSkipsDeletedProfiles(t *testing.T) {
	cache := NewResultCache(16, time.Minute, nil, testLogger())
	engine, controller := newTestStack(t, cache)
	ctx := context.Background()

	mustUpsert(t, controller, testProfile("p1", leaf("system_id", core.OpEq, float64(30000142))))
	km := testKillmail()
	if len(engine.Match(ctx, km)) != 1 {
		t.Fatal("expected initial match")
	}

	// Simulate a cache entry surviving a delete by re-adding it after the
	// purge the controller performs.
	controller.Delete("p1")
	cache.Put(ctx, km.Identity(), []string{"p1"})

	if got := engine.Match(ctx, km); len(got) != 0 {
		t.Fatalf("cached IDs of deleted profiles must be dropped, got %v", matchedIDs(got))
	}
}

func TestEngine_MatchStats(t *testing.T) {
	engine, controller := newTestStack(t, nil)
	ctx := context.Background()

	mustUpsert(t, controller, testProfile("p1", leaf("system_id", core.OpEq, float64(30000142))))

	engine.Match(ctx, testKillmail())
	km2 := testKillmail()
	km2.KillmailID = 2
	km2.Hash = "h2"
	engine.Match(ctx, km2)

	st := engine.Stats("p1")
	if st.MatchCount != 2 {
		t.Errorf("MatchCount = %d, want 2", st.MatchCount)
	}
	if st.LastMatchedAt.IsZero() {
		t.Error("LastMatchedAt should be set")
	}
	if got := engine.Stats("ghost"); got.MatchCount != 0 {
		t.Error("unknown profile should report zero stats")
	}
}

func TestEngine_ConcurrentMatchAndLifecycle(t *testing.T) {
	engine, controller := newTestStack(t, nil)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		mustUpsert(t, controller, testProfile(fmt.Sprintf("p%02d", i),
			leaf("system_id", core.OpIn, []any{genSystems[i%len(genSystems)]})))
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for {
				select {
				case <-stop:
					return
				default:
				}
				engine.Match(ctx, genKillmail(r, r.Int63n(1e6)))
			}
		}(int64(w))
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		r := rand.New(rand.NewSource(1234))
		for i := 0; i < 500; i++ {
			id := fmt.Sprintf("p%02d", r.Intn(50))
			if r.Intn(4) == 0 {
				controller.Delete(id)
				continue
			}
			p := testProfile(id, genTree(r, 2))
			p.Version = i
			if err := controller.Upsert(p); err != nil {
				t.Errorf("concurrent upsert failed: %v", err)
				return
			}
		}
	}()

	time.Sleep(200 * time.Millisecond)
	close(stop)
	wg.Wait()
}
