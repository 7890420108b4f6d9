package surveil

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"killwatch/core"
	"killwatch/metrics"
)

// compiledProfile pairs a profile snapshot with its compiled predicate.
// Replacing a profile swaps the whole pair in one atomic store so a
// concurrent Match never observes a half-updated profile.
type compiledProfile struct {
	profile *core.Profile
	pred    Predicate
}

// profileStats is best-effort match bookkeeping, updated without locking the
// match path.
type profileStats struct {
	matchCount  atomic.Int64
	lastMatched atomic.Int64 // unix nanos
}

// Engine is the matching engine: it asks the index manager for a candidate
// profile set per killmail and evaluates only those candidates' compiled
// predicates. Safe for concurrent use from any number of ingestion workers;
// it never blocks on lifecycle operations and reads whatever predicate state
// is currently published (eventual consistency, not linearizability).
type Engine struct {
	index      *IndexManager
	cache      *ResultCache // nil when caching is disabled
	predicates sync.Map     // profile ID -> *compiledProfile
	stats      sync.Map     // profile ID -> *profileStats
	published  atomic.Int64
	logger     *zap.SugaredLogger
}

// NewEngine creates a matching engine over the given index manager. cache may
// be nil.
func NewEngine(index *IndexManager, cache *ResultCache, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		index:  index,
		cache:  cache,
		logger: logger,
	}
}

// Match evaluates a killmail against the published profile set and returns
// the true match set, ordered by profile ID. One misbehaving profile never
// aborts matching for the rest of the candidates.
func (e *Engine) Match(ctx context.Context, km *core.Killmail) []core.Match {
	identity := km.Identity()

	if e.cache != nil {
		if ids, ok := e.cache.Get(ctx, identity); ok {
			return e.buildMatches(ids, km)
		}
	}

	start := time.Now()
	candidates := e.index.Candidates(km)
	metrics.CandidateSetSize.Observe(float64(len(candidates)))

	matched := make([]string, 0, 8)
	for id := range candidates {
		v, ok := e.predicates.Load(id)
		if !ok {
			// Dangling candidate from a concurrent delete; a missing
			// predicate means no match, never an error.
			continue
		}
		cp := v.(*compiledProfile)
		if e.safeEval(cp, km) {
			matched = append(matched, id)
		}
	}
	sort.Strings(matched)

	metrics.MatchDuration.Observe(time.Since(start).Seconds())

	if e.cache != nil {
		e.cache.Put(ctx, identity, matched)
	}

	e.recordMatches(matched)
	return e.buildMatches(matched, km)
}

// safeEval evaluates one predicate, isolating panics caused by malformed
// event data so a single bad profile cannot take down the batch.
func (e *Engine) safeEval(cp *compiledProfile, km *core.Killmail) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.EvaluationPanics.Inc()
			e.logger.Warnf("Predicate for profile %s panicked on killmail %d, skipping: %v",
				cp.profile.ID, km.KillmailID, r)
			result = false
		}
	}()
	return cp.pred(km)
}

func (e *Engine) buildMatches(ids []string, km *core.Killmail) []core.Match {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	out := make([]core.Match, 0, len(ids))
	for _, id := range ids {
		// A cached ID may belong to a profile deleted since the entry was
		// written; drop it rather than notify for a dead profile.
		if _, ok := e.predicates.Load(id); !ok {
			continue
		}
		out = append(out, core.Match{ProfileID: id, Killmail: km, MatchedAt: now})
	}
	if len(out) == 0 {
		return nil
	}
	metrics.MatchesEmitted.Add(float64(len(out)))
	return out
}

func (e *Engine) recordMatches(ids []string) {
	now := time.Now().UnixNano()
	for _, id := range ids {
		v, _ := e.stats.LoadOrStore(id, &profileStats{})
		st := v.(*profileStats)
		st.matchCount.Add(1)
		st.lastMatched.Store(now)
	}
}

// publish atomically swaps in a profile's compiled predicate. Called by the
// lifecycle controller with the profile's lock held.
func (e *Engine) publish(profile *core.Profile, pred Predicate) {
	_, existed := e.predicates.Load(profile.ID)
	e.predicates.Store(profile.ID, &compiledProfile{profile: profile, pred: pred})
	if !existed {
		metrics.ActiveProfiles.Set(float64(e.published.Add(1)))
	}
}

// unpublish removes a profile's predicate and bookkeeping.
func (e *Engine) unpublish(profileID string) {
	if _, existed := e.predicates.LoadAndDelete(profileID); existed {
		metrics.ActiveProfiles.Set(float64(e.published.Add(-1)))
	}
	e.stats.Delete(profileID)
}

// Profile returns the published snapshot of a profile, if any.
func (e *Engine) Profile(profileID string) (*core.Profile, bool) {
	v, ok := e.predicates.Load(profileID)
	if !ok {
		return nil, false
	}
	return v.(*compiledProfile).profile, true
}

// Stats returns the best-effort match bookkeeping for a profile.
func (e *Engine) Stats(profileID string) core.MatchStats {
	v, ok := e.stats.Load(profileID)
	if !ok {
		return core.MatchStats{}
	}
	st := v.(*profileStats)
	out := core.MatchStats{MatchCount: st.matchCount.Load()}
	if ns := st.lastMatched.Load(); ns > 0 {
		out.LastMatchedAt = time.Unix(0, ns).UTC()
	}
	return out
}

// PublishedCount returns the number of profiles currently visible to Match.
func (e *Engine) PublishedCount() int {
	return int(e.published.Load())
}
