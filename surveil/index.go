package surveil

import (
	"strconv"
	"sync"

	"go.uber.org/zap"

	"killwatch/core"
	"killwatch/metrics"
)

// iskBucketMax caps the order-of-magnitude buckets for the ISK value index.
// Bucket b covers values in [10^b, 10^(b+1)); bucket 0 additionally covers
// everything below 10. Nothing killable is worth 10^16 ISK.
const iskBucketMax = 15

// iskField is the only numeric field with range indexing support. Ordering
// leaves on any other numeric field push their profile into the fallback set.
const iskField = "isk_value"

// entryRef records one index entry owned by a profile so deletion can remove
// exactly what indexing inserted. Field values are not unique per profile, so
// the reverse mapping is the only safe way to purge.
type entryRef struct {
	field string
	key   string
}

// table is one per-field inverted index: value key -> set of profile IDs.
// Reads take the read lock only; writes are fine-grained per table.
type table struct {
	mu sync.RWMutex
	m  map[string]map[string]struct{}
}

func newTable() *table {
	return &table{m: make(map[string]map[string]struct{})}
}

func (t *table) add(key, profileID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids, ok := t.m[key]
	if !ok {
		ids = make(map[string]struct{})
		t.m[key] = ids
	}
	ids[profileID] = struct{}{}
}

func (t *table) remove(key, profileID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids, ok := t.m[key]
	if !ok {
		return
	}
	delete(ids, profileID)
	if len(ids) == 0 {
		delete(t.m, key)
	}
}

func (t *table) collect(key string, into map[string]struct{}) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id := range t.m[key] {
		into[id] = struct{}{}
	}
}

func (t *table) references(profileID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ids := range t.m {
		if _, ok := ids[profileID]; ok {
			return true
		}
	}
	return false
}

// IndexManager maintains the per-field inverted indexes, the ISK bucket index,
// the always-candidate fallback set, and the per-profile reverse mapping.
//
// Correctness contract (no false negatives): for any killmail K and profile P
// whose predicate matches K, Candidates(K) contains P — either through an
// index hit on one of P's leaves or through the fallback set. The candidate
// set is a superset by design; the matching engine's predicate evaluation is
// the sole source of truth.
type IndexManager struct {
	exact map[string]*table // field name -> exact/set-membership index
	isk   *table            // ISK order-of-magnitude bucket -> profile IDs

	fbMu     sync.RWMutex
	fallback map[string]struct{}

	ownedMu sync.Mutex
	owned   map[string][]entryRef

	logger *zap.SugaredLogger
}

// NewIndexManager creates an index manager with one exact table per
// registered scalar or set field.
func NewIndexManager(logger *zap.SugaredLogger) *IndexManager {
	im := &IndexManager{
		exact:    make(map[string]*table, len(core.Fields)),
		isk:      newTable(),
		fallback: make(map[string]struct{}),
		owned:    make(map[string][]entryRef),
		logger:   logger,
	}
	for name := range core.Fields {
		im.exact[name] = newTable()
	}
	return im
}

// IndexProfile walks a filter tree and inserts index entries for every
// indexable leaf. If any leaf is not indexable the whole profile goes into
// the fallback set instead: a partially indexed OR branch could otherwise
// drop a true match. Re-indexing an already indexed profile is idempotent.
func (im *IndexManager) IndexProfile(profileID string, tree *core.FilterNode) {
	im.DeindexProfile(profileID)

	refs, indexable := im.extract(tree)
	if !indexable || len(refs) == 0 {
		im.fbMu.Lock()
		im.fallback[profileID] = struct{}{}
		size := len(im.fallback)
		im.fbMu.Unlock()
		im.ownedMu.Lock()
		im.owned[profileID] = []entryRef{{field: "", key: ""}}
		im.ownedMu.Unlock()
		metrics.FallbackProfiles.Set(float64(size))
		im.logger.Debugf("Profile %s has non-indexable leaves, added to fallback set (size=%d)", profileID, size)
		return
	}

	// Dedupe refs: the same value may appear in several leaves.
	seen := make(map[entryRef]struct{}, len(refs))
	deduped := refs[:0]
	for _, r := range refs {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		deduped = append(deduped, r)
	}

	for _, r := range deduped {
		im.tableFor(r.field).add(r.key, profileID)
	}
	im.ownedMu.Lock()
	im.owned[profileID] = deduped
	im.ownedMu.Unlock()
}

// DeindexProfile removes every index entry previously inserted for the
// profile, including fallback membership. Safe to call for unknown IDs.
func (im *IndexManager) DeindexProfile(profileID string) {
	im.ownedMu.Lock()
	refs := im.owned[profileID]
	delete(im.owned, profileID)
	im.ownedMu.Unlock()

	for _, r := range refs {
		if r.field == "" {
			im.fbMu.Lock()
			delete(im.fallback, profileID)
			size := len(im.fallback)
			im.fbMu.Unlock()
			metrics.FallbackProfiles.Set(float64(size))
			continue
		}
		im.tableFor(r.field).remove(r.key, profileID)
	}
}

// Candidates returns the union of index hits for the killmail's field values
// plus the fallback set. Never returns false negatives; callers must still
// evaluate every candidate's predicate.
func (im *IndexManager) Candidates(km *core.Killmail) map[string]struct{} {
	out := make(map[string]struct{})

	for name, def := range core.Fields {
		tbl := im.exact[name]
		switch def.Kind {
		case core.FieldSet:
			for _, v := range def.Set(km) {
				tbl.collect(core.CanonKey(v), out)
			}
		default:
			tbl.collect(core.CanonKey(def.Scalar(km)), out)
		}
	}

	im.isk.collect(iskBucketKey(iskBucket(km.ISKValue)), out)

	im.fbMu.RLock()
	for id := range im.fallback {
		out[id] = struct{}{}
	}
	im.fbMu.RUnlock()

	return out
}

// ReferencesProfile reports whether any index structure still references the
// profile. Used by tests and defensive sweeps; the hot path never calls it.
func (im *IndexManager) ReferencesProfile(profileID string) bool {
	for _, tbl := range im.exact {
		if tbl.references(profileID) {
			return true
		}
	}
	if im.isk.references(profileID) {
		return true
	}
	im.fbMu.RLock()
	_, inFallback := im.fallback[profileID]
	im.fbMu.RUnlock()
	return inFallback
}

// FallbackSize returns the current fallback set size.
func (im *IndexManager) FallbackSize() int {
	im.fbMu.RLock()
	defer im.fbMu.RUnlock()
	return len(im.fallback)
}

func (im *IndexManager) tableFor(field string) *table {
	if field == iskField+"#bucket" {
		return im.isk
	}
	return im.exact[field]
}

// extract walks the tree and produces the entry refs for every leaf. The
// second return is false when at least one leaf cannot be indexed, in which
// case the caller must fall back to the always-candidate set for the whole
// profile.
func (im *IndexManager) extract(node *core.FilterNode) ([]entryRef, bool) {
	if node == nil {
		return nil, false
	}
	if node.IsGroup() {
		var refs []entryRef
		for i := range node.Rules {
			childRefs, ok := im.extract(&node.Rules[i])
			if !ok {
				return nil, false
			}
			refs = append(refs, childRefs...)
		}
		return refs, true
	}
	return im.extractLeaf(node)
}

func (im *IndexManager) extractLeaf(node *core.FilterNode) ([]entryRef, bool) {
	def, ok := core.Fields[node.Field]
	if !ok {
		return nil, false
	}

	switch node.Operator {
	case core.OpEq:
		if def.Kind == core.FieldSet {
			return nil, false
		}
		v, err := core.LeafScalarLiteral(node, def)
		if err != nil {
			return nil, false
		}
		return []entryRef{{field: node.Field, key: core.CanonKey(v)}}, true

	case core.OpIn:
		if def.Kind == core.FieldSet {
			return nil, false
		}
		members, err := core.LeafArrayLiteral(node, def)
		if err != nil {
			return nil, false
		}
		refs := make([]entryRef, 0, len(members))
		for m := range members {
			refs = append(refs, entryRef{field: node.Field, key: core.CanonKey(m)})
		}
		return refs, true

	case core.OpContainsAny, core.OpContainsAll:
		// For contains_all a killmail carrying every required element
		// necessarily probes at least one of these keys, so indexing each
		// element preserves the no-false-negative guarantee.
		if def.Kind != core.FieldSet {
			return nil, false
		}
		members, err := core.LeafArrayLiteral(node, def)
		if err != nil {
			return nil, false
		}
		refs := make([]entryRef, 0, len(members))
		for m := range members {
			refs = append(refs, entryRef{field: node.Field, key: core.CanonKey(m)})
		}
		return refs, true

	case core.OpGt, core.OpGte, core.OpLt, core.OpLte:
		if node.Field != iskField {
			return nil, false
		}
		v, err := core.LeafScalarLiteral(node, def)
		if err != nil {
			return nil, false
		}
		threshold := v.(float64)
		lo, hi := 0, iskBucket(threshold)
		if node.Operator == core.OpGt || node.Operator == core.OpGte {
			lo, hi = iskBucket(threshold), iskBucketMax
		}
		refs := make([]entryRef, 0, hi-lo+1)
		for b := lo; b <= hi; b++ {
			refs = append(refs, entryRef{field: iskField + "#bucket", key: iskBucketKey(b)})
		}
		return refs, true

	default:
		// ne, not_in, not_contains match almost every killmail; an inverted
		// index cannot prune them.
		return nil, false
	}
}

// iskBucket maps an ISK value to its order-of-magnitude bucket. A leaf
// threshold and any value satisfying its range land in overlapping buckets,
// which is all the no-false-negative guarantee needs.
func iskBucket(v float64) int {
	b := 0
	for v >= 10 && b < iskBucketMax {
		v /= 10
		b++
	}
	return b
}

func iskBucketKey(b int) string {
	return strconv.Itoa(b)
}
