// Package merge implements the newest-wins rule used to fold a committed batch into
// the last-value map.
package merge

import "github.com/rickgao/lastvalue/internal/model"

// Result summarizes one Apply call.
type Result struct {
	// Applied holds the observations that replaced (or created) a stored value,
	// in batch order. An instrument can appear more than once.
	Applied []model.Observation

	// Discarded counts observations whose AsOf was not strictly newer.
	Discarded int
}

// Changed reports whether at least one observation was applied.
func (r Result) Changed() bool {
	return len(r.Applied) > 0
}

// Apply folds records into base in sequence order. For each record the stored value
// is replaced only if none exists or the record's AsOf is strictly greater, so ties
// keep whatever was stored first.
//
// base is never modified. If nothing is applied the returned map is base itself;
// otherwise it is a new map that shares no state with base.
func Apply(base map[string]model.Observation, records []model.Observation) (map[string]model.Observation, Result) {
	var (
		res  Result
		next map[string]model.Observation
	)

	for _, rec := range records {
		current, ok := lookup(base, next, rec.InstrumentID)
		if ok && !rec.NewerThan(current) {
			res.Discarded++
			continue
		}

		if next == nil {
			next = make(map[string]model.Observation, len(base)+1)
			for k, v := range base {
				next[k] = v
			}
		}
		next[rec.InstrumentID] = rec
		res.Applied = append(res.Applied, rec)
	}

	if next == nil {
		return base, res
	}
	return next, res
}

// lookup reads from next once a copy exists, base before that.
func lookup(base, next map[string]model.Observation, id string) (model.Observation, bool) {
	if next != nil {
		o, ok := next[id]
		return o, ok
	}
	o, ok := base[id]
	return o, ok
}
