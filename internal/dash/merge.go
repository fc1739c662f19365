package dash

import (
	"errors"

	"mediaindex/internal/index"
	"mediaindex/internal/logger"
	"mediaindex/internal/timeline"
)

// MergeStats counts what Merge did to each Representation.
type MergeStats struct {
	Updated  int
	Replaced int
	Kept     int
	Added    int
}

// Merge folds newer, built from a refresh of current's MPD, into current's
// indexes. The result has newer's structure but reuses the index objects of
// current for the Representations both announce, so that callers holding
// an index keep seeing fresh segments.
func Merge(current, newer *Manifest, log logger.Logger) (*Manifest, MergeStats) {
	var stats MergeStats
	if log == nil {
		log = logger.Nop()
	}
	if current == nil {
		return newer, stats
	}
	for _, p := range newer.Periods {
		for _, as := range p.AdaptationSets {
			for _, r := range as.Representations {
				old, ok := current.Lookup(p.ID, r.ID)
				if !ok {
					stats.Added++
					continue
				}
				if mergeIndex(old.Index, r.Index, log, &stats) {
					r.Index = old.Index
				}
			}
		}
	}
	return newer, stats
}

// mergeIndex merges newer into current and reports whether current should
// be kept.
func mergeIndex(current, newer index.RepresentationIndex, log logger.Logger, stats *MergeStats) bool {
	switch cur := current.(type) {
	case *index.BaseIndex:
		if _, same := newer.(*index.BaseIndex); same && cur.IsInitialized() {
			// The index segment was already loaded and a SegmentBase
			// never changes.
			stats.Kept++
			return true
		}
		return replaceIndex(current, newer, log, stats)
	case *index.ListIndex:
		return replaceIndex(current, newer, log, stats)
	}

	err := current.Update(newer)
	switch {
	case err == nil:
		stats.Updated++
		return true
	case errors.Is(err, index.ErrIndexMismatch):
		log.Warnf("dash: addressing scheme changed, using the refreshed index: %v", err)
		stats.Added++
		return false
	case errors.Is(err, timeline.ErrUpdateGap):
		log.Warnf("dash: refreshed timeline does not continue the current one, replacing it: %v", err)
	default:
		log.Warnf("dash: cannot update index, replacing it: %v", err)
	}
	return replaceIndex(current, newer, log, stats)
}

func replaceIndex(current, newer index.RepresentationIndex, log logger.Logger, stats *MergeStats) bool {
	if err := current.Replace(newer); err != nil {
		if !errors.Is(err, index.ErrIndexMismatch) {
			log.Errorf("dash: cannot replace index: %v", err)
		}
		stats.Added++
		return false
	}
	stats.Replaced++
	return true
}
