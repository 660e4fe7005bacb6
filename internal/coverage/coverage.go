// Package coverage answers whether a sample was observably sequenced at a
// locus. Coverage is what separates "observed, no variant" from "not
// measured": a sample may only contribute to total copy counts where it has
// coverage.
package coverage

import (
	"context"
	"sort"

	"varfreq/internal/domain"
	"varfreq/internal/ports"
)

// Index is a containment index over half-open intervals on one chromosome.
// Intervals are merged and sorted at build time; lookups binary-search.
type Index struct {
	begins []int64
	ends   []int64
}

// NewIndex builds an index from regions. Overlapping and adjacent intervals
// are merged.
func NewIndex(regions []domain.CoverageRegion) *Index {
	if len(regions) == 0 {
		return &Index{}
	}
	sorted := append([]domain.CoverageRegion(nil), regions...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Begin != sorted[j].Begin {
			return sorted[i].Begin < sorted[j].Begin
		}
		return sorted[i].End < sorted[j].End
	})
	idx := &Index{}
	curBegin, curEnd := sorted[0].Begin, sorted[0].End
	for _, r := range sorted[1:] {
		if r.Begin <= curEnd {
			if r.End > curEnd {
				curEnd = r.End
			}
			continue
		}
		idx.begins = append(idx.begins, curBegin)
		idx.ends = append(idx.ends, curEnd)
		curBegin, curEnd = r.Begin, r.End
	}
	idx.begins = append(idx.begins, curBegin)
	idx.ends = append(idx.ends, curEnd)
	return idx
}

// Contains reports whether position lies inside any interval.
func (idx *Index) Contains(position int64) bool {
	n := len(idx.begins)
	if n == 0 {
		return false
	}
	// First interval starting after position; the candidate is the one before.
	i := sort.Search(n, func(i int) bool { return idx.begins[i] > position })
	if i == 0 {
		return false
	}
	return position < idx.ends[i-1]
}

// Len returns the number of merged intervals.
func (idx *Index) Len() int { return len(idx.begins) }

// Resolver decides per-sample observability at a locus, honoring the
// sample's coverage policy.
type Resolver struct {
	store ports.CoverageStore
}

func NewResolver(store ports.CoverageStore) *Resolver {
	return &Resolver{store: store}
}

// Covered reports whether the sample is observable at the locus as of a data
// version. fallback is true when the answer rests on an AssumeCovered policy
// rather than recorded intervals; the aggregator surfaces that in provenance.
func (r *Resolver) Covered(ctx context.Context, s domain.Sample, locus domain.Locus, asOf uint64) (covered, fallback bool, err error) {
	switch s.CoveragePolicy {
	case domain.AssumeCovered:
		return true, true, nil
	case domain.AssumeUncovered:
		return false, false, nil
	}
	regions, err := r.store.RegionsFor(ctx, s.ID, locus.Chromosome, asOf)
	if err != nil {
		return false, false, err
	}
	return NewIndex(regions).Contains(locus.Position), false, nil
}
