// Package pool converts a pooled sample's aggregate observation into a
// bounded contribution to observed/total copy counts. Individual genotypes
// inside a pool are not resolvable, so everything here works on constituent
// counts and explicit copy counts.
package pool

import (
	"math"

	"varfreq/internal/domain"
	"varfreq/internal/ploidy"
)

// Contribution is what one pool adds to a frequency tally.
type Contribution struct {
	Observed int
	Total    int
	// Approximate is set when the total rests on the default copies-per-
	// individual fallback or on covered-fraction scaling.
	Approximate bool
}

type Accountant struct {
	ploidy *ploidy.Model
	// defaultCopies is the per-constituent total used when a pool's sex
	// ratio is unknown.
	defaultCopies int
}

func NewAccountant(model *ploidy.Model, defaultCopiesPerIndividual int) *Accountant {
	return &Accountant{ploidy: model, defaultCopies: defaultCopiesPerIndividual}
}

// Contribution computes a pool's (observed, total) contribution at a locus.
// obs may be nil when the pool has no observation for the allele. Coverage
// is pool-wide unless the pool carries a covered fraction, in which case the
// total is scaled down, never up, to what was actually measured.
func (a *Accountant) Contribution(s domain.Sample, locus domain.Locus, obs *domain.Observation) (Contribution, error) {
	if s.PoolSize <= 0 {
		return Contribution{}, domain.InsufficientPoolMetadataError{Sample: s.Name}
	}

	var c Contribution
	switch s.Kind {
	case domain.PoolKnownRatio:
		female, err := a.ploidy.Copies(locus.Chromosome, domain.Female)
		if err != nil {
			return Contribution{}, err
		}
		male, err := a.ploidy.Copies(locus.Chromosome, domain.Male)
		if err != nil {
			return Contribution{}, err
		}
		c.Total = s.PoolFemales*female + s.PoolMales*male
	case domain.PoolUnknownRatio:
		c.Total = s.PoolSize * a.defaultCopies
		c.Approximate = true
	default:
		// Individuals never reach the accountant; treat as unknown ratio of
		// one rather than failing the whole aggregation.
		c.Total = s.PoolSize * a.defaultCopies
		c.Approximate = true
	}

	if f := s.CoveredFraction; f > 0 && f < 1 {
		c.Total = int(math.Floor(float64(c.Total) * f))
		c.Approximate = true
	}

	if obs != nil {
		c.Observed = obs.Copies
		if c.Observed == 0 {
			// A pooled observation without a copy count is at least one
			// carrier chromosome.
			c.Observed = 1
		}
		if c.Observed > c.Total {
			c.Observed = c.Total
		}
	}
	return c, nil
}
