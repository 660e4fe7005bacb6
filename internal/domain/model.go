package domain

import (
	"fmt"
	"time"
)

// Core domain models used internally. Wire shapes for the HTTP API live in
// the http adapter; keep these decoupled where helpful.

// Sex of an individual sample. Pools carry constituent counts instead.
type Sex int

const (
	UnknownSex Sex = iota
	Female
	Male
)

func (s Sex) String() string {
	switch s {
	case Female:
		return "female"
	case Male:
		return "male"
	default:
		return "unknown"
	}
}

// Zygosity of an observation on an individual sample.
type Zygosity int

const (
	UnknownZygosity Zygosity = iota
	Heterozygous
	Homozygous
)

func (z Zygosity) String() string {
	switch z {
	case Heterozygous:
		return "heterozygous"
	case Homozygous:
		return "homozygous"
	default:
		return "unknown"
	}
}

// SampleKind is a tagged variant dispatched exhaustively in the aggregator
// and pool accountant.
type SampleKind int

const (
	Individual SampleKind = iota
	PoolKnownRatio
	PoolUnknownRatio
)

// CoveragePolicy records how observability is decided for a sample that may
// or may not carry coverage tracks. The choice materially changes total
// copy counts, so it is surfaced in result provenance.
type CoveragePolicy int

const (
	// TrackedCoverage consults the sample's recorded coverage regions.
	TrackedCoverage CoveragePolicy = iota
	// AssumeCovered treats the sample as observable everywhere. Required for
	// imports that ship no coverage data; less correct.
	AssumeCovered
	// AssumeUncovered excludes the sample everywhere. The conservative choice
	// for imports without coverage data; samples that ship regions use
	// TrackedCoverage instead.
	AssumeUncovered
)

// Locus is a genomic position.
type Locus struct {
	Chromosome string
	Position   int64
}

func (l Locus) String() string {
	return fmt.Sprintf("%s:%d", l.Chromosome, l.Position)
}

// Allele is a variant at a locus, reference sequence > observed sequence.
type Allele struct {
	Reference string
	Observed  string
}

func (a Allele) String() string {
	return a.Reference + ">" + a.Observed
}

// Sample is an individual sample or a pool. Immutable once imported except
// for withdrawal, which deactivates it.
type Sample struct {
	ID      string
	GroupID string
	Name    string
	Sex     Sex
	Kind    SampleKind

	// Pool metadata. PoolSize is mandatory for pools; PoolFemales/PoolMales
	// are set only for PoolKnownRatio. CoveredFraction, when in (0, 1),
	// scales a pool's contribution to the covered share of constituents.
	PoolSize        int
	PoolFemales     int
	PoolMales       int
	CoveredFraction float64

	CoveragePolicy CoveragePolicy
	// Public samples belong to the named reference dataset and are queryable
	// by anyone through a public scope.
	Public      bool
	Dataset     string
	Deactivated bool
	CreatedAt   time.Time
}

// Observation records that a sample or pool exhibited an allele at a locus.
// Records are append-only; ValidFrom/ValidTo bound the data versions for
// which the record is live (ValidTo zero means open).
type Observation struct {
	SampleID string
	Locus    Locus
	Allele   Allele
	Zygosity Zygosity
	// Copies is an explicit observed copy count, used for pools (e.g. 37 of
	// 1000 chromosomes). Zero means derive from zygosity and ploidy.
	Copies    int
	ValidFrom uint64
	ValidTo   uint64
}

// CoverageRegion is a half-open interval [Begin, End) where a sample's
// sequencing depth supported confident calls.
type CoverageRegion struct {
	SampleID   string
	Chromosome string
	Begin      int64
	End        int64
	ValidFrom  uint64
	ValidTo    uint64
}

// Group owns samples and forms the anonymity boundary: other groups may see
// summed counts contributed by this group, never per-sample detail.
type Group struct {
	ID   string
	Name string
}

// FrequencyResult is the engine's output for one (locus, allele, scope).
type FrequencyResult struct {
	Locus          Locus
	Allele         Allele
	ScopeKey       string
	ObservedCopies int
	TotalCopies    int
	SampleCount    int

	// Approximate is set when any contributing pool fell back to a default
	// sex ratio or scaled its contribution by an assumed coverage fraction.
	Approximate bool
	// HasData distinguishes "allele absent despite coverage" from "nothing
	// was eligible or covered here"; callers must not read 0/0 as zero
	// frequency.
	HasData bool
	// CoverageFallbacks counts contributing samples whose observability came
	// from an AssumeCovered policy rather than recorded coverage.
	CoverageFallbacks int

	// Zygosity split of ObservedCopies. Populated for owner-group scopes
	// only; anonymized scopes report sums alone.
	ObservedHet int
	ObservedHom int

	DataVersion uint64
}
