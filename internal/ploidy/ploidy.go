// Package ploidy resolves how many allele copies a sample contributes at a
// chromosome, per sex. Pure lookup over configuration loaded once at start;
// the same model instance serves the read and import paths so the unknown-sex
// policy cannot diverge between them.
package ploidy

import (
	"fmt"

	"varfreq/internal/config"
	"varfreq/internal/domain"
)

// UnknownSexPolicy decides what an unknown-sex sample contributes on
// chromosomes whose copy count depends on sex.
type UnknownSexPolicy int

const (
	// ExcludeUnknown contributes zero copies for unknown-sex samples.
	ExcludeUnknown UnknownSexPolicy = iota
	// ExpectedCopies uses the configured expected-average copies value.
	ExpectedCopies
)

type copies struct {
	female   int
	male     int
	expected int
}

// Model is immutable after construction.
type Model struct {
	table  map[string]copies
	policy UnknownSexPolicy
}

// New builds a model from validated configuration.
func New(cfg config.EngineConfig) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	table := make(map[string]copies, len(cfg.Ploidy.Chromosomes))
	for name, c := range cfg.Ploidy.Chromosomes {
		table[name] = copies{female: c.Female, male: c.Male, expected: c.Expected}
	}
	policy := ExcludeUnknown
	if cfg.Ploidy.UnknownSexPolicy == "expected" {
		policy = ExpectedCopies
	}
	return &Model{table: table, policy: policy}, nil
}

// Policy returns the unknown-sex policy in effect.
func (m *Model) Policy() UnknownSexPolicy { return m.policy }

// Copies returns the allele copy count for a chromosome and sex. An
// unconfigured chromosome is a ConfigurationError: imports are validated
// against the same table, so hitting one at query time means the deployment
// configuration changed out from under the data.
func (m *Model) Copies(chromosome string, sex domain.Sex) (int, error) {
	c, ok := m.table[chromosome]
	if !ok {
		return 0, domain.ConfigurationError{Reason: fmt.Sprintf("chromosome %q has no ploidy mapping", chromosome)}
	}
	switch sex {
	case domain.Female:
		return c.female, nil
	case domain.Male:
		return c.male, nil
	default:
		if m.policy == ExpectedCopies {
			return c.expected, nil
		}
		return 0, nil
	}
}

// Configured reports whether a chromosome has a mapping; import validation
// uses it to fail records early instead of at query time.
func (m *Model) Configured(chromosome string) bool {
	_, ok := m.table[chromosome]
	return ok
}
