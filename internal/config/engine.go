package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"varfreq/internal/domain"
)

// Engine configuration: the ploidy table and the fallback policies. Loaded
// once at process start, validated eagerly, and treated as immutable; every
// component receives it (or a model built from it) by value. The mapping is
// deployment configuration, not hard-coded biology; reference genomes and
// non-diploid organisms override it.

const maxEngineConfigSize = 1 << 20

type ChromosomeCopies struct {
	Female int `yaml:"female"`
	Male   int `yaml:"male"`
	// Expected is used for unknown-sex samples under the "expected" policy.
	Expected int `yaml:"expected"`
}

type PloidyConfig struct {
	// UnknownSexPolicy is "exclude" (unknown-sex samples contribute nothing
	// on sex chromosomes) or "expected" (use the Expected copies value). The
	// same policy applies on read and import paths.
	UnknownSexPolicy string                      `yaml:"unknown_sex_policy"`
	Chromosomes      map[string]ChromosomeCopies `yaml:"chromosomes"`
}

type CoverageConfig struct {
	// DefaultPolicy applies to imported samples that declare no policy:
	// "assume_covered" or "assume_uncovered".
	DefaultPolicy string `yaml:"default_policy"`
}

type PoolConfig struct {
	// DefaultCopiesPerIndividual is the fallback total per constituent when
	// a pool's sex ratio is unknown. Results using it are approximate.
	DefaultCopiesPerIndividual int `yaml:"default_copies_per_individual"`
}

type EngineConfig struct {
	Ploidy   PloidyConfig   `yaml:"ploidy"`
	Coverage CoverageConfig `yaml:"coverage"`
	Pools    PoolConfig     `yaml:"pools"`
}

// DefaultEngineConfig is a human diploid genome (autosomes 1-22, X, Y, MT)
// with conservative fallback policies.
func DefaultEngineConfig() EngineConfig {
	chromosomes := make(map[string]ChromosomeCopies, 25)
	for i := 1; i <= 22; i++ {
		chromosomes[fmt.Sprintf("%d", i)] = ChromosomeCopies{Female: 2, Male: 2, Expected: 2}
	}
	chromosomes["X"] = ChromosomeCopies{Female: 2, Male: 1, Expected: 2}
	chromosomes["Y"] = ChromosomeCopies{Female: 0, Male: 1, Expected: 1}
	chromosomes["MT"] = ChromosomeCopies{Female: 1, Male: 1, Expected: 1}
	return EngineConfig{
		Ploidy:   PloidyConfig{UnknownSexPolicy: "exclude", Chromosomes: chromosomes},
		Coverage: CoverageConfig{DefaultPolicy: "assume_uncovered"},
		Pools:    PoolConfig{DefaultCopiesPerIndividual: 2},
	}
}

// LoadEngineConfig reads and validates a YAML engine configuration. An empty
// path yields the default configuration.
func LoadEngineConfig(path string) (EngineConfig, error) {
	if path == "" {
		return DefaultEngineConfig(), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return EngineConfig{}, domain.ConfigurationError{Reason: fmt.Sprintf("engine config %s: %v", path, err)}
	}
	if info.Size() > maxEngineConfigSize {
		return EngineConfig{}, domain.ConfigurationError{Reason: fmt.Sprintf("engine config %s exceeds %d bytes", path, maxEngineConfigSize)}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return EngineConfig{}, domain.ConfigurationError{Reason: fmt.Sprintf("engine config %s: %v", path, err)}
	}
	var cfg EngineConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return EngineConfig{}, domain.ConfigurationError{Reason: fmt.Sprintf("engine config %s: %v", path, err)}
	}
	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, err
	}
	return cfg, nil
}

// Validate fails fast on a configuration the engine could not serve every
// request with. Per-request configuration failures are not allowed.
func (c EngineConfig) Validate() error {
	switch c.Ploidy.UnknownSexPolicy {
	case "exclude", "expected":
	default:
		return domain.ConfigurationError{Reason: fmt.Sprintf("unknown_sex_policy %q (want exclude or expected)", c.Ploidy.UnknownSexPolicy)}
	}
	if len(c.Ploidy.Chromosomes) == 0 {
		return domain.ConfigurationError{Reason: "no chromosomes configured"}
	}
	for name, copies := range c.Ploidy.Chromosomes {
		if copies.Female < 0 || copies.Male < 0 || copies.Expected < 0 {
			return domain.ConfigurationError{Reason: fmt.Sprintf("chromosome %s has negative copy counts", name)}
		}
		if c.Ploidy.UnknownSexPolicy == "expected" && copies.Expected == 0 && (copies.Female > 0 || copies.Male > 0) {
			return domain.ConfigurationError{Reason: fmt.Sprintf("chromosome %s needs an expected copies value under the expected policy", name)}
		}
	}
	switch c.Coverage.DefaultPolicy {
	case "assume_covered", "assume_uncovered":
	default:
		return domain.ConfigurationError{Reason: fmt.Sprintf("coverage default_policy %q (want assume_covered or assume_uncovered)", c.Coverage.DefaultPolicy)}
	}
	if c.Pools.DefaultCopiesPerIndividual <= 0 {
		return domain.ConfigurationError{Reason: "pools default_copies_per_individual must be positive"}
	}
	return nil
}

// DefaultCoveragePolicy maps the configured default onto the domain enum.
func (c EngineConfig) DefaultCoveragePolicy() domain.CoveragePolicy {
	if c.Coverage.DefaultPolicy == "assume_covered" {
		return domain.AssumeCovered
	}
	return domain.AssumeUncovered
}
