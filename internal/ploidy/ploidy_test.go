package ploidy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"varfreq/internal/config"
	"varfreq/internal/domain"
)

func newModel(t *testing.T, policy string) *Model {
	t.Helper()
	cfg := config.DefaultEngineConfig()
	cfg.Ploidy.UnknownSexPolicy = policy
	m, err := New(cfg)
	require.NoError(t, err)
	return m
}

func TestCopiesPerChromosomeAndSex(t *testing.T) {
	m := newModel(t, "exclude")
	tests := []struct {
		chromosome string
		sex        domain.Sex
		want       int
	}{
		{"7", domain.Female, 2},
		{"7", domain.Male, 2},
		{"X", domain.Female, 2},
		{"X", domain.Male, 1},
		{"Y", domain.Female, 0},
		{"Y", domain.Male, 1},
		{"MT", domain.Female, 1},
		{"MT", domain.Male, 1},
	}
	for _, tt := range tests {
		got, err := m.Copies(tt.chromosome, tt.sex)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s/%s", tt.chromosome, tt.sex)
	}
}

func TestUnconfiguredChromosomeIsConfigurationError(t *testing.T) {
	m := newModel(t, "exclude")
	_, err := m.Copies("chr_unmapped", domain.Female)
	var cerr domain.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.False(t, m.Configured("chr_unmapped"))
	assert.True(t, m.Configured("X"))
}

func TestUnknownSexExcludePolicy(t *testing.T) {
	m := newModel(t, "exclude")
	got, err := m.Copies("X", domain.UnknownSex)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestUnknownSexExpectedPolicy(t *testing.T) {
	m := newModel(t, "expected")
	got, err := m.Copies("X", domain.UnknownSex)
	require.NoError(t, err)
	assert.Equal(t, 2, got)

	got, err = m.Copies("Y", domain.UnknownSex)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	cfg.Ploidy.Chromosomes = nil
	_, err := New(cfg)
	var cerr domain.ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}
