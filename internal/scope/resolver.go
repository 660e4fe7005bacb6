// Package scope expands an authorized query scope into the set of samples
// eligible for aggregation. Authorization decisions come from an external
// collaborator; this package enforces that the computation never ranges
// outside what the caller was granted, and that withdrawn samples never
// contribute.
package scope

import (
	"context"
	"fmt"
	"sort"

	"varfreq/internal/domain"
	"varfreq/internal/ports"
)

type Resolver struct {
	samples ports.SampleStore
}

func NewResolver(samples ports.SampleStore) *Resolver {
	return &Resolver{samples: samples}
}

// EligibleSamples resolves a scope against the caller's authorized set.
// Results are sorted by sample ID so downstream work is deterministic.
func (r *Resolver) EligibleSamples(ctx context.Context, sc domain.Scope, authorized []domain.Scope) ([]domain.Sample, error) {
	if !Authorized(sc, authorized) {
		return nil, domain.ScopeAuthorizationViolation{ScopeKey: sc.Key()}
	}

	var (
		samples []domain.Sample
		err     error
	)
	switch sc.Kind {
	case domain.OwnerGroup:
		samples, err = r.samples.ListByGroup(ctx, sc.Group)
	case domain.SharedAnonymized:
		for _, group := range sc.Groups {
			batch, gerr := r.samples.ListByGroup(ctx, group)
			if gerr != nil {
				err = fmt.Errorf("group %s: %w", group, gerr)
				break
			}
			samples = append(samples, batch...)
		}
	case domain.PublicDataset:
		samples, err = r.samples.ListPublic(ctx, sc.Dataset)
	default:
		err = fmt.Errorf("unhandled scope kind %d", sc.Kind)
	}
	if err != nil {
		return nil, err
	}

	eligible := samples[:0]
	for _, s := range samples {
		if s.Deactivated {
			continue
		}
		eligible = append(eligible, s)
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })
	return eligible, nil
}

// Authorized reports whether the requested scope appears in the caller's
// authorized set, matching on canonical keys.
func Authorized(sc domain.Scope, authorized []domain.Scope) bool {
	key := sc.Key()
	for _, a := range authorized {
		if a.Key() == key {
			return true
		}
	}
	return false
}
