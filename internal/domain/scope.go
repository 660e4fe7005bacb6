package domain

import (
	"fmt"
	"sort"
	"strings"
)

// ScopeKind tags the scope union.
type ScopeKind int

const (
	// OwnerGroup covers a single group's own samples; sample-level detail is
	// available to the engine but never exposed raw outside the group.
	OwnerGroup ScopeKind = iota
	// SharedAnonymized covers samples across named groups; only counts
	// summed over the whole scope may be emitted.
	SharedAnonymized
	// PublicDataset covers active samples published into a named dataset.
	PublicDataset
)

// Scope is an already-authorized query boundary. Construction does not imply
// authorization; the scope resolver checks requests against the caller's
// authorized set.
type Scope struct {
	Kind    ScopeKind
	Group   string   // OwnerGroup
	Groups  []string // SharedAnonymized
	Dataset string   // PublicDataset
}

// Key returns the canonical cache/identity key. Group sets are sorted so two
// descriptors naming the same groups are one scope.
func (s Scope) Key() string {
	switch s.Kind {
	case OwnerGroup:
		return "group:" + s.Group
	case SharedAnonymized:
		groups := append([]string(nil), s.Groups...)
		sort.Strings(groups)
		return "shared:" + strings.Join(groups, ",")
	case PublicDataset:
		return "public:" + s.Dataset
	default:
		return "invalid"
	}
}

// Anonymized reports whether results for this scope must be restricted to
// counts summed over the whole scope.
func (s Scope) Anonymized() bool {
	return s.Kind != OwnerGroup
}

// ParseScope parses the textual form produced by Key.
func ParseScope(token string) (Scope, error) {
	kind, rest, ok := strings.Cut(strings.TrimSpace(token), ":")
	if !ok || rest == "" {
		return Scope{}, fmt.Errorf("malformed scope %q", token)
	}
	switch kind {
	case "group":
		return Scope{Kind: OwnerGroup, Group: rest}, nil
	case "shared":
		groups := strings.Split(rest, ",")
		for _, g := range groups {
			if g == "" {
				return Scope{}, fmt.Errorf("malformed scope %q", token)
			}
		}
		return Scope{Kind: SharedAnonymized, Groups: groups}, nil
	case "public":
		return Scope{Kind: PublicDataset, Dataset: rest}, nil
	default:
		return Scope{}, fmt.Errorf("unknown scope kind %q", kind)
	}
}
