package resolver

import (
	"sort"

	"github.com/tytya04/zakupki/internal/catalog/domain"
)

// Candidate list sizes: the interactive suggestion list shown on an operator
// search, and the inline quick-pick attached to an unmatched line.
const (
	LimitInteractive = 10
	LimitQuickPick   = 3
)

// Catalog is the read side of the catalog index.
type Catalog interface {
	LookupExact(name string) []domain.Product
	LookupSynonym(name string) []domain.Product
	SearchCandidates(name string, limit int) []domain.MatchCandidate
	UnitsFor(name string) []string
}

type Resolver struct {
	catalog Catalog
}

func New(catalog Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve maps a parsed name to ranked catalog candidates. Precedence is
// strict: an exact name hit short-circuits synonyms, a synonym hit
// short-circuits fuzzy search. An empty result is a normal outcome the caller
// must treat as "needs operator search", never an error.
func (r *Resolver) Resolve(name string, limit int) []domain.MatchCandidate {
	if hits := r.catalog.LookupExact(name); len(hits) > 0 {
		return asCandidates(hits, domain.ReasonExact, limit)
	}
	if hits := r.catalog.LookupSynonym(name); len(hits) > 0 {
		return asCandidates(hits, domain.ReasonSynonym, limit)
	}
	return r.catalog.SearchCandidates(name, limit)
}

func asCandidates(products []domain.Product, reason domain.MatchReason, limit int) []domain.MatchCandidate {
	// Same canonical name, so order by unit for a reproducible list.
	sorted := make([]domain.Product, len(products))
	copy(sorted, products)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Unit < sorted[j].Unit })

	out := make([]domain.MatchCandidate, 0, len(sorted))
	for _, p := range sorted {
		out = append(out, domain.MatchCandidate{Product: p, Score: 1.0, Reason: reason})
		if len(out) == limit {
			break
		}
	}
	return out
}
