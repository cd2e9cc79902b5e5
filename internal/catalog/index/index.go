package index

import (
	"sort"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"

	"github.com/tytya04/zakupki/internal/catalog/domain"
)

// Scoring weights for the fuzzy path. Exact and synonym hits never go through
// here, so fuzzy scores are capped strictly below 1.0.
const (
	tokenWeight    = 0.55
	distanceWeight = 0.45
	fuzzyCeiling   = 0.99
	minScore       = 0.35
)

type entry struct {
	product  domain.Product
	normName string
	tokens   map[string]struct{}
}

type snapshot struct {
	byName      map[string][]domain.Product
	bySynonym   map[string][]domain.Product
	byID        map[uuid.UUID]domain.Product
	unitsByName map[string][]string
	entries     []entry
}

// Index is a rebuildable, read-mostly view over the catalog. Readers never
// lock: a rebuild assembles a fresh snapshot and swaps it in atomically, so
// in-flight resolutions keep the snapshot they started with.
type Index struct {
	cur atomic.Pointer[snapshot]
}

func New() *Index {
	ix := &Index{}
	ix.cur.Store(&snapshot{
		byName:      map[string][]domain.Product{},
		bySynonym:   map[string][]domain.Product{},
		byID:        map[uuid.UUID]domain.Product{},
		unitsByName: map[string][]string{},
	})
	return ix
}

// Rebuild replaces the whole index. The catalog changes rarely enough that a
// full rebuild beats incremental maintenance.
func (ix *Index) Rebuild(products []domain.Product, synonyms []domain.Synonym) {
	snap := &snapshot{
		byName:      make(map[string][]domain.Product, len(products)),
		bySynonym:   make(map[string][]domain.Product, len(synonyms)),
		byID:        make(map[uuid.UUID]domain.Product, len(products)),
		unitsByName: make(map[string][]string),
		entries:     make([]entry, 0, len(products)),
	}

	unitCounts := make(map[string]map[string]int)
	for _, p := range products {
		key := Normalize(p.CanonicalName)
		if key == "" {
			continue
		}
		snap.byName[key] = append(snap.byName[key], p)
		snap.byID[p.ID] = p
		snap.entries = append(snap.entries, entry{
			product:  p,
			normName: key,
			tokens:   tokenSet(key),
		})
		if unitCounts[key] == nil {
			unitCounts[key] = map[string]int{}
		}
		unitCounts[key][p.Unit]++
	}

	for name, counts := range unitCounts {
		units := make([]string, 0, len(counts))
		for u := range counts {
			units = append(units, u)
		}
		sort.Slice(units, func(i, j int) bool {
			if counts[units[i]] != counts[units[j]] {
				return counts[units[i]] > counts[units[j]]
			}
			return units[i] < units[j]
		})
		snap.unitsByName[name] = units
	}

	for _, s := range synonyms {
		key := Normalize(s.Text)
		target := Normalize(s.CanonicalName)
		if key == "" || target == "" {
			continue
		}
		if prods, ok := snap.byName[target]; ok {
			snap.bySynonym[key] = append(snap.bySynonym[key], prods...)
		}
	}

	ix.cur.Store(snap)
}

// LookupExact returns every product whose canonical name equals the query
// after normalization. Same-name products with different units all come back.
func (ix *Index) LookupExact(name string) []domain.Product {
	return ix.cur.Load().byName[Normalize(name)]
}

// ProductByID returns a product by its catalog id.
func (ix *Index) ProductByID(id uuid.UUID) (domain.Product, bool) {
	p, ok := ix.cur.Load().byID[id]
	return p, ok
}

// LookupSynonym returns the products behind a synonym spelling.
func (ix *Index) LookupSynonym(name string) []domain.Product {
	return ix.cur.Load().bySynonym[Normalize(name)]
}

// UnitsFor lists the distinct units the catalog sells a name in, most common
// first. Empty when the name is unknown.
func (ix *Index) UnitsFor(name string) []string {
	return ix.cur.Load().unitsByName[Normalize(name)]
}

// SearchCandidates scans the token index and returns up to limit scored
// candidates. An empty result is a normal outcome, not an error.
func (ix *Index) SearchCandidates(name string, limit int) []domain.MatchCandidate {
	snap := ix.cur.Load()
	norm := Normalize(name)
	if norm == "" || limit <= 0 {
		return nil
	}
	qTokens := tokenSet(norm)

	var out []domain.MatchCandidate
	for _, e := range snap.entries {
		score, reason := scoreEntry(norm, qTokens, e)
		if score < minScore {
			continue
		}
		out = append(out, domain.MatchCandidate{Product: e.product, Score: score, Reason: reason})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		ni, nj := out[i].Product.CanonicalName, out[j].Product.CanonicalName
		if len(ni) != len(nj) {
			return len(ni) < len(nj)
		}
		return ni < nj
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func scoreEntry(qNorm string, qTokens map[string]struct{}, e entry) (float64, domain.MatchReason) {
	shared := 0
	for t := range qTokens {
		if _, ok := e.tokens[t]; ok {
			shared++
		}
	}
	union := len(qTokens) + len(e.tokens) - shared
	if union == 0 {
		return 0, domain.ReasonFuzzy
	}
	tokenScore := float64(shared) / float64(union)

	dist := levenshtein.ComputeDistance(qNorm, e.normName)
	maxLen := runeLen(qNorm)
	if l := runeLen(e.normName); l > maxLen {
		maxLen = l
	}
	distScore := 0.0
	if maxLen > 0 {
		if dist > maxLen {
			dist = maxLen
		}
		distScore = 1 - float64(dist)/float64(maxLen)
	}

	score := tokenWeight*tokenScore + distanceWeight*distScore
	if score > fuzzyCeiling {
		score = fuzzyCeiling
	}

	// All query tokens present verbatim in the product name means the line
	// named a recognizable part of the product, not a misspelling.
	reason := domain.ReasonFuzzy
	if shared > 0 && shared == len(qTokens) && len(e.tokens) > len(qTokens) {
		reason = domain.ReasonPartial
	}
	return score, reason
}

// Normalize lower-cases, turns punctuation into spaces and collapses runs of
// whitespace. Digits survive: "0,5" inside a canonical name stays searchable
// as "0 5".
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

func tokenSet(norm string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, t := range strings.Fields(norm) {
		set[t] = struct{}{}
	}
	return set
}

func runeLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}
