package units

import "strings"

// vocabulary maps the unit spellings operators actually type to a canonical
// unit. Dictated lists mix Russian abbreviations, full words and latin forms.
var vocabulary = map[string]string{
	"кг":        "кг",
	"килограмм": "кг",
	"кило":      "кг",
	"kg":        "кг",
	"г":         "г",
	"гр":        "г",
	"грамм":     "г",
	"g":         "г",
	"л":         "л",
	"литр":      "л",
	"литра":     "л",
	"литров":    "л",
	"l":         "л",
	"мл":        "мл",
	"ml":        "мл",
	"шт":        "шт",
	"штук":      "шт",
	"штуки":     "шт",
	"штука":     "шт",
	"pcs":       "шт",
	"уп":        "уп",
	"упак":      "уп",
	"упаковка":  "уп",
	"упаковки":  "уп",
	"пак":       "пак",
	"пакет":     "пак",
	"кор":       "кор",
	"короб":     "кор",
	"коробка":   "кор",
	"коробки":   "кор",
	"ящ":        "ящик",
	"ящик":      "ящик",
	"ящика":     "ящик",
	"бут":       "бут",
	"бутылка":   "бут",
	"бутылки":   "бут",
	"пуч":       "пуч",
	"пучок":     "пуч",
	"пучка":     "пуч",
	"кан":       "кан",
	"канистра":  "кан",
}

// Canonical reports the canonical unit for a token the parser cut off the end
// of a line. Trailing dots ("кг.") and case are tolerated.
func Canonical(token string) (string, bool) {
	t := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(token)), ".")
	u, ok := vocabulary[t]
	return u, ok
}

// Known reports whether the token belongs to the unit vocabulary at all.
func Known(token string) bool {
	_, ok := Canonical(token)
	return ok
}

// Decision classifies what happened to the unit of one incoming line.
type Decision int

const (
	// Resolved: the unit is determined, proceed.
	Resolved Decision = iota
	// AutoFilled: no token was given but the catalog sells the product in
	// exactly one unit, which was filled in.
	AutoFilled
	// Ambiguous: the catalog sells the product in several units and the
	// input did not disambiguate. Options carries the choices.
	Ambiguous
)

type Outcome struct {
	Decision Decision
	Unit     string
	Options  []string
}

// Decide resolves a parsed unit token against the units the catalog sells a
// product in. catalogUnits must already be ordered by catalog frequency; the
// order is preserved in a clarification request. Re-submitting the same line
// with one of the offered units deterministically resolves.
func Decide(unitToken string, catalogUnits []string) Outcome {
	if canon, ok := Canonical(unitToken); ok {
		if len(catalogUnits) == 0 {
			return Outcome{Decision: Resolved, Unit: canon}
		}
		for _, u := range catalogUnits {
			if u == canon {
				return Outcome{Decision: Resolved, Unit: canon}
			}
		}
		// Valid vocabulary word, but not a unit this product is sold in:
		// fall through as if absent.
	}

	switch len(catalogUnits) {
	case 0:
		// No catalog knowledge (unmatched line): carry the raw token.
		return Outcome{Decision: Resolved, Unit: strings.TrimSpace(unitToken)}
	case 1:
		return Outcome{Decision: AutoFilled, Unit: catalogUnits[0]}
	default:
		return Outcome{Decision: Ambiguous, Options: catalogUnits}
	}
}
