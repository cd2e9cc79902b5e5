package parser

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/tytya04/zakupki/internal/ingest/units"
)

// Line is one successfully parsed input line: a free-text name, a positive
// quantity and an optional unit token from the known vocabulary.
type Line struct {
	RawText   string
	Name      string
	Quantity  decimal.Decimal
	UnitToken string
}

// MalformedLine is a line that did not yield a name and a quantity. It is
// reported, never dropped or raised.
type MalformedLine struct {
	RawText string
	Reason  string
}

const (
	ReasonBadQuantity    = "quantity is not a number"
	ReasonNonPositiveQty = "quantity must be greater than zero"
	ReasonNoName         = "no product name"
)

// ParseText splits raw multi-line input and parses each non-empty line.
// Delimiter styles are interchangeable: "Картофель 50 кг", "Картофель - 50 -
// кг" and "Картофель-50-кг" all parse to the same Line.
func ParseText(raw string) ([]Line, []MalformedLine) {
	var lines []Line
	var malformed []MalformedLine
	for _, l := range strings.Split(raw, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		parsed, bad := parseLine(l)
		if bad != nil {
			malformed = append(malformed, *bad)
			continue
		}
		lines = append(lines, parsed)
	}
	return lines, malformed
}

func parseLine(line string) (Line, *MalformedLine) {
	runes := []rune(line)

	// The quantity is the last run of digits and decimal separators in the
	// line. Scanning from the end keeps digits embedded in product names
	// ("Масло 0,5 л") out of the quantity.
	lastDigit := -1
	for i := len(runes) - 1; i >= 0; i-- {
		if unicode.IsDigit(runes[i]) {
			lastDigit = i
			break
		}
	}
	if lastDigit < 0 {
		// A bare product mention ("Черри") still enters the pipeline: it
		// defaults to quantity 1 so the operator reviews it as a draft line
		// instead of losing it to a parse report.
		name := strings.Trim(line, " \t-–—،,.:;")
		if name == "" {
			return Line{}, &MalformedLine{RawText: line, Reason: ReasonNoName}
		}
		return Line{RawText: line, Name: name, Quantity: decimal.NewFromInt(1)}, nil
	}

	start := lastDigit
	for start > 0 && isQuantityRune(runes[start-1]) {
		start--
	}
	for start < lastDigit && !unicode.IsDigit(runes[start]) {
		start++
	}

	qty, err := parseQuantity(string(runes[start : lastDigit+1]))
	if err != nil {
		return Line{}, &MalformedLine{RawText: line, Reason: ReasonBadQuantity}
	}
	if !qty.IsPositive() {
		return Line{}, &MalformedLine{RawText: line, Reason: ReasonNonPositiveQty}
	}

	name := strings.TrimRight(string(runes[:start]), " \t-–—،,.:;")
	name = strings.TrimSpace(name)
	if name == "" {
		return Line{}, &MalformedLine{RawText: line, Reason: ReasonNoName}
	}

	unitToken := ""
	if tok := firstToken(string(runes[lastDigit+1:])); tok != "" && units.Known(tok) {
		unitToken = tok
	}

	return Line{
		RawText:   line,
		Name:      name,
		Quantity:  qty,
		UnitToken: unitToken,
	}, nil
}

// parseQuantity accepts both "." and "," as the fractional separator.
func parseQuantity(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(s, ",", ".")
	return decimal.NewFromString(s)
}

func isQuantityRune(r rune) bool {
	return unicode.IsDigit(r) || r == '.' || r == ','
}

// firstToken returns the first word after the quantity with separators
// stripped, the candidate unit token.
func firstToken(s string) string {
	s = strings.TrimLeft(s, " \t-–—,.:;")
	if i := strings.IndexFunc(s, unicode.IsSpace); i >= 0 {
		s = s[:i]
	}
	return strings.TrimRight(s, "-–—,:;")
}
