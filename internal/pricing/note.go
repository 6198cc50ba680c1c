package pricing

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// PriceMarker starts every note that carries an asking price.
const PriceMarker = "~"

var (
	priceRe          = regexp.MustCompile(`~(b/o|price)\s+([0-9][0-9.,/]*|\S+?)\s*([A-Za-z][\w'-]*)`)
	priceWithSpaceRe = regexp.MustCompile(`~(b/o|price)\s+([0-9][0-9.,/]*|\S+?)\s*([A-Za-z][\w'-]*(?:\s+[\w'-]+)+)`)
)

// Price is an amount in a named currency.
type Price struct {
	Amount   float64
	Currency string
}

// Parser extracts asking prices from free-text notes.
type Parser struct {
	lexicon *Lexicon
	logger  *slog.Logger
}

// NewParser creates a Parser resolving currencies through lexicon.
func NewParser(lexicon *Lexicon, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{lexicon: lexicon, logger: logger}
}

// HasMarker reports whether note opens with the price marker.
func HasMarker(note string) bool {
	return strings.HasPrefix(note, PriceMarker)
}

// Parse returns the price in note. Unknown currencies and malformed amounts
// are logged and reported as ok == false; they are common in player notes.
func (p *Parser) Parse(note string) (Price, bool) {
	if note == "" {
		return Price{}, false
	}
	m := priceRe.FindStringSubmatch(note)
	if m == nil {
		return Price{}, false
	}
	amount, err := parseAmount(m[2])
	if err != nil {
		p.logger.Debug("invalid price in note",
			slog.String("note", note),
			slog.String("error", err.Error()),
		)
		return Price{}, false
	}

	currency, found := p.lexicon.Lookup(m[3])
	if !found {
		if wide := priceWithSpaceRe.FindStringSubmatch(note); wide != nil {
			currency, found = p.lookupPhrase(wide[3])
		}
	}
	if !found {
		p.logger.Warn("note has unknown currency abbreviation",
			slog.String("note", note),
			slog.String("currency", m[3]),
		)
		return Price{}, false
	}
	return Price{Amount: amount, Currency: currency}, true
}

// lookupPhrase tries a multi-word currency phrase, dropping trailing words
// until a match is found or only two words remain.
func (p *Parser) lookupPhrase(phrase string) (string, bool) {
	words := strings.Fields(phrase)
	for n := len(words); n >= 2; n-- {
		if name, ok := p.lexicon.Lookup(strings.Join(words[:n], " ")); ok {
			return name, true
		}
		if name, ok := p.lexicon.Lookup(strings.Join(words[:n], "-")); ok {
			return name, true
		}
	}
	return "", false
}

type amountError struct {
	text   string
	reason string
}

func (e *amountError) Error() string {
	return "amount " + strconv.Quote(e.text) + ": " + e.reason
}

// parseAmount reads a decimal or a num/den fraction.
func parseAmount(text string) (float64, error) {
	num, den, isFraction := strings.Cut(text, "/")
	if !isFraction {
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return 0, &amountError{text: text, reason: "not a number"}
		}
		return v, nil
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, &amountError{text: text, reason: "numerator is not a number"}
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, &amountError{text: text, reason: "denominator is not a number"}
	}
	if d == 0 {
		return 0, &amountError{text: text, reason: "zero denominator"}
	}
	return n / d, nil
}
