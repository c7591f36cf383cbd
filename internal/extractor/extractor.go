package extractor

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/maltedev/lmpc-scraper/internal/models"
)

type Kind string

const (
	// Structured patterns anchor on an explicit label ("Net Quantity: ...").
	Structured Kind = "structured"
	// Loose patterns find a keyword near a value without a strict label.
	Loose Kind = "loose"
	// Bare patterns match a value shape with no keyword at all.
	Bare Kind = "bare"
)

// Strategy is one way of finding a field value. The first capture group is
// the value.
type Strategy struct {
	Kind    Kind
	Pattern *regexp.Regexp
	Accept  func(value string) bool
}

type FieldSpec struct {
	Field      string
	Strategies []Strategy
}

// Match records where a value came from.
type Match struct {
	Field  string
	Value  string
	Kind   Kind
	Source string
}

type Extractor struct {
	specs  []FieldSpec
	logger *slog.Logger
}

func New(logger *slog.Logger) *Extractor {
	e, err := NewWithSpecs(DefaultSpecs(), logger)
	if err != nil {
		panic(err)
	}
	return e
}

// NewWithSpecs validates that every spec names a record field and carries at
// least one strategy with a capture group.
func NewWithSpecs(specs []FieldSpec, logger *slog.Logger) (*Extractor, error) {
	seen := make(map[string]bool)
	for _, s := range specs {
		if !models.IsKnownField(s.Field) {
			return nil, fmt.Errorf("field %q: %w", s.Field, models.ErrUnknownField)
		}
		if seen[s.Field] {
			return nil, fmt.Errorf("duplicate extraction spec for %q", s.Field)
		}
		seen[s.Field] = true
		if len(s.Strategies) == 0 {
			return nil, fmt.Errorf("field %q has no strategies", s.Field)
		}
		for i, st := range s.Strategies {
			if st.Pattern == nil || st.Pattern.NumSubexp() < 1 {
				return nil, fmt.Errorf("field %q strategy %d needs a capture group", s.Field, i)
			}
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{specs: specs, logger: logger.With("component", "extractor")}, nil
}

// Extract returns the first confident value per field. Strategies are tried
// in order and, within a strategy, sources are scanned in the order given.
func (e *Extractor) Extract(sources []models.TextSource) map[string]string {
	values := make(map[string]string)
	for _, m := range e.Matches(sources) {
		values[m.Field] = m.Value
	}
	return values
}

func (e *Extractor) Matches(sources []models.TextSource) []Match {
	var matches []Match
	for _, spec := range e.specs {
		if m, ok := e.extractField(spec, sources); ok {
			matches = append(matches, m)
			e.logger.Debug("field extracted",
				"field", m.Field,
				"strategy", m.Kind,
				"source", m.Source)
		}
	}
	return matches
}

func (e *Extractor) extractField(spec FieldSpec, sources []models.TextSource) (Match, bool) {
	for _, st := range spec.Strategies {
		for _, src := range sources {
			if src.Text == "" {
				continue
			}
			v, ok := firstAccepted(st, src.Text)
			if !ok {
				continue
			}
			return Match{Field: spec.Field, Value: v, Kind: st.Kind, Source: src.Label}, true
		}
	}
	return Match{}, false
}

// firstAccepted walks every match of the pattern in text and returns the
// first one that normalizes to a non-empty accepted value.
func firstAccepted(st Strategy, text string) (string, bool) {
	for _, sub := range st.Pattern.FindAllStringSubmatch(text, -1) {
		v, ok := models.NormalizeValue(sub[1])
		if !ok {
			continue
		}
		if st.Accept != nil && !st.Accept(v) {
			continue
		}
		return v, true
	}
	return "", false
}

// Apply writes extracted values into fields the record does not already
// have. It returns the names of the fields it set.
func Apply(record *models.ProductRecord, values map[string]string) []string {
	var applied []string
	for _, name := range models.Fields {
		v, ok := values[name]
		if !ok {
			continue
		}
		if set, err := record.SetFieldIfAbsent(name, v); err == nil && set {
			applied = append(applied, name)
		}
	}
	return applied
}

var (
	foodWords   = []string{"food", "snack", "beverage", "edible"}
	beautyWords = []string{"cosmetic", "beauty", "skin", "hair"}
)

const (
	CategoryFood   = "Food & Beverages"
	CategoryBeauty = "Beauty & Personal Care"
)

// InferCategory guesses a category from keywords when the page did not
// provide one.
func InferCategory(sources []models.TextSource) string {
	var b strings.Builder
	for _, s := range sources {
		b.WriteString(strings.ToLower(s.Text))
		b.WriteString("\n")
	}
	text := b.String()

	if containsAny(text, foodWords) {
		return CategoryFood
	}
	if containsAny(text, beautyWords) {
		return CategoryBeauty
	}
	return ""
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
