package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/maltedev/lmpc-scraper/internal/models"
)

const (
	RuleManufacturer = "LM-01-MANUFACTURER"
	RuleOrigin       = "LM-02-ORIGIN"
	RuleGenericName  = "LM-03-GENERIC-NAME"
	RuleNetQuantity  = "LM-04-NET-QTY"
	RuleNetQtyUnit   = "LM-04B-NET-QTY-UNIT"
	RuleMRP          = "LM-05-MRP"
	RuleMRPFormat    = "LM-05B-MRP-FORMAT"
	RuleBestBefore   = "LM-06-BEST-BEFORE"
	RuleMfgDate      = "LM-07-MFG-DATE"
	RuleUnitPrice    = "LM-08-UNIT-PRICE"
)

var (
	ErrEmptyRuleID     = errors.New("rule id is empty")
	ErrDuplicateRuleID = errors.New("duplicate rule id")
	ErrNilCheck        = errors.New("rule has no check")
	ErrInvalidSeverity = errors.New("invalid rule severity")
)

// CheckFunc inspects a record and reports whether the rule is violated.
// Checks must not mutate the record or perform I/O.
type CheckFunc func(r *models.ProductRecord) (violated bool, details string)

type Rule struct {
	ID          string
	Field       string
	Severity    models.Severity
	Description string
	Check       CheckFunc
}

type Engine struct {
	rules  []Rule
	logger *slog.Logger
}

// NewEngine builds an engine over rules, evaluated in the given order.
func NewEngine(logger *slog.Logger, rules ...Rule) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if strings.TrimSpace(r.ID) == "" {
			return nil, ErrEmptyRuleID
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRuleID, r.ID)
		}
		if r.Check == nil {
			return nil, fmt.Errorf("%w: %s", ErrNilCheck, r.ID)
		}
		if !r.Severity.Valid() {
			return nil, fmt.Errorf("%w: %s has %q", ErrInvalidSeverity, r.ID, r.Severity)
		}
		seen[r.ID] = true
	}

	return &Engine{
		rules:  append([]Rule(nil), rules...),
		logger: logger.With("component", "rule_engine"),
	}, nil
}

// NewDefaultEngine returns the legal-metrology rule set.
func NewDefaultEngine(logger *slog.Logger) *Engine {
	e, err := NewEngine(logger, DefaultRules()...)
	if err != nil {
		panic(fmt.Sprintf("rules: invalid default rule set: %v", err))
	}
	return e
}

func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Validate evaluates every rule against record. It always returns a
// well-formed report; a nil record is treated as an empty one.
func (e *Engine) Validate(record *models.ProductRecord) *models.ValidationReport {
	if record == nil {
		record = &models.ProductRecord{}
	}

	report := &models.ValidationReport{
		TotalRules:  len(e.rules),
		RuleResults: make([]models.RuleResult, 0, len(e.rules)),
	}

	for _, rule := range e.rules {
		violated, details := rule.Check(record)
		if violated && strings.TrimSpace(details) == "" {
			details = fmt.Sprintf("%s: %s", rule.ID, rule.Description)
		}
		if violated {
			report.ViolationsCount++
		}
		report.RuleResults = append(report.RuleResults, models.RuleResult{
			RuleID:      rule.ID,
			Field:       rule.Field,
			Severity:    rule.Severity,
			Description: rule.Description,
			Violated:    violated,
			Details:     details,
		})
	}

	report.OverallStatus = models.StatusCompliant
	if report.ViolationsCount > 0 {
		report.OverallStatus = models.StatusViolation
	}

	e.logger.Debug("record validated",
		"url", record.SourceURL,
		"violations", report.ViolationsCount,
		"total_rules", report.TotalRules,
	)

	return report
}

// DefaultRules returns the fixed rule set in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          RuleManufacturer,
			Field:       models.FieldManufacturer,
			Severity:    models.SeverityCritical,
			Description: "Name and address of the manufacturer or importer must be declared.",
			Check:       checkManufacturer,
		},
		{
			ID:          RuleOrigin,
			Field:       models.FieldCountryOfOrigin,
			Severity:    models.SeverityHigh,
			Description: "Country of origin must be declared for imported goods.",
			Check:       checkOrigin,
		},
		{
			ID:          RuleGenericName,
			Field:       models.FieldGenericName,
			Severity:    models.SeverityMedium,
			Description: "Common or generic name of the commodity must be declared.",
			Check:       checkGenericName,
		},
		{
			ID:          RuleNetQuantity,
			Field:       models.FieldNetQuantity,
			Severity:    models.SeverityCritical,
			Description: "Net quantity must be declared.",
			Check:       required(models.FieldNetQuantity, "Net quantity"),
		},
		{
			ID:          RuleNetQtyUnit,
			Field:       models.FieldNetQuantity,
			Severity:    models.SeverityMedium,
			Description: "Net quantity must use a standard unit of weight, measure or number.",
			Check:       checkNetQuantityUnit,
		},
		{
			ID:          RuleMRP,
			Field:       models.FieldMRP,
			Severity:    models.SeverityCritical,
			Description: "Maximum retail price must be declared.",
			Check:       required(models.FieldMRP, "MRP"),
		},
		{
			ID:          RuleMRPFormat,
			Field:       models.FieldMRP,
			Severity:    models.SeverityMedium,
			Description: "MRP must be a rupee amount such as '₹50.00' or 'Rs. 50'.",
			Check:       checkMRPFormat,
		},
		{
			ID:          RuleBestBefore,
			Field:       models.FieldBestBefore,
			Severity:    models.SeverityHigh,
			Description: "Best-before or expiry date must be declared for perishable goods.",
			Check:       checkBestBefore,
		},
		{
			ID:          RuleMfgDate,
			Field:       models.FieldDateOfManufacture,
			Severity:    models.SeverityHigh,
			Description: "Month and year of manufacture or import must be declared.",
			Check:       checkMfgDate,
		},
		{
			ID:          RuleUnitPrice,
			Field:       models.FieldUnitSalePrice,
			Severity:    models.SeverityLow,
			Description: "Unit sale price must be declared for packaged grocery goods.",
			Check:       checkUnitPrice,
		},
	}
}

func value(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

func runes(s string) int {
	return utf8.RuneCountInString(s)
}

func required(field, label string) CheckFunc {
	return func(r *models.ProductRecord) (bool, string) {
		v, ok, err := r.Field(field)
		if err != nil || !ok || strings.TrimSpace(v) == "" {
			return true, label + " is missing."
		}
		return false, ""
	}
}

func checkManufacturer(r *models.ProductRecord) (bool, string) {
	manufacturer := value(r.ManufacturerDetails)
	importer := value(r.ImporterDetails)
	if manufacturer == "" && importer == "" {
		return true, "Manufacturer / importer details are missing (at least one required)."
	}
	if runes(manufacturer) >= 10 || runes(importer) >= 10 {
		return false, ""
	}
	declared := manufacturer
	if declared == "" {
		declared = importer
	}
	return true, fmt.Sprintf("Manufacturer / importer details '%s' are too short to contain a name and address.", declared)
}

func checkOrigin(r *models.ProductRecord) (bool, string) {
	origin := value(r.CountryOfOrigin)
	if origin == "" {
		if value(r.ImporterDetails) != "" {
			return true, "Country of origin is missing for an imported product."
		}
		return false, ""
	}
	if runes(origin) < 3 {
		return true, fmt.Sprintf("Country of origin '%s' is not a recognisable country name.", origin)
	}
	return false, ""
}

func checkGenericName(r *models.ProductRecord) (bool, string) {
	name := value(r.GenericName)
	if name == "" {
		return true, "Generic name is missing."
	}
	if runes(name) < 2 {
		return true, fmt.Sprintf("Generic name '%s' is too short.", name)
	}
	return false, ""
}

var (
	quantityPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([a-zA-Z]+)`)

	standardUnits = map[string]bool{
		"g":      true,
		"kg":     true,
		"ml":     true,
		"l":      true,
		"litre":  true,
		"litres": true,
		"cm":     true,
		"m":      true,
		"unit":   true,
		"units":  true,
		"pc":     true,
		"pcs":    true,
		"piece":  true,
		"pieces": true,
	}
)

func checkNetQuantityUnit(r *models.ProductRecord) (bool, string) {
	qty := value(r.NetQuantity)
	if qty == "" {
		// Absence is reported by the presence rule.
		return false, ""
	}
	m := quantityPattern.FindStringSubmatch(qty)
	if m == nil {
		return true, fmt.Sprintf("Could not parse a quantity and unit from '%s'.", qty)
	}
	unit := strings.ToLower(m[2])
	if !standardUnits[unit] {
		return true, fmt.Sprintf("Unit '%s' in '%s' is not a standard Legal Metrology unit.", unit, qty)
	}
	return false, ""
}

var (
	mrpPattern = regexp.MustCompile(`(?i)(₹|rs\.?\s*)(\d+(\.\d{1,2})?)`)
	nonNumeric = regexp.MustCompile(`[^\d.]`)
)

func checkMRPFormat(r *models.ProductRecord) (bool, string) {
	mrp := value(r.MRP)
	if mrp == "" {
		return false, ""
	}
	if mrpPattern.MatchString(mrp) {
		return false, ""
	}
	if f, err := strconv.ParseFloat(nonNumeric.ReplaceAllString(mrp, ""), 64); err == nil && f > 0 {
		return false, ""
	}
	return true, fmt.Sprintf("MRP format looks invalid: '%s'. Expected something like '₹50.00' or 'Rs. 50'.", mrp)
}

var (
	perishableKeywords = []string{"food", "beverage", "snack", "cosmetic"}
	groceryKeywords    = []string{"food", "beverage", "grocery"}
)

func categoryMatches(category string, keywords []string) bool {
	c := strings.ToLower(category)
	for _, k := range keywords {
		if strings.Contains(c, k) {
			return true
		}
	}
	return false
}

func checkBestBefore(r *models.ProductRecord) (bool, string) {
	if !categoryMatches(r.Category, perishableKeywords) || value(r.BestBeforeDate) != "" {
		return false, ""
	}
	return true, fmt.Sprintf("Best-before / expiry date is required for category '%s' but missing.", r.Category)
}

func checkMfgDate(r *models.ProductRecord) (bool, string) {
	if value(r.DateOfManufacture) != "" || value(r.DateOfImport) != "" {
		return false, ""
	}
	return true, "Date of manufacture and date of import are both missing (at least one required)."
}

func checkUnitPrice(r *models.ProductRecord) (bool, string) {
	if !categoryMatches(r.Category, groceryKeywords) || value(r.UnitSalePrice) != "" {
		return false, ""
	}
	return true, fmt.Sprintf("Unit sale price is required for category '%s' but missing.", r.Category)
}
