package models

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	default:
		return false
	}
}

type OverallStatus string

const (
	StatusCompliant OverallStatus = "COMPLIANT"
	StatusViolation OverallStatus = "VIOLATION"
)

// TextSource is one labelled text stream. Order matters: earlier sources
// take precedence during extraction.
type TextSource struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

const (
	SourceTitle    = "title"
	SourcePageText = "page_text"
	SourceOCRText  = "ocr_text"
)

type RuleResult struct {
	RuleID      string   `json:"rule_id"`
	Field       string   `json:"field"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Violated    bool     `json:"violated"`
	Details     string   `json:"details"`
}

type ValidationReport struct {
	OverallStatus   OverallStatus `json:"overall_status"`
	TotalRules      int           `json:"total_rules"`
	ViolationsCount int           `json:"violations_count"`
	RuleResults     []RuleResult  `json:"rule_results"`
}

// Result looks up the outcome of a single rule.
func (v *ValidationReport) Result(ruleID string) (RuleResult, bool) {
	for _, r := range v.RuleResults {
		if r.RuleID == ruleID {
			return r, true
		}
	}
	return RuleResult{}, false
}

func (v *ValidationReport) Violations() []RuleResult {
	out := make([]RuleResult, 0, v.ViolationsCount)
	for _, r := range v.RuleResults {
		if r.Violated {
			out = append(out, r)
		}
	}
	return out
}

func (v *ValidationReport) Clone() *ValidationReport {
	if v == nil {
		return nil
	}
	c := *v
	c.RuleResults = append([]RuleResult(nil), v.RuleResults...)
	return &c
}
