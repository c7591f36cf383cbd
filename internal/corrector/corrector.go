package corrector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/lmpc-scraper/internal/ai"
	"github.com/maltedev/lmpc-scraper/internal/metrics"
	"github.com/maltedev/lmpc-scraper/internal/models"
)

const (
	DefaultPromptChars = 2000
	DefaultTimeout     = 60 * time.Second
)

const (
	OutcomeSkipped     = "skipped"
	OutcomeError       = "error"
	OutcomeUnparseable = "unparseable"
	OutcomeEmpty       = "empty"
	OutcomeApplied     = "applied"
)

type Options struct {
	PromptChars int
	Timeout     time.Duration
}

// Result describes what a Correct call did.
type Result struct {
	Attempted bool
	Requested []string
	Applied   []string
	Err       error
}

type Corrector struct {
	completer   ai.Completer
	promptChars int
	timeout     time.Duration
	logger      *slog.Logger
}

// New returns a corrector backed by completer. A nil completer disables
// correction entirely.
func New(completer ai.Completer, opts Options, logger *slog.Logger) *Corrector {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PromptChars <= 0 {
		opts.PromptChars = DefaultPromptChars
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Corrector{
		completer:   completer,
		promptChars: opts.PromptChars,
		timeout:     opts.Timeout,
		logger:      logger.With("component", "corrector"),
	}
}

// MissingFields lists the fields of violated rules whose details report an
// absent value, in rule order and without duplicates.
func MissingFields(report *models.ValidationReport) []string {
	if report == nil {
		return nil
	}
	seen := make(map[string]bool)
	var fields []string
	for _, res := range report.RuleResults {
		if !res.Violated || !strings.Contains(strings.ToLower(res.Details), "missing") {
			continue
		}
		if res.Field == "" || seen[res.Field] || !models.IsKnownField(res.Field) {
			continue
		}
		seen[res.Field] = true
		fields = append(fields, res.Field)
	}
	return fields
}

// Correct makes at most one completion call to recover missing fields from
// rawText. The input record and report are never modified; when values are
// recovered a patched copy is returned, otherwise record itself.
func (c *Corrector) Correct(ctx context.Context, record *models.ProductRecord, report *models.ValidationReport, rawText string) (*models.ProductRecord, Result) {
	var res Result

	if record == nil || report == nil || report.ViolationsCount == 0 {
		return record, res
	}
	res.Requested = MissingFields(report)
	if len(res.Requested) == 0 || strings.TrimSpace(rawText) == "" || c.completer == nil {
		return record, res
	}

	res.Attempted = true
	log := c.logger.With("url", record.SourceURL, "fields", res.Requested)
	log.Info("requesting correction")

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.completer.Complete(cctx, BuildPrompt(res.Requested, rawText, c.promptChars))
	if err != nil {
		res.Err = fmt.Errorf("failed to complete correction prompt: %w", err)
		log.Warn("correction failed", "error", err)
		metrics.CorrectionFinished(OutcomeError)
		return record, res
	}

	values, ok := ParseResponse(reply)
	if !ok {
		res.Err = ErrUnparseable
		log.Warn("correction response unparseable", "response_chars", len(reply))
		metrics.CorrectionFinished(OutcomeUnparseable)
		return record, res
	}

	found := canonicalize(values)
	patched := record.Clone()
	for _, field := range res.Requested {
		v, ok := found[field]
		if !ok || IsSentinel(v) {
			continue
		}
		set, err := patched.SetFieldIfAbsent(field, v)
		if err != nil || !set {
			continue
		}
		res.Applied = append(res.Applied, field)
	}

	if len(res.Applied) == 0 {
		log.Info("correction found nothing")
		metrics.CorrectionFinished(OutcomeEmpty)
		return record, res
	}

	log.Info("correction applied", "applied", res.Applied)
	metrics.CorrectionFinished(OutcomeApplied)
	return patched, res
}

var sentinels = map[string]bool{
	"":          true,
	"not found": true,
	"none":      true,
	"null":      true,
	"n/a":       true,
}

// IsSentinel reports whether v is a placeholder meaning "no value".
func IsSentinel(v string) bool {
	return sentinels[strings.ToLower(strings.TrimSpace(v))]
}

// BuildPrompt asks for the given fields, quoting at most maxChars runes of
// rawText.
func BuildPrompt(fields []string, rawText string, maxChars int) string {
	text := []rune(rawText)
	if maxChars > 0 && len(text) > maxChars {
		text = text[:maxChars]
	}

	var b strings.Builder
	b.WriteString("You are auditing a product listing for Legal Metrology (Packaged Commodities) declarations.\n")
	b.WriteString("Extract the following fields from the listing text below: ")
	b.WriteString(strings.Join(fields, ", "))
	b.WriteString(".\n\n")
	b.WriteString("Hints:\n")
	b.WriteString("- manufacturer_details / importer_details: text after \"Manufactured by\", \"Mfd by\", \"Marketed by\", \"Imported by\" including the address.\n")
	b.WriteString("- net_quantity: number followed by a unit (g, kg, ml, l).\n")
	b.WriteString("- mrp: amount after \"MRP\", \"Rs.\" or \"₹\".\n")
	b.WriteString("- dates: \"Mfg\", \"Pkd\", \"Best before\", \"Expiry\", \"Use by\".\n")
	b.WriteString("- country_of_origin: after \"Made in\", \"Product of\", \"Country of Origin\".\n\n")
	b.WriteString("Listing text:\n\"\"\"\n")
	b.WriteString(string(text))
	b.WriteString("\n\"\"\"\n\n")
	b.WriteString("Copy values verbatim from the text. Use null for any field that is not present.\n")
	b.WriteString("Respond with a single flat JSON object mapping each field name to a string. JSON only.")
	return b.String()
}
