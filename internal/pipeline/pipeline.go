package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/maltedev/lmpc-scraper/internal/aggregator"
	"github.com/maltedev/lmpc-scraper/internal/corrector"
	"github.com/maltedev/lmpc-scraper/internal/extractor"
	"github.com/maltedev/lmpc-scraper/internal/fetcher"
	"github.com/maltedev/lmpc-scraper/internal/metrics"
	"github.com/maltedev/lmpc-scraper/internal/models"
	"github.com/maltedev/lmpc-scraper/internal/ocr"
	"github.com/maltedev/lmpc-scraper/internal/parser"
)

var ErrMissingDependency = errors.New("pipeline dependency is missing")

type Fetcher interface {
	Fetch(ctx context.Context, url, platformKey string) fetcher.Outcome
}

type Aggregator interface {
	Aggregate(ctx context.Context, record *models.ProductRecord, imageURLs []string) []models.TextSource
}

type Validator interface {
	Validate(record *models.ProductRecord) *models.ValidationReport
}

type Corrector interface {
	Correct(ctx context.Context, record *models.ProductRecord, report *models.ValidationReport, rawText string) (*models.ProductRecord, corrector.Result)
}

// Deps are the stages of the pipeline. Fetcher and Validator are required;
// the rest fall back to defaults that do no external work.
type Deps struct {
	Fetcher    Fetcher
	Parser     *parser.Parser
	Aggregator Aggregator
	Extractor  *extractor.Extractor
	Validator  Validator
	Corrector  Corrector
	Sink       Sink
}

// Stats counts pipeline activity for the current session.
type Stats struct {
	Processed    int64 `json:"processed"`
	Deduplicated int64 `json:"deduplicated"`
	Corrected    int64 `json:"corrected"`
	FetchFailed  int64 `json:"fetch_failed"`
	Compliant    int64 `json:"compliant"`
	Violations   int64 `json:"violations"`
	Keys         int   `json:"keys"`
}

// Orchestrator runs Fetcher → TextAggregator → FieldExtractor → rules →
// corrector → rules for each distinct product, at most once per identity
// key for its lifetime.
type Orchestrator struct {
	deps    Deps
	session *session
	logger  *slog.Logger

	processed    atomic.Int64
	deduplicated atomic.Int64
	corrected    atomic.Int64
	fetchFailed  atomic.Int64
	compliant    atomic.Int64
	violations   atomic.Int64
}

func New(deps Deps, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher", ErrMissingDependency)
	}
	if deps.Validator == nil {
		return nil, fmt.Errorf("%w: validator", ErrMissingDependency)
	}
	if deps.Parser == nil {
		deps.Parser = parser.New()
	}
	if deps.Aggregator == nil {
		deps.Aggregator = aggregator.New(nil, ocr.Nop{}, aggregator.DefaultOptions(), logger)
	}
	if deps.Extractor == nil {
		deps.Extractor = extractor.New(logger)
	}
	if deps.Corrector == nil {
		deps.Corrector = corrector.New(nil, corrector.Options{}, logger)
	}

	return &Orchestrator{
		deps:    deps,
		session: newSession(),
		logger:  logger.With("component", "pipeline"),
	}, nil
}

// Process returns the compliance record and report for rawURL. URLs that
// share an identity key are enriched once; repeat calls get copies of the
// first result. Fetch, extraction and correction failures show up in the
// report, not as errors. An error is returned only for an unusable URL or
// when ctx ends before a result is available.
func (o *Orchestrator) Process(ctx context.Context, rawURL string) (*models.ProductRecord, *models.ValidationReport, error) {
	key, err := IdentityKey(rawURL)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	e, owner := o.session.claim(key)
	for !owner {
		select {
		case <-e.done:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
		if e.err == nil {
			o.deduplicated.Add(1)
			metrics.Deduplicated.Inc()
			o.logger.Debug("identity key already processed", "key", key, "url", rawURL)
			return e.record.Clone(), e.report.Clone(), nil
		}
		// The owning run was abandoned; take over or wait on the next owner.
		e, owner = o.session.claim(key)
	}

	record, report := o.run(ctx, key, rawURL)
	if err := ctx.Err(); err != nil {
		o.session.finish(key, e, nil, nil, err)
		return nil, nil, err
	}
	o.session.finish(key, e, record, report, nil)
	return record.Clone(), report.Clone(), nil
}

func (o *Orchestrator) run(ctx context.Context, key, rawURL string) (*models.ProductRecord, *models.ValidationReport) {
	start := time.Now()
	log := o.logger.With("key", key)

	record := models.NewProductRecord(rawURL, "")
	out := o.deps.Fetcher.Fetch(ctx, rawURL, "")
	record.Platform = out.Platform
	record.FetchStatus = string(out.Status)

	var page *parser.Page
	if out.OK() {
		p, err := o.deps.Parser.Parse(string(out.Body), rawURL)
		if err != nil {
			log.Warn("failed to parse page", "error", err)
		} else {
			page = p
			applyPage(record, page)
		}
	} else {
		o.fetchFailed.Add(1)
		log.Warn("fetch failed", "status", out.Status, "status_code", out.HTTPCode, "attempts", out.Attempts)
	}

	sources := o.deps.Aggregator.Aggregate(ctx, record, record.ImageURLs)

	values := o.deps.Extractor.Extract(sources)
	applied := extractor.Apply(record, values)
	if page != nil {
		// Selector prices only fill gaps left by the text patterns.
		if ok, _ := record.SetFieldIfAbsent(models.FieldMRP, page.MRP); ok {
			applied = append(applied, models.FieldMRP)
		}
		if ok, _ := record.SetFieldIfAbsent(models.FieldPrice, page.Price); ok {
			applied = append(applied, models.FieldPrice)
		}
	}
	if record.Category == "" {
		record.Category = extractor.InferCategory(sources)
	}
	log.Debug("fields extracted", "fields", applied, "category", record.Category)

	report := o.deps.Validator.Validate(record)

	patched, res := o.deps.Corrector.Correct(ctx, record, report, aggregator.Combined(sources))
	if len(res.Applied) > 0 {
		o.corrected.Add(1)
		before := report.ViolationsCount
		record = patched
		report = o.deps.Validator.Validate(record)
		log.Info("record corrected", "fields", res.Applied, "violations_before", before, "violations_after", report.ViolationsCount)
	}

	record.ApplyReport(report)
	for _, v := range report.Violations() {
		metrics.RuleViolated(v.RuleID)
	}

	if o.deps.Sink != nil {
		if err := o.deps.Sink.Save(ctx, key, record, report); err != nil {
			log.Error("failed to persist result", "error", err)
		}
	}

	o.processed.Add(1)
	if report.OverallStatus == models.StatusCompliant {
		o.compliant.Add(1)
	} else {
		o.violations.Add(1)
	}
	metrics.PipelineFinished(record.Platform, string(report.OverallStatus), time.Since(start))

	log.Info("product processed",
		"platform", record.Platform,
		"fetch_status", record.FetchStatus,
		"status", report.OverallStatus,
		"violations", report.ViolationsCount,
		"score", record.ComplianceScore,
		"duration", time.Since(start),
	)
	return record, report
}

func applyPage(record *models.ProductRecord, page *parser.Page) {
	record.Title = page.Title
	record.Description = page.Description
	record.Category = page.Category
	record.ImageURLs = append(record.ImageURLs[:0], page.ImageURLs...)

	text := page.FullText()
	if page.Description != "" && !strings.Contains(text, page.Description) {
		text = page.Description + "\n" + text
	}
	record.FullPageText = strings.TrimSpace(text)
}

func (o *Orchestrator) Stats() Stats {
	return Stats{
		Processed:    o.processed.Load(),
		Deduplicated: o.deduplicated.Load(),
		Corrected:    o.corrected.Load(),
		FetchFailed:  o.fetchFailed.Load(),
		Compliant:    o.compliant.Load(),
		Violations:   o.violations.Load(),
		Keys:         o.session.len(),
	}
}
