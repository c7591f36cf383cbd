package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/lmpc-scraper/internal/database"
	"github.com/maltedev/lmpc-scraper/internal/models"
)

type EventType string

const (
	// EventTypeComplianceChecked is published once per identity key after
	// the final validation.
	EventTypeComplianceChecked EventType = "COMPLIANCE_CHECKED"

	AggregateType = "compliance_result"
	eventSource   = "lmpc-scraper"
)

// ComplianceCheckedPayload is the body of a COMPLIANCE_CHECKED event.
type ComplianceCheckedPayload struct {
	EventID         string               `json:"event_id"`
	EventType       string               `json:"event_type"`
	Timestamp       time.Time            `json:"timestamp"`
	IdentityKey     string               `json:"identity_key"`
	SourceURL       string               `json:"source_url"`
	Platform        string               `json:"platform"`
	Category        string               `json:"category,omitempty"`
	Title           string               `json:"title"`
	FetchStatus     string               `json:"fetch_status"`
	OverallStatus   models.OverallStatus `json:"overall_status"`
	Score           float64              `json:"score"`
	TotalRules      int                  `json:"total_rules"`
	ViolationsCount int                  `json:"violations_count"`
	ViolatedRules   []string             `json:"violated_rules"`
	Issues          []string             `json:"issues,omitempty"`
	Source          string               `json:"source"`
}

// NewComplianceCheckedPayload summarizes a finalized record and report.
func NewComplianceCheckedPayload(key string, record *models.ProductRecord, report *models.ValidationReport) *ComplianceCheckedPayload {
	violated := make([]string, 0, report.ViolationsCount)
	for _, v := range report.Violations() {
		violated = append(violated, v.RuleID)
	}

	return &ComplianceCheckedPayload{
		EventID:         uuid.New().String(),
		EventType:       string(EventTypeComplianceChecked),
		Timestamp:       time.Now(),
		IdentityKey:     key,
		SourceURL:       record.SourceURL,
		Platform:        record.Platform,
		Category:        record.Category,
		Title:           record.Title,
		FetchStatus:     record.FetchStatus,
		OverallStatus:   report.OverallStatus,
		Score:           record.ComplianceScore,
		TotalRules:      report.TotalRules,
		ViolationsCount: report.ViolationsCount,
		ViolatedRules:   violated,
		Issues:          record.IssuesFound,
		Source:          eventSource,
	}
}

// ResultStore persists a result and its outbox event atomically.
type ResultStore interface {
	Save(ctx context.Context, result *database.ComplianceResult, event *database.OutboxEvent) error
}

// Publisher writes compliance results together with a COMPLIANCE_CHECKED
// outbox event. It satisfies pipeline.Sink.
type Publisher struct {
	store  ResultStore
	stream string
	logger *slog.Logger
}

func NewPublisher(store ResultStore, stream string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if stream == "" {
		stream = database.DefaultStream
	}
	return &Publisher{
		store:  store,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

func (p *Publisher) Save(ctx context.Context, key string, record *models.ProductRecord, report *models.ValidationReport) error {
	if record == nil || report == nil {
		return fmt.Errorf("failed to publish compliance result for %s: record and report are required", key)
	}

	payload := NewComplianceCheckedPayload(key, record, report)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	event := &database.OutboxEvent{
		AggregateType: AggregateType,
		AggregateID:   key,
		EventType:     payload.EventType,
		Payload:       data,
		TargetStream:  p.stream,
	}
	result := &database.ComplianceResult{
		IdentityKey: key,
		Record:      record,
		Report:      report,
		CheckedAt:   payload.Timestamp,
	}

	if err := p.store.Save(ctx, result, event); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("compliance result published to outbox",
		"event_id", payload.EventID,
		"key", key,
		"status", payload.OverallStatus,
		"outbox_id", event.ID,
	)
	return nil
}
