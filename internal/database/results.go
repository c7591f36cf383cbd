package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/lmpc-scraper/internal/models"
)

var ErrResultNotFound = errors.New("compliance result not found")

// ComplianceResult is the persisted outcome for one identity key.
type ComplianceResult struct {
	IdentityKey string
	Record      *models.ProductRecord
	Report      *models.ValidationReport
	CheckedAt   time.Time
	UpdatedAt   time.Time
}

type ResultRepository struct {
	db     *DB
	outbox *OutboxRepository
}

func NewResultRepository(db *DB) *ResultRepository {
	return &ResultRepository{db: db, outbox: NewOutboxRepository(db)}
}

const upsertResultQuery = `
	INSERT INTO compliance_results (
		identity_key, source_url, platform, category, title,
		fetch_status, status, score, violations_count,
		record, report, checked_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
	)
	ON CONFLICT (identity_key) DO UPDATE SET
		source_url = EXCLUDED.source_url,
		platform = EXCLUDED.platform,
		category = EXCLUDED.category,
		title = EXCLUDED.title,
		fetch_status = EXCLUDED.fetch_status,
		status = EXCLUDED.status,
		score = EXCLUDED.score,
		violations_count = EXCLUDED.violations_count,
		record = EXCLUDED.record,
		report = EXCLUDED.report,
		checked_at = EXCLUDED.checked_at,
		updated_at = NOW()`

// Save inserts or replaces the result for its identity key. When event is
// non-nil it is written to the outbox in the same transaction.
func (r *ResultRepository) Save(ctx context.Context, result *ComplianceResult, event *OutboxEvent) error {
	args, err := resultArgs(result)
	if err != nil {
		return err
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertResultQuery, args...); err != nil {
			return fmt.Errorf("failed to upsert compliance result: %w", err)
		}
		if event == nil {
			return nil
		}
		return r.outbox.InsertWithTx(ctx, tx, event)
	})
}

func resultArgs(result *ComplianceResult) ([]any, error) {
	if result == nil || result.IdentityKey == "" || result.Record == nil || result.Report == nil {
		return nil, fmt.Errorf("compliance result needs an identity key, record and report")
	}

	record, err := json.Marshal(result.Record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	report, err := json.Marshal(result.Report)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}

	checkedAt := result.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = time.Now()
	}

	rec := result.Record
	return []any{
		result.IdentityKey, rec.SourceURL, rec.Platform, rec.Category, rec.Title,
		rec.FetchStatus, string(result.Report.OverallStatus), rec.ComplianceScore, result.Report.ViolationsCount,
		record, report, checkedAt,
	}, nil
}

func (r *ResultRepository) Get(ctx context.Context, key string) (*ComplianceResult, error) {
	query := `
		SELECT identity_key, record, report, checked_at, updated_at
		FROM compliance_results
		WHERE identity_key = $1`

	res, err := scanResult(r.db.pool.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get compliance result: %w", err)
	}
	return res, nil
}

// ListByStatus returns the most recently checked results with the given
// overall status.
func (r *ResultRepository) ListByStatus(ctx context.Context, status models.OverallStatus, limit int) ([]*ComplianceResult, error) {
	query := `
		SELECT identity_key, record, report, checked_at, updated_at
		FROM compliance_results
		WHERE status = $1
		ORDER BY checked_at DESC
		LIMIT $2`

	rows, err := r.db.pool.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list compliance results: %w", err)
	}
	defer rows.Close()

	var results []*ComplianceResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan compliance result: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return results, nil
}

func scanResult(row pgx.Row) (*ComplianceResult, error) {
	var (
		res            ComplianceResult
		record, report []byte
	)
	if err := row.Scan(&res.IdentityKey, &record, &report, &res.CheckedAt, &res.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(record, &res.Record); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	if err := json.Unmarshal(report, &res.Report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &res, nil
}
