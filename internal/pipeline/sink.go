package pipeline

import (
	"context"
	"errors"

	"github.com/maltedev/lmpc-scraper/internal/models"
)

// Sink persists a finalized record and its report. Implementations must
// insert-or-replace by key so repeated saves of the same data are harmless.
type Sink interface {
	Save(ctx context.Context, key string, record *models.ProductRecord, report *models.ValidationReport) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, key string, record *models.ProductRecord, report *models.ValidationReport) error

func (f SinkFunc) Save(ctx context.Context, key string, record *models.ProductRecord, report *models.ValidationReport) error {
	return f(ctx, key, record, report)
}

// MultiSink saves to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Save(ctx context.Context, key string, record *models.ProductRecord, report *models.ValidationReport) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Save(ctx, key, record, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
