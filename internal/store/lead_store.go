package store

import (
	"context"
	"errors"

	"github.com/dunamismax/badgeflow/internal/domain"
)

var ErrLeadNotFound = errors.New("lead not found")

// LeadStore records every lead and the outcome of delivering it.
type LeadStore interface {
	// Create inserts lead unless one with the same ID exists already.
	Create(ctx context.Context, lead domain.Lead) error
	Get(ctx context.Context, id string) (domain.Lead, bool, error)
	// RecordAttempt stores the outcome of one delivery attempt.
	RecordAttempt(ctx context.Context, id, status string, attempts int, lastErr string) (domain.Lead, error)
}
