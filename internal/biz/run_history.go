package biz

import (
	"context"

	"Bulwark/internal/model"
)

// RunHistory archives finished run reports.
type RunHistory interface {
	// Archive queues run for storage; it must not block the run
	Archive(ctx context.Context, run *model.ConsistencyRunReport)

	// Recent returns up to limit archived runs, newest first
	Recent(ctx context.Context, limit int) ([]*model.ConsistencyRunReport, error)
}
