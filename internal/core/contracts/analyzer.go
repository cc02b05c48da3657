package contracts

import (
	"context"

	"parley/internal/core/domain"
)

// ImageAnalyzer produces a description for an admitted image job.
type ImageAnalyzer interface {
	Analyze(ctx context.Context, job domain.ImageJob) (string, error)
}
