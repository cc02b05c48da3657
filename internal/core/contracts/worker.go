package contracts

import "context"

type AsyncWorker interface {
	// Run starts the consumer loop for the image job stream.
	Run(ctx context.Context) error
	// ProcessJob decodes one stream entry, runs the analysis and resolves
	// the job before the entry is acknowledged and deleted.
	ProcessJob(ctx context.Context, msgID string, rawData []byte) error
}
