package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/linkvault/linkvault/internal/blob"
	"github.com/linkvault/linkvault/internal/queue"
)

// Processor is plugged into the asynq worker loop. It handles the blob purge
// jobs that round out the two-store delete protocol: when the synchronous
// best-effort delete fails, the job retries until the object is gone.
type Processor struct {
	blobs blob.Store
	log   zerolog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(blobs blob.Store, log zerolog.Logger) *Processor {
	return &Processor{blobs: blobs, log: log}
}

// Handler registers the purge job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.PurgeBlobTask, p.handlePurge)
	return mux
}

func (p *Processor) handlePurge(ctx context.Context, task *asynq.Task) error {
	var payload queue.PurgePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := p.blobs.Delete(ctx, payload.ObjectKey); err != nil {
		p.log.Warn().Err(err).Str("link_id", payload.LinkID).Str("object_key", payload.ObjectKey).
			Msg("blob purge attempt failed")
		return err
	}
	p.log.Info().Str("link_id", payload.LinkID).Str("object_key", payload.ObjectKey).
		Msg("orphaned blob purged")
	return nil
}
