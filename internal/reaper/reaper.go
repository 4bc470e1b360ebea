// Package reaper reclaims storage for expired links nobody revisits. It is a
// safety net: the hot path already refuses and deletes expired records on
// access.
package reaper

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/linkvault/linkvault/internal/blob"
	"github.com/linkvault/linkvault/internal/metrics"
	"github.com/linkvault/linkvault/internal/model"
	"github.com/linkvault/linkvault/internal/store"
)

// DefaultInterval matches the original deployment's once-a-minute sweep.
const DefaultInterval = time.Minute

// Reaper periodically sweeps expired records out of both stores.
type Reaper struct {
	records  store.RecordStore
	blobs    blob.Store
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// New constructs a Reaper. A non-positive interval falls back to the default.
func New(records store.RecordStore, blobs blob.Store, interval time.Duration, log zerolog.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reaper{
		records:  records,
		blobs:    blobs,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Run sweeps on a fixed interval until the context is cancelled. Each
// iteration is independent: a failed sweep is logged and the next one runs
// on schedule.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.log.Info().Dur("interval", r.interval).Msg("reaper started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("reaper stopped")
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// Sweep removes every record whose expiry has passed: blob first,
// best-effort, then the metadata record. One record's failure never aborts
// the rest of the sweep.
func (r *Reaper) Sweep(ctx context.Context) error {
	expired, err := r.records.ExpiredBefore(ctx, r.now())
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}
	reaped := 0
	for _, rec := range expired {
		if r.reapOne(ctx, rec) {
			reaped++
		}
	}
	r.log.Info().Int("expired", len(expired)).Int("reaped", reaped).Msg("sweep complete")
	return nil
}

func (r *Reaper) reapOne(ctx context.Context, rec *model.ContentRecord) bool {
	if rec.Kind == model.KindFile && rec.ObjectKey != "" {
		if err := r.blobs.Delete(ctx, rec.ObjectKey); err != nil {
			// Keep the metadata so the next sweep retries the blob.
			r.log.Warn().Err(err).Str("id", rec.ID).Str("object_key", rec.ObjectKey).
				Msg("blob delete failed, record kept for retry")
			return false
		}
	}
	if err := r.records.Delete(ctx, rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.log.Warn().Err(err).Str("id", rec.ID).Msg("record delete failed")
		return false
	}
	metrics.RecordsReaped.Inc()
	return true
}
