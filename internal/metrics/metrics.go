// Package metrics registers the Prometheus instruments exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinksCreated counts successful create operations by kind.
	LinksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkvault_links_created_total",
		Help: "Links created, partitioned by payload kind.",
	}, []string{"kind"})

	// LinksConsumed counts successful consume operations by kind.
	LinksConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkvault_links_consumed_total",
		Help: "Successful consume operations, partitioned by payload kind.",
	}, []string{"kind"})

	// Downloads counts successful file download streams started.
	Downloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkvault_downloads_total",
		Help: "File download streams started.",
	})

	// QuotaExhausted counts accesses refused because the quota ran out.
	QuotaExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkvault_quota_exhausted_total",
		Help: "Accesses refused because the access quota was spent.",
	})

	// RecordsReaped counts records removed by the expiry reaper.
	RecordsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkvault_records_reaped_total",
		Help: "Expired records removed by the background sweep.",
	})

	// BlobPurgesQueued counts blob deletions handed to the cleanup queue
	// after the adapter's retry budget was exhausted.
	BlobPurgesQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkvault_blob_purges_queued_total",
		Help: "Blob deletions deferred to the cleanup queue.",
	})
)
