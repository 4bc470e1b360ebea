package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// PurgeBlobTask is scheduled when a best-effort blob deletion fails
	// even after the adapter's retry budget, so the object is not orphaned.
	PurgeBlobTask = "blob:purge"
)

// PurgePayload tells the worker which object to remove.
type PurgePayload struct {
	LinkID    string `json:"link_id"`
	ObjectKey string `json:"object_key"`
}

// Client adapts an asynq client to the narrow interface the service and
// reaper consume.
type Client struct {
	inner *asynq.Client
}

// NewClient wraps an asynq client.
func NewClient(inner *asynq.Client) *Client {
	return &Client{inner: inner}
}

// EnqueuePurge schedules a blob purge for the worker.
func (c *Client) EnqueuePurge(ctx context.Context, linkID, objectKey string) error {
	return EnqueuePurge(ctx, c.inner, PurgePayload{LinkID: linkID, ObjectKey: objectKey})
}

// EnqueuePurge enqueues a blob purge job.
func EnqueuePurge(ctx context.Context, client *asynq.Client, payload PurgePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(PurgeBlobTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue purge task: %w", err)
	}
	return nil
}
