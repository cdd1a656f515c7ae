package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/badgeflow/internal/domain"
	"github.com/dunamismax/badgeflow/internal/id"
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

func (c *Client) EnqueueSubmitLead(ctx context.Context, payload SubmitLeadPayload) (*asynq.TaskInfo, error) {
	task, err := NewSubmitLeadTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.LeadID),
		asynq.MaxRetry(5),
		asynq.Timeout(time.Minute),
	)
}

// SubmitLead hands a profile to the worker for delivery.
func (c *Client) SubmitLead(ctx context.Context, sessionID string, p domain.Profile) error {
	_, err := c.EnqueueSubmitLead(ctx, SubmitLeadPayload{
		LeadID:      id.New(id.PrefixLead),
		SessionID:   sessionID,
		Profile:     p,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("enqueue lead: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
