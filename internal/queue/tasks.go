package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dunamismax/badgeflow/internal/domain"
)

const TypeSubmitLead = "lead:submit"

type SubmitLeadPayload struct {
	LeadID      string         `json:"lead_id"`
	SessionID   string         `json:"session_id"`
	Profile     domain.Profile `json:"profile"`
	RequestedAt time.Time      `json:"requested_at"`
}

func NewSubmitLeadTask(payload SubmitLeadPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal lead payload: %w", err)
	}
	return asynq.NewTask(TypeSubmitLead, body), nil
}

func ParseSubmitLeadPayload(task *asynq.Task) (SubmitLeadPayload, error) {
	var payload SubmitLeadPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return SubmitLeadPayload{}, fmt.Errorf("unmarshal lead payload: %w", err)
	}
	if payload.LeadID == "" {
		return SubmitLeadPayload{}, fmt.Errorf("lead payload has no lead_id")
	}
	return payload, nil
}
