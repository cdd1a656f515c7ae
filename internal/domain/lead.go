package domain

import "time"

const (
	LeadStatusQueued    = "queued"
	LeadStatusDelivered = "delivered"
	LeadStatusFailed    = "failed"
	// LeadStatusRecorded means the lead was stored with no endpoint to post to.
	LeadStatusRecorded = "recorded"
)

// Lead is the profile snapshot handed to the lead collaborator when a
// session leaves the upload stage.
type Lead struct {
	ID          string
	SessionID   string
	Profile     Profile
	Status      string
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeliveredAt *time.Time
}
