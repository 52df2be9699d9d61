package model

import (
	"time"

	"github.com/google/uuid"
)

// StatusEvent is emitted after a compound's status changes in memory.
type StatusEvent struct {
	CompoundID  uuid.UUID        `json:"compound_id"`
	RunID       uuid.UUID        `json:"run_id"`
	CampaignID  uuid.UUID        `json:"campaign_id"`
	Status      Status           `json:"status"`
	Metrics     *CompoundMetrics `json:"metrics,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// FilesReadyEvent is emitted after a compound's result files land in
// their permanent folder.
type FilesReadyEvent struct {
	CompoundID uuid.UUID `json:"compound_id"`
	RunID      uuid.UUID `json:"run_id"`
}
