package models

import (
	"time"

	"gorm.io/datatypes"
)

type ReviewStatus string

const (
	ReviewStatusPending ReviewStatus = "pending"
	ReviewStatusClaimed ReviewStatus = "claimed"
)

// ReviewItem is an escalated record waiting for a human decision
type ReviewItem struct {
	BaseModel

	ResultID         string         `gorm:"type:varchar(64);index;not null" json:"result_id"`
	GuardrailName    string         `gorm:"type:varchar(255);not null" json:"guardrail_name"`
	GuardrailVersion string         `gorm:"type:varchar(64);not null" json:"guardrail_version"`
	Record           datatypes.JSON `gorm:"not null" json:"record"`
	Reasons          datatypes.JSON `json:"reasons"`
	Status           ReviewStatus   `gorm:"type:varchar(16);index;not null;default:'pending'" json:"status"`
	ClaimedAt        *time.Time     `json:"claimed_at,omitempty"`
}

func (ReviewItem) TableName() string {
	return "review_items"
}
