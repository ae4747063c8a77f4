package models

import (
	"time"

	"gorm.io/datatypes"
)

// ValidationAudit is one exported trace entry: the outcome of a single
// constraint evaluation tagged with the guardrail that produced it.
type ValidationAudit struct {
	BaseModel

	ResultID         string `gorm:"type:varchar(64);index;not null" json:"result_id"`
	GuardrailName    string `gorm:"type:varchar(255);index:idx_validation_audit_guardrail;not null" json:"guardrail_name"`
	GuardrailVersion string `gorm:"type:varchar(64);index:idx_validation_audit_guardrail;not null" json:"guardrail_version"`
	ConstraintName   string `gorm:"type:varchar(255);not null" json:"constraint_name"`
	Severity         string `gorm:"type:varchar(16);not null" json:"severity"`
	Passed           bool   `gorm:"not null" json:"passed"`
	Message          string `gorm:"type:text" json:"message"`
	InputExcerpt     string `gorm:"type:text" json:"input_excerpt,omitempty"`

	// EntryHash is the SHA-256 of the entry's canonical JSON form
	EntryHash string         `gorm:"type:char(64);uniqueIndex;not null" json:"entry_hash"`
	Payload   datatypes.JSON `json:"payload"`

	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
}

func (ValidationAudit) TableName() string {
	return "validation_audits"
}
