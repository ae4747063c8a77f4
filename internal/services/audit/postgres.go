package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/amerfu/pguard/internal/models"
)

// PostgresSink stores records as models.ValidationAudit rows. Re-exporting a
// record that is already stored is a no-op, keyed on its entry hash.
type PostgresSink struct {
	db        *gorm.DB
	batchSize int
}

// NewPostgresSink creates a sink over db
func NewPostgresSink(db *gorm.DB) *PostgresSink {
	return &PostgresSink{db: db, batchSize: 200}
}

func (s *PostgresSink) Name() string {
	return "postgres"
}

func (s *PostgresSink) Write(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]models.ValidationAudit, 0, len(records))
	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal trace record: %w", err)
		}
		rows = append(rows, models.ValidationAudit{
			ResultID:         r.ResultID,
			GuardrailName:    r.GuardrailName,
			GuardrailVersion: r.GuardrailVersion,
			ConstraintName:   r.ConstraintName,
			Severity:         r.Severity,
			Passed:           r.Passed,
			Message:          r.Message,
			InputExcerpt:     r.InputExcerpt,
			EntryHash:        r.EntryHash,
			Payload:          payload,
			Timestamp:        r.Timestamp,
		})
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "entry_hash"}}, DoNothing: true}).
		CreateInBatches(&rows, s.batchSize).Error
	if err != nil {
		return fmt.Errorf("failed to store validation audits: %w", err)
	}
	return nil
}

// ListByResult returns the stored entries of one validation result in
// evaluation order
func (s *PostgresSink) ListByResult(ctx context.Context, resultID string) ([]models.ValidationAudit, error) {
	var rows []models.ValidationAudit
	err := s.db.WithContext(ctx).
		Where("result_id = ?", resultID).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list validation audits: %w", err)
	}
	return rows, nil
}
