package review

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/amerfu/pguard/internal/models"
)

// PostgresQueue stores items as models.ReviewItem rows. Claimed rows stay in
// the table with status "claimed".
type PostgresQueue struct {
	db *gorm.DB
}

func NewPostgresQueue(db *gorm.DB) *PostgresQueue {
	return &PostgresQueue{db: db}
}

func (q *PostgresQueue) Enqueue(ctx context.Context, item *Item) (string, error) {
	prepare(item)

	id, err := uuid.Parse(item.ID)
	if err != nil {
		return "", fmt.Errorf("invalid review item id %q: %w", item.ID, err)
	}
	record, err := json.Marshal(item.Record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal review record: %w", err)
	}
	reasons, err := json.Marshal(item.Reasons)
	if err != nil {
		return "", fmt.Errorf("failed to marshal review reasons: %w", err)
	}

	row := models.ReviewItem{
		BaseModel:        models.BaseModel{ID: id, CreatedAt: item.CreatedAt},
		ResultID:         item.ResultID,
		GuardrailName:    item.GuardrailName,
		GuardrailVersion: item.GuardrailVersion,
		Record:           record,
		Reasons:          reasons,
		Status:           models.ReviewStatusPending,
	}
	if err := q.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("failed to enqueue review item: %w", err)
	}
	return item.ID, nil
}

func (q *PostgresQueue) Pending(ctx context.Context, limit int) ([]*Item, error) {
	var rows []models.ReviewItem
	tx := q.db.WithContext(ctx).
		Where("status = ?", models.ReviewStatusPending).
		Order("created_at ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list review items: %w", err)
	}
	return toItems(rows)
}

// Dequeue claims rows with SKIP LOCKED so concurrent reviewers never
// receive the same item
func (q *PostgresQueue) Dequeue(ctx context.Context, n int) ([]*Item, error) {
	if n <= 0 {
		n = 1
	}

	var rows []models.ReviewItem
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", models.ReviewStatusPending).
			Order("created_at ASC").
			Limit(n).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(rows))
		for i, row := range rows {
			ids[i] = row.ID
		}
		now := time.Now().UTC()
		return tx.Model(&models.ReviewItem{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{"status": models.ReviewStatusClaimed, "claimed_at": now}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue review items: %w", err)
	}
	return toItems(rows)
}

func (q *PostgresQueue) Len(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.WithContext(ctx).Model(&models.ReviewItem{}).
		Where("status = ?", models.ReviewStatusPending).
		Count(&count).Error
	return count, err
}

func toItems(rows []models.ReviewItem) ([]*Item, error) {
	items := make([]*Item, 0, len(rows))
	for _, row := range rows {
		item := &Item{
			ID:               row.ID.String(),
			ResultID:         row.ResultID,
			GuardrailName:    row.GuardrailName,
			GuardrailVersion: row.GuardrailVersion,
			CreatedAt:        row.CreatedAt,
		}
		if err := json.Unmarshal(row.Record, &item.Record); err != nil {
			return nil, fmt.Errorf("failed to decode review record %s: %w", item.ID, err)
		}
		if len(row.Reasons) > 0 {
			if err := json.Unmarshal(row.Reasons, &item.Reasons); err != nil {
				return nil, fmt.Errorf("failed to decode review reasons %s: %w", item.ID, err)
			}
		}
		items = append(items, item)
	}
	return items, nil
}
