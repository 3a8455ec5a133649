package services

import (
	"context"
	"fmt"

	"commentflow/internal/models"

	"gorm.io/gorm"
)

// IdempotencyGuard 只读预检；真正的互斥由 (automation_id, target_id) 唯一索引保证，见 ExecutionRecorder.Claim
type IdempotencyGuard struct {
	db *gorm.DB
}

func NewIdempotencyGuard(db *gorm.DB) *IdempotencyGuard {
	return &IdempotencyGuard{db: db}
}

// AlreadyProcessed reports whether any log exists for (automationID, commentID).
func (g *IdempotencyGuard) AlreadyProcessed(ctx context.Context, automationID uint, commentID string) (bool, error) {
	var ids []uint
	err := g.db.WithContext(ctx).Model(&models.ExecutionLog{}).
		Where("automation_id = ? AND target_id = ?", automationID, commentID).
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return false, fmt.Errorf("check execution log: %w", err)
	}
	return len(ids) > 0, nil
}
