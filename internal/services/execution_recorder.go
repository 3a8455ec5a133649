package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"commentflow/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ExecutionRecord 执行结束后写回日志的内容
type ExecutionRecord struct {
	Status       models.ExecutionStatus
	Actions      []string
	Message      string
	ResponseText string
	ErrorClass   ErrorClass
	ResponseID   *uint // 私信发送成功时累加该回复的使用次数
	DMSent       bool
}

// ExecutionRecorder 写执行日志并维护自动化计数
type ExecutionRecorder struct {
	db  *gorm.DB
	now func() time.Time
}

func NewExecutionRecorder(db *gorm.DB, now func() time.Time) *ExecutionRecorder {
	if now == nil {
		now = time.Now
	}
	return &ExecutionRecorder{db: db, now: now}
}

func newLogEntry(automationID uint, evt CommentEvent, status models.ExecutionStatus, triggerID uint, now time.Time) *models.ExecutionLog {
	return &models.ExecutionLog{
		AutomationID:   automationID,
		TargetID:       evt.ID,
		TargetUsername: evt.From.Username,
		Status:         status,
		Metadata: datatypes.NewJSONType(models.ExecutionMetadata{
			CommentText: evt.Text,
			Timestamp:   evt.Timestamp,
			AuthorID:    evt.From.ID,
			PostID:      evt.PostID,
			TriggerID:   triggerID,
		}),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Claim inserts the PENDING row that reserves (automation, comment) before any
// external call. A unique-index violation means another run got there first.
func (r *ExecutionRecorder) Claim(ctx context.Context, automationID uint, evt CommentEvent, triggerID uint) (*models.ExecutionLog, error) {
	entry := newLogEntry(automationID, evt, models.ExecutionPending, triggerID, r.now())
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		if IsDuplicateKeyError(err) {
			return nil, ErrAlreadyProcessed
		}
		return nil, fmt.Errorf("claim comment: %w", err)
	}
	return entry, nil
}

// RecordSkipped 未命中关键词：写 SKIPPED，不动计数
func (r *ExecutionRecorder) RecordSkipped(ctx context.Context, automationID uint, evt CommentEvent, message string) (*models.ExecutionLog, error) {
	entry := newLogEntry(automationID, evt, models.ExecutionSkipped, 0, r.now())
	entry.Message = message
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		if IsDuplicateKeyError(err) {
			return nil, ErrAlreadyProcessed
		}
		return nil, fmt.Errorf("record skipped: %w", err)
	}
	return entry, nil
}

// Complete 在一个事务里落定日志并累加计数
func (r *ExecutionRecorder) Complete(ctx context.Context, claim *models.ExecutionLog, rec ExecutionRecord) error {
	now := r.now()

	meta := claim.Metadata.Data()
	meta.Actions = rec.Actions
	meta.ErrorClass = string(rec.ErrorClass)

	claim.Status = rec.Status
	claim.Action = strings.Join(rec.Actions, ",")
	claim.Message = rec.Message
	claim.ResponseText = rec.ResponseText
	claim.Metadata = datatypes.NewJSONType(meta)
	claim.UpdatedAt = now

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.ExecutionLog{}).Where("id = ?", claim.ID).Updates(map[string]interface{}{
			"status":        claim.Status,
			"action":        claim.Action,
			"message":       claim.Message,
			"response_text": claim.ResponseText,
			"metadata":      claim.Metadata,
			"updated_at":    now,
		}).Error; err != nil {
			return fmt.Errorf("update execution log: %w", err)
		}

		counters := map[string]interface{}{
			"total_executions": gorm.Expr("total_executions + ?", 1),
			"last_executed_at": now,
		}
		if rec.Status == models.ExecutionSuccess {
			counters["successful_executions"] = gorm.Expr("successful_executions + ?", 1)
		} else {
			counters["failed_executions"] = gorm.Expr("failed_executions + ?", 1)
		}
		if err := tx.Model(&models.Automation{}).Where("id = ?", claim.AutomationID).Updates(counters).Error; err != nil {
			return fmt.Errorf("update automation counters: %w", err)
		}

		if rec.DMSent && rec.ResponseID != nil {
			if err := tx.Model(&models.Response{}).Where("id = ?", *rec.ResponseID).
				UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1)).Error; err != nil {
				return fmt.Errorf("update response usage: %w", err)
			}
		}
		return nil
	})
}

// ListLogs 按时间倒序分页
func (r *ExecutionRecorder) ListLogs(ctx context.Context, automationID uint, page, pageSize int) ([]models.ExecutionLog, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	scope := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&models.ExecutionLog{}).Where("automation_id = ?", automationID)
	}

	var total int64
	if err := scope().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count logs: %w", err)
	}
	var logs []models.ExecutionLog
	if err := scope().Order("created_at DESC, id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("list logs: %w", err)
	}
	return logs, total, nil
}
