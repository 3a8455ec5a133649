package services

import (
	"context"
	"errors"
	"fmt"

	"commentflow/internal/models"

	"gorm.io/gorm"
)

// MonitoredTarget 批量扫描的一个 (自动化, 帖子) 组合
type MonitoredTarget struct {
	AutomationID   uint
	PlatformPostID string
}

// TriggerResolver 加载作用于某个帖子的 ACTIVE 自动化
type TriggerResolver struct {
	db *gorm.DB
}

func NewTriggerResolver(db *gorm.DB) *TriggerResolver {
	return &TriggerResolver{db: db}
}

func supportedActionTypes() []models.ActionType {
	return models.MessageActionTypes
}

// ResolveForPost returns active automations of the integration with at least one
// active trigger on the post. Each automation carries only those triggers, in
// stored order, with keyword and response preloaded.
func (r *TriggerResolver) ResolveForPost(ctx context.Context, integrationID uint, platformPostID string) ([]models.Automation, error) {
	db := r.db.WithContext(ctx)

	var postIDs []uint
	if err := db.Model(&models.Post{}).
		Where("integration_id = ? AND platform_post_id = ?", integrationID, platformPostID).
		Pluck("id", &postIDs).Error; err != nil {
		return nil, fmt.Errorf("load posts: %w", err)
	}
	if len(postIDs) == 0 {
		return nil, nil
	}

	var automationIDs []uint
	if err := db.Model(&models.AutomationTrigger{}).
		Distinct("automation_id").
		Where("active = ? AND post_id IN ?", true, postIDs).
		Pluck("automation_id", &automationIDs).Error; err != nil {
		return nil, fmt.Errorf("load triggers: %w", err)
	}
	if len(automationIDs) == 0 {
		return nil, nil
	}

	var automations []models.Automation
	err := r.withTriggers(db, postIDs).
		Where("id IN ? AND integration_id = ? AND status = ? AND action_type IN ?",
			automationIDs, integrationID, models.AutomationActive, supportedActionTypes()).
		Order("id ASC").
		Find(&automations).Error
	if err != nil {
		return nil, fmt.Errorf("load automations: %w", err)
	}
	return automations, nil
}

// LoadAutomation 单个自动化，仅携带作用于该帖子的有效触发器；不检查状态
func (r *TriggerResolver) LoadAutomation(ctx context.Context, automationID uint, platformPostID string) (*models.Automation, error) {
	db := r.db.WithContext(ctx)

	var automation models.Automation
	if err := db.Preload("User").Preload("Integration").First(&automation, automationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAutomationNotFound
		}
		return nil, fmt.Errorf("load automation: %w", err)
	}

	var postIDs []uint
	if platformPostID != "" {
		if err := db.Model(&models.Post{}).
			Where("integration_id = ? AND platform_post_id = ?", automation.IntegrationID, platformPostID).
			Pluck("id", &postIDs).Error; err != nil {
			return nil, fmt.Errorf("load posts: %w", err)
		}
	}
	if len(postIDs) == 0 {
		// 没有匹配的帖子：自动化存在但没有可用触发器
		return &automation, nil
	}

	var loaded models.Automation
	if err := r.withTriggers(db, postIDs).First(&loaded, automationID).Error; err != nil {
		return nil, fmt.Errorf("load automation triggers: %w", err)
	}
	return &loaded, nil
}

// ListMonitoredTargets 所有 ACTIVE 自动化与其有效触发器监控的帖子
func (r *TriggerResolver) ListMonitoredTargets(ctx context.Context) ([]MonitoredTarget, error) {
	var targets []MonitoredTarget
	err := r.db.WithContext(ctx).
		Table("automation_triggers AS t").
		Select("DISTINCT t.automation_id AS automation_id, p.platform_post_id AS platform_post_id").
		Joins("JOIN automations AS a ON a.id = t.automation_id").
		Joins("JOIN posts AS p ON p.id = t.post_id").
		Where("t.active = ? AND a.status = ? AND a.action_type IN ?", true, models.AutomationActive, supportedActionTypes()).
		Order("t.automation_id ASC, p.platform_post_id ASC").
		Scan(&targets).Error
	if err != nil {
		return nil, fmt.Errorf("list monitored targets: %w", err)
	}
	return targets, nil
}

func (r *TriggerResolver) withTriggers(db *gorm.DB, postIDs []uint) *gorm.DB {
	return db.
		Preload("User").
		Preload("Integration").
		Preload("Triggers", func(tx *gorm.DB) *gorm.DB {
			return tx.Where("active = ? AND post_id IN ?", true, postIDs).Order("position ASC, id ASC")
		}).
		Preload("Triggers.Keyword").
		Preload("Triggers.Response").
		Preload("Triggers.Post")
}
