package services

import (
	"context"
	"fmt"
	"time"

	"commentflow/internal/models"

	"gorm.io/gorm"
)

// LimitDecision 限流判定结果
type LimitDecision struct {
	Allowed   bool
	DayCount  int64
	HourCount int64
	Reason    string // daily_limit / hourly_limit
}

// ExecutionLimiter 按自然日、自然小时统计 SUCCESS 执行数
type ExecutionLimiter struct {
	db  *gorm.DB
	now func() time.Time
}

func NewExecutionLimiter(db *gorm.DB, now func() time.Time) *ExecutionLimiter {
	if now == nil {
		now = time.Now
	}
	return &ExecutionLimiter{db: db, now: now}
}

// Allow 两个上限都未配置时不查库
func (l *ExecutionLimiter) Allow(ctx context.Context, automation *models.Automation) (LimitDecision, error) {
	if automation.DailyLimit == nil && automation.HourlyLimit == nil {
		return LimitDecision{Allowed: true}, nil
	}

	now := l.now()
	dayStart, hourStart := windowStarts(now)

	var dayCount, hourCount int64
	if automation.DailyLimit != nil {
		c, err := l.countSuccessSince(ctx, automation.ID, dayStart)
		if err != nil {
			return LimitDecision{}, err
		}
		dayCount = c
	}
	if automation.HourlyLimit != nil {
		c, err := l.countSuccessSince(ctx, automation.ID, hourStart)
		if err != nil {
			return LimitDecision{}, err
		}
		hourCount = c
	}
	return evaluateLimits(automation.DailyLimit, automation.HourlyLimit, dayCount, hourCount), nil
}

func (l *ExecutionLimiter) countSuccessSince(ctx context.Context, automationID uint, since time.Time) (int64, error) {
	var n int64
	err := l.db.WithContext(ctx).Model(&models.ExecutionLog{}).
		Where("automation_id = ? AND status = ? AND created_at >= ?", automationID, models.ExecutionSuccess, since).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count executions: %w", err)
	}
	return n, nil
}

// windowStarts 返回本地时间的当日零点和当前整点
func windowStarts(now time.Time) (time.Time, time.Time) {
	y, m, d := now.Date()
	loc := now.Location()
	return time.Date(y, m, d, 0, 0, 0, 0, loc), time.Date(y, m, d, now.Hour(), 0, 0, 0, loc)
}

// evaluateLimits 计数严格小于上限才放行；nil 表示不限
func evaluateLimits(daily, hourly *int, dayCount, hourCount int64) LimitDecision {
	dec := LimitDecision{Allowed: true, DayCount: dayCount, HourCount: hourCount}
	if daily != nil && dayCount >= int64(*daily) {
		dec.Allowed = false
		dec.Reason = "daily_limit"
		return dec
	}
	if hourly != nil && hourCount >= int64(*hourly) {
		dec.Allowed = false
		dec.Reason = "hourly_limit"
	}
	return dec
}
