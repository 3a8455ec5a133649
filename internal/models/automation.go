package models

import (
	"fmt"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AutomationStatus 自动化生命周期状态
type AutomationStatus string

const (
	AutomationActive    AutomationStatus = "ACTIVE"
	AutomationPaused    AutomationStatus = "PAUSED"
	AutomationCompleted AutomationStatus = "COMPLETED"
	AutomationFailed    AutomationStatus = "FAILED"
)

// ActionType 自动化动作类型
type ActionType string

const (
	ActionCommentToDM  ActionType = "COMMENT_TO_DM"
	ActionCommentReply ActionType = "COMMENT_REPLY"
	ActionAutoLike     ActionType = "AUTO_LIKE"
	ActionStoryReply   ActionType = "STORY_REPLY"
)

// MessageActionTypes lists the action types the comment engine executes.
var MessageActionTypes = []ActionType{ActionCommentToDM, ActionCommentReply}

// ProducesMessage reports whether the action type sends a DM or a public reply.
func (a ActionType) ProducesMessage() bool {
	for _, t := range MessageActionTypes {
		if a == t {
			return true
		}
	}
	return false
}

// Automation 评论自动化规则
type Automation struct {
	ID                   uint             `gorm:"primaryKey" json:"id"`
	UserID               uint             `gorm:"index;not null" json:"user_id"`
	IntegrationID        uint             `gorm:"index;not null" json:"integration_id"`
	Name                 string           `gorm:"size:200" json:"name"`
	Status               AutomationStatus `gorm:"size:20;default:'ACTIVE';index" json:"status"`
	ActionType           ActionType       `gorm:"size:30;not null" json:"action_type"`
	DailyLimit           *int             `json:"daily_limit"`  // nil 表示不限
	HourlyLimit          *int             `json:"hourly_limit"` // nil 表示不限
	TotalExecutions      int              `gorm:"default:0" json:"total_executions"`
	SuccessfulExecutions int              `gorm:"default:0" json:"successful_executions"`
	FailedExecutions     int              `gorm:"default:0" json:"failed_executions"`
	LastExecutedAt       *time.Time       `json:"last_executed_at"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`

	User        User                `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Integration Integration         `gorm:"foreignKey:IntegrationID" json:"integration,omitempty"`
	Triggers    []AutomationTrigger `gorm:"foreignKey:AutomationID" json:"triggers,omitempty"`
}

// maxReplyTemplateLen matches the platform's comment length cap.
const maxReplyTemplateLen = 2200

// TriggerConfig 触发器级别配置
type TriggerConfig struct {
	ReplyTemplate string `json:"reply_template,omitempty"`
	// ReplyEnabled nil means "reply whenever a template is set".
	ReplyEnabled *bool `json:"reply_enabled,omitempty"`
	DelaySeconds int   `json:"delay_seconds,omitempty"`
}

// Validate checks the config before it is persisted.
func (c TriggerConfig) Validate() error {
	if n := utf8.RuneCountInString(c.ReplyTemplate); n > maxReplyTemplateLen {
		return fmt.Errorf("reply template too long: %d > %d characters", n, maxReplyTemplateLen)
	}
	if c.DelaySeconds < 0 {
		return fmt.Errorf("delay_seconds must not be negative")
	}
	return nil
}

// PublicReplyTemplate returns the template for the public comment reply, or "" when
// no reply should be attempted.
func (c TriggerConfig) PublicReplyTemplate() string {
	if c.ReplyEnabled != nil && !*c.ReplyEnabled {
		return ""
	}
	return c.ReplyTemplate
}

// AutomationTrigger 绑定自动化、帖子、关键词与回复
type AutomationTrigger struct {
	ID           uint                              `gorm:"primaryKey" json:"id"`
	AutomationID uint                              `gorm:"index;not null" json:"automation_id"`
	KeywordID    *uint                             `gorm:"index" json:"keyword_id"`
	ResponseID   *uint                             `gorm:"index" json:"response_id"`
	PostID       *uint                             `gorm:"index" json:"post_id"`
	Position     int                               `gorm:"default:0" json:"position"` // 同一自动化内的匹配顺序
	Active       bool                              `json:"active"`
	Config       datatypes.JSONType[TriggerConfig] `json:"config"`
	CreatedAt    time.Time                         `json:"created_at"`
	UpdatedAt    time.Time                         `json:"updated_at"`

	Keyword  *Keyword  `gorm:"foreignKey:KeywordID" json:"keyword,omitempty"`
	Response *Response `gorm:"foreignKey:ResponseID" json:"response,omitempty"`
	Post     *Post     `gorm:"foreignKey:PostID" json:"post,omitempty"`
}

// BeforeSave 校验触发器配置
func (t *AutomationTrigger) BeforeSave(tx *gorm.DB) error {
	if err := t.Config.Data().Validate(); err != nil {
		return fmt.Errorf("invalid trigger config: %w", err)
	}
	return nil
}

// ExecutionStatus 执行结果
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionFailed  ExecutionStatus = "FAILED"
	ExecutionSkipped ExecutionStatus = "SKIPPED"
	// ExecutionPending marks a claimed comment whose actions are still running.
	ExecutionPending ExecutionStatus = "PENDING"
)

// ExecutionMetadata 执行日志附带的原始评论信息
type ExecutionMetadata struct {
	CommentText string   `json:"comment_text"`
	Timestamp   string   `json:"timestamp,omitempty"`
	AuthorID    string   `json:"author_id"`
	PostID      string   `json:"post_id,omitempty"`
	TriggerID   uint     `json:"trigger_id,omitempty"`
	Actions     []string `json:"actions,omitempty"`
	ErrorClass  string   `json:"error_class,omitempty"`
}

// ExecutionLog 每条评论、每个自动化最多一条，(automation_id, target_id) 唯一
type ExecutionLog struct {
	ID             uint                                  `gorm:"primaryKey" json:"id"`
	AutomationID   uint                                  `gorm:"not null;uniqueIndex:idx_execution_logs_automation_target,priority:1;index:idx_execution_logs_window,priority:1" json:"automation_id"`
	TargetID       string                                `gorm:"size:128;not null;uniqueIndex:idx_execution_logs_automation_target,priority:2" json:"target_id"`
	TargetUsername string                                `gorm:"size:128" json:"target_username"`
	Status         ExecutionStatus                       `gorm:"size:20;not null;index:idx_execution_logs_window,priority:2" json:"status"`
	Action         string                                `gorm:"size:64" json:"action"`
	Message        string                                `gorm:"type:text" json:"message"`
	ResponseText   string                                `gorm:"type:text" json:"response_text"`
	Metadata       datatypes.JSONType[ExecutionMetadata] `json:"metadata"`
	CreatedAt      time.Time                             `gorm:"index:idx_execution_logs_window,priority:3" json:"created_at"`
	UpdatedAt      time.Time                             `json:"updated_at"`

	Automation *Automation `gorm:"foreignKey:AutomationID" json:"-"`
}

// AllModels returns every model the engine migrates.
func AllModels() []interface{} {
	return []interface{}{
		&User{}, &Integration{}, &Post{}, &Keyword{}, &Response{},
		&Automation{}, &AutomationTrigger{}, &ExecutionLog{},
	}
}
