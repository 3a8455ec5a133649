package models

import (
	"time"

	"gorm.io/gorm"
)

// Plan 订阅等级，决定是否可以使用 AI 回复
type Plan string

const (
	PlanFree       Plan = "FREE"
	PlanPro        Plan = "PRO"
	PlanEnterprise Plan = "ENTERPRISE"
)

// AllowsAIResponses reports whether the plan is entitled to AI generated responses.
func (p Plan) AllowsAIResponses() bool {
	return p == PlanPro || p == PlanEnterprise
}

// 用户模型（仅保留自动化引擎需要的字段）
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Username  string         `gorm:"unique;not null" json:"username"`
	Email     string         `gorm:"size:255" json:"email"`
	Plan      Plan           `gorm:"size:20;default:'FREE'" json:"plan"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Integration 外部平台账号（凭证由 OAuth 层维护）
type Integration struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"index;not null" json:"user_id"`
	Platform    string    `gorm:"size:30;default:'INSTAGRAM'" json:"platform"`
	AccountID   string    `gorm:"size:128;index" json:"account_id"` // 平台侧账号 ID，webhook entry.id
	Username    string    `gorm:"size:128" json:"username"`
	AccessToken string    `gorm:"type:text" json:"-"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// Post 被监控的帖子
type Post struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	IntegrationID  uint      `gorm:"index;not null" json:"integration_id"`
	PlatformPostID string    `gorm:"size:128;not null;index" json:"platform_post_id"`
	Caption        string    `gorm:"type:text" json:"caption"`
	Permalink      string    `json:"permalink"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Keyword 关键词匹配规则
type Keyword struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"index;not null" json:"user_id"`
	Pattern       string    `gorm:"size:255;not null" json:"pattern"`
	MatchType     MatchType `gorm:"size:20;default:'CONTAINS'" json:"match_type"`
	CaseSensitive bool      `json:"case_sensitive"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Response 回复内容配置
type Response struct {
	ID         uint         `gorm:"primaryKey" json:"id"`
	UserID     uint         `gorm:"index;not null" json:"user_id"`
	Name       string       `gorm:"size:100" json:"name"`
	Type       ResponseType `gorm:"size:20;not null" json:"type"`
	Message    string       `gorm:"type:text" json:"message"`   // CUSTOM 模板，支持 {username} {comment} {time}
	AIPrompt   string       `gorm:"type:text" json:"ai_prompt"` // AI_GENERATED 的引导提示词
	Active     bool         `json:"active"`
	UsageCount int          `gorm:"default:0" json:"usage_count"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// MatchType 关键词匹配模式
type MatchType string

const (
	MatchExact      MatchType = "EXACT"
	MatchContains   MatchType = "CONTAINS"
	MatchStartsWith MatchType = "STARTS_WITH"
	MatchEndsWith   MatchType = "ENDS_WITH"
	MatchRegex      MatchType = "REGEX"
)

// ResponseType 回复类型
type ResponseType string

const (
	ResponseCustom      ResponseType = "CUSTOM"
	ResponseAIGenerated ResponseType = "AI_GENERATED"
	ResponseTemplate    ResponseType = "TEMPLATE"
)
