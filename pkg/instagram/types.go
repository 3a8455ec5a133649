package instagram

import "time"

// Config Graph API 客户端配置
type Config struct {
	BaseURL           string        `yaml:"base_url"`
	APIVersion        string        `yaml:"api_version"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 出站限速，<=0 不限
	Burst             int           `yaml:"burst"`
	MaxCommentPages   int           `yaml:"max_comment_pages"`
	Breaker           *BreakerConfig
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           "https://graph.facebook.com",
		APIVersion:        "v19.0",
		Timeout:           15 * time.Second,
		RequestsPerSecond: 5,
		Burst:             5,
		MaxCommentPages:   10,
		Breaker:           DefaultBreakerConfig(),
	}
}

// CommentAuthor 评论作者
type CommentAuthor struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Comment 平台返回的评论
type Comment struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	Timestamp string        `json:"timestamp"`
	From      CommentAuthor `json:"from"`
	Username  string        `json:"username,omitempty"`
}

// AuthorUsername prefers from.username and falls back to the flat username field.
func (c Comment) AuthorUsername() string {
	if c.From.Username != "" {
		return c.From.Username
	}
	return c.Username
}

type commentPage struct {
	Data   []Comment `json:"data"`
	Paging struct {
		Cursors struct {
			After string `json:"after"`
		} `json:"cursors"`
		Next string `json:"next"`
	} `json:"paging"`
}

type messageRecipient struct {
	ID string `json:"id"`
}

type messageBody struct {
	Text string `json:"text"`
}

type sendMessageRequest struct {
	Recipient messageRecipient `json:"recipient"`
	Message   messageBody      `json:"message"`
}

type replyRequest struct {
	Message string `json:"message"`
}

// graphErrorEnvelope Graph API 错误结构
type graphErrorEnvelope struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		FBTraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}
