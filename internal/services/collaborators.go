package services

import (
	"context"
	"time"

	"commentflow/pkg/instagram"
)

// PlatformClient 外部平台调用（Instagram Graph API）
type PlatformClient interface {
	FetchComments(ctx context.Context, accessToken, mediaID string) ([]instagram.Comment, error)
	SendDirectMessage(ctx context.Context, accessToken, recipientID, text string) error
	ReplyToComment(ctx context.Context, accessToken, commentID, text string) error
}

// GenerationRequest AI 回复生成的输入
type GenerationRequest struct {
	CommentText    string
	AuthorHandle   string
	GuidancePrompt string
}

// ResponseGenerator 可插拔的 AI 回复生成器
type ResponseGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// CommentAuthor 评论作者
type CommentAuthor struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// CommentEvent 归一化后的评论事件，只在内存中流转
type CommentEvent struct {
	ID        string        `json:"id" binding:"required"`
	Text      string        `json:"text"`
	Timestamp string        `json:"timestamp,omitempty"`
	From      CommentAuthor `json:"from"`
	PostID    string        `json:"post_id,omitempty"` // 平台侧帖子 ID
}

// CommentEventFromPlatform converts a fetched platform comment into an event on postID.
func CommentEventFromPlatform(c instagram.Comment, postID string) CommentEvent {
	return CommentEvent{
		ID:        c.ID,
		Text:      c.Text,
		Timestamp: c.Timestamp,
		From:      CommentAuthor{ID: c.From.ID, Username: c.AuthorUsername()},
		PostID:    postID,
	}
}

// Clock 便于测试替换
type Clock func() time.Time
