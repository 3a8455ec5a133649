package handlers

import (
	"net/http"

	"commentflow/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CommentQueue webhook 评论的异步队列
type CommentQueue interface {
	Enqueue(item services.QueuedComment) error
}

// WebhookHandler Instagram webhook：验证握手 + 评论事件接收
// 签名校验由网关负责
type WebhookHandler struct {
	verifyToken string
	queue       CommentQueue
	logger      *logrus.Logger
}

func NewWebhookHandler(verifyToken string, queue CommentQueue, logger *logrus.Logger) *WebhookHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WebhookHandler{verifyToken: verifyToken, queue: queue, logger: logger}
}

type webhookPayload struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry" binding:"required"`
}

type webhookEntry struct {
	ID      string          `json:"id"` // 平台账号 ID
	Time    int64           `json:"time"`
	Changes []webhookChange `json:"changes"`
}

type webhookChange struct {
	Field string              `json:"field"`
	Value webhookCommentValue `json:"value"`
}

type webhookCommentValue struct {
	ID        string                 `json:"id"`
	Text      string                 `json:"text"`
	Timestamp string                 `json:"timestamp"`
	ParentID  string                 `json:"parent_id"`
	From      services.CommentAuthor `json:"from"`
	Media     struct {
		ID string `json:"id"`
	} `json:"media"`
}

// Verify 订阅验证：hub.mode=subscribe 且 token 一致时原样返回 challenge
func (h *WebhookHandler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "Forbidden", Message: "webhook verification failed"})
		return
	}
	c.String(http.StatusOK, challenge)
}

// Receive 先应答再处理：评论只入队，由 CommentDispatcher 顺序执行
func (h *WebhookHandler) Receive(c *gin.Context) {
	var payload webhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid payload", Message: err.Error()})
		return
	}

	deliveryID := uuid.NewString()
	events := normalizeComments(payload)

	queued := 0
	for _, ev := range events {
		ev.DeliveryID = deliveryID
		if err := h.queue.Enqueue(ev); err != nil {
			h.logger.WithFields(logrus.Fields{
				"delivery_id": deliveryID,
				"comment_id":  ev.Event.ID,
			}).Warnf("webhook: drop comment: %v", err)
			continue
		}
		queued++
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "received",
		"delivery_id": deliveryID,
		"comments":    len(events),
		"queued":      queued,
	})
}

// normalizeComments 只保留 field=comments 且带评论 ID 与帖子 ID 的变更
func normalizeComments(payload webhookPayload) []services.QueuedComment {
	var out []services.QueuedComment
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "comments" {
				continue
			}
			v := change.Value
			if v.ID == "" || v.Media.ID == "" {
				continue
			}
			out = append(out, services.QueuedComment{
				AccountID: entry.ID,
				Event: services.CommentEvent{
					ID:        v.ID,
					Text:      v.Text,
					Timestamp: v.Timestamp,
					From:      v.From,
					PostID:    v.Media.ID,
				},
			})
		}
	}
	return out
}

// RegisterWebhookRoutes 注册 webhook 路由
func RegisterWebhookRoutes(r *gin.RouterGroup, handler *WebhookHandler) {
	wh := r.Group("/webhooks/instagram")
	{
		wh.GET("", handler.Verify)
		wh.POST("", handler.Receive)
	}
}
