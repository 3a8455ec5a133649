package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"commentflow/internal/metrics"
	"commentflow/internal/models"

	"github.com/sirupsen/logrus"
)

const (
	ActionSentDM         = "sent_dm"
	ActionRepliedComment = "replied_comment"
)

// ActionRequest 一次双动作执行的输入
type ActionRequest struct {
	AccessToken   string
	Event         CommentEvent
	DMText        string
	ReplyTemplate string        // 为空则不回复评论
	ReplyDelay    time.Duration // 回复前等待
}

// ExecutionResult 双动作执行结果
type ExecutionResult struct {
	Status    models.ExecutionStatus
	Actions   []string
	Message   string
	ReplyText string
	DMErr     error
	ReplyErr  error
}

// DMSent reports whether the direct message went out.
func (r ExecutionResult) DMSent() bool {
	for _, a := range r.Actions {
		if a == ActionSentDM {
			return true
		}
	}
	return false
}

// FirstError returns the error that decided the outcome.
func (r ExecutionResult) FirstError() error {
	if r.DMErr != nil {
		return r.DMErr
	}
	return r.ReplyErr
}

// ActionExecutor 私信（必选）+ 公开回复（可选），两者失败互不影响
type ActionExecutor struct {
	platform PlatformClient
	metrics  *metrics.Metrics
	logger   *logrus.Logger
	now      func() time.Time
	wait     func(ctx context.Context, d time.Duration) error
}

func NewActionExecutor(platform PlatformClient, m *metrics.Metrics, logger *logrus.Logger, now func() time.Time) *ActionExecutor {
	if logger == nil {
		logger = logrus.New()
	}
	if now == nil {
		now = time.Now
	}
	return &ActionExecutor{platform: platform, metrics: m, logger: logger, now: now, wait: sleepContext}
}

// Execute runs START → DM_ATTEMPTED → (REPLY_ATTEMPTED) → DONE.
func (e *ActionExecutor) Execute(ctx context.Context, req ActionRequest) ExecutionResult {
	res := ExecutionResult{}

	// DM_ATTEMPTED
	res.DMErr = e.platform.SendDirectMessage(ctx, req.AccessToken, req.Event.From.ID, req.DMText)
	e.metrics.ObservePlatformCall("send_dm", res.DMErr)
	if res.DMErr == nil {
		res.Actions = append(res.Actions, ActionSentDM)
	} else {
		e.logger.WithFields(logrus.Fields{
			"comment_id": req.Event.ID,
			"recipient":  req.Event.From.ID,
		}).Warnf("automation: send dm failed: %v", res.DMErr)
	}

	// REPLY_ATTEMPTED：与私信结果无关，只看是否配置了回复模板
	replyAttempted := false
	if req.ReplyTemplate != "" {
		replyAttempted = true
		res.ReplyText = PersonalizeTemplate(req.ReplyTemplate, req.Event, e.now())
		res.ReplyErr = e.reply(ctx, req, res.ReplyText)
		e.metrics.ObservePlatformCall("reply_comment", res.ReplyErr)
		if res.ReplyErr == nil {
			res.Actions = append(res.Actions, ActionRepliedComment)
		} else {
			e.logger.WithField("comment_id", req.Event.ID).Warnf("automation: reply to comment failed: %v", res.ReplyErr)
		}
	}

	res.Status, res.Message = summarize(res, replyAttempted)
	return res
}

func (e *ActionExecutor) reply(ctx context.Context, req ActionRequest, text string) error {
	if req.ReplyDelay > 0 {
		if err := e.wait(ctx, req.ReplyDelay); err != nil {
			return fmt.Errorf("reply delay: %w", err)
		}
	}
	return e.platform.ReplyToComment(ctx, req.AccessToken, req.Event.ID, text)
}

// summarize 私信决定最终状态：私信失败即 FAILED，回复结果只写进消息
func summarize(res ExecutionResult, replyAttempted bool) (models.ExecutionStatus, string) {
	var parts []string
	status := models.ExecutionSuccess

	if res.DMErr != nil {
		status = models.ExecutionFailed
		parts = append(parts, "dm failed: "+res.DMErr.Error())
	} else {
		parts = append(parts, "dm sent")
	}

	if replyAttempted {
		if res.ReplyErr != nil {
			parts = append(parts, "reply failed: "+res.ReplyErr.Error())
		} else {
			parts = append(parts, "reply posted")
		}
	}
	return status, strings.Join(parts, "; ")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
