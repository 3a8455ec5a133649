package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"commentflow/internal/metrics"
	"commentflow/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// Outcome 单条评论在单个自动化上的处理结果
type Outcome string

const (
	OutcomeSuccess          Outcome = "SUCCESS"
	OutcomeFailed           Outcome = "FAILED"
	OutcomeSkipped          Outcome = "SKIPPED"
	OutcomeAlreadyProcessed Outcome = "ALREADY_PROCESSED"
	OutcomeRateLimited      Outcome = "RATE_LIMITED"
	OutcomeNotEligible      Outcome = "NOT_ELIGIBLE"
	OutcomeIgnoredSelf      Outcome = "IGNORED_SELF"
)

const (
	msgAlreadyProcessed = "already processed"
	msgRateLimited      = "rate limit reached"
	msgNoKeywordMatch   = "no keyword match"
)

// CommentResult processComment 的返回
type CommentResult struct {
	AutomationID uint     `json:"automation_id"`
	CommentID    string   `json:"comment_id"`
	Processed    bool     `json:"processed"` // 是否写入了执行日志
	Outcome      Outcome  `json:"outcome"`
	Actions      []string `json:"actions"`
	Message      string   `json:"message"`
	ResponseText string   `json:"response_text,omitempty"`
	TriggerID    uint     `json:"trigger_id,omitempty"`
	Err          error    `json:"-"`
}

// PostResult processPost 的返回
type PostResult struct {
	AutomationID uint   `json:"automation_id"`
	PostID       string `json:"post_id"`
	Processed    bool   `json:"processed"`
	Comments     int    `json:"comments"`
	Successful   int    `json:"successful"`
	Failed       int    `json:"failed"`
	Skipped      int    `json:"skipped"`
	RateLimited  int    `json:"rate_limited"`
	Duplicates   int    `json:"duplicates"`
	Message      string `json:"message"`
}

func (r *PostResult) add(res CommentResult) {
	r.Comments++
	switch res.Outcome {
	case OutcomeSuccess:
		r.Successful++
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkipped:
		r.Skipped++
	case OutcomeRateLimited:
		r.RateLimited++
	case OutcomeAlreadyProcessed:
		r.Duplicates++
	}
}

// BatchResult runActiveAutomations 的返回
type BatchResult struct {
	Processed       bool         `json:"processed"`
	Targets         int          `json:"targets"`
	TotalProcessed  int          `json:"total_processed"`
	TotalSuccessful int          `json:"total_successful"`
	TotalFailed     int          `json:"total_failed"`
	Posts           []PostResult `json:"posts,omitempty"`
	Errors          []string     `json:"errors,omitempty"`
}

// CommentAutomationService 评论自动化编排：逐条、逐个自动化顺序处理
type CommentAutomationService struct {
	db        *gorm.DB
	platform  PlatformClient
	resolver  *TriggerResolver
	guard     *IdempotencyGuard
	limiter   *ExecutionLimiter
	responses *ResponseResolver
	executor  *ActionExecutor
	recorder  *ExecutionRecorder
	metrics   *metrics.Metrics
	logger    *logrus.Logger
	tracer    trace.Tracer
	clock     Clock
}

// NewCommentAutomationService 创建编排服务，generator 可以为 nil（AI 回复将失败）
func NewCommentAutomationService(db *gorm.DB, platform PlatformClient, generator ResponseGenerator, logger *logrus.Logger) *CommentAutomationService {
	if logger == nil {
		logger = logrus.New()
	}
	s := &CommentAutomationService{
		db:       db,
		platform: platform,
		logger:   logger,
		tracer:   otel.Tracer("commentflow.automation"),
		clock:    time.Now,
	}
	s.resolver = NewTriggerResolver(db)
	s.guard = NewIdempotencyGuard(db)
	s.limiter = NewExecutionLimiter(db, s.now)
	s.responses = NewResponseResolver(generator, s.now)
	s.executor = NewActionExecutor(platform, nil, logger, s.now)
	s.recorder = NewExecutionRecorder(db, s.now)
	return s
}

// SetClock 替换时钟（测试）
func (s *CommentAutomationService) SetClock(c Clock) {
	if c == nil {
		c = time.Now
	}
	s.clock = c
}

// SetMetrics 注入 Prometheus 指标
func (s *CommentAutomationService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
	s.executor.metrics = m
}

// Recorder exposes the log writer.
func (s *CommentAutomationService) Recorder() *ExecutionRecorder { return s.recorder }

// ListExecutionLogs 分页查询自动化的执行日志
func (s *CommentAutomationService) ListExecutionLogs(ctx context.Context, automationID uint, page, pageSize int) ([]models.ExecutionLog, int64, error) {
	return s.recorder.ListLogs(ctx, automationID, page, pageSize)
}

func (s *CommentAutomationService) now() time.Time { return s.clock() }

// ProcessComment 单条评论、单个自动化（webhook / 手动触发路径）
func (s *CommentAutomationService) ProcessComment(ctx context.Context, automationID uint, evt CommentEvent, accessToken string) (CommentResult, error) {
	automation, err := s.resolver.LoadAutomation(ctx, automationID, evt.PostID)
	if err != nil {
		return CommentResult{AutomationID: automationID, CommentID: evt.ID, Outcome: OutcomeFailed, Message: err.Error(), Err: err}, err
	}
	return s.processForAutomation(ctx, automation, evt, s.tokenFor(automation, accessToken)), nil
}

// ProcessPost 拉取帖子全部评论并逐条处理
func (s *CommentAutomationService) ProcessPost(ctx context.Context, automationID uint, postID string, accessToken string) (PostResult, error) {
	ctx, span := s.tracer.Start(ctx, "automation.process_post")
	defer span.End()
	span.SetAttributes(attribute.Int("automation.id", int(automationID)), attribute.String("post.id", postID))

	result := PostResult{AutomationID: automationID, PostID: postID}

	automation, err := s.resolver.LoadAutomation(ctx, automationID, postID)
	if err != nil {
		span.RecordError(err)
		result.Message = err.Error()
		return result, err
	}
	if reason := ineligibleReason(automation); reason != "" {
		result.Message = reason
		return result, nil
	}
	if len(automation.Triggers) == 0 {
		result.Message = "no active trigger for post"
		return result, nil
	}

	token := s.tokenFor(automation, accessToken)
	if token == "" {
		result.Message = ErrMissingAccessToken.Error()
		return result, ErrMissingAccessToken
	}

	comments, err := s.platform.FetchComments(ctx, token, postID)
	s.metrics.ObservePlatformCall("fetch_comments", err)
	if err != nil {
		span.RecordError(err)
		err = fmt.Errorf("fetch comments: %w", err)
		result.Message = err.Error()
		return result, err
	}

	for _, c := range comments {
		res := s.processForAutomation(ctx, automation, CommentEventFromPlatform(c, postID), token)
		result.add(res)
	}

	result.Processed = true
	result.Message = fmt.Sprintf("processed %d comments: %d successful, %d failed, %d skipped",
		result.Comments, result.Successful, result.Failed, result.Skipped)
	s.logger.WithFields(logrus.Fields{
		"automation_id": automationID,
		"post_id":       postID,
		"successful":    result.Successful,
		"failed":        result.Failed,
	}).Info("automation: post processed")
	return result, nil
}

// RunActiveAutomations 对所有 ACTIVE 自动化监控的帖子执行批量路径；由外部调度器调用
func (s *CommentAutomationService) RunActiveAutomations(ctx context.Context) (BatchResult, error) {
	ctx, span := s.tracer.Start(ctx, "automation.run_active")
	defer span.End()

	targets, err := s.resolver.ListMonitoredTargets(ctx)
	if err != nil {
		span.RecordError(err)
		return BatchResult{}, err
	}

	batch := BatchResult{Processed: true, Targets: len(targets)}
	for _, t := range targets {
		res, err := s.ProcessPost(ctx, t.AutomationID, t.PlatformPostID, "")
		if err != nil {
			s.logger.Warnf("automation: run %d on post %s failed: %v", t.AutomationID, t.PlatformPostID, err)
			batch.Errors = append(batch.Errors, fmt.Sprintf("automation %d post %s: %v", t.AutomationID, t.PlatformPostID, err))
			continue
		}
		batch.TotalProcessed += res.Comments
		batch.TotalSuccessful += res.Successful
		batch.TotalFailed += res.Failed
		batch.Posts = append(batch.Posts, res)
	}
	span.SetAttributes(attribute.Int("batch.targets", len(targets)), attribute.Int("batch.successful", batch.TotalSuccessful))
	return batch, nil
}

// HandleCommentEvent webhook 路径：按平台账号找到集成，对该帖子的所有候选自动化依次处理
func (s *CommentAutomationService) HandleCommentEvent(ctx context.Context, accountID string, evt CommentEvent) ([]CommentResult, error) {
	if evt.PostID == "" || evt.ID == "" {
		s.logger.Debugf("automation: ignore comment event without post or comment id (account %s)", accountID)
		return nil, nil
	}

	var integrations []models.Integration
	if err := s.db.WithContext(ctx).
		Where("account_id = ? AND active = ?", accountID, true).
		Order("id ASC").
		Find(&integrations).Error; err != nil {
		return nil, fmt.Errorf("load integrations: %w", err)
	}

	var results []CommentResult
	for _, integ := range integrations {
		automations, err := s.resolver.ResolveForPost(ctx, integ.ID, evt.PostID)
		if err != nil {
			s.logger.Warnf("automation: resolve triggers for integration %d failed: %v", integ.ID, err)
			continue
		}
		for i := range automations {
			results = append(results, s.processForAutomation(ctx, &automations[i], evt, integ.AccessToken))
		}
	}
	return results, nil
}

func (s *CommentAutomationService) tokenFor(automation *models.Automation, accessToken string) string {
	if accessToken != "" {
		return accessToken
	}
	return automation.Integration.AccessToken
}

func ineligibleReason(a *models.Automation) string {
	if a.Status != models.AutomationActive {
		return fmt.Sprintf("automation is %s", a.Status)
	}
	if !a.ActionType.ProducesMessage() {
		return fmt.Sprintf("action type %s is not handled by the comment engine", a.ActionType)
	}
	return ""
}

// processForAutomation 每条评论每个自动化的处理边界：所有失败都转换为结果值，不向上传播
func (s *CommentAutomationService) processForAutomation(ctx context.Context, automation *models.Automation, evt CommentEvent, token string) (res CommentResult) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "automation.process_comment")
	defer span.End()
	span.SetAttributes(
		attribute.Int("automation.id", int(automation.ID)),
		attribute.String("comment.id", evt.ID),
	)

	res = CommentResult{AutomationID: automation.ID, CommentID: evt.ID}
	defer func() {
		span.SetAttributes(attribute.String("automation.outcome", string(res.Outcome)))
		if res.Err != nil {
			span.RecordError(res.Err)
		}
		s.metrics.ObserveOutcome(string(res.Outcome), time.Since(start).Seconds())
		entry := s.logger.WithFields(logrus.Fields{
			"automation_id": automation.ID,
			"comment_id":    evt.ID,
			"post_id":       evt.PostID,
			"outcome":       res.Outcome,
		})
		if res.Outcome == OutcomeFailed {
			entry.Warnf("automation: %s", res.Message)
		} else {
			entry.Debugf("automation: %s", res.Message)
		}
	}()

	if reason := ineligibleReason(automation); reason != "" {
		return res.finish(OutcomeNotEligible, false, reason)
	}
	if own := automation.Integration.AccountID; own != "" && evt.From.ID == own {
		return res.finish(OutcomeIgnoredSelf, false, "comment authored by the integration account")
	}

	done, err := s.guard.AlreadyProcessed(ctx, automation.ID, evt.ID)
	if err != nil {
		res.Err = err
		return res.finish(OutcomeFailed, false, err.Error())
	}
	if done {
		return res.finish(OutcomeAlreadyProcessed, false, msgAlreadyProcessed)
	}

	if len(automation.Triggers) == 0 {
		return res.finish(OutcomeNotEligible, false, "no active trigger for post")
	}

	trigger, ok := FirstMatchingTrigger(evt.Text, automation.Triggers)
	if !ok {
		return s.skip(ctx, res, automation, evt)
	}
	res.TriggerID = trigger.ID

	decision, err := s.limiter.Allow(ctx, automation)
	if err != nil {
		res.Err = err
		return res.finish(OutcomeFailed, false, err.Error())
	}
	if !decision.Allowed {
		s.metrics.IncSkip(decision.Reason)
		return res.finish(OutcomeRateLimited, false, msgRateLimited)
	}

	claim, err := s.recorder.Claim(ctx, automation.ID, evt, trigger.ID)
	if errors.Is(err, ErrAlreadyProcessed) {
		return res.finish(OutcomeAlreadyProcessed, false, msgAlreadyProcessed)
	}
	if err != nil {
		res.Err = err
		return res.finish(OutcomeFailed, false, err.Error())
	}

	record := s.act(ctx, automation, trigger, evt, token)
	res.Actions = record.Actions
	res.ResponseText = record.ResponseText
	res.Processed = true
	res.Outcome = Outcome(record.Status)
	res.Message = record.Message

	if err := s.recorder.Complete(ctx, claim, record); err != nil {
		// 外部动作已经发生，日志行保持 PENDING，不会被重复处理
		s.logger.Errorf("automation: complete execution log %d failed: %v", claim.ID, err)
		res.Err = err
		res.Message = fmt.Sprintf("%s; record failed: %v", res.Message, err)
	}
	return res
}

// act 解析回复内容并执行双动作，返回要落库的记录
func (s *CommentAutomationService) act(ctx context.Context, automation *models.Automation, trigger *models.AutomationTrigger, evt CommentEvent, token string) ExecutionRecord {
	record := ExecutionRecord{ResponseID: trigger.ResponseID}

	fail := func(err error) ExecutionRecord {
		record.Status = models.ExecutionFailed
		record.Message = err.Error()
		record.ErrorClass = ClassifyError(err)
		return record
	}

	if token == "" {
		return fail(ErrMissingAccessToken)
	}
	text, err := s.responses.Resolve(ctx, trigger.Response, automation.User.Plan, evt)
	if err != nil {
		return fail(err)
	}
	record.ResponseText = text

	cfg := trigger.Config.Data()
	out := s.executor.Execute(ctx, ActionRequest{
		AccessToken:   token,
		Event:         evt,
		DMText:        text,
		ReplyTemplate: cfg.PublicReplyTemplate(),
		ReplyDelay:    time.Duration(cfg.DelaySeconds) * time.Second,
	})
	record.Status = out.Status
	record.Actions = out.Actions
	record.Message = out.Message
	record.DMSent = out.DMSent()
	record.ErrorClass = ClassifyError(out.FirstError())
	return record
}

func (s *CommentAutomationService) skip(ctx context.Context, res CommentResult, automation *models.Automation, evt CommentEvent) CommentResult {
	if _, err := s.recorder.RecordSkipped(ctx, automation.ID, evt, msgNoKeywordMatch); err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			return res.finish(OutcomeAlreadyProcessed, false, msgAlreadyProcessed)
		}
		res.Err = err
		return res.finish(OutcomeFailed, false, err.Error())
	}
	s.metrics.IncSkip("no_keyword_match")
	return res.finish(OutcomeSkipped, true, msgNoKeywordMatch)
}

func (r CommentResult) finish(outcome Outcome, processed bool, message string) CommentResult {
	r.Outcome = outcome
	r.Processed = processed
	r.Message = message
	return r
}
