package services

import (
	"context"
	"fmt"
	"testing"

	"commentflow/internal/models"
	"commentflow/pkg/instagram"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, db *gorm.DB, platform PlatformClient, gen ResponseGenerator) *CommentAutomationService {
	t.Helper()
	svc := NewCommentAutomationService(db, platform, gen, quietLogger())
	svc.SetClock(fixedClock)
	return svc
}

func onlyLog(t *testing.T, db *gorm.DB, automationID uint) models.ExecutionLog {
	t.Helper()
	var logs []models.ExecutionLog
	require.NoError(t, db.Where("automation_id = ?", automationID).Find(&logs).Error)
	require.Len(t, logs, 1)
	return logs[0]
}

func TestProcessComment_CustomResponseEndToEnd(t *testing.T) {
	db := newTestDB(t)
	f := seedAutomation(t, db)
	platform := &fakePlatform{}
	svc := newTestService(t, db, platform, nil)

	res, err := svc.ProcessComment(context.Background(), f.Automation.ID, buyerComment("c1"), "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.True(t, res.Processed)
	assert.Equal(t, []string{ActionSentDM}, res.Actions)
	assert.Equal(t, f.Trigger.ID, res.TriggerID)

	require.Len(t, platform.dms, 1)
	assert.Equal(t, sentMessage{Token: "tok-1", Recipient: "u1", Text: "Thanks buyer1, check your DMs!"}, platform.dms[0])
	assert.Empty(t, platform.replies)

	log := onlyLog(t, db, f.Automation.ID)
	assert.Equal(t, models.ExecutionSuccess, log.Status)
	assert.Equal(t, "c1", log.TargetID)
	assert.Equal(t, "buyer1", log.TargetUsername)
	assert.Equal(t, "sent_dm", log.Action)
	assert.Equal(t, "Thanks buyer1, check your DMs!", log.ResponseText)
	meta := log.Metadata.Data()
	assert.Equal(t, "How much does it cost?", meta.CommentText)
	assert.Equal(t, "u1", meta.AuthorID)
	assert.Equal(t, "2025-03-10T14:29:00+0000", meta.Timestamp)
	assert.Equal(t, f.Trigger.ID, meta.TriggerID)

	a := reloadAutomation(t, db, f.Automation.ID)
	assert.Equal(t, 1, a.TotalExecutions)
	assert.Equal(t, 1, a.SuccessfulExecutions)
	assert.Equal(t, 0, a.FailedExecutions)
	require.NotNil(t, a.LastExecutedAt)

	var resp models.Response
	require.NoError(t, db.First(&resp, f.Response.ID).Error)
	assert.Equal(t, 1, resp.UsageCount)
}

func TestProcessComment_Idempotent(t *testing.T) {
	db := newTestDB(t)
	f := seedAutomation(t, db)
	platform := &fakePlatform{}
	svc := newTestService(t, db, platform, nil)

	first, err := svc.ProcessComment(context.Background(), f.Automation.ID, buyerComment("c1"), "tok")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, first.Outcome)

	second, err := svc.ProcessComment(context.Background(), f.Automation.ID, buyerComment("c1"), "tok")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, second.Outcome)
	assert.False(t, second.Processed)
	assert.Equal(t, "already processed", second.Message)

	assert.Equal(t, int64(1), countLogs(t, db, f.Automation.ID))
	assert.Equal(t, 1, platform.calls())
	assert.Equal(t, 1, reloadAutomation(t, db, f.Automation.ID).TotalExecutions)
}

func TestProcessComment_DailyLimitZero(t *testing.T) {
	db := newTestDB(t)
	f := seedAutomation(t, db, withDailyLimit(0))
	platform := &fakePlatform{}
	svc := newTestService(t, db, platform, nil)

	res, err := svc.ProcessComment(context.Background(), f.Automation.ID, buyerComment("c1"), "tok")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRateLimited, res.Outcome)
	assert.Equal(t, "rate limit reached", res.Message)
	assert.False(t, res.Processed)

	assert.Equal(t, int64(0), countLogs(t, db, f.Automation.ID))
	assert.Equal(t, 0, platform.calls())
	a := reloadAutomation(t, db, f.Automation.ID)
	assert.Equal(t, 0, a.TotalExecutions)
	assert.Nil(t, a.LastExecutedAt)
}

func TestProcessPost_DailyLimitBoundary(t *testing.T) {
	db := newTestDB(t)
	f := seedAutomation(t, db, withDailyLimit(2))
	platform := &fakePlatform{comments: map[string][]instagram.Comment{}}
	for i := 1; i <= 3; i++ {
		platform.comments["media-1"] = append(platform.comments["media-1"], instagram.Comment{
			ID:   fmt.Sprintf("c%d", i),
			Text: "what does it cost",
			From: instagram.CommentAuthor{ID: fmt.Sprintf("u%d", i), Username: fmt.Sprintf("buyer%d", i)},
		})
	}
	svc := newTestService(t, db, platform, nil)

	res, err := svc.ProcessPost(context.Background(), f.Automation.ID, "media-1", "")
	require.NoError(t, err)
	assert.True(t, res.Processed)
	assert.Equal(t, 3, res.Comments)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 1, res.RateLimited)
	assert.Equal(t, 0, res.Failed)

	require.Len(t, platform.dms, 2)
	assert.Equal(t, "u1", platform.dms[0].Recipient)
	assert.Equal(t, "u2", platform.dms[1].Recipient)
	assert.Equal(t, int64(2), countLogs(t, db, f.Automation.ID))
	assert.Equal(t, 2, reloadAutomation(t, db, f.Automation.ID).SuccessfulExecutions)
}

func TestProcessComment_HourlyLimit(t *testing.T) {
	db := newTestDB(t)
	f := seedAutomation(t, db, withHourlyLimit(1))
	platform := &fakePlatform{}
	svc := newTestService(t, db, platform, nil)

	res, err := svc.ProcessComment(context.Background(), f.Automation.ID, buyerComment("c1"), "tok")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)

	res, err = svc.ProcessComment(context.Background(), f.Automation.ID, buyerComment("c2"), "tok")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRateLimited, res.Outcome)
	assert.Equal(t, 1, platform.calls())
}

func TestProcessComment_AIOnFreePlan(t *testing.T) {
	db := newTestDB(t)
	f := seedAutomation(t, db, withResponse(models.ResponseAIGenerated, "", "be nice"))
	platform := &fakePlatform{}
	gen := &fakeGenerator{text: "generated"}
	svc := newTestService(t, db, platform, gen)

	res, err := svc.ProcessComment(context.Background(), f.Automation.ID, buyerComment("c1"), "tok")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, res.Processed)
	assert.Contains(t, res.Message, ErrPlanNotEntitled.Error())
	assert.Empty(t, gen.calls)
	assert.Equal(t, 0, platform.calls())

	log := onlyLog(t, db, f.Automation.ID)
	assert.Equal(t, models.ExecutionFailed, log.Status)
	assert.Equal(t, string(ErrorClassEntitlement), log.Metadata.Data().ErrorClass)
	assert.Equal(t, 1, reloadAutomation(t, db, f.Automation.ID).FailedExecutions)
}

func TestProcessComment_AIOnProPlan(t *testing.T) {
	db := newTestDB(t)
	f := seedAutomation(t, db, withPlan(models.PlanPro), withResponse(models.ResponseAIGenerated, "", "be nice"))
	platform := &fakePlatform{}
	gen := &fakeGenerator{text: "It is $25, {username}"}
	svc := newTestService(t, db, platform, gen)

	res, err := svc.ProcessComment(context.Background(), f.Automation.ID, buyerComment("c1"), "tok")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	require.Len(t, gen.calls, 1)
	assert.Equal(t, "be nice", gen.calls[0].GuidancePrompt)
	require.Len(t, platform.dms, 1)
	assert.Equal(t, "It is $25, {username}", platform.dms[0].Text, "generated text is sent unmodified")
}

func TestProcessComment_DualActionIndependence(t *testing.T) {
	tests := []struct {
		name        string
		dmErr       error
		replyErr    error
		want        Outcome
		wantAction  string
		wantSuccess int
		wantFailed  int
		wantUsage   int
		wantMessage string
	}{
		{"dm fails reply succeeds", errBoom, nil, OutcomeFailed, "replied_comment", 0, 1, 0, "reply posted"},
		{"dm succeeds reply fails", nil, errBoom, OutcomeSuccess, "sent_dm", 1, 0, 1, "reply failed: boom"},
		{"both succeed", nil, nil, OutcomeSuccess, "sent_dm,replied_comment", 1, 0, 1, "reply posted"},
		{"both fail", errBoom, errBoom, OutcomeFailed, "", 0, 1, 0, "dm failed: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			f := seedAutomation(t, db, withReplyTemplate("@{username} check your inbox"))
			platform := &fakePlatform{dmErr: tt.dmErr, replyErr: tt.replyErr}
			svc := newTestService(t, db, platform, nil)

			res, err := svc.ProcessComment(context.Background(), f.Automation.ID, buyerComment("c1"), "tok")
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Outcome)
			assert.Contains(t, res.Message, tt.wantMessage)

			require.Len(t, platform.dms, 1)
			require.Len(t, platform.replies, 1)
			assert.Equal(t, "@buyer1 check your inbox", platform.replies[0].Text)

			log := onlyLog(t, db, f.Automation.ID)
			assert.Equal(t, models.ExecutionStatus(tt.want), log.Status)
			assert.Equal(t, tt.wantAction, log.Action)
			assert.Contains(t, log.Message, tt.wantMessage)

			a := reloadAutomation(t, db, f.Automation.ID)
			assert.Equal(t, 1, a.TotalExecutions)
			assert.Equal(t, tt.wantSuccess, a.SuccessfulExecutions)
			assert.Equal(t, tt.wantFailed, a.FailedExecutions)

			var resp models.Response
			require.NoError(t, db.First(&resp, f.Response.ID).Error)
			assert.Equal(t, tt.wantUsage, resp.UsageCount)
		})
	}
}

func TestProcessComment_PlatformErrorPreserved(t *testing.T) {
	db := newTestDB(t)
	f := seedAutomation(t, db)
	platform := &fakePlatform{dmErr: fmt.Errorf("(#10) outside of allowed window: %w", instagram.ErrMessagingWindowExpired)}
	svc := newTestService(t, db, platform, nil)

	res, err := svc.ProcessComment(context.Background(), f.Automation.ID, buyerComment("c1"), "tok")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	log := onlyLog(t, db, f.Automation.ID)
	assert.Contains(t, log.Message, "outside of allowed window")
	assert.Equal(t, string(ErrorClassPlatform), log.Metadata.Data().ErrorClass)
	assert.Equal(t, 1, platform.calls(), "platform errors are never retried")
}

func TestProcessComment_NoKeywordMatchIsSkipped(t *testing.T) {
	db := newTestDB(t)
	f := seedAutomation(t, db)
	platform := &fakePlatform{}
	svc := newTestService(t, db, platform, nil)

	evt := buyerComment("c1")
	evt.Text = "love this colour"
	res, err := svc.ProcessComment(context.Background(), f.Automation.ID, evt, "tok")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.True(t, res.Processed)

	log := onlyLog(t, db, f.Automation.ID)
	assert.Equal(t, models.ExecutionSkipped, log.Status)
	assert.Equal(t, "no keyword match", log.Message)
	assert.Equal(t, 0, reloadAutomation(t, db, f.Automation.ID).TotalExecutions)
	assert.Equal(t, 0, platform.calls())

	again, err := svc.ProcessComment(context.Background(), f.Automation.ID, evt, "tok")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, again.Outcome)
}

func TestProcessComment_TriggerOrdering(t *testing.T) {
	db := newTestDB(t)
	f := seedAutomation(t, db, withKeyword("price", models.MatchContains))

	costKw := models.Keyword{UserID: f.User.ID, Pattern: "cost", MatchType: models.MatchContains, Active: true}
	mustCreate(t, db, &costKw)
	costResp := models.Response{UserID: f.User.ID, Type: models.ResponseCustom, Message: "cost answer", Active: true}
	mustCreate(t, db, &costResp)
	t2 := models.AutomationTrigger{AutomationID: f.Automation.ID, KeywordID: &costKw.ID, ResponseID: &costResp.ID, PostID: &f.Post.ID, Position: 1, Active: true}
	mustCreate(t, db, &t2)

	platform := &fakePlatform{}
	svc := newTestService(t, db, platform, nil)

	evt := buyerComment("c1")
	evt.Text = "what is the cost"
	res, err := svc.ProcessComment(context.Background(), f.Automation.ID, evt, "tok")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, t2.ID, res.TriggerID)
	require.Len(t, platform.dms, 1)
	assert.Equal(t, "cost answer", platform.dms[0].Text)
}

func TestProcessComment_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, db *gorm.DB, f *fixture)
		want  error
	}{
		{
			name: "trigger without response",
			setup: func(t *testing.T, db *gorm.DB, f *fixture) {
				require.NoError(t, db.Model(&models.AutomationTrigger{}).Where("id = ?", f.Trigger.ID).Update("response_id", nil).Error)
			},
			want: ErrResponseMissing,
		},
		{
			name: "template response type",
			setup: func(t *testing.T, db *gorm.DB, f *fixture) {
				require.NoError(t, db.Model(&models.Response{}).Where("id = ?", f.Response.ID).Update("type", models.ResponseTemplate).Error)
			},
			want: ErrInvalidResponseType,
		},
		{
			name: "missing access token",
			setup: func(t *testing.T, db *gorm.DB, f *fixture) {
				require.NoError(t, db.Model(&models.Integration{}).Where("id = ?", f.Integration.ID).Update("access_token", "").Error)
			},
			want: ErrMissingAccessToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			f := seedAutomation(t, db)
			tt.setup(t, db, f)
			platform := &fakePlatform{}
			svc := newTestService(t, db, platform, nil)

			res, err := svc.ProcessComment(context.Background(), f.Automation.ID, buyerComment("c1"), "")
			require.NoError(t, err)
			assert.Equal(t, OutcomeFailed, res.Outcome)
			assert.Contains(t, res.Message, tt.want.Error())
			assert.Equal(t, 0, platform.calls())

			log := onlyLog(t, db, f.Automation.ID)
			assert.Equal(t, models.ExecutionFailed, log.Status)
			assert.Equal(t, string(ErrorClassConfiguration), log.Metadata.Data().ErrorClass)
			assert.Equal(t, 1, reloadAutomation(t, db, f.Automation.ID).FailedExecutions)
		})
	}
}

func TestProcessComment_NotEligible(t *testing.T) {
	db := newTestDB(t)
	f := seedAutomation(t, db)
	require.NoError(t, db.Model(&models.Automation{}).Where("id = ?", f.Automation.ID).Update("status", models.AutomationPaused).Error)
	platform := &fakePlatform{}
	svc := newTestService(t, db, platform, nil)

	res, err := svc.ProcessComment(context.Background(), f.Automation.ID, buyerComment("c1"), "tok")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotEligible, res.Outcome)
	assert.Equal(t, int64(0), countLogs(t, db, f.Automation.ID))

	evt := buyerComment("c2")
	evt.PostID = "other-media"
	require.NoError(t, db.Model(&models.Automation{}).Where("id = ?", f.Automation.ID).Update("status", models.AutomationActive).Error)
	res, err = svc.ProcessComment(context.Background(), f.Automation.ID, evt, "tok")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotEligible, res.Outcome, "triggers only apply to their own post")
	assert.Equal(t, 0, platform.calls())
}

func TestProcessComment_UnknownAutomation(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, &fakePlatform{}, nil)
	_, err := svc.ProcessComment(context.Background(), 999, buyerComment("c1"), "tok")
	assert.ErrorIs(t, err, ErrAutomationNotFound)
}

func TestProcessComment_IgnoresOwnComments(t *testing.T) {
	db := newTestDB(t)
	f := seedAutomation(t, db)
	platform := &fakePlatform{}
	svc := newTestService(t, db, platform, nil)

	evt := buyerComment("c1")
	evt.From.ID = f.Integration.AccountID
	res, err := svc.ProcessComment(context.Background(), f.Automation.ID, evt, "tok")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnoredSelf, res.Outcome)
	assert.Equal(t, int64(0), countLogs(t, db, f.Automation.ID))
	assert.Equal(t, 0, platform.calls())
}

func TestProcessComment_ClaimedCommentIsNotReprocessed(t *testing.T) {
	db := newTestDB(t)
	f := seedAutomation(t, db)
	platform := &fakePlatform{}
	svc := newTestService(t, db, platform, nil)

	// 另一个入口已经占位但尚未完成
	_, err := svc.Recorder().Claim(context.Background(), f.Automation.ID, buyerComment("c1"), f.Trigger.ID)
	require.NoError(t, err)

	res, err := svc.ProcessComment(context.Background(), f.Automation.ID, buyerComment("c1"), "tok")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, res.Outcome)
	assert.Equal(t, 0, platform.calls())
}

func TestHandleCommentEvent_SiblingFailureDoesNotBlock(t *testing.T) {
	db := newTestDB(t)
	broken := seedAutomation(t, db)
	require.NoError(t, db.Model(&models.Response{}).Where("id = ?", broken.Response.ID).Update("active", false).Error)
	healthy := seedAutomation(t, db)
	paused := seedAutomation(t, db)
	require.NoError(t, db.Model(&models.Automation{}).Where("id = ?", paused.Automation.ID).Update("status", models.AutomationPaused).Error)

	platform := &fakePlatform{}
	svc := newTestService(t, db, platform, nil)

	results, err := svc.HandleCommentEvent(context.Background(), "ig-account-1", buyerComment("c1"))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, broken.Automation.ID, results[0].AutomationID)
	assert.Equal(t, OutcomeFailed, results[0].Outcome)
	assert.Equal(t, healthy.Automation.ID, results[1].AutomationID)
	assert.Equal(t, OutcomeSuccess, results[1].Outcome)

	require.Len(t, platform.dms, 1)
	assert.Equal(t, "tok-1", platform.dms[0].Token)
	assert.Equal(t, int64(0), countLogs(t, db, paused.Automation.ID))
}

func TestHandleCommentEvent_UnknownAccountOrPost(t *testing.T) {
	db := newTestDB(t)
	seedAutomation(t, db)
	platform := &fakePlatform{}
	svc := newTestService(t, db, platform, nil)

	results, err := svc.HandleCommentEvent(context.Background(), "someone-else", buyerComment("c1"))
	require.NoError(t, err)
	assert.Empty(t, results)

	evt := buyerComment("c1")
	evt.PostID = ""
	results, err = svc.HandleCommentEvent(context.Background(), "ig-account-1", evt)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, platform.calls())
}

func TestProcessPost_FetchFailure(t *testing.T) {
	db := newTestDB(t)
	f := seedAutomation(t, db)
	platform := &fakePlatform{fetchErr: instagram.ErrUnavailable}
	svc := newTestService(t, db, platform, nil)

	res, err := svc.ProcessPost(context.Background(), f.Automation.ID, "media-1", "")
	assert.ErrorIs(t, err, instagram.ErrUnavailable)
	assert.False(t, res.Processed)
}

func TestRunActiveAutomations(t *testing.T) {
	db := newTestDB(t)
	first := seedAutomation(t, db)
	second := seedAutomation(t, db, withKeyword("love", models.MatchContains))
	paused := seedAutomation(t, db)
	require.NoError(t, db.Model(&models.Automation{}).Where("id = ?", paused.Automation.ID).Update("status", models.AutomationPaused).Error)

	platform := &fakePlatform{comments: map[string][]instagram.Comment{
		"media-1": {
			{ID: "c1", Text: "what does it cost", From: instagram.CommentAuthor{ID: "u1", Username: "a"}},
			{ID: "c2", Text: "love it", From: instagram.CommentAuthor{ID: "u2", Username: "b"}},
		},
	}}
	svc := newTestService(t, db, platform, nil)

	batch, err := svc.RunActiveAutomations(context.Background())
	require.NoError(t, err)
	assert.True(t, batch.Processed)
	assert.Equal(t, 2, batch.Targets)
	assert.Equal(t, 4, batch.TotalProcessed)
	assert.Equal(t, 2, batch.TotalSuccessful)
	assert.Equal(t, 0, batch.TotalFailed)
	assert.Empty(t, batch.Errors)

	assert.Equal(t, 1, reloadAutomation(t, db, first.Automation.ID).SuccessfulExecutions)
	assert.Equal(t, 1, reloadAutomation(t, db, second.Automation.ID).SuccessfulExecutions)
	assert.Equal(t, int64(0), countLogs(t, db, paused.Automation.ID))

	// 再跑一次：全部已处理，无外部调用
	before := platform.calls()
	batch, err = svc.RunActiveAutomations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, batch.TotalSuccessful)
	assert.Equal(t, before, platform.calls())
}
