package services

import (
	"context"
	"testing"

	"commentflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionRecorder_ClaimIsExclusive(t *testing.T) {
	db := newTestDB(t)
	f := seedAutomation(t, db)
	rec := NewExecutionRecorder(db, fixedClock)

	claim, err := rec.Claim(context.Background(), f.Automation.ID, buyerComment("c1"), f.Trigger.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionPending, claim.Status)
	assert.Equal(t, fixedClock(), claim.CreatedAt)

	_, err = rec.Claim(context.Background(), f.Automation.ID, buyerComment("c1"), f.Trigger.ID)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	_, err = rec.RecordSkipped(context.Background(), f.Automation.ID, buyerComment("c1"), "no keyword match")
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	// 其他自动化不受影响
	other := seedAutomation(t, db)
	_, err = rec.Claim(context.Background(), other.Automation.ID, buyerComment("c1"), other.Trigger.ID)
	assert.NoError(t, err)
}

func TestExecutionRecorder_CompleteUpdatesCounters(t *testing.T) {
	db := newTestDB(t)
	f := seedAutomation(t, db)
	rec := NewExecutionRecorder(db, fixedClock)
	ctx := context.Background()

	ok, err := rec.Claim(ctx, f.Automation.ID, buyerComment("c1"), f.Trigger.ID)
	require.NoError(t, err)
	require.NoError(t, rec.Complete(ctx, ok, ExecutionRecord{
		Status:       models.ExecutionSuccess,
		Actions:      []string{ActionSentDM, ActionRepliedComment},
		Message:      "dm sent; reply posted",
		ResponseText: "hi",
		ResponseID:   &f.Response.ID,
		DMSent:       true,
	}))

	bad, err := rec.Claim(ctx, f.Automation.ID, buyerComment("c2"), f.Trigger.ID)
	require.NoError(t, err)
	require.NoError(t, rec.Complete(ctx, bad, ExecutionRecord{Status: models.ExecutionFailed, Message: "dm failed", ErrorClass: ErrorClassPlatform, ResponseID: &f.Response.ID}))

	a := reloadAutomation(t, db, f.Automation.ID)
	assert.Equal(t, 2, a.TotalExecutions)
	assert.Equal(t, 1, a.SuccessfulExecutions)
	assert.Equal(t, 1, a.FailedExecutions)
	require.NotNil(t, a.LastExecutedAt)
	assert.True(t, a.LastExecutedAt.Equal(fixedClock()))

	var stored models.ExecutionLog
	require.NoError(t, db.First(&stored, ok.ID).Error)
	assert.Equal(t, models.ExecutionSuccess, stored.Status)
	assert.Equal(t, "sent_dm,replied_comment", stored.Action)
	assert.Equal(t, []string{"sent_dm", "replied_comment"}, stored.Metadata.Data().Actions)
	assert.Equal(t, "How much does it cost?", stored.Metadata.Data().CommentText)

	var resp models.Response
	require.NoError(t, db.First(&resp, f.Response.ID).Error)
	assert.Equal(t, 1, resp.UsageCount)
}

func TestExecutionRecorder_ListLogs(t *testing.T) {
	db := newTestDB(t)
	f := seedAutomation(t, db)
	rec := NewExecutionRecorder(db, fixedClock)
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c3"} {
		_, err := rec.RecordSkipped(ctx, f.Automation.ID, buyerComment(id), "no keyword match")
		require.NoError(t, err)
	}

	logs, total, err := rec.ListLogs(ctx, f.Automation.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, logs, 2)
	assert.Equal(t, "c3", logs[0].TargetID)

	logs, _, err = rec.ListLogs(ctx, f.Automation.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "c1", logs[0].TargetID)
}

func TestIdempotencyGuard(t *testing.T) {
	db := newTestDB(t)
	f := seedAutomation(t, db)
	guard := NewIdempotencyGuard(db)
	ctx := context.Background()

	done, err := guard.AlreadyProcessed(ctx, f.Automation.ID, "c1")
	require.NoError(t, err)
	assert.False(t, done)

	_, err = NewExecutionRecorder(db, fixedClock).RecordSkipped(ctx, f.Automation.ID, buyerComment("c1"), "x")
	require.NoError(t, err)

	done, err = guard.AlreadyProcessed(ctx, f.Automation.ID, "c1")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = guard.AlreadyProcessed(ctx, f.Automation.ID+1, "c1")
	require.NoError(t, err)
	assert.False(t, done)

	done, err = guard.AlreadyProcessed(ctx, f.Automation.ID, "c2")
	require.NoError(t, err)
	assert.False(t, done)
}
