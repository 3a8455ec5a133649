package services

import (
	"context"
	"testing"
	"time"

	"commentflow/internal/models"
	"commentflow/pkg/instagram"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionExecutor_DualActionOutcomes(t *testing.T) {
	dmErr := &instagram.APIError{StatusCode: 400, Message: "outside of allowed window"}
	replyErr := &instagram.APIError{StatusCode: 403, Message: "permissions error"}

	tests := []struct {
		name        string
		dmErr       error
		replyErr    error
		template    string
		wantStatus  models.ExecutionStatus
		wantActions []string
		wantReplies int
		wantMsg     []string
	}{
		{
			name:        "dm only success",
			wantStatus:  models.ExecutionSuccess,
			wantActions: []string{ActionSentDM},
			wantMsg:     []string{"dm sent"},
		},
		{
			name:        "dm only failure",
			dmErr:       dmErr,
			wantStatus:  models.ExecutionFailed,
			wantActions: nil,
			wantMsg:     []string{"outside of allowed window"},
		},
		{
			name:        "both succeed",
			template:    "Thanks @{username}",
			wantStatus:  models.ExecutionSuccess,
			wantActions: []string{ActionSentDM, ActionRepliedComment},
			wantReplies: 1,
			wantMsg:     []string{"dm sent", "reply posted"},
		},
		{
			name:        "dm fails reply succeeds",
			dmErr:       dmErr,
			template:    "Thanks @{username}",
			wantStatus:  models.ExecutionFailed,
			wantActions: []string{ActionRepliedComment},
			wantReplies: 1,
			wantMsg:     []string{"dm failed", "reply posted"},
		},
		{
			name:        "dm succeeds reply fails",
			replyErr:    replyErr,
			template:    "Thanks @{username}",
			wantStatus:  models.ExecutionSuccess,
			wantActions: []string{ActionSentDM},
			wantReplies: 1,
			wantMsg:     []string{"dm sent", "reply failed", "permissions error"},
		},
		{
			name:        "both fail",
			dmErr:       dmErr,
			replyErr:    replyErr,
			template:    "Thanks",
			wantStatus:  models.ExecutionFailed,
			wantActions: nil,
			wantReplies: 1,
			wantMsg:     []string{"dm failed", "reply failed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			platform := &fakePlatform{dmErr: tt.dmErr, replyErr: tt.replyErr}
			exec := NewActionExecutor(platform, nil, quietLogger(), fixedClock)

			res := exec.Execute(context.Background(), ActionRequest{
				AccessToken:   "tok",
				Event:         buyerComment("c1"),
				DMText:        "hello",
				ReplyTemplate: tt.template,
			})

			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantActions, res.Actions)
			for _, m := range tt.wantMsg {
				assert.Contains(t, res.Message, m)
			}
			require.Len(t, platform.dms, 1, "dm is always attempted")
			assert.Equal(t, "u1", platform.dms[0].Recipient)
			assert.Len(t, platform.replies, tt.wantReplies)
		})
	}
}

func TestActionExecutor_ReplyIsPersonalized(t *testing.T) {
	platform := &fakePlatform{}
	exec := NewActionExecutor(platform, nil, quietLogger(), fixedClock)

	res := exec.Execute(context.Background(), ActionRequest{
		AccessToken:   "tok",
		Event:         buyerComment("c9"),
		DMText:        "dm",
		ReplyTemplate: "@{username} sent you a DM at {time}",
	})
	require.Len(t, platform.replies, 1)
	assert.Equal(t, "c9", platform.replies[0].Recipient)
	assert.Equal(t, "@buyer1 sent you a DM at 14:30", platform.replies[0].Text)
	assert.Equal(t, platform.replies[0].Text, res.ReplyText)
	assert.True(t, res.DMSent())
}

func TestActionExecutor_ReplyDelay(t *testing.T) {
	platform := &fakePlatform{}
	exec := NewActionExecutor(platform, nil, quietLogger(), fixedClock)
	var waited time.Duration
	exec.wait = func(ctx context.Context, d time.Duration) error {
		waited = d
		return nil
	}

	exec.Execute(context.Background(), ActionRequest{Event: buyerComment("c1"), DMText: "x", ReplyTemplate: "y", ReplyDelay: 3 * time.Second})
	assert.Equal(t, 3*time.Second, waited)
	assert.Len(t, platform.replies, 1)
}

func TestActionExecutor_ReplyDelayCancelled(t *testing.T) {
	platform := &fakePlatform{}
	exec := NewActionExecutor(platform, nil, quietLogger(), fixedClock)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := exec.Execute(ctx, ActionRequest{Event: buyerComment("c1"), DMText: "x", ReplyTemplate: "y", ReplyDelay: time.Hour})
	assert.ErrorIs(t, res.ReplyErr, context.Canceled)
	assert.Empty(t, platform.replies)
	assert.Equal(t, models.ExecutionSuccess, res.Status)
}
