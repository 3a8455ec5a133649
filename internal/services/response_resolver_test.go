package services

import (
	"context"
	"errors"
	"testing"

	"commentflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersonalizeTemplate(t *testing.T) {
	evt := buyerComment("c1")
	got := PersonalizeTemplate("Hi {username}! You said \"{comment}\" at {time}. {unknown}", evt, fixedClock())
	assert.Equal(t, "Hi buyer1! You said \"How much does it cost?\" at 14:30. {unknown}", got)

	// 替换值里的占位符不会被二次展开
	evt.Text = "{username}"
	assert.Equal(t, "{username} by buyer1", PersonalizeTemplate("{comment} by {username}", evt, fixedClock()))
}

func TestResponseResolver_Resolve(t *testing.T) {
	evt := buyerComment("c1")

	tests := []struct {
		name      string
		response  *models.Response
		plan      models.Plan
		generator *fakeGenerator
		want      string
		wantErr   error
		wantCalls int
	}{
		{
			name:     "custom template",
			response: &models.Response{Type: models.ResponseCustom, Message: "Thanks {username}, check your DMs!", Active: true},
			plan:     models.PlanFree,
			want:     "Thanks buyer1, check your DMs!",
		},
		{
			name:      "ai on pro plan",
			response:  &models.Response{Type: models.ResponseAIGenerated, AIPrompt: "be brief", Active: true},
			plan:      models.PlanPro,
			generator: &fakeGenerator{text: "It is $20 {username}"},
			want:      "It is $20 {username}",
			wantCalls: 1,
		},
		{
			name:      "ai on enterprise plan",
			response:  &models.Response{Type: models.ResponseAIGenerated, Active: true},
			plan:      models.PlanEnterprise,
			generator: &fakeGenerator{text: "ok"},
			want:      "ok",
			wantCalls: 1,
		},
		{
			name:      "ai on free plan",
			response:  &models.Response{Type: models.ResponseAIGenerated, Active: true},
			plan:      models.PlanFree,
			generator: &fakeGenerator{text: "never"},
			wantErr:   ErrPlanNotEntitled,
		},
		{
			name:      "generator failure",
			response:  &models.Response{Type: models.ResponseAIGenerated, Active: true},
			plan:      models.PlanPro,
			generator: &fakeGenerator{err: errBoom},
			wantErr:   errBoom,
			wantCalls: 1,
		},
		{
			name:     "template type unsupported",
			response: &models.Response{Type: models.ResponseTemplate, Message: "x", Active: true},
			plan:     models.PlanPro,
			wantErr:  ErrInvalidResponseType,
		},
		{
			name:     "empty type",
			response: &models.Response{Active: true},
			wantErr:  ErrInvalidResponseType,
		},
		{
			name:    "missing response",
			wantErr: ErrResponseMissing,
		},
		{
			name:     "inactive response",
			response: &models.Response{Type: models.ResponseCustom, Message: "x"},
			wantErr:  ErrResponseMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gen ResponseGenerator
			if tt.generator != nil {
				gen = tt.generator
			}
			r := NewResponseResolver(gen, fixedClock)
			got, err := r.Resolve(context.Background(), tt.response, tt.plan, evt)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			if tt.generator != nil {
				assert.Len(t, tt.generator.calls, tt.wantCalls)
			}
		})
	}
}

func TestResponseResolver_PassesCommentToGenerator(t *testing.T) {
	gen := &fakeGenerator{text: "hello"}
	r := NewResponseResolver(gen, fixedClock)
	_, err := r.Resolve(context.Background(), &models.Response{Type: models.ResponseAIGenerated, AIPrompt: "mention the sale", Active: true}, models.PlanPro, buyerComment("c1"))
	require.NoError(t, err)
	require.Len(t, gen.calls, 1)
	assert.Equal(t, GenerationRequest{CommentText: "How much does it cost?", AuthorHandle: "buyer1", GuidancePrompt: "mention the sale"}, gen.calls[0])
}

func TestResponseResolver_NilGenerator(t *testing.T) {
	r := NewResponseResolver(nil, nil)
	_, err := r.Resolve(context.Background(), &models.Response{Type: models.ResponseAIGenerated, Active: true}, models.PlanPro, buyerComment("c1"))
	assert.ErrorIs(t, err, ErrGeneratorUnavailable)
}
