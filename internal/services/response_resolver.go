package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"commentflow/internal/models"
)

// ResponseResolver 生成私信文本：自定义模板替换或委托 AI 生成
type ResponseResolver struct {
	generator ResponseGenerator
	now       func() time.Time
}

func NewResponseResolver(generator ResponseGenerator, now func() time.Time) *ResponseResolver {
	if now == nil {
		now = time.Now
	}
	return &ResponseResolver{generator: generator, now: now}
}

// Resolve returns the outbound message for a matched trigger's response.
func (r *ResponseResolver) Resolve(ctx context.Context, response *models.Response, plan models.Plan, evt CommentEvent) (string, error) {
	if response == nil || !response.Active {
		return "", ErrResponseMissing
	}

	switch response.Type {
	case models.ResponseCustom:
		return PersonalizeTemplate(response.Message, evt, r.now()), nil
	case models.ResponseAIGenerated:
		if !plan.AllowsAIResponses() {
			return "", fmt.Errorf("%w: plan %s", ErrPlanNotEntitled, plan)
		}
		if r.generator == nil {
			return "", ErrGeneratorUnavailable
		}
		text, err := r.generator.Generate(ctx, GenerationRequest{
			CommentText:    evt.Text,
			AuthorHandle:   evt.From.Username,
			GuidancePrompt: response.AIPrompt,
		})
		if err != nil {
			return "", fmt.Errorf("generate response: %w", err)
		}
		return text, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidResponseType, response.Type)
	}
}

// PersonalizeTemplate 替换 {username} {comment} {time}
func PersonalizeTemplate(tmpl string, evt CommentEvent, now time.Time) string {
	return strings.NewReplacer(
		"{username}", evt.From.Username,
		"{comment}", evt.Text,
		"{time}", now.Format("15:04"),
	).Replace(tmpl)
}
