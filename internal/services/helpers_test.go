package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"commentflow/internal/models"
	"commentflow/pkg/instagram"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := "file:commentflow_" + name + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// fixedClock 2025-03-10 14:30 本地时间
func fixedClock() time.Time {
	return time.Date(2025, 3, 10, 14, 30, 0, 0, time.Local)
}

func intPtr(v int) *int { return &v }

type fixture struct {
	User        models.User
	Integration models.Integration
	Post        models.Post
	Keyword     models.Keyword
	Response    models.Response
	Automation  models.Automation
	Trigger     models.AutomationTrigger
}

type fixtureOption func(*fixture)

var fixtureSeq int64

func withPlan(p models.Plan) fixtureOption { return func(f *fixture) { f.User.Plan = p } }

func withResponse(typ models.ResponseType, message, prompt string) fixtureOption {
	return func(f *fixture) {
		f.Response.Type = typ
		f.Response.Message = message
		f.Response.AIPrompt = prompt
	}
}

func withDailyLimit(n int) fixtureOption {
	return func(f *fixture) { f.Automation.DailyLimit = intPtr(n) }
}

func withHourlyLimit(n int) fixtureOption {
	return func(f *fixture) { f.Automation.HourlyLimit = intPtr(n) }
}

func withReplyTemplate(tmpl string) fixtureOption {
	return func(f *fixture) {
		f.Trigger.Config = datatypes.NewJSONType(models.TriggerConfig{ReplyTemplate: tmpl})
	}
}

func withKeyword(pattern string, mode models.MatchType) fixtureOption {
	return func(f *fixture) {
		f.Keyword.Pattern = pattern
		f.Keyword.MatchType = mode
	}
}

func withActionType(a models.ActionType) fixtureOption {
	return func(f *fixture) { f.Automation.ActionType = a }
}

// seedAutomation 创建一个监控帖子 "media-1" 的完整自动化
func seedAutomation(t *testing.T, db *gorm.DB, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		User:        models.User{Username: fmt.Sprintf("owner-%d", atomic.AddInt64(&fixtureSeq, 1)), Plan: models.PlanFree},
		Integration: models.Integration{AccountID: "ig-account-1", Username: "shop", AccessToken: "tok-1", Active: true},
		Post:        models.Post{PlatformPostID: "media-1", Caption: "new drop"},
		Keyword:     models.Keyword{Pattern: "cost", MatchType: models.MatchContains, Active: true},
		Response:    models.Response{Name: "thanks", Type: models.ResponseCustom, Message: "Thanks {username}, check your DMs!", Active: true},
		Automation:  models.Automation{Name: "pricing", Status: models.AutomationActive, ActionType: models.ActionCommentToDM},
		Trigger:     models.AutomationTrigger{Active: true},
	}
	for _, opt := range opts {
		opt(f)
	}

	mustCreate(t, db, &f.User)
	f.Integration.UserID = f.User.ID
	mustCreate(t, db, &f.Integration)
	f.Post.IntegrationID = f.Integration.ID
	mustCreate(t, db, &f.Post)
	f.Keyword.UserID = f.User.ID
	mustCreate(t, db, &f.Keyword)
	f.Response.UserID = f.User.ID
	mustCreate(t, db, &f.Response)
	f.Automation.UserID = f.User.ID
	f.Automation.IntegrationID = f.Integration.ID
	mustCreate(t, db, &f.Automation)
	f.Trigger.AutomationID = f.Automation.ID
	f.Trigger.KeywordID = &f.Keyword.ID
	f.Trigger.ResponseID = &f.Response.ID
	f.Trigger.PostID = &f.Post.ID
	mustCreate(t, db, &f.Trigger)
	return f
}

func mustCreate(t *testing.T, db *gorm.DB, v interface{}) {
	t.Helper()
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("create %T: %v", v, err)
	}
}

func reloadAutomation(t *testing.T, db *gorm.DB, id uint) models.Automation {
	t.Helper()
	var a models.Automation
	if err := db.First(&a, id).Error; err != nil {
		t.Fatalf("reload automation: %v", err)
	}
	return a
}

func countLogs(t *testing.T, db *gorm.DB, automationID uint) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.ExecutionLog{}).Where("automation_id = ?", automationID).Count(&n).Error; err != nil {
		t.Fatalf("count logs: %v", err)
	}
	return n
}

func buyerComment(id string) CommentEvent {
	return CommentEvent{
		ID:        id,
		Text:      "How much does it cost?",
		Timestamp: "2025-03-10T14:29:00+0000",
		From:      CommentAuthor{ID: "u1", Username: "buyer1"},
		PostID:    "media-1",
	}
}

type sentMessage struct {
	Token     string
	Recipient string
	Text      string
}

// fakePlatform 记录所有外部调用
type fakePlatform struct {
	mu       sync.Mutex
	dmErr    error
	replyErr error
	comments map[string][]instagram.Comment
	fetchErr error

	dms     []sentMessage
	replies []sentMessage
	fetches []string
}

func (f *fakePlatform) FetchComments(ctx context.Context, accessToken, mediaID string) ([]instagram.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, mediaID)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.comments[mediaID], nil
}

func (f *fakePlatform) SendDirectMessage(ctx context.Context, accessToken, recipientID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dms = append(f.dms, sentMessage{Token: accessToken, Recipient: recipientID, Text: text})
	return f.dmErr
}

func (f *fakePlatform) ReplyToComment(ctx context.Context, accessToken, commentID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, sentMessage{Token: accessToken, Recipient: commentID, Text: text})
	return f.replyErr
}

func (f *fakePlatform) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dms) + len(f.replies)
}

type fakeGenerator struct {
	text  string
	err   error
	calls []GenerationRequest
}

func (g *fakeGenerator) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	g.calls = append(g.calls, req)
	return g.text, g.err
}

var errBoom = errors.New("boom")
