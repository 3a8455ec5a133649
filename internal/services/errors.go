package services

import (
	"errors"
	"strings"

	"commentflow/pkg/instagram"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// 配置类错误：永远 FAILED，不重试
var (
	ErrResponseMissing     = errors.New("trigger has no active response configured")
	ErrInvalidResponseType = errors.New("unsupported response type")
)

// 权益类错误
var ErrPlanNotEntitled = errors.New("plan does not include AI generated responses")

var (
	// ErrAlreadyProcessed 同一 (automation, comment) 已有执行记录
	ErrAlreadyProcessed     = errors.New("comment already processed by this automation")
	ErrAutomationNotFound   = errors.New("automation not found")
	ErrGeneratorUnavailable = errors.New("response generator unavailable")
	ErrMissingAccessToken   = errors.New("no access token for integration")
)

// ErrorClass 错误分类，用于日志与指标
type ErrorClass string

const (
	ErrorClassConfiguration ErrorClass = "configuration"
	ErrorClassEntitlement   ErrorClass = "entitlement"
	ErrorClassPlatform      ErrorClass = "platform"
	ErrorClassDuplicate     ErrorClass = "duplicate"
	ErrorClassInternal      ErrorClass = "internal"
)

// ClassifyError maps an error onto the engine's error taxonomy.
func ClassifyError(err error) ErrorClass {
	var apiErr *instagram.APIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrResponseMissing), errors.Is(err, ErrInvalidResponseType), errors.Is(err, ErrMissingAccessToken):
		return ErrorClassConfiguration
	case errors.Is(err, ErrPlanNotEntitled):
		return ErrorClassEntitlement
	case errors.Is(err, ErrAlreadyProcessed):
		return ErrorClassDuplicate
	case errors.As(err, &apiErr),
		errors.Is(err, instagram.ErrPermissionDenied),
		errors.Is(err, instagram.ErrMessagingWindowExpired),
		errors.Is(err, instagram.ErrRateLimited),
		errors.Is(err, instagram.ErrCircuitOpen),
		errors.Is(err, instagram.ErrUnavailable):
		return ErrorClassPlatform
	default:
		return ErrorClassInternal
	}
}

// IsDuplicateKeyError 判断插入是否违反唯一索引（postgres 23505 / sqlite UNIQUE）
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value")
}
