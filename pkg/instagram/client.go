package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

const commentFields = "id,text,timestamp,username,from{id,username}"

// Client Instagram Graph API 客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *Breaker
	logger     *logrus.Logger
	config     *Config
}

// NewClient 创建客户端
func NewClient(config *Config, logger *logrus.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	base := strings.TrimRight(config.BaseURL, "/")
	if config.APIVersion != "" {
		base = base + "/" + strings.Trim(config.APIVersion, "/")
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: limiter,
		breaker: NewBreaker(config.Breaker),
		logger:  logger,
		config:  config,
	}
}

// Breaker exposes the client's circuit breaker for health reporting.
func (c *Client) Breaker() *Breaker { return c.breaker }

// FetchComments 拉取帖子下的全部评论（按分页跟随 next）
func (c *Client) FetchComments(ctx context.Context, accessToken, mediaID string) ([]Comment, error) {
	if mediaID == "" {
		return nil, fmt.Errorf("media id is required")
	}
	q := url.Values{}
	q.Set("fields", commentFields)
	next := fmt.Sprintf("%s/%s/comments?%s", c.baseURL, url.PathEscape(mediaID), q.Encode())

	maxPages := c.config.MaxCommentPages
	if maxPages <= 0 {
		maxPages = 10
	}

	var comments []Comment
	for page := 0; next != "" && page < maxPages; page++ {
		var resp commentPage
		if err := c.call(ctx, "fetch_comments", accessToken, http.MethodGet, next, nil, &resp); err != nil {
			return nil, err
		}
		comments = append(comments, resp.Data...)
		next = stripAccessToken(resp.Paging.Next)
	}
	return comments, nil
}

// SendDirectMessage 给评论作者发送私信
func (c *Client) SendDirectMessage(ctx context.Context, accessToken, recipientID, text string) error {
	if recipientID == "" {
		return fmt.Errorf("recipient id is required")
	}
	body := sendMessageRequest{
		Recipient: messageRecipient{ID: recipientID},
		Message:   messageBody{Text: text},
	}
	endpoint := fmt.Sprintf("%s/me/messages", c.baseURL)
	return c.call(ctx, "send_dm", accessToken, http.MethodPost, endpoint, body, nil)
}

// ReplyToComment 公开回复评论
func (c *Client) ReplyToComment(ctx context.Context, accessToken, commentID, text string) error {
	if commentID == "" {
		return fmt.Errorf("comment id is required")
	}
	endpoint := fmt.Sprintf("%s/%s/replies", c.baseURL, url.PathEscape(commentID))
	return c.call(ctx, "reply_comment", accessToken, http.MethodPost, endpoint, replyRequest{Message: text}, nil)
}

// call 执行一次请求：限速、熔断、追踪，不做重试
func (c *Client) call(ctx context.Context, op, accessToken, method, endpoint string, body interface{}, result interface{}) error {
	tracer := otel.Tracer("commentflow/instagram")
	ctx, span := tracer.Start(ctx, "instagram."+op)
	span.SetAttributes(attribute.String("http.method", method))
	defer span.End()

	if !c.breaker.Allow() {
		span.SetStatus(codes.Error, ErrCircuitOpen.Error())
		return ErrCircuitOpen
	}
	// 请求未真正发出时归还半开名额
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.breaker.Release()
			return fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	req, err := c.createRequest(ctx, method, endpoint, accessToken, body)
	if err != nil {
		c.breaker.Release()
		return err
	}

	err = c.doRequest(req, result)
	c.observe(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) observe(err error) {
	if err == nil {
		c.breaker.OnSuccess()
		return
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && !apiErr.Retryable() {
		// 业务错误说明平台可用
		c.breaker.OnSuccess()
		return
	}
	c.breaker.OnFailure()
}

// stripAccessToken 去掉分页链接中平台回填的 access_token，令牌只走 Authorization 头
func stripAccessToken(next string) string {
	if next == "" {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil {
		return next
	}
	q := u.Query()
	if q.Has("access_token") {
		q.Del("access_token")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) createRequest(ctx context.Context, method, endpoint, accessToken string, body interface{}) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	req.Header.Set("User-Agent", "Commentflow-Graph-Client/1.0")
	return req, nil
}

func (c *Client) doRequest(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	c.logger.Debugf("Graph API %s %s -> %d", req.Method, req.URL.Path, resp.StatusCode)

	if resp.StatusCode >= 400 {
		return parseAPIError(resp.StatusCode, body)
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func parseAPIError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}
	var env graphErrorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		apiErr.Code = env.Error.Code
		apiErr.Subcode = env.Error.ErrorSubcode
		apiErr.Type = env.Error.Type
		apiErr.Message = env.Error.Message
		apiErr.TraceID = env.Error.FBTraceID
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	apiErr.kind = classify(status, apiErr.Code, apiErr.Subcode)
	return apiErr
}
