package instagram

import (
	"sync"
	"time"
)

// BreakerState 熔断器状态
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // 正常放行
	BreakerOpen                         // 熔断，直接失败
	BreakerHalfOpen                     // 试探
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	MaxFailures     int           `yaml:"max_failures"`
	ResetTimeout    time.Duration `yaml:"reset_timeout"`
	HalfOpenMaxReqs int           `yaml:"half_open_max_requests"`
}

// DefaultBreakerConfig 默认熔断器配置
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		Enabled:         true,
		MaxFailures:     5,
		ResetTimeout:    60 * time.Second,
		HalfOpenMaxReqs: 1,
	}
}

// Breaker guards the Graph API against hammering during a platform outage.
// Only outage-class failures (transport errors, 5xx, throttling) trip it; per-user
// errors such as permission denied do not.
type Breaker struct {
	cfg          BreakerConfig
	mu           sync.Mutex
	state        BreakerState
	failures     int
	lastFailure  time.Time
	halfOpenReqs int
	now          func() time.Time
}

// NewBreaker 创建熔断器，cfg 为 nil 时使用默认值
func NewBreaker(cfg *BreakerConfig) *Breaker {
	if cfg == nil {
		cfg = DefaultBreakerConfig()
	}
	c := *cfg
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.HalfOpenMaxReqs <= 0 {
		c.HalfOpenMaxReqs = 1
	}
	return &Breaker{cfg: c, state: BreakerClosed, now: time.Now}
}

// Allow 判断请求是否可以发出
func (b *Breaker) Allow() bool {
	if !b.cfg.Enabled {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) > b.cfg.ResetTimeout {
			b.state = BreakerHalfOpen
			b.halfOpenReqs = 1
			return true
		}
		return false
	case BreakerHalfOpen:
		if b.halfOpenReqs < b.cfg.HalfOpenMaxReqs {
			b.halfOpenReqs++
			return true
		}
		return false
	}
	return false
}

// Release returns an admission that never reached the platform, e.g. when the
// caller's context ended while waiting for the outbound limiter. It records
// neither success nor failure.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen && b.halfOpenReqs > 0 {
		b.halfOpenReqs--
	}
}

// OnSuccess 记录成功
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.halfOpenReqs = 0
}

// OnFailure 记录一次故障
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	if b.state == BreakerHalfOpen || b.failures >= b.cfg.MaxFailures {
		b.state = BreakerOpen
		b.halfOpenReqs = 0
	}
}

// State 当前状态
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 手动复位
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.halfOpenReqs = 0
}

// Stats 熔断器统计，用于健康检查输出
func (b *Breaker) Stats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]interface{}{
		"enabled":        b.cfg.Enabled,
		"state":          b.state.String(),
		"failure_count":  b.failures,
		"last_fail_time": b.lastFailure,
		"max_failures":   b.cfg.MaxFailures,
		"reset_timeout":  b.cfg.ResetTimeout.String(),
	}
}
