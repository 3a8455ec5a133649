package services

import (
	"context"
	"errors"
	"sync"

	"commentflow/internal/metrics"

	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull         = errors.New("comment queue is full")
	ErrDispatcherStopped = errors.New("comment dispatcher is not running")
)

// CommentEventHandler 处理一条 webhook 评论
type CommentEventHandler interface {
	HandleCommentEvent(ctx context.Context, accountID string, evt CommentEvent) ([]CommentResult, error)
}

// QueuedComment 队列元素
type QueuedComment struct {
	DeliveryID string
	AccountID  string
	Event      CommentEvent
}

// CommentDispatcher 单 worker 顺序消费 webhook 评论，保证 webhook 先应答再处理
type CommentDispatcher struct {
	handler CommentEventHandler
	queue   chan QueuedComment
	metrics *metrics.Metrics
	logger  *logrus.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewCommentDispatcher(handler CommentEventHandler, queueSize int, m *metrics.Metrics, logger *logrus.Logger) *CommentDispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &CommentDispatcher{
		handler: handler,
		queue:   make(chan QueuedComment, queueSize),
		metrics: m,
		logger:  logger,
	}
}

// Start 启动 worker；重复调用无副作用
func (d *CommentDispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	d.running = true
	go d.run(ctx, d.done)
}

// Stop 停止接收并处理完已入队的评论
func (d *CommentDispatcher) Stop() {
	d.mu.Lock()
	d.running = false
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Enqueue 非阻塞入队
func (d *CommentDispatcher) Enqueue(item QueuedComment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return ErrDispatcherStopped
	}
	select {
	case d.queue <- item:
		d.metrics.SetQueueDepth(len(d.queue))
		return nil
	default:
		d.metrics.IncQueueDropped()
		return ErrQueueFull
	}
}

// Pending 当前排队数量
func (d *CommentDispatcher) Pending() int { return len(d.queue) }

func (d *CommentDispatcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case item := <-d.queue:
			d.handle(item)
		case <-ctx.Done():
			// 先关闭入口再排空，之后的 Enqueue 返回 ErrDispatcherStopped
			d.mu.Lock()
			d.running = false
			d.mu.Unlock()
			d.drain()
			return
		}
	}
}

func (d *CommentDispatcher) drain() {
	for {
		select {
		case item := <-d.queue:
			d.handle(item)
		default:
			return
		}
	}
}

// handle 使用独立的 context：处理一旦开始就不中途取消
func (d *CommentDispatcher) handle(item QueuedComment) {
	d.metrics.SetQueueDepth(len(d.queue))
	entry := d.logger.WithFields(logrus.Fields{
		"delivery_id": item.DeliveryID,
		"account_id":  item.AccountID,
		"comment_id":  item.Event.ID,
		"post_id":     item.Event.PostID,
	})
	results, err := d.handler.HandleCommentEvent(context.Background(), item.AccountID, item.Event)
	if err != nil {
		entry.Errorf("automation: webhook comment failed: %v", err)
		return
	}
	entry.WithField("automations", len(results)).Debug("automation: webhook comment handled")
}
