package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	xerrors "AgentVault-Core/internal/errors"
	"AgentVault-Core/internal/observability/alerting"
	"AgentVault-Core/pkg/logger"
)

// Relay 在引擎与真实审计通道之间做异步缓冲：决策路径只负责入队，
// 后台协程带重试地转发到下游。通道持续失败时丢弃并告警，
// 绝不反向阻塞资金决策。
type Relay struct {
	sink    Sink
	buffer  chan Event
	retries int
	backoff time.Duration
	logger  *slog.Logger
	alerter alerting.Dispatcher
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// RelayOption 定义可选配置。
type RelayOption func(*Relay)

// WithRelayLogger 指定日志输出。
func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithRelayBuffer 设置缓冲区大小。
func WithRelayBuffer(size int) RelayOption {
	return func(r *Relay) {
		if size > 0 {
			r.buffer = make(chan Event, size)
		}
	}
}

// WithRelayRetries 设置单条事件的最大重试次数。
func WithRelayRetries(retries int, backoff time.Duration) RelayOption {
	return func(r *Relay) {
		if retries > 0 {
			r.retries = retries
		}
		if backoff > 0 {
			r.backoff = backoff
		}
	}
}

// WithRelayAlerter 配置告警派发器。
func WithRelayAlerter(dispatcher alerting.Dispatcher) RelayOption {
	return func(r *Relay) {
		r.alerter = dispatcher
	}
}

// NewRelay 构造 Relay 并启动后台转发协程。
func NewRelay(sink Sink, opts ...RelayOption) *Relay {
	r := &Relay{
		sink:    sink,
		buffer:  make(chan Event, 1024),
		retries: 3,
		backoff: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Emit 实现 Sink 接口。缓冲区满时丢弃事件并告警。
// 关闭判定与入队在同一把锁内完成，保证不会写入已关闭的通道。
func (r *Relay) Emit(_ context.Context, event Event) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return xerrors.New(xerrors.CodeQueueFailure, "审计中继已关闭")
	}
	select {
	case r.buffer <- event:
		r.mu.Unlock()
		return nil
	default:
		r.mu.Unlock()
		r.log().Error("审计缓冲区已满，事件被丢弃",
			slog.String("event_id", event.ID),
			slog.String("event_type", string(event.Type)))
		r.alert(event, "audit buffer overflow")
		return xerrors.New(xerrors.CodeQueueFailure, "审计缓冲区已满")
	}
}

// Close 停止接收新事件，排空缓冲后关闭下游通道。
func (r *Relay) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.buffer)
	}
	r.mu.Unlock()
	r.wg.Wait()
	if r.sink != nil {
		return r.sink.Close()
	}
	return nil
}

func (r *Relay) run() {
	defer r.wg.Done()
	for event := range r.buffer {
		r.forward(event)
	}
}

func (r *Relay) forward(event Event) {
	if r.sink == nil {
		return
	}
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		lastErr = r.sink.Emit(ctx, event)
		cancel()
		if lastErr == nil {
			return
		}
		time.Sleep(r.backoff * time.Duration(attempt+1))
	}
	r.log().Error("审计事件转发失败",
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
		slog.Any("error", lastErr))
	r.alert(event, lastErr.Error())
}

func (r *Relay) alert(event Event, reason string) {
	if r.alerter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = r.alerter.Notify(ctx, alerting.Event{
		Code:       xerrors.CodeQueueFailure,
		Message:    reason,
		Severity:   xerrors.SeverityCritical,
		SubjectID:  event.SubjectID,
		Operation:  string(event.Type),
		OccurredAt: time.Now(),
	})
}

func (r *Relay) log() *slog.Logger {
	if r.logger != nil {
		return r.logger
	}
	return logger.Named("audit")
}
