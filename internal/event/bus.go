package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"flotilla-coordinator/internal/util"
)

// Kind 定义事件的类型
type Kind string

// 入站信号：由心跳接入层发布
const (
	LocalizationTimeout           Kind = "LocalizationTimeout"           // 显式的去定位请求
	LocalizationTimerStartOrReset Kind = "LocalizationTimerStartOrReset" // 心跳，启动或重置超时计时器
)

// 出站通知：由恢复协调器在处理完成后发布，供监控、UI 和审计订阅
const (
	RobotDisconnected Kind = "RobotDisconnected"
	RobotReconnected  Kind = "RobotReconnected"
	RobotDelocalized  Kind = "RobotDelocalized"
	MissionRunFailed  Kind = "MissionRunFailed"
)

// Event 是不可变的信号记录
// 只携带机器人标识，消费者需要重新读取当前状态
type Event struct {
	Kind    Kind   // 事件类型
	RobotID string // 机器人标识 (心跳信号中为 ISAR ID)
	TraceID string // 用于日志关联，可为空
}

// Handler 是事件处理函数的签名
// 返回的错误只会被记录，不会传回发布者
type Handler func(ctx context.Context, e Event) error

// Subscription 是一次订阅的凭证，也是处理器的身份
type Subscription struct {
	kind    Kind
	handler Handler
}

// Kind 返回订阅的事件类型
func (s *Subscription) Kind() Kind { return s.kind }

// Bus 是一个进程内的发布/订阅事件总线
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]*Subscription // 按注册顺序存储每种事件的订阅
	wg       sync.WaitGroup           // 追踪正在执行的处理器
	logger   *slog.Logger
}

// NewBus 创建一个新的事件总线实例
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[Kind][]*Subscription),
		logger:   logger.With("component", "event_bus"),
	}
}

// Subscribe 订阅一个特定类型的事件
// 每次调用都产生独立的订阅，同一个处理器订阅两次会被调用两次，需要分别取消
func (b *Bus) Subscribe(kind Kind, handler Handler) *Subscription {
	sub := &Subscription{kind: kind, handler: handler}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], sub)
	return sub
}

// Unsubscribe 取消订阅，重复调用是无操作
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[sub.kind]
	for i, s := range subs {
		if s == sub {
			// 复制一份新切片，避免影响正在遍历旧切片的 Publish
			next := make([]*Subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			b.handlers[sub.kind] = next
			return
		}
	}
}

// Subscribers 返回某类事件当前的订阅数量
func (b *Bus) Subscribers(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}

// Publish 发布一个事件
// 返回前每个订阅者都已在各自的 goroutine 中启动，处理器之间并发执行，不保证完成或开始执行的先后
// 同一订阅者收到的多个事件之间同样没有顺序保证，需要顺序的处理器应自行串行化
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := b.handlers[e.Kind]
	b.mu.RUnlock()

	for _, sub := range subs {
		b.wg.Add(1)
		go b.deliver(sub, e)
	}
}

// deliver 执行单个处理器，隔离 panic 和错误
func (b *Bus) deliver(sub *Subscription, e Event) {
	defer b.wg.Done()
	logger := b.logger.With("kind", e.Kind, "robot_id", e.RobotID)
	if e.TraceID != "" {
		logger = logger.With("trace_id", e.TraceID)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("事件处理器崩溃", "panic", fmt.Sprint(r))
		}
	}()

	ctx := util.ContextWithTraceID(context.Background(), e.TraceID)
	if err := sub.handler(ctx, e); err != nil {
		logger.Warn("事件处理器返回错误", "error", err)
	}
}

// Wait 等待所有已调度的处理器执行完毕
// 用于优雅停机
func (b *Bus) Wait() {
	b.wg.Wait()
}
