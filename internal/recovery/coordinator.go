// Package recovery 订阅定位信号，维护每台机器人的心跳超时计时器，
// 并在超时时回收机器人上正在执行的任务
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"flotilla-coordinator/internal/event"
	"flotilla-coordinator/internal/fsm"
	"flotilla-coordinator/internal/localization"
	"flotilla-coordinator/internal/metrics"
	"flotilla-coordinator/internal/repository"
	"flotilla-coordinator/internal/timer"
	"flotilla-coordinator/internal/types"
	"flotilla-coordinator/internal/util"
)

// LostConnectionReason 是因心跳超时而失败的任务的原因
const LostConnectionReason = "Lost connection to ISAR during mission"

// Journal 记录计时器的武装和退役，用于重启恢复
type Journal interface {
	Arm(robotID string) error
	Retire(robotID string) error
	Recover() ([]string, error)
	Compact(live []string) error
}

// Options 是协调器的可调参数
type Options struct {
	Timeout        time.Duration // 心跳超时
	HandlerTimeout time.Duration // 单次处理的最长耗时
	MaxTimers      int           // 计时器容量，0 表示不限
	Journal        Journal       // 可为 nil
}

// Coordinator 是恢复协调器
type Coordinator struct {
	bus          *event.Bus
	robots       repository.RobotRepository
	runs         repository.MissionRunRepository
	localization *localization.Service
	lifecycle    *fsm.Lifecycle
	timers       *timer.Registry
	journal      Journal
	opts         Options
	logger       *slog.Logger

	subs     []*event.Subscription
	mu       sync.Mutex // 保护 closed 的切换与 inflight.Add
	closed   atomic.Bool
	inflight sync.WaitGroup // 正在执行的超时处理
}

// New 创建协调器并订阅两类定位信号
func New(
	bus *event.Bus,
	store repository.Store,
	loc *localization.Service,
	lifecycle *fsm.Lifecycle,
	opts Options,
	logger *slog.Logger,
) *Coordinator {
	c := &Coordinator{
		bus:          bus,
		robots:       store.Robots(),
		runs:         store.MissionRuns(),
		localization: loc,
		lifecycle:    lifecycle,
		journal:      opts.Journal,
		opts:         opts,
		logger:       logger.With("component", "recovery"),
	}
	c.timers = timer.NewRegistry(opts.MaxTimers, c.onExpire)
	c.subs = []*event.Subscription{
		bus.Subscribe(event.LocalizationTimerStartOrReset, c.onTimerStartOrReset),
		bus.Subscribe(event.LocalizationTimeout, c.onLocalizationTimeout),
	}
	return c
}

// Timers 暴露计时器注册表 (只读用途：状态查询和测试)
func (c *Coordinator) Timers() *timer.Registry {
	return c.timers
}

// handlerContext 为一次处理创建带超时和 trace 的上下文与日志
func (c *Coordinator) handlerContext(ctx context.Context, robotID string) (context.Context, context.CancelFunc, *slog.Logger) {
	traceID, ok := util.TraceIDFromContext(ctx)
	if !ok {
		traceID = util.NewTraceID()
		ctx = util.ContextWithTraceID(ctx, traceID)
	}
	logger := c.logger.With("robot_id", robotID, "trace_id", traceID)
	ctx, cancel := context.WithTimeout(ctx, c.opts.HandlerTimeout)
	return ctx, cancel, logger
}

// onTimerStartOrReset 处理心跳：为机器人武装或重置超时计时器
func (c *Coordinator) onTimerStartOrReset(ctx context.Context, e event.Event) error {
	if c.closed.Load() {
		return nil
	}
	start := time.Now()
	defer func() { metrics.HandlerDuration.WithLabelValues("timer_start_or_reset").Observe(time.Since(start).Seconds()) }()

	ctx, cancel, logger := c.handlerContext(ctx, e.RobotID)
	defer cancel()

	robot, err := c.robots.FindByIsarID(ctx, e.RobotID)
	if errors.Is(err, repository.ErrNotFound) {
		// 机器人可能尚未注册，不是错误状态
		logger.Info("启动或重置计时器时未找到机器人")
		return nil
	}
	if err != nil {
		return fmt.Errorf("查询机器人失败: %w", err)
	}

	created, err := c.timers.ArmOrReset(robot.IsarID, c.opts.Timeout)
	if err != nil {
		logger.Warn("无法武装定位计时器", "error", err, "robot_name", robot.Name)
		return nil
	}
	metrics.TimersArmed.Set(float64(c.timers.Len()))
	logger.Debug("已重置定位计时器", "robot_name", robot.Name, "timeout", c.opts.Timeout, "created", created)

	// 日志只记录计时器的新建，重置不改变存活集合
	if created && c.journal != nil {
		if err := c.journal.Arm(robot.IsarID); err != nil {
			logger.Warn("写入计时器日志失败", "error", err)
		}
	}

	if !robot.IsarConnected {
		// 失联后重新收到心跳
		if err := c.robots.SetConnected(ctx, robot.ID, true); err != nil && !errors.Is(err, repository.ErrNotFound) {
			logger.Warn("无法将机器人标记为已连接", "error", err)
		} else if err == nil {
			logger.Info("机器人重新连接", "robot_name", robot.Name)
			c.bus.Publish(event.Event{Kind: event.RobotReconnected, RobotID: robot.ID, TraceID: e.TraceID})
		}
	}
	return nil
}

// onLocalizationTimeout 处理显式的去定位请求
func (c *Coordinator) onLocalizationTimeout(ctx context.Context, e event.Event) error {
	if c.closed.Load() {
		return nil
	}
	ctx, cancel, logger := c.handlerContext(ctx, e.RobotID)
	defer cancel()

	if err := c.localization.Delocalize(ctx, e.RobotID); err != nil {
		if errors.Is(err, localization.ErrRobotNotFound) {
			logger.Error("去定位时未找到机器人")
			return nil
		}
		return fmt.Errorf("去定位失败: %w", err)
	}
	c.bus.Publish(event.Event{Kind: event.RobotDelocalized, RobotID: e.RobotID, TraceID: e.TraceID})
	return nil
}

// onExpire 是计时器到期回调，运行在计时器自己的 goroutine 中
func (c *Coordinator) onExpire(exp timer.Expiry) {
	if !c.begin() {
		metrics.TimeoutsTotal.WithLabelValues("cancelled").Inc()
		return
	}
	defer c.inflight.Done()

	start := time.Now()
	defer func() { metrics.HandlerDuration.WithLabelValues("timeout").Observe(time.Since(start).Seconds()) }()

	ctx, cancel, logger := c.handlerContext(context.Background(), exp.Key)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("超时处理崩溃", "panic", fmt.Sprint(r))
		}
	}()

	c.handleExpiry(ctx, exp, logger)
}

// begin 登记一次超时处理，协调器已关闭时返回 false
func (c *Coordinator) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return false
	}
	c.inflight.Add(1)
	return true
}

// handleExpiry 回收失联机器人的任务并标记断开
// 每一步都是独立且幂等的，部分完成是可以容忍的中间状态
func (c *Coordinator) handleExpiry(ctx context.Context, exp timer.Expiry, logger *slog.Logger) {
	defer c.retire(exp, logger)

	robot, err := c.robots.FindByIsarID(ctx, exp.Key)
	if err != nil {
		metrics.TimeoutsTotal.WithLabelValues("robot_missing").Inc()
		logger.Error("ISAR 连接超时，但数据库中找不到对应的机器人", "error", err)
		return
	}

	logger.Warn("ISAR 连接超时，机器人将被标记为断开，正在执行的任务将失败", "robot_name", robot.Name)
	metrics.TimeoutsTotal.WithLabelValues("disconnected").Inc()

	if robot.CurrentMissionID != "" {
		c.failMissionRun(ctx, robot, logger)
	}

	if err := c.robots.SetConnected(ctx, robot.ID, false); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Error("无法将机器人标记为断开", "error", err)
		}
		// 机器人在处理期间被删除，视为已清理
		return
	}
	if err := c.robots.SetCurrentMission(ctx, robot.ID, ""); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Error("无法清除机器人的当前任务", "error", err)
		}
		return
	}

	c.bus.Publish(event.Event{Kind: event.RobotDisconnected, RobotID: robot.ID})
}

// failMissionRun 将机器人当前的任务标记为失败，已是终态的任务不会被覆盖
func (c *Coordinator) failMissionRun(ctx context.Context, robot *types.Robot, logger *slog.Logger) {
	logger = logger.With("mission_run_id", robot.CurrentMissionID)

	run, err := c.runs.FindByID(ctx, robot.CurrentMissionID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn("机器人引用的任务不存在")
		return
	}
	if err != nil {
		logger.Error("查询任务失败", "error", err)
		return
	}

	if err := c.lifecycle.SetToFailed(run, LostConnectionReason); err != nil {
		if errors.Is(err, fsm.ErrTerminal) {
			logger.Info("任务已处于终态，不再标记失败", "status", run.Status)
		} else {
			logger.Error("无法将任务标记为失败", "error", err, "status", run.Status)
		}
		return
	}

	// Save 不会覆盖已处于终态的任务，读取之后被调度层结束的任务保持原状
	if err := c.runs.Save(ctx, run); err != nil {
		if errors.Is(err, repository.ErrRunFinished) {
			logger.Info("任务在处理期间已结束，不再标记失败")
			return
		}
		logger.Error("保存失败的任务时出错", "error", err)
		return
	}
	logger.Error("任务因 ISAR 超时而失败", "mission_name", run.Name)
	metrics.MissionRunsFailedTotal.Inc()
	c.bus.Publish(event.Event{Kind: event.MissionRunFailed, RobotID: robot.ID})
}

// retire 移除已触发的计时器，处理期间重新武装的计时器保留
func (c *Coordinator) retire(exp timer.Expiry, logger *slog.Logger) {
	c.timers.Retire(exp)
	metrics.TimersArmed.Set(float64(c.timers.Len()))
	if c.timers.Armed(exp.Key) {
		return
	}
	if c.journal != nil {
		if err := c.journal.Retire(exp.Key); err != nil {
			logger.Warn("写入计时器日志失败", "error", err)
		}
	}
	logger.Info("已移除 ISAR 计时器")
}

// Cancel 取消机器人的计时器 (例如机器人被注销)
func (c *Coordinator) Cancel(isarID string) bool {
	ok := c.timers.Cancel(isarID)
	metrics.TimersArmed.Set(float64(c.timers.Len()))
	if ok && c.journal != nil {
		if err := c.journal.Retire(isarID); err != nil {
			c.logger.Warn("写入计时器日志失败", "error", err, "robot_id", isarID)
		}
	}
	return ok
}

// Recover 重新武装重启前仍然存活的计时器
func (c *Coordinator) Recover(ctx context.Context) error {
	if c.journal == nil {
		return nil
	}
	ids, err := c.journal.Recover()
	if err != nil {
		return fmt.Errorf("读取计时器日志失败: %w", err)
	}

	for _, isarID := range ids {
		robot, err := c.robots.FindByIsarID(ctx, isarID)
		if err != nil {
			c.logger.Warn("恢复计时器时未找到机器人", "robot_id", isarID, "error", err)
			continue
		}
		if _, err := c.timers.ArmOrReset(robot.IsarID, c.opts.Timeout); err != nil {
			c.logger.Warn("恢复计时器失败", "robot_id", isarID, "error", err)
			continue
		}
		c.logger.Info("重新武装计时器", "robot_id", isarID)
	}
	metrics.TimersArmed.Set(float64(c.timers.Len()))
	return c.journal.Compact(c.timers.Keys())
}

// Close 取消订阅并停止所有计时器
// 已经开始的超时处理会执行完毕，之后不会再有新的处理
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed.Swap(true) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	for _, sub := range c.subs {
		c.bus.Unsubscribe(sub)
	}
	c.timers.Close()
	metrics.TimersArmed.Set(0)
	c.inflight.Wait()
}
