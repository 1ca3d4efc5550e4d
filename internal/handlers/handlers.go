package handlers

import (
	"context"
	"log/slog"

	"flotilla-coordinator/internal/event"
	"flotilla-coordinator/internal/metrics"
	"flotilla-coordinator/internal/web"
)

// RegisterEventHandlers 将观察者注册到事件总线
// 监控、UI 和审计日志互相解耦，恢复协调器本身不依赖它们
func RegisterEventHandlers(bus *event.Bus, st *web.StateTracker, logger *slog.Logger) []*event.Subscription {
	var subs []*event.Subscription
	on := func(kind event.Kind, h event.Handler) {
		subs = append(subs, bus.Subscribe(kind, h))
	}

	// --- 指标处理器 (Metrics Handler) ---
	for _, kind := range []event.Kind{event.LocalizationTimerStartOrReset, event.LocalizationTimeout} {
		on(kind, func(_ context.Context, e event.Event) error {
			metrics.SignalsReceivedTotal.WithLabelValues(string(e.Kind)).Inc()
			return nil
		})
	}

	// --- Web UI 处理器 (Web UI Handler) ---
	// 心跳信号携带的是 ISAR ID
	on(event.LocalizationTimerStartOrReset, func(ctx context.Context, e event.Event) error {
		return st.RefreshByIsarID(ctx, e.RobotID)
	})
	for _, kind := range []event.Kind{event.RobotDisconnected, event.RobotReconnected, event.RobotDelocalized, event.MissionRunFailed} {
		on(kind, func(ctx context.Context, e event.Event) error {
			return st.Refresh(ctx, e.RobotID)
		})
	}

	// --- 日志处理器 (Logging Handler) ---
	audit := logger.With("component", "audit")
	on(event.RobotDisconnected, func(_ context.Context, e event.Event) error {
		audit.Warn("机器人已断开", "robot_id", e.RobotID)
		return nil
	})
	on(event.MissionRunFailed, func(_ context.Context, e event.Event) error {
		audit.Error("机器人失联导致任务失败", "robot_id", e.RobotID)
		return nil
	})
	on(event.RobotDelocalized, func(_ context.Context, e event.Event) error {
		audit.Info("机器人已去定位", "robot_id", e.RobotID)
		return nil
	})
	return subs
}
