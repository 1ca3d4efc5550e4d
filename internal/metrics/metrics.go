package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 定义 Prometheus 监控指标
var (
	// TimersArmed 仪表盘：当前存活的定位超时计时器数量
	TimersArmed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "localization_timers_armed",
		Help: "The number of localization timeout timers currently armed",
	})

	// SignalsReceivedTotal 计数器：按事件类型统计收到的信号
	SignalsReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "localization_signals_received_total",
		Help: "The total number of localization signals published on the event bus",
	}, []string{"kind"})

	// TimeoutsTotal 计数器：计时器到期次数，按处理结果分类
	TimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "localization_timeouts_total",
		Help: "The total number of localization timer expiries",
	}, []string{"outcome"})

	// MissionRunsFailedTotal 计数器：因失联而失败的任务数量
	MissionRunsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mission_runs_failed_total",
		Help: "The total number of mission runs failed by the recovery coordinator",
	})

	// HandlerDuration 直方图：信号处理耗时分布
	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recovery_handler_duration_seconds",
		Help:    "Time spent handling a localization signal",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})
)
