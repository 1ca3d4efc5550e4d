package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"flotilla-coordinator/internal/config"
	"flotilla-coordinator/internal/dispatch"
	"flotilla-coordinator/internal/event"
	"flotilla-coordinator/internal/fsm"
	"flotilla-coordinator/internal/handlers"
	"flotilla-coordinator/internal/localization"
	"flotilla-coordinator/internal/persistence"
	"flotilla-coordinator/internal/recovery"
	"flotilla-coordinator/internal/repository"
	"flotilla-coordinator/internal/types"
	"flotilla-coordinator/internal/web"
)

func newServeCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the coordinator and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(logger)
		},
	}
}

func serve(logger *slog.Logger) error {
	// 1. 加载配置并打开存储
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	be, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer be.close()

	if cfg.Database.Driver == "memory" {
		// 内存模式没有持久数据，载入一个演示安装点
		topo := repository.DemoTopology("DEMO")
		if err := be.seed(context.Background(), topo); err != nil {
			return err
		}
		logger.Info("已载入演示拓扑", "installation_code", topo.Installation.InstallationCode)
	}

	var journal recovery.Journal
	if cfg.JournalPath != "" {
		j, err := persistence.OpenJournal(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer j.Close()
		journal = j
	}

	// 2. 初始化核心组件
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := event.NewBus(logger)
	lifecycle := fsm.NewLifecycle()
	lifecycle.OnEnter(types.MissionStatusFailed, func(run *types.MissionRun) {
		logger.Info("任务进入失败状态", "mission_run_id", run.ID, "reason", run.StatusReason)
	})
	loc := localization.NewService(be.store, logger)

	coordinator := recovery.New(bus, be.store, loc, lifecycle, recovery.Options{
		Timeout:        cfg.LocalizationTimeout(),
		HandlerTimeout: cfg.HandlerTimeout(),
		MaxTimers:      cfg.MaxTimers,
		Journal:        journal,
	}, logger)

	gate, err := dispatch.NewGate(be.store.Robots(), loc, cfg.Dispatch.Rule, logger)
	if err != nil {
		return err
	}

	hub := web.NewHub(logger)
	tracker := web.NewStateTracker(be.store.Robots(), hub)
	hub.SetInitialState(func() interface{} { return tracker.GetStateSnapshot() })
	go hub.Run(ctx)

	// 3. 注册事件观察者
	handlers.RegisterEventHandlers(bus, tracker, logger)

	// 4. 恢复和启动
	if err := coordinator.Recover(ctx); err != nil {
		logger.Warn("从计时器日志恢复失败", "error", err)
	}
	if err := tracker.Sync(ctx); err != nil {
		logger.Warn("初始化机器人状态失败", "error", err)
	}

	server := web.NewServer(bus, loc, gate, hub, tracker, logger)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: server.Handler()}
	go func() {
		logger.Info("API 服务器启动", "addr", cfg.HTTPAddr, "localization_timeout", cfg.LocalizationTimeout())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API 服务器启动失败", "error", err)
			cancel()
		}
	}()

	// 5. 优雅停机
	waitForShutdown(ctx, logger)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("关闭 API 服务器失败", "error", err)
	}
	cancel()
	coordinator.Close()
	bus.Wait()
	logger.Info("协调器已安全退出")
	return nil
}

// waitForShutdown 等待系统信号或上下文取消
func waitForShutdown(ctx context.Context, logger *slog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	select {
	case <-sigChan:
		logger.Info("接收到停机信号，正在优雅关闭...")
	case <-ctx.Done():
	}
}
