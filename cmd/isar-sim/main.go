package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"flotilla-coordinator/internal/config"
	"flotilla-coordinator/internal/util"
)

// defaultTimeout 是读取不到协调器配置时假定的心跳超时
const defaultTimeout = 300 * time.Second

// main 是 ISAR 心跳模拟器的入口
// 每台模拟机器人定期向协调器发送心跳，并随机模拟一段时间的失联
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "isar-sim")
	slog.SetDefault(logger)

	addr := os.Getenv("COORDINATOR_ADDR")
	if addr == "" {
		addr = "http://localhost:8080"
	}
	ids := strings.Split(os.Getenv("ISAR_IDS"), ",")
	if ids[0] == "" {
		ids = []string{"isar-1", "isar-2"}
	}

	// 与协调器共用配置，失联时长按其心跳超时缩放
	timeout := defaultTimeout
	if cfg, err := config.LoadConfig(os.Getenv("SIM_CONFIG")); err != nil {
		logger.Warn("读取协调器配置失败，使用默认超时", "error", err, "timeout", timeout.String())
	} else {
		timeout = cfg.LocalizationTimeout()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("=== ISAR 心跳模拟器启动 ===", "coordinator", addr, "robots", ids, "timeout", timeout.String())

	client := &http.Client{Timeout: 5 * time.Second}
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		// rand.Rand 不是并发安全的，每台机器人各用一个
		rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)))
		go func(isarID string) {
			defer wg.Done()
			runRobot(ctx, client, addr, isarID, timeout, rng, logger.With("isar_id", isarID))
		}(id)
	}
	wg.Wait()
	logger.Info("模拟器已退出")
}

// outageDuration 随机生成一次失联时长，范围是 [timeout/2, timeout*3/2)
// 大约一半的失联会超过心跳超时，从而触发协调器的恢复流程
func outageDuration(timeout time.Duration, rng *rand.Rand) time.Duration {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return timeout/2 + time.Duration(rng.Int63n(int64(timeout)))
}

// runRobot 为一台机器人循环发送心跳
func runRobot(ctx context.Context, client *http.Client, addr, isarID string, timeout time.Duration, rng *rand.Rand, logger *slog.Logger) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// 模拟链路中断
		if rng.Float32() < 0.02 {
			outage := outageDuration(timeout, rng)
			logger.Warn("模拟失联", "duration", outage.Seconds(), "exceeds_timeout", outage > timeout)
			select {
			case <-ctx.Done():
				return
			case <-time.After(outage):
			}
			continue
		}

		if err := sendHeartbeat(ctx, client, addr, isarID); err != nil {
			logger.Warn("发送心跳失败", "error", err)
		}
	}
}

func sendHeartbeat(ctx context.Context, client *http.Client, addr, isarID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+"/api/robots/"+isarID+"/heartbeat", nil)
	if err != nil {
		return err
	}
	// 将 Trace ID 放入 HTTP Header 中，实现跨服务追踪
	req.Header.Set("X-Trace-ID", util.NewTraceID())

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("协调器返回错误状态: %s", resp.Status)
	}
	return nil
}
