package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入配置文件失败: %v", err)
	}
	return path
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := writeConfig(t, `
localization_timeout_seconds: 5
handler_timeout_ms: 250
max_timers: 16
http_addr: ":9090"
journal_path: "timers.journal"
database:
  driver: sqlite
  path: test.db
dispatch:
  rule: "robot.IsarConnected"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.LocalizationTimeout() != 5*time.Second {
		t.Errorf("预期超时 5s, 得到 %v", cfg.LocalizationTimeout())
	}
	if cfg.HandlerTimeout() != 250*time.Millisecond {
		t.Errorf("预期处理超时 250ms, 得到 %v", cfg.HandlerTimeout())
	}
	if cfg.MaxTimers != 16 || cfg.HTTPAddr != ":9090" || cfg.JournalPath != "timers.journal" {
		t.Errorf("意外的配置: %+v", cfg)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "test.db" {
		t.Errorf("意外的数据库配置: %+v", cfg.Database)
	}
	if cfg.Dispatch.Rule != "robot.IsarConnected" {
		t.Errorf("意外的分配规则: %q", cfg.Dispatch.Rule)
	}
}

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("没有配置文件时应使用默认值: %v", err)
	}
	if cfg.LocalizationTimeoutSeconds != 300 {
		t.Errorf("预期默认超时 300, 得到 %d", cfg.LocalizationTimeoutSeconds)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("预期默认驱动 memory, 得到 %q", cfg.Database.Driver)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("预期默认地址 :8080, 得到 %q", cfg.HTTPAddr)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := writeConfig(t, "localization_timeout_seconds: 5\n")
	t.Setenv("FLOTILLA_LOCALIZATION_TIMEOUT_SECONDS", "42")
	t.Setenv("FLOTILLA_DATABASE_DRIVER", "sqlite")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.LocalizationTimeoutSeconds != 42 {
		t.Errorf("预期环境变量覆盖为 42, 得到 %d", cfg.LocalizationTimeoutSeconds)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("预期环境变量覆盖驱动为 sqlite, 得到 %q", cfg.Database.Driver)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("显式指定的配置文件不存在时应返回错误")
	}

	path := writeConfig(t, "localization_timeout_seconds: 0\n")
	if _, err := LoadConfig(path); err == nil {
		t.Error("非正数的超时应被拒绝")
	}

	path = writeConfig(t, "database:\n  driver: postgres\n")
	if _, err := LoadConfig(path); err == nil {
		t.Error("未知的数据库驱动应被拒绝")
	}
}
