package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 定义应用程序的配置结构
// 使用 mapstructure 标签来映射配置文件中的字段
type Config struct {
	LocalizationTimeoutSeconds int            `mapstructure:"localization_timeout_seconds"` // 心跳超时时间
	HandlerTimeoutMs           int            `mapstructure:"handler_timeout_ms"`           // 单次信号处理的最长耗时
	MaxTimers                  int            `mapstructure:"max_timers"`                   // 计时器注册表容量，0 表示不限
	HTTPAddr                   string         `mapstructure:"http_addr"`
	JournalPath                string         `mapstructure:"journal_path"` // 计时器日志，为空表示不持久化
	Database                   DatabaseConfig `mapstructure:"database"`
	Dispatch                   DispatchConfig `mapstructure:"dispatch"`
}

// DatabaseConfig 选择存储实现
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // "memory" 或 "sqlite"
	Path   string `mapstructure:"path"`
}

// DispatchConfig 配置任务分配前的附加规则
type DispatchConfig struct {
	Rule string `mapstructure:"rule"` // expr 表达式，为空表示不启用
}

// LocalizationTimeout 返回心跳超时的 time.Duration
func (c *Config) LocalizationTimeout() time.Duration {
	return time.Duration(c.LocalizationTimeoutSeconds) * time.Second
}

// HandlerTimeout 返回单次信号处理超时
func (c *Config) HandlerTimeout() time.Duration {
	return time.Duration(c.HandlerTimeoutMs) * time.Millisecond
}

// Validate 检查配置的取值范围
func (c *Config) Validate() error {
	if c.LocalizationTimeoutSeconds <= 0 {
		return fmt.Errorf("localization_timeout_seconds 必须为正数, 得到 %d", c.LocalizationTimeoutSeconds)
	}
	if c.HandlerTimeoutMs <= 0 {
		return fmt.Errorf("handler_timeout_ms 必须为正数, 得到 %d", c.HandlerTimeoutMs)
	}
	if c.MaxTimers < 0 {
		return fmt.Errorf("max_timers 不能为负数, 得到 %d", c.MaxTimers)
	}
	switch c.Database.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("未知的数据库驱动: %q", c.Database.Driver)
	}
	return nil
}

// LoadConfig 加载配置
// path 为空时在当前目录查找 config.yaml；环境变量 FLOTILLA_* 可覆盖任意字段
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // 配置文件名称 (不带扩展名)
		v.SetConfigType("yaml")   // 配置文件类型
		v.AddConfigPath(".")      // 查找配置文件的路径 (当前目录)
	}

	// 设置默认值
	v.SetDefault("localization_timeout_seconds", 300)
	v.SetDefault("handler_timeout_ms", 10000)
	v.SetDefault("max_timers", 0)
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("journal_path", "")
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.path", "flotilla.db")
	v.SetDefault("dispatch.rule", "")

	v.SetEnvPrefix("FLOTILLA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 读取配置文件，找不到时只使用默认值和环境变量
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	// 将配置解析到结构体中
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
