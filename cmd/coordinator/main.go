package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"flotilla-coordinator/internal/config"
	"flotilla-coordinator/internal/repository"
	"flotilla-coordinator/internal/repository/memory"
	"flotilla-coordinator/internal/repository/sqlite"
)

var configPath string

// main 是应用程序的主入口
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:           "coordinator",
		Short:         "Robot localization and mission recovery coordinator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default ./config.yaml)")
	root.AddCommand(newServeCmd(logger), newSeedCmd(), newStatusCmd())

	if err := root.Execute(); err != nil {
		logger.Error("命令执行失败", "error", err)
		os.Exit(1)
	}
}

// backend 是打开的存储及其附带操作
type backend struct {
	store repository.Store
	seed  func(ctx context.Context, topo repository.Topology) error
	close func() error
}

// openBackend 按配置打开存储实现
func openBackend(cfg *config.Config) (*backend, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		store, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		return &backend{
			store: store,
			seed:  store.Seed,
			close: store.Close,
		}, nil
	case "memory":
		store := memory.NewStore()
		return &backend{
			store: store,
			seed: func(_ context.Context, topo repository.Topology) error {
				store.Seed(topo)
				return nil
			},
			close: func() error { return nil },
		}, nil
	default:
		return nil, fmt.Errorf("未知的数据库驱动: %q", cfg.Database.Driver)
	}
}
