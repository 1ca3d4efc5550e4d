// Package repository 定义协调核心所依赖的持久化接口
// 机器人、任务和位置拓扑的生命周期由存储层负责，核心只做读取和局部更新
package repository

import (
	"context"
	"errors"

	"flotilla-coordinator/internal/types"
)

var (
	// ErrNotFound 表示按标识查找的记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrRunFinished 表示存储中的任务已处于终态，Save 拒绝覆盖
	ErrRunFinished = errors.New("mission run already finished")
)

// RobotRepository 提供机器人的读取和字段级更新
type RobotRepository interface {
	FindByIsarID(ctx context.Context, isarID string) (*types.Robot, error)
	FindByID(ctx context.Context, id string) (*types.Robot, error)
	List(ctx context.Context) ([]*types.Robot, error)
	// SetCurrentArea 设置当前区域，areaID 为空表示清除
	SetCurrentArea(ctx context.Context, id, areaID string) error
	SetConnected(ctx context.Context, id string, connected bool) error
	// SetCurrentMission 设置当前任务，missionID 为空表示清除
	SetCurrentMission(ctx context.Context, id, missionID string) error
}

// MissionRunRepository 提供任务执行实例的读取和保存
type MissionRunRepository interface {
	FindByID(ctx context.Context, id string) (*types.MissionRun, error)
	// Save 插入或更新任务，存储中已是终态的任务返回 ErrRunFinished
	Save(ctx context.Context, run *types.MissionRun) error
}

type AreaRepository interface {
	FindByID(ctx context.Context, id string) (*types.Area, error)
}

type DeckRepository interface {
	FindByID(ctx context.Context, id string) (*types.Deck, error)
}

type InstallationRepository interface {
	FindByID(ctx context.Context, id string) (*types.Installation, error)
	FindByCode(ctx context.Context, code string) (*types.Installation, error)
}

// Store 聚合了所有仓库，由具体的存储实现提供
type Store interface {
	Robots() RobotRepository
	MissionRuns() MissionRunRepository
	Areas() AreaRepository
	Decks() DeckRepository
	Installations() InstallationRepository
}
