package web

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"flotilla-coordinator/internal/localization"
	"flotilla-coordinator/internal/repository"
	"flotilla-coordinator/internal/types"
)

// RobotState 定义了用于 UI 展示的机器人状态
// 这是一个简化的视图，只包含前端需要的数据
type RobotState struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	IsarID           string             `json:"isar_id"`
	State            localization.State `json:"state"`
	CurrentAreaID    string             `json:"current_area_id,omitempty"`
	CurrentMissionID string             `json:"current_mission_id,omitempty"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// FleetState 代表整个机器人车队的实时状态快照
type FleetState struct {
	Robots map[string]RobotState `json:"robots"`
}

// Broadcaster 向客户端推送状态
type Broadcaster interface {
	BroadcastState(state interface{})
}

// StateTracker 负责追踪所有机器人的连接状态，并通知前端更新
type StateTracker struct {
	mu     sync.RWMutex
	state  FleetState
	robots repository.RobotRepository
	out    Broadcaster
}

// NewStateTracker 创建一个新的 StateTracker 实例
func NewStateTracker(robots repository.RobotRepository, out Broadcaster) *StateTracker {
	return &StateTracker{
		state:  FleetState{Robots: make(map[string]RobotState)},
		robots: robots,
		out:    out,
	}
}

func toRobotState(r *types.Robot) RobotState {
	return RobotState{
		ID:               r.ID,
		Name:             r.Name,
		IsarID:           r.IsarID,
		State:            localization.Connectivity(r),
		CurrentAreaID:    r.CurrentAreaID,
		CurrentMissionID: r.CurrentMissionID,
		UpdatedAt:        time.Now().UTC(),
	}
}

// Sync 从存储中加载所有机器人，用于启动时初始化
func (st *StateTracker) Sync(ctx context.Context) error {
	robots, err := st.robots.List(ctx)
	if err != nil {
		return fmt.Errorf("加载机器人列表失败: %w", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	for _, r := range robots {
		st.state.Robots[r.ID] = toRobotState(r)
	}
	st.out.BroadcastState(st.state)
	return nil
}

// Refresh 重新读取单个机器人并广播最新的全局状态
// 机器人已被删除时从快照中移除
func (st *StateTracker) Refresh(ctx context.Context, robotID string) error {
	robot, err := st.robots.FindByID(ctx, robotID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("读取机器人 %s 失败: %w", robotID, err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if robot == nil {
		delete(st.state.Robots, robotID)
	} else {
		st.state.Robots[robot.ID] = toRobotState(robot)
	}
	st.out.BroadcastState(st.state)
	return nil
}

// RefreshByIsarID 与 Refresh 相同，但按 ISAR ID 查找
func (st *StateTracker) RefreshByIsarID(ctx context.Context, isarID string) error {
	robot, err := st.robots.FindByIsarID(ctx, isarID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取机器人 %s 失败: %w", isarID, err)
	}
	return st.Refresh(ctx, robot.ID)
}

// GetStateSnapshot 返回当前全局状态的一个副本
// 用于新客户端连接时获取一次全量数据
func (st *StateTracker) GetStateSnapshot() FleetState {
	st.mu.RLock()
	defer st.mu.RUnlock()

	newState := FleetState{Robots: make(map[string]RobotState, len(st.state.Robots))}
	for id, r := range st.state.Robots {
		newState.Robots[id] = r
	}
	return newState
}
