// Package dispatch 在调度层把机器人分配给任务之前检查定位前提
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"

	"flotilla-coordinator/internal/localization"
	"flotilla-coordinator/internal/repository"
	"flotilla-coordinator/internal/types"
)

// ErrRuleRejected 表示附加规则拒绝了本次分配
var ErrRuleRejected = errors.New("dispatch rule rejected the assignment")

// Decision 是一次分配检查的结果
type Decision struct {
	RobotID   string `json:"robot_id"`
	MissionID string `json:"mission_id"`
	Eligible  bool   `json:"eligible"`
	Reason    string `json:"reason,omitempty"`
}

// ruleEnv 构造规则表达式可见的变量
func ruleEnv(robot *types.Robot, mission *types.MissionDefinition) map[string]interface{} {
	return map[string]interface{}{"robot": robot, "mission": mission}
}

// Gate 组合定位检查和可选的规则表达式
type Gate struct {
	robots       repository.RobotRepository
	localization *localization.Service
	rule         *vm.Program // 为 nil 表示未配置规则
	ruleSource   string
	logger       *slog.Logger
}

// NewGate 创建分配检查器，rule 在此处编译一次
func NewGate(robots repository.RobotRepository, loc *localization.Service, rule string, logger *slog.Logger) (*Gate, error) {
	g := &Gate{
		robots:       robots,
		localization: loc,
		ruleSource:   rule,
		logger:       logger.With("component", "dispatch"),
	}
	if rule != "" {
		program, err := expr.Compile(rule, expr.Env(ruleEnv(&types.Robot{}, &types.MissionDefinition{})), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("rule compilation failed: %w", err)
		}
		g.rule = program
	}
	return g, nil
}

// Check 按顺序检查安装点、定位状态、甲板以及附加规则
// 前提不满足时返回对应的类型化错误；不在同一甲板只记录为 Reason
func (g *Gate) Check(ctx context.Context, robotID string, mission types.MissionDefinition) (Decision, error) {
	d := Decision{RobotID: robotID, MissionID: mission.ID}

	robot, err := g.robots.FindByID(ctx, robotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return d, fmt.Errorf("%w: %s", localization.ErrRobotNotFound, robotID)
		}
		return d, err
	}

	if err := g.localization.EnsureSameInstallation(ctx, robot, mission.InstallationCode); err != nil {
		return d, err
	}

	localized, err := g.localization.IsLocalized(ctx, robotID)
	if err != nil {
		return d, err
	}
	if !localized {
		return d, fmt.Errorf("%w: %s", localization.ErrRobotNotLocalized, robotID)
	}

	sameDeck, err := g.localization.IsOnSameDeck(ctx, robotID, mission.AreaID)
	if err != nil {
		return d, err
	}
	if !sameDeck {
		d.Reason = "robot is not on the same deck as the mission"
		return d, nil
	}

	if g.rule != nil {
		out, err := expr.Run(g.rule, ruleEnv(robot, &mission))
		if err != nil {
			return d, fmt.Errorf("rule execution failed: %w", err)
		}
		if ok, _ := out.(bool); !ok {
			g.logger.Info("分配规则拒绝", "robot_id", robotID, "mission_id", mission.ID, "rule", g.ruleSource)
			return d, fmt.Errorf("%w: %s", ErrRuleRejected, g.ruleSource)
		}
	}

	d.Eligible = true
	return d, nil
}
