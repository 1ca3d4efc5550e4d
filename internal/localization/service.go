// Package localization 回答 "机器人是否已定位"、"是否与任务在同一安装点/甲板" 等问题
package localization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"flotilla-coordinator/internal/repository"
	"flotilla-coordinator/internal/types"
)

// 调用方依赖具体的错误类型决定重试、重新分配还是放弃调度
var (
	ErrRobotNotFound             = errors.New("robot not found")
	ErrInstallationNotFound      = errors.New("installation not found")
	ErrAreaNotFound              = errors.New("area not found")
	ErrDeckNotFound              = errors.New("deck not found")
	ErrRobotNotLocalized         = errors.New("robot is not localized")
	ErrRobotInstallationMismatch = errors.New("robot is not on the mission installation")
)

// Service 是定位状态评估器
type Service struct {
	robots        repository.RobotRepository
	areas         repository.AreaRepository
	decks         repository.DeckRepository
	installations repository.InstallationRepository
	logger        *slog.Logger
}

// NewService 创建定位服务
func NewService(store repository.Store, logger *slog.Logger) *Service {
	return &Service{
		robots:        store.Robots(),
		areas:         store.Areas(),
		decks:         store.Decks(),
		installations: store.Installations(),
		logger:        logger.With("component", "localization"),
	}
}

// notFound 把仓库的 ErrNotFound 翻译为领域错误，其他错误原样包装
func notFound(err error, kind error, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", kind, id)
	}
	return fmt.Errorf("lookup %s: %w", id, err)
}

func (s *Service) findRobot(ctx context.Context, robotID string) (*types.Robot, error) {
	robot, err := s.robots.FindByID(ctx, robotID)
	if err != nil {
		return nil, notFound(err, ErrRobotNotFound, robotID)
	}
	return robot, nil
}

// EnsureSameInstallation 确认机器人当前所在安装点与任务的安装点一致
func (s *Service) EnsureSameInstallation(ctx context.Context, robot *types.Robot, installationCode string) error {
	inst, err := s.installations.FindByCode(ctx, installationCode)
	if err != nil {
		err = notFound(err, ErrInstallationNotFound, installationCode)
		s.logger.Error("无法解析任务安装点", "installation_code", installationCode, "error", err)
		return err
	}

	if robot.CurrentInstallationID != inst.ID {
		s.logger.Error("机器人与任务不在同一安装点",
			"robot_id", robot.ID, "robot_installation", robot.CurrentInstallationID, "mission_installation", inst.ID)
		return fmt.Errorf("%w: robot %s is on %s, mission is on %s",
			ErrRobotInstallationMismatch, robot.ID, robot.CurrentInstallationID, inst.InstallationCode)
	}
	return nil
}

// IsLocalized 判断机器人是否有已知的当前区域
func (s *Service) IsLocalized(ctx context.Context, robotID string) (bool, error) {
	robot, err := s.findRobot(ctx, robotID)
	if err != nil {
		return false, err
	}
	return robot.Localized(), nil
}

// IsOnSameDeck 判断机器人当前区域与 areaID 是否在同一甲板
// 任一侧甲板无法解析都是错误，而不是隐式的 "不相等"
func (s *Service) IsOnSameDeck(ctx context.Context, robotID, areaID string) (bool, error) {
	robot, err := s.findRobot(ctx, robotID)
	if err != nil {
		return false, err
	}
	if !robot.Localized() {
		return false, fmt.Errorf("%w: %s", ErrRobotNotLocalized, robotID)
	}

	missionArea, err := s.areas.FindByID(ctx, areaID)
	if err != nil {
		return false, notFound(err, ErrAreaNotFound, areaID)
	}

	robotArea, err := s.areas.FindByID(ctx, robot.CurrentAreaID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return false, fmt.Errorf("lookup area %s: %w", robot.CurrentAreaID, err)
		}
		// 机器人引用的区域已被删除，视为其甲板不可解析
		return false, fmt.Errorf("%w: robot area %s is missing", ErrDeckNotFound, robot.CurrentAreaID)
	}

	robotDeck, err := s.deckOf(ctx, robotArea)
	if err != nil {
		return false, err
	}
	missionDeck, err := s.deckOf(ctx, missionArea)
	if err != nil {
		return false, err
	}
	return robotDeck.ID == missionDeck.ID, nil
}

// deckOf 解析区域所属的甲板
func (s *Service) deckOf(ctx context.Context, area *types.Area) (*types.Deck, error) {
	if area.DeckID == "" {
		return nil, fmt.Errorf("%w: area %s has no deck", ErrDeckNotFound, area.ID)
	}
	deck, err := s.decks.FindByID(ctx, area.DeckID)
	if err != nil {
		return nil, notFound(err, ErrDeckNotFound, area.DeckID)
	}
	return deck, nil
}

// Delocalize 清除机器人的当前区域
func (s *Service) Delocalize(ctx context.Context, robotID string) error {
	if _, err := s.findRobot(ctx, robotID); err != nil {
		return err
	}
	if err := s.robots.SetCurrentArea(ctx, robotID, ""); err != nil {
		return notFound(err, ErrRobotNotFound, robotID)
	}
	s.logger.Info("机器人已去定位", "robot_id", robotID)
	return nil
}

// Localize 设置机器人的当前区域，区域必须存在
func (s *Service) Localize(ctx context.Context, robotID, areaID string) error {
	if _, err := s.findRobot(ctx, robotID); err != nil {
		return err
	}
	if _, err := s.areas.FindByID(ctx, areaID); err != nil {
		return notFound(err, ErrAreaNotFound, areaID)
	}
	if err := s.robots.SetCurrentArea(ctx, robotID, areaID); err != nil {
		return notFound(err, ErrRobotNotFound, robotID)
	}
	s.logger.Info("机器人已定位", "robot_id", robotID, "area_id", areaID)
	return nil
}
