package types

import "time"

// MissionStatus 定义任务执行实例 (MissionRun) 的状态
// 使用字符串类型，方便在日志、数据库和 JSON 中直接使用
type MissionStatus string

const (
	MissionStatusPending    MissionStatus = "PENDING"     // 已排程，尚未开始
	MissionStatusInProgress MissionStatus = "IN_PROGRESS" // 机器人正在执行
	MissionStatusSuccessful MissionStatus = "SUCCESSFUL"  // 执行成功 (终态)
	MissionStatusFailed     MissionStatus = "FAILED"      // 执行失败 (终态)
	MissionStatusAborted    MissionStatus = "ABORTED"     // 被取消 (终态)
)

// IsTerminal 判断状态是否为终态，终态不可再被覆盖
func (s MissionStatus) IsTerminal() bool {
	switch s {
	case MissionStatusSuccessful, MissionStatusFailed, MissionStatusAborted:
		return true
	}
	return false
}

// Robot 表示由 ISAR 运行时控制的一台移动机器人
// 空字符串的 CurrentAreaID / CurrentMissionID 表示 "无"
type Robot struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	IsarID                string `json:"isar_id"`                     // 外部运行时 (ISAR) 的标识
	CurrentAreaID         string `json:"current_area_id,omitempty"`    // 当前所在区域，为空表示未定位
	CurrentMissionID      string `json:"current_mission_id,omitempty"` // 当前执行的 MissionRun
	IsarConnected         bool   `json:"isar_connected"`
	CurrentInstallationID string `json:"current_installation_id"`
}

// Localized 判断机器人是否已定位 (有已知的当前区域)
func (r *Robot) Localized() bool {
	return r.CurrentAreaID != ""
}

// MissionRun 表示一次任务的执行实例
type MissionRun struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Status           MissionStatus `json:"status"`
	RobotID          string        `json:"robot_id"`
	AreaID           string        `json:"area_id,omitempty"`
	DeckID           string        `json:"deck_id,omitempty"`
	InstallationCode string        `json:"installation_code"`
	DesiredStartTime time.Time     `json:"desired_start_time"`
	StatusReason     string        `json:"status_reason,omitempty"` // 失败原因等
}

// MissionDefinition 是调度层在分配机器人前看到的任务视图
type MissionDefinition struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	InstallationCode string `json:"installation_code"`
	AreaID           string `json:"area_id"`
}

// Installation / Plant / Deck / Area 是静态的物理位置层级
// Installation > Plant > Deck > Area

type Installation struct {
	ID               string `json:"id"`
	InstallationCode string `json:"installation_code"`
	Name             string `json:"name"`
}

type Plant struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	InstallationID string `json:"installation_id"`
}

type Deck struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	PlantID string `json:"plant_id"`
}

// Area 是机器人或任务可关联的最细粒度位置
type Area struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	DeckID string `json:"deck_id"`
}
