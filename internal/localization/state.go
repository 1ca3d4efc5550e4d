package localization

import "flotilla-coordinator/internal/types"

// State 是机器人相对于协调核心的连接状态
type State string

const (
	ConnectedLocalized    State = "CONNECTED_LOCALIZED"
	ConnectedNotLocalized State = "CONNECTED_NOT_LOCALIZED"
	Disconnected          State = "DISCONNECTED"
)

// Connectivity 由机器人快照推导连接状态
func Connectivity(robot *types.Robot) State {
	switch {
	case !robot.IsarConnected:
		return Disconnected
	case robot.Localized():
		return ConnectedLocalized
	default:
		return ConnectedNotLocalized
	}
}
