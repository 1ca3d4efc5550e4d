package fsm

import (
	"errors"
	"fmt"
	"sync"

	"flotilla-coordinator/internal/types"
)

// Event 定义驱动任务状态转移的事件
type Event string

const (
	EventStart   Event = "START"
	EventSucceed Event = "SUCCEED"
	EventFail    Event = "FAIL"
	EventAbort   Event = "ABORT"
)

var (
	ErrInvalidTransition = errors.New("invalid mission run transition")
	// ErrTerminal 表示任务已处于终态，终态不会被覆盖
	ErrTerminal = errors.New("mission run is already in a terminal status")
)

// Lifecycle 是任务执行实例的有限状态机
// 它本身不持有任务，状态保存在 MissionRun.Status 上
type Lifecycle struct {
	mu sync.RWMutex
	// transitions 定义状态转移表: CurrentState -> Event -> NextState
	transitions map[types.MissionStatus]map[Event]types.MissionStatus
	// callbacks 定义进入某状态后的回调
	callbacks map[types.MissionStatus][]func(run *types.MissionRun)
}

func NewLifecycle() *Lifecycle {
	l := &Lifecycle{
		transitions: make(map[types.MissionStatus]map[Event]types.MissionStatus),
		callbacks:   make(map[types.MissionStatus][]func(*types.MissionRun)),
	}
	l.initTransitions()
	return l
}

func (l *Lifecycle) initTransitions() {
	l.addTransition(types.MissionStatusPending, EventStart, types.MissionStatusInProgress)
	l.addTransition(types.MissionStatusPending, EventAbort, types.MissionStatusAborted) // 开始前取消
	l.addTransition(types.MissionStatusPending, EventFail, types.MissionStatusFailed)   // 开始前机器人失联

	l.addTransition(types.MissionStatusInProgress, EventSucceed, types.MissionStatusSuccessful)
	l.addTransition(types.MissionStatusInProgress, EventFail, types.MissionStatusFailed)
	l.addTransition(types.MissionStatusInProgress, EventAbort, types.MissionStatusAborted)
}

func (l *Lifecycle) addTransition(from types.MissionStatus, event Event, to types.MissionStatus) {
	if _, ok := l.transitions[from]; !ok {
		l.transitions[from] = make(map[Event]types.MissionStatus)
	}
	l.transitions[from][event] = to
}

// OnEnter 注册进入某状态时的回调
// 回调在 Fire 的调用方 goroutine 中同步执行
func (l *Lifecycle) OnEnter(state types.MissionStatus, callback func(run *types.MissionRun)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks[state] = append(l.callbacks[state], callback)
}

// Fire 对任务触发事件，成功时修改 run.Status
func (l *Lifecycle) Fire(run *types.MissionRun, event Event) error {
	if run.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, run.ID, run.Status)
	}

	l.mu.RLock()
	next, ok := l.transitions[run.Status][event]
	callbacks := l.callbacks[next]
	l.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: cannot fire event %s from state %s", ErrInvalidTransition, event, run.Status)
	}

	run.Status = next
	for _, cb := range callbacks {
		cb(run)
	}
	return nil
}

// SetToFailed 将任务标记为失败并记录原因
// 已处于终态的任务返回 ErrTerminal，调用方应将其视为无操作
func (l *Lifecycle) SetToFailed(run *types.MissionRun, reason string) error {
	prevReason := run.StatusReason
	run.StatusReason = reason
	if err := l.Fire(run, EventFail); err != nil {
		run.StatusReason = prevReason
		return err
	}
	return nil
}
