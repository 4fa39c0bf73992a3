package state

import (
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"
)

// 行程阶段常量
const (
	PhaseIdle     = "idle"
	PhaseTracking = "tracking"
	PhasePaused   = "paused"
	PhaseStopped  = "stopped"
)

// 事件常量
const (
	EventStart  = "start"
	EventPause  = "pause"
	EventResume = "resume"
	EventStop   = "stop"
)

// InvalidTransitionError 在不允许的阶段调用了生命周期方法
// 永远立即上抛，绝不静默吞掉，否则会掩盖 UI 层的调用错误
type InvalidTransitionError struct {
	Event string
	Phase string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %q from phase %q", e.Event, e.Phase)
}

// Machine 行程生命周期状态机
// idle → tracking ⇄ paused → stopped，stopped 为终态
type Machine struct {
	fsm   *fsm.FSM
	since time.Time
}

// NewMachine 创建状态机
func NewMachine(initialPhase string) *Machine {
	if initialPhase == "" {
		initialPhase = PhaseIdle
	}

	m := &Machine{since: time.Now()}

	m.fsm = fsm.NewFSM(
		initialPhase,
		fsm.Events{
			{Name: EventStart, Src: []string{PhaseIdle}, Dst: PhaseTracking},
			{Name: EventPause, Src: []string{PhaseTracking}, Dst: PhasePaused},
			{Name: EventResume, Src: []string{PhasePaused}, Dst: PhaseTracking},
			{Name: EventStop, Src: []string{PhaseTracking, PhasePaused}, Dst: PhaseStopped},
		},
		fsm.Callbacks{},
	)

	return m
}

// Current 获取当前阶段
func (m *Machine) Current() string {
	return m.fsm.Current()
}

// Since 当前阶段的进入时间
func (m *Machine) Since() time.Time {
	return m.since
}

// Can 检查事件是否可触发
func (m *Machine) Can(event string) bool {
	return m.fsm.Can(event)
}

// Trigger 触发事件，非法转换返回 *InvalidTransitionError
func (m *Machine) Trigger(event string) error {
	if err := m.fsm.Event(context.Background(), event); err != nil {
		return &InvalidTransitionError{Event: event, Phase: m.fsm.Current()}
	}
	m.since = time.Now()
	return nil
}
