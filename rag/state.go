package rag

import (
	"fmt"
	"time"

	"github.com/BaSui01/ragcore/types"
)

// QueryState 查询流程状态
type QueryState string

const (
	StateIdle            QueryState = "idle"
	StateRetrieving      QueryState = "retrieving"
	StateReranking       QueryState = "reranking"
	StateContextBuilding QueryState = "context_building"
	StateGenerating      QueryState = "generating"
	StateFallback        QueryState = "fallback"
	StateAttributing     QueryState = "attributing"
	StateDone            QueryState = "done"
	StateFailed          QueryState = "failed"
)

// allowedTransitions 合法状态转换表；Done 与 Failed 为终态
var allowedTransitions = map[QueryState][]QueryState{
	StateIdle:            {StateRetrieving, StateFailed},
	StateRetrieving:      {StateReranking, StateFailed},
	StateReranking:       {StateContextBuilding},
	StateContextBuilding: {StateGenerating},
	StateGenerating:      {StateAttributing, StateFallback},
	StateFallback:        {StateAttributing},
	StateAttributing:     {StateDone},
}

// Terminal 是否为终态
func (s QueryState) Terminal() bool { return s == StateDone || s == StateFailed }

// Transition 一次状态转换记录
type Transition struct {
	From   QueryState `json:"from"`
	To     QueryState `json:"to"`
	At     time.Time  `json:"at"`
	Reason string     `json:"reason,omitempty"`
}

// queryMachine 单次查询的状态机，非并发安全（每个查询独占一个）
type queryMachine struct {
	state QueryState
	trace []Transition
	now   func() time.Time
}

func newQueryMachine(now func() time.Time) *queryMachine {
	if now == nil {
		now = time.Now
	}
	return &queryMachine{state: StateIdle, now: now}
}

// to 执行转换；非法转换返回 INVALID_TRANSITION 且状态不变
func (m *queryMachine) to(next QueryState, reason string) error {
	for _, s := range allowedTransitions[m.state] {
		if s == next {
			m.trace = append(m.trace, Transition{From: m.state, To: next, At: m.now(), Reason: reason})
			m.state = next
			return nil
		}
	}
	return types.NewError(types.ErrInvalidTransition,
		fmt.Sprintf("invalid query state transition %s -> %s", m.state, next))
}

// mustTo 用于流程内部已知合法的转换
func (m *queryMachine) mustTo(next QueryState, reason string) {
	if err := m.to(next, reason); err != nil {
		panic(err)
	}
}

func (m *queryMachine) State() QueryState { return m.state }

func (m *queryMachine) Trace() []Transition {
	out := make([]Transition, len(m.trace))
	copy(out, m.trace)
	return out
}
