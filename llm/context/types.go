package context

import (
	"time"

	"github.com/BaSui01/ragcore/memory"
)

// Role 对话角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid 判断角色是否受支持
func (r Role) Valid() bool { return r == RoleUser || r == RoleAssistant }

// Turn 一轮对话消息
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation 会话上下文。Turns 按写入顺序排列。
type Conversation struct {
	SessionID string `json:"session_id"`
	Turns     []Turn `json:"turns"`
	// Compressed 最近一次 GetContext 是否返回了压缩视图
	Compressed bool `json:"compressed"`
	// Summary 被压缩掉的轮次的摘录
	Summary         string               `json:"summary,omitempty"`
	ShortTermMemory []*memory.MemoryItem `json:"short_term_memory,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// State 会话中除轮次之外的可变状态
type State struct {
	Compressed      bool
	Summary         string
	ShortTermMemory []*memory.MemoryItem
}
