package model

import "time"

// 对话模式。mode 只影响 prompt 措辞，不影响管道流程。
const (
	ModeKnowledge = "knowledge" // 需引导提取知识点
	ModeFree      = "free"      // 自由探讨感兴趣话题
)

// 消息角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation 代表一次对话会话。创建后除 is_active 外不再变更。
type Conversation struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ChildID   uint      `gorm:"index;not null" json:"childId"`
	Mode      string    `gorm:"size:16;not null;default:knowledge" json:"mode"`
	IsActive  bool      `gorm:"default:true" json:"isActive"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Message 代表对话中的一条消息，只追加不修改。
// 每个完整轮次按 user、assistant 的顺序写入两条。
type Message struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ConversationID uint      `gorm:"index;not null" json:"conversationId"`
	Role           string    `gorm:"size:16;not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Message) TableName() string {
	return "messages"
}

// ChatMessage 是发往大模型接口的角色消息。
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
