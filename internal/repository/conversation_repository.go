package repository

import (
	"context"
	"learnsmart-go/internal/model"

	"gorm.io/gorm"
)

// ConversationRepository 定义了对话会话与消息的持久化操作。
type ConversationRepository interface {
	CreateConversation(ctx context.Context, conv *model.Conversation) error
	FindConversation(ctx context.Context, conversationID uint) (*model.Conversation, error)
	AppendMessage(ctx context.Context, msg *model.Message) error
	// RecentMessages 返回会话中最近的 limit 条消息，按时间正序。
	RecentMessages(ctx context.Context, conversationID uint, limit int) ([]model.Message, error)
	// CountUserMessages 统计会话中 user 角色的消息数，即轮次数。
	CountUserMessages(ctx context.Context, conversationID uint) (int64, error)
}

// conversationRepository 是 ConversationRepository 接口的 GORM 实现。
type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// CreateConversation 创建一个新的对话会话。
func (r *conversationRepository) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	return r.db.WithContext(ctx).Create(conv).Error
}

// FindConversation 根据 ID 查找对话会话。
func (r *conversationRepository) FindConversation(ctx context.Context, conversationID uint) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.db.WithContext(ctx).First(&conv, conversationID).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// AppendMessage 追加一条消息记录。
func (r *conversationRepository) AppendMessage(ctx context.Context, msg *model.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// RecentMessages 返回会话中最近的 limit 条消息，按时间正序排列以便直接拼接历史。
func (r *conversationRepository) RecentMessages(ctx context.Context, conversationID uint, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return []model.Message{}, nil
	}
	var messages []model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	// 倒序查出后翻转为正序
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// CountUserMessages 统计会话中 user 角色的消息数。
func (r *conversationRepository) CountUserMessages(ctx context.Context, conversationID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("conversation_id = ? AND role = ?", conversationID, model.RoleUser).
		Count(&count).Error
	return count, err
}
