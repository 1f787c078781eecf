package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/kart-io/chatbase/internal/model"
)

// ConversationStore 定义会话的持久化操作。
type ConversationStore interface {
	// Create 创建会话。
	Create(ctx context.Context, conv *model.Conversation) error

	// Get 按 ID 和属主获取会话（不含已删除）。
	Get(ctx context.Context, ownerID, id string) (*model.Conversation, error)

	// List 按属主分页列出会话，最近更新在前。
	List(ctx context.Context, ownerID string, offset, limit int) ([]*model.Conversation, int64, error)

	// Update 保存会话的全部字段。
	Update(ctx context.Context, conv *model.Conversation) error

	// Touch 将会话的 updated_at 推进到 now，使其反映最新消息时间。
	Touch(ctx context.Context, id string, now time.Time) error

	// Delete 将会话标记为已删除。
	Delete(ctx context.Context, ownerID, id string) error
}

type conversations struct {
	db *gorm.DB
}

var _ ConversationStore = (*conversations)(nil)

func newConversations(db *gorm.DB) *conversations {
	return &conversations{db: db}
}

func (s *conversations) Create(ctx context.Context, conv *model.Conversation) error {
	return s.db.WithContext(ctx).Create(conv).Error
}

func (s *conversations) Get(ctx context.Context, ownerID, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ? AND status <> ?", id, ownerID, model.ConversationStatusDeleted).
		First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *conversations) List(ctx context.Context, ownerID string, offset, limit int) ([]*model.Conversation, int64, error) {
	var convs []*model.Conversation
	var total int64

	query := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("owner_id = ? AND status <> ?", ownerID, model.ConversationStatusDeleted)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("updated_at DESC").Offset(offset).Limit(limit).Find(&convs).Error
	if err != nil {
		return nil, 0, err
	}
	return convs, total, nil
}

func (s *conversations) Update(ctx context.Context, conv *model.Conversation) error {
	return s.db.WithContext(ctx).Save(conv).Error
}

func (s *conversations) Touch(ctx context.Context, id string, now time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("updated_at", now).Error
}

func (s *conversations) Delete(ctx context.Context, ownerID, id string) error {
	return s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Update("status", model.ConversationStatusDeleted).Error
}

// MessageStore 定义消息的持久化操作。
type MessageStore interface {
	// Create 追加一条消息。
	Create(ctx context.Context, msg *model.Message) error

	// ListRecent 返回会话最近的 limit 条消息，按创建时间正序。
	ListRecent(ctx context.Context, conversationID string, limit int) ([]*model.Message, error)

	// List 按会话分页列出消息，按创建时间正序。
	List(ctx context.Context, conversationID string, offset, limit int) ([]*model.Message, int64, error)

	// Count 返回会话的消息总数。
	Count(ctx context.Context, conversationID string) (int64, error)
}

type messages struct {
	db *gorm.DB
}

var _ MessageStore = (*messages)(nil)

func newMessages(db *gorm.DB) *messages {
	return &messages{db: db}
}

func (s *messages) Create(ctx context.Context, msg *model.Message) error {
	return s.db.WithContext(ctx).Create(msg).Error
}

func (s *messages) ListRecent(ctx context.Context, conversationID string, limit int) ([]*model.Message, error) {
	// 先倒序取最近 limit 条，再反转为时间正序
	var msgs []*model.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *messages) List(ctx context.Context, conversationID string, offset, limit int) ([]*model.Message, int64, error) {
	var msgs []*model.Message
	var total int64

	query := s.db.WithContext(ctx).Model(&model.Message{}).Where("conversation_id = ?", conversationID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("created_at ASC").Offset(offset).Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

func (s *messages) Count(ctx context.Context, conversationID string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&total).Error
	return total, err
}
