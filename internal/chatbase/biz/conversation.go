package biz

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/kart-io/chatbase/internal/chatbase/store"
	"github.com/kart-io/chatbase/internal/model"
	"github.com/kart-io/chatbase/pkg/errors"
	"github.com/kart-io/chatbase/pkg/utils/id"
)

// maxTitleLen 自动生成会话标题时的截断长度。
const maxTitleLen = 64

// ConversationService 定义会话管理操作。
type ConversationService interface {
	// Create 创建会话。
	Create(ctx context.Context, ownerID, title string, metadata map[string]any) (*model.Conversation, error)

	// Get 按属主获取会话，已删除的会话按不存在处理。
	Get(ctx context.Context, ownerID, convID string) (*model.Conversation, error)

	// List 按属主分页列出会话，最近更新的在前。
	List(ctx context.Context, ownerID string, offset, limit int) ([]*model.Conversation, int64, error)

	// Update 更新会话标题与状态。
	Update(ctx context.Context, ownerID, convID, title, status string) (*model.Conversation, error)

	// Delete 软删除会话，消息记录保留。
	Delete(ctx context.Context, ownerID, convID string) error

	// Messages 按时间顺序分页列出会话消息。
	Messages(ctx context.Context, ownerID, convID string, offset, limit int) ([]*model.Message, int64, error)
}

// conversationService 实现 ConversationService。
type conversationService struct {
	store store.IStore
}

var _ ConversationService = (*conversationService)(nil)

// NewConversationService 创建会话服务。
func NewConversationService(s store.IStore) ConversationService {
	return &conversationService{store: s}
}

func (s *conversationService) Create(ctx context.Context, ownerID, title string, metadata map[string]any) (*model.Conversation, error) {
	conv := &model.Conversation{
		ID:       id.New(),
		OwnerID:  ownerID,
		Title:    strings.TrimSpace(title),
		Status:   model.ConversationStatusActive,
		Metadata: metadata,
	}
	if err := s.store.Conversations().Create(ctx, conv); err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}
	return conv, nil
}

func (s *conversationService) Get(ctx context.Context, ownerID, convID string) (*model.Conversation, error) {
	conv, err := s.store.Conversations().Get(ctx, ownerID, convID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrConversationNotFound
		}
		return nil, errors.ErrDatabase.WithCause(err)
	}
	return conv, nil
}

func (s *conversationService) List(ctx context.Context, ownerID string, offset, limit int) ([]*model.Conversation, int64, error) {
	convs, total, err := s.store.Conversations().List(ctx, ownerID, offset, limit)
	if err != nil {
		return nil, 0, errors.ErrDatabase.WithCause(err)
	}
	return convs, total, nil
}

func (s *conversationService) Update(ctx context.Context, ownerID, convID, title, status string) (*model.Conversation, error) {
	conv, err := s.Get(ctx, ownerID, convID)
	if err != nil {
		return nil, err
	}

	if title != "" {
		conv.Title = strings.TrimSpace(title)
	}
	if status != "" {
		if status != model.ConversationStatusActive && status != model.ConversationStatusArchived {
			return nil, errors.ErrValidation.WithMessagef("invalid conversation status: %s", status)
		}
		conv.Status = status
	}

	if err := s.store.Conversations().Update(ctx, conv); err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}
	return conv, nil
}

func (s *conversationService) Delete(ctx context.Context, ownerID, convID string) error {
	if _, err := s.Get(ctx, ownerID, convID); err != nil {
		return err
	}
	if err := s.store.Conversations().Delete(ctx, ownerID, convID); err != nil {
		return errors.ErrDatabase.WithCause(err)
	}
	return nil
}

func (s *conversationService) Messages(ctx context.Context, ownerID, convID string, offset, limit int) ([]*model.Message, int64, error) {
	if _, err := s.Get(ctx, ownerID, convID); err != nil {
		return nil, 0, err
	}
	msgs, total, err := s.store.Messages().List(ctx, convID, offset, limit)
	if err != nil {
		return nil, 0, errors.ErrDatabase.WithCause(err)
	}
	return msgs, total, nil
}

// titleFromMessage 从首条用户消息派生会话标题。
func titleFromMessage(content string) string {
	title := strings.TrimSpace(content)
	if title == "" {
		return "New Conversation"
	}
	runes := []rune(title)
	if len(runes) > maxTitleLen {
		title = string(runes[:maxTitleLen])
	}
	return title
}
