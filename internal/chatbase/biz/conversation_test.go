package biz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/chatbase/internal/model"
	"github.com/kart-io/chatbase/pkg/errors"
)

func TestConversationService_CRUD(t *testing.T) {
	svc := NewConversationService(newTestStore(t))
	ctx := context.Background()

	conv, err := svc.Create(ctx, testOwner, "  项目讨论  ", map[string]any{"topic": "launch"})
	require.NoError(t, err)
	assert.Equal(t, "项目讨论", conv.Title)
	assert.Equal(t, model.ConversationStatusActive, conv.Status)

	got, err := svc.Get(ctx, testOwner, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)

	// 其他属主不可见
	_, err = svc.Get(ctx, "other-owner", conv.ID)
	assert.True(t, errors.IsCode(err, errors.ErrConversationNotFound.Code))

	// 归档
	updated, err := svc.Update(ctx, testOwner, conv.ID, "新标题", model.ConversationStatusArchived)
	require.NoError(t, err)
	assert.Equal(t, "新标题", updated.Title)
	assert.Equal(t, model.ConversationStatusArchived, updated.Status)

	// 非法状态
	_, err = svc.Update(ctx, testOwner, conv.ID, "", "deleted")
	assert.True(t, errors.IsCode(err, errors.ErrValidation.Code))
}

// 软删除后会话按不存在处理，消息记录保留在库中。
func TestConversationService_Delete(t *testing.T) {
	st := newTestStore(t)
	svc := NewConversationService(st)
	ctx := context.Background()

	conv, err := svc.Create(ctx, testOwner, "t", nil)
	require.NoError(t, err)
	require.NoError(t, st.Messages().Create(ctx, &model.Message{
		ID:             "msg-1",
		ConversationID: conv.ID,
		Role:           model.RoleUser,
		Content:        "hello",
	}))

	require.NoError(t, svc.Delete(ctx, testOwner, conv.ID))

	_, err = svc.Get(ctx, testOwner, conv.ID)
	assert.True(t, errors.IsCode(err, errors.ErrConversationNotFound.Code))
	_, _, err = svc.Messages(ctx, testOwner, conv.ID, 0, 10)
	assert.True(t, errors.IsCode(err, errors.ErrConversationNotFound.Code))

	// 消息行仍在
	count, err := st.Messages().Count(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestConversationService_List(t *testing.T) {
	svc := NewConversationService(newTestStore(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, testOwner, "c", nil)
		require.NoError(t, err)
	}
	deleted, err := svc.Create(ctx, testOwner, "gone", nil)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, testOwner, deleted.ID))

	convs, total, err := svc.List(ctx, testOwner, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, convs, 3)
}
