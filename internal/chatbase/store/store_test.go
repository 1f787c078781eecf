package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kart-io/chatbase/internal/model"
	"github.com/kart-io/chatbase/pkg/utils/id"
)

func newTestStore(t *testing.T) IStore {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", id.New())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.Document{},
		&model.Conversation{},
		&model.Message{},
		&model.KnowledgeBase{},
		&model.KnowledgeAssociation{},
	))
	return NewStore(db)
}

func TestDocumentStore_GetForUpdate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	doc := &model.Document{ID: "doc-1", OwnerID: "owner-1", Title: "t", Source: "t.txt"}
	require.NoError(t, st.Documents().Create(ctx, doc))

	// 事务内锁定并推进状态，提交后可见
	err := st.TX(ctx, func(tx IStore) error {
		locked, err := tx.Documents().GetForUpdate(ctx, "doc-1")
		if err != nil {
			return err
		}
		locked.Status = model.DocumentStatusProcessing
		locked.Attempts++
		return tx.Documents().Update(ctx, locked)
	})
	require.NoError(t, err)

	got, err := st.Documents().Get(ctx, "owner-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusProcessing, got.Status)
	assert.Equal(t, 1, got.Attempts)

	// 事务回滚后状态不变
	rollbackErr := fmt.Errorf("boom")
	err = st.TX(ctx, func(tx IStore) error {
		locked, err := tx.Documents().GetForUpdate(ctx, "doc-1")
		if err != nil {
			return err
		}
		locked.Attempts = 99
		if err := tx.Documents().Update(ctx, locked); err != nil {
			return err
		}
		return rollbackErr
	})
	assert.ErrorIs(t, err, rollbackErr)

	got, err = st.Documents().Get(ctx, "owner-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
}

func TestDocumentStore_ListByIDs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, st.Documents().Create(ctx, &model.Document{
			ID:      fmt.Sprintf("doc-%d", i),
			OwnerID: "owner-1",
			Title:   "t",
			Source:  "t.txt",
		}))
	}

	docs, err := st.Documents().ListByIDs(ctx, []string{"doc-0", "doc-2", "missing"})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = st.Documents().ListByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

// Touch 将会话 updated_at 推进到指定时间。
func TestConversationStore_Touch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conv := &model.Conversation{ID: "conv-1", OwnerID: "owner-1", Status: model.ConversationStatusActive}
	require.NoError(t, st.Conversations().Create(ctx, conv))

	later := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, st.Conversations().Touch(ctx, "conv-1", later))

	got, err := st.Conversations().Get(ctx, "owner-1", "conv-1")
	require.NoError(t, err)
	assert.False(t, got.UpdatedAt.Before(later.Add(-time.Second)))
}

func TestConversationStore_SoftDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	conv := &model.Conversation{ID: "conv-1", OwnerID: "owner-1", Status: model.ConversationStatusActive}
	require.NoError(t, st.Conversations().Create(ctx, conv))
	require.NoError(t, st.Conversations().Delete(ctx, "owner-1", "conv-1"))

	_, err := st.Conversations().Get(ctx, "owner-1", "conv-1")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	_, total, err := st.Conversations().List(ctx, "owner-1", 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}

// ListRecent 取最近 limit 条并按创建时间正序返回。
func TestMessageStore_ListRecent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, st.Messages().Create(ctx, &model.Message{
			ID:             fmt.Sprintf("msg-%d", i),
			ConversationID: "conv-1",
			Role:           model.RoleUser,
			Content:        fmt.Sprintf("m%d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}))
	}

	msgs, err := st.Messages().ListRecent(ctx, "conv-1", 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	// 窗口截取最近 3 条，顺序为时间正序
	assert.Equal(t, "m2", msgs[0].Content)
	assert.Equal(t, "m3", msgs[1].Content)
	assert.Equal(t, "m4", msgs[2].Content)

	// 窗口大于总量时返回全部
	msgs, err = st.Messages().ListRecent(ctx, "conv-1", 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 5)
}

func TestKnowledgeBaseStore_Associations(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	kb := &model.KnowledgeBase{ID: "kb-1", OwnerID: "owner-1", Name: "kb", Visibility: model.VisibilityPrivate}
	require.NoError(t, st.KnowledgeBases().Create(ctx, kb))

	for i := 0; i < 2; i++ {
		require.NoError(t, st.KnowledgeBases().AddAssociation(ctx, &model.KnowledgeAssociation{
			ID:              fmt.Sprintf("assoc-%d", i),
			KnowledgeBaseID: "kb-1",
			DocumentID:      fmt.Sprintf("doc-%d", i),
		}))
	}

	exists, err := st.KnowledgeBases().HasAssociation(ctx, "kb-1", "doc-0")
	require.NoError(t, err)
	assert.True(t, exists)

	ids, err := st.KnowledgeBases().ListDocumentIDs(ctx, "kb-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc-0", "doc-1"}, ids)

	require.NoError(t, st.KnowledgeBases().RemoveAssociation(ctx, "kb-1", "doc-0"))
	exists, err = st.KnowledgeBases().HasAssociation(ctx, "kb-1", "doc-0")
	require.NoError(t, err)
	assert.False(t, exists)

	// 删除知识库连带清理关联
	require.NoError(t, st.KnowledgeBases().Delete(ctx, "kb-1"))
	ids, err = st.KnowledgeBases().ListDocumentIDs(ctx, "kb-1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// 列表同时包含属主自己的与他人公开的知识库。
func TestKnowledgeBaseStore_List(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.KnowledgeBases().Create(ctx, &model.KnowledgeBase{
		ID: "kb-own", OwnerID: "owner-1", Name: "mine", Visibility: model.VisibilityPrivate,
	}))
	require.NoError(t, st.KnowledgeBases().Create(ctx, &model.KnowledgeBase{
		ID: "kb-public", OwnerID: "owner-2", Name: "shared", Visibility: model.VisibilityPublic,
	}))
	require.NoError(t, st.KnowledgeBases().Create(ctx, &model.KnowledgeBase{
		ID: "kb-hidden", OwnerID: "owner-2", Name: "hidden", Visibility: model.VisibilityPrivate,
	}))

	kbs, total, err := st.KnowledgeBases().List(ctx, "owner-1", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	var ids []string
	for _, kb := range kbs {
		ids = append(ids, kb.ID)
	}
	assert.ElementsMatch(t, []string{"kb-own", "kb-public"}, ids)
}
