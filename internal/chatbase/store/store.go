// Package store 提供 chatbase 的关系存储与向量存储访问层。
package store

import (
	"context"

	"gorm.io/gorm"
)

// IStore 定义关系存储工厂接口。
type IStore interface {
	// Documents 返回文档存储。
	Documents() DocumentStore

	// Conversations 返回会话存储。
	Conversations() ConversationStore

	// Messages 返回消息存储。
	Messages() MessageStore

	// KnowledgeBases 返回知识库存储。
	KnowledgeBases() KnowledgeBaseStore

	// TX 在一个事务中执行 fn；fn 返回错误时回滚。
	TX(ctx context.Context, fn func(txStore IStore) error) error

	// DB 返回底层 gorm.DB（用于迁移等场景）。
	DB() *gorm.DB
}

// datastore 基于 GORM 的 IStore 实现。
type datastore struct {
	db *gorm.DB
}

var _ IStore = (*datastore)(nil)

// NewStore 创建关系存储实例。
func NewStore(db *gorm.DB) IStore {
	return &datastore{db: db}
}

func (s *datastore) Documents() DocumentStore {
	return newDocuments(s.db)
}

func (s *datastore) Conversations() ConversationStore {
	return newConversations(s.db)
}

func (s *datastore) Messages() MessageStore {
	return newMessages(s.db)
}

func (s *datastore) KnowledgeBases() KnowledgeBaseStore {
	return newKnowledgeBases(s.db)
}

func (s *datastore) TX(ctx context.Context, fn func(txStore IStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&datastore{db: tx})
	})
}

func (s *datastore) DB() *gorm.DB {
	return s.db
}
