package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/kart-io/chatbase/internal/model"
)

// KnowledgeBaseStore 定义知识库及其文档关联的持久化操作。
type KnowledgeBaseStore interface {
	// Create 创建知识库。
	Create(ctx context.Context, kb *model.KnowledgeBase) error

	// Get 按 ID 获取知识库（不做可见性过滤，由业务层裁决）。
	Get(ctx context.Context, id string) (*model.KnowledgeBase, error)

	// List 列出属主自己的与公开的知识库。
	List(ctx context.Context, ownerID string, offset, limit int) ([]*model.KnowledgeBase, int64, error)

	// Update 保存知识库的全部字段。
	Update(ctx context.Context, kb *model.KnowledgeBase) error

	// Delete 删除知识库及其全部文档关联（不删除文档本身）。
	Delete(ctx context.Context, id string) error

	// AddAssociation 建立文档与知识库的关联。
	AddAssociation(ctx context.Context, assoc *model.KnowledgeAssociation) error

	// RemoveAssociation 解除文档与知识库的关联。
	RemoveAssociation(ctx context.Context, kbID, documentID string) error

	// HasAssociation 判断文档是否已在知识库中。
	HasAssociation(ctx context.Context, kbID, documentID string) (bool, error)

	// ListDocumentIDs 返回知识库关联的全部文档 ID。
	ListDocumentIDs(ctx context.Context, kbID string) ([]string, error)
}

type knowledgeBases struct {
	db *gorm.DB
}

var _ KnowledgeBaseStore = (*knowledgeBases)(nil)

func newKnowledgeBases(db *gorm.DB) *knowledgeBases {
	return &knowledgeBases{db: db}
}

func (s *knowledgeBases) Create(ctx context.Context, kb *model.KnowledgeBase) error {
	return s.db.WithContext(ctx).Create(kb).Error
}

func (s *knowledgeBases) Get(ctx context.Context, id string) (*model.KnowledgeBase, error) {
	var kb model.KnowledgeBase
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&kb).Error
	if err != nil {
		return nil, err
	}
	return &kb, nil
}

func (s *knowledgeBases) List(ctx context.Context, ownerID string, offset, limit int) ([]*model.KnowledgeBase, int64, error) {
	var kbs []*model.KnowledgeBase
	var total int64

	query := s.db.WithContext(ctx).Model(&model.KnowledgeBase{}).
		Where("owner_id = ? OR visibility = ?", ownerID, model.VisibilityPublic)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("updated_at DESC").Offset(offset).Limit(limit).Find(&kbs).Error
	if err != nil {
		return nil, 0, err
	}
	return kbs, total, nil
}

func (s *knowledgeBases) Update(ctx context.Context, kb *model.KnowledgeBase) error {
	return s.db.WithContext(ctx).Save(kb).Error
}

func (s *knowledgeBases) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("knowledge_base_id = ?", id).
			Delete(&model.KnowledgeAssociation{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.KnowledgeBase{}).Error
	})
}

func (s *knowledgeBases) AddAssociation(ctx context.Context, assoc *model.KnowledgeAssociation) error {
	return s.db.WithContext(ctx).Create(assoc).Error
}

func (s *knowledgeBases) RemoveAssociation(ctx context.Context, kbID, documentID string) error {
	return s.db.WithContext(ctx).
		Where("knowledge_base_id = ? AND document_id = ?", kbID, documentID).
		Delete(&model.KnowledgeAssociation{}).Error
}

func (s *knowledgeBases) HasAssociation(ctx context.Context, kbID, documentID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.KnowledgeAssociation{}).
		Where("knowledge_base_id = ? AND document_id = ?", kbID, documentID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *knowledgeBases) ListDocumentIDs(ctx context.Context, kbID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&model.KnowledgeAssociation{}).
		Where("knowledge_base_id = ?", kbID).
		Order("created_at ASC").
		Pluck("document_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
