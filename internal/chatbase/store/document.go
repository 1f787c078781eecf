package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kart-io/chatbase/internal/model"
)

// DocumentStore 定义文档的持久化操作。
type DocumentStore interface {
	// Create 创建文档记录。
	Create(ctx context.Context, doc *model.Document) error

	// Get 按 ID 和属主获取文档。
	Get(ctx context.Context, ownerID, id string) (*model.Document, error)

	// GetForUpdate 以行级更新锁获取文档，用于防止并发重复处理。
	// 必须在事务内调用。
	GetForUpdate(ctx context.Context, id string) (*model.Document, error)

	// List 按属主分页列出文档。
	List(ctx context.Context, ownerID string, offset, limit int) ([]*model.Document, int64, error)

	// ListByIDs 按 ID 集合批量获取文档。
	ListByIDs(ctx context.Context, ids []string) ([]*model.Document, error)

	// Update 保存文档的全部字段。
	Update(ctx context.Context, doc *model.Document) error

	// Delete 按 ID 和属主删除文档。
	Delete(ctx context.Context, ownerID, id string) error
}

type documents struct {
	db *gorm.DB
}

var _ DocumentStore = (*documents)(nil)

func newDocuments(db *gorm.DB) *documents {
	return &documents{db: db}
}

func (s *documents) Create(ctx context.Context, doc *model.Document) error {
	return s.db.WithContext(ctx).Create(doc).Error
}

func (s *documents) Get(ctx context.Context, ownerID, id string) (*model.Document, error) {
	var doc model.Document
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *documents) GetForUpdate(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *documents) List(ctx context.Context, ownerID string, offset, limit int) ([]*model.Document, int64, error) {
	var docs []*model.Document
	var total int64

	query := s.db.WithContext(ctx).Model(&model.Document{}).Where("owner_id = ?", ownerID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&docs).Error
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

func (s *documents) ListByIDs(ctx context.Context, ids []string) ([]*model.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var docs []*model.Document
	err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&docs).Error
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *documents) Update(ctx context.Context, doc *model.Document) error {
	return s.db.WithContext(ctx).Save(doc).Error
}

func (s *documents) Delete(ctx context.Context, ownerID, id string) error {
	return s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Delete(&model.Document{}).Error
}
