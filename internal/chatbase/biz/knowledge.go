package biz

import (
	"context"
	"strings"
	"time"

	"github.com/kart-io/logger"
	"gorm.io/gorm"

	"github.com/kart-io/chatbase/internal/chatbase/store"
	"github.com/kart-io/chatbase/internal/model"
	"github.com/kart-io/chatbase/pkg/errors"
	"github.com/kart-io/chatbase/pkg/utils/id"
)

// KnowledgeBaseRequest 创建/更新知识库请求。
type KnowledgeBaseRequest struct {
	Name        string
	Description string
	Visibility  string
	Metadata    map[string]any
}

// KnowledgeBaseStats 知识库统计信息。
type KnowledgeBaseStats struct {
	KnowledgeBaseID  string         `json:"knowledge_base_id"`
	DocumentCount    int            `json:"document_count"`
	DocumentsByState map[string]int `json:"documents_by_status"`
	DocumentsByType  map[string]int `json:"documents_by_type"`
	FragmentCount    int            `json:"fragment_count"`
	LastUpdated      time.Time      `json:"last_updated"`
}

// KnowledgeBaseService 定义知识库操作。读取对属主或公开可见，
// 变更仅限属主。
type KnowledgeBaseService interface {
	// Create 创建知识库。
	Create(ctx context.Context, ownerID string, req *KnowledgeBaseRequest) (*model.KnowledgeBase, error)

	// Get 获取知识库，要求属主匹配或知识库公开。
	Get(ctx context.Context, ownerID, kbID string) (*model.KnowledgeBase, error)

	// List 列出属主自己的与公开的知识库。
	List(ctx context.Context, ownerID string, offset, limit int) ([]*model.KnowledgeBase, int64, error)

	// Update 更新知识库，仅限属主。
	Update(ctx context.Context, ownerID, kbID string, req *KnowledgeBaseRequest) (*model.KnowledgeBase, error)

	// Delete 删除知识库及其关联（不删除文档本身），仅限属主。
	Delete(ctx context.Context, ownerID, kbID string) error

	// AddDocument 将文档加入知识库。要求属主拥有知识库，且文档已完成处理。
	AddDocument(ctx context.Context, ownerID, kbID, docID string, metadata map[string]any) error

	// RemoveDocument 将文档移出知识库，仅限属主。
	RemoveDocument(ctx context.Context, ownerID, kbID, docID string) error

	// Search 在知识库关联的文档范围内检索。知识库没有文档时返回空列表。
	Search(ctx context.Context, ownerID, kbID string, req *SearchRequest) ([]*SearchResult, error)

	// Stats 聚合知识库的文档与片段统计。
	Stats(ctx context.Context, ownerID, kbID string) (*KnowledgeBaseStats, error)
}

// knowledgeBaseService 实现 KnowledgeBaseService。
type knowledgeBaseService struct {
	store     store.IStore
	retriever *Retriever
}

var _ KnowledgeBaseService = (*knowledgeBaseService)(nil)

// NewKnowledgeBaseService 创建知识库服务。
func NewKnowledgeBaseService(s store.IStore, retriever *Retriever) KnowledgeBaseService {
	return &knowledgeBaseService{store: s, retriever: retriever}
}

func (s *knowledgeBaseService) Create(ctx context.Context, ownerID string, req *KnowledgeBaseRequest) (*model.KnowledgeBase, error) {
	if req == nil || strings.TrimSpace(req.Name) == "" {
		return nil, errors.ErrValidation.WithMessage("knowledge base name must not be empty")
	}

	visibility := req.Visibility
	if visibility == "" {
		visibility = model.VisibilityPrivate
	}
	if visibility != model.VisibilityPrivate && visibility != model.VisibilityPublic {
		return nil, errors.ErrValidation.WithMessagef("invalid visibility: %s", visibility)
	}

	kb := &model.KnowledgeBase{
		ID:          id.New(),
		OwnerID:     ownerID,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Visibility:  visibility,
		Metadata:    req.Metadata,
	}
	if err := s.store.KnowledgeBases().Create(ctx, kb); err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}
	return kb, nil
}

// Get 获取知识库。属主不匹配且非公开时按不存在处理，不泄露资源存在性。
func (s *knowledgeBaseService) Get(ctx context.Context, ownerID, kbID string) (*model.KnowledgeBase, error) {
	kb, err := s.store.KnowledgeBases().Get(ctx, kbID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrKnowledgeBaseNotFound
		}
		return nil, errors.ErrDatabase.WithCause(err)
	}
	if kb.OwnerID != ownerID && kb.Visibility != model.VisibilityPublic {
		return nil, errors.ErrKnowledgeBaseNotFound
	}
	return kb, nil
}

func (s *knowledgeBaseService) List(ctx context.Context, ownerID string, offset, limit int) ([]*model.KnowledgeBase, int64, error) {
	kbs, total, err := s.store.KnowledgeBases().List(ctx, ownerID, offset, limit)
	if err != nil {
		return nil, 0, errors.ErrDatabase.WithCause(err)
	}
	return kbs, total, nil
}

func (s *knowledgeBaseService) Update(ctx context.Context, ownerID, kbID string, req *KnowledgeBaseRequest) (*model.KnowledgeBase, error) {
	kb, err := s.getOwned(ctx, ownerID, kbID)
	if err != nil {
		return nil, err
	}

	if req.Name != "" {
		kb.Name = strings.TrimSpace(req.Name)
	}
	if req.Description != "" {
		kb.Description = req.Description
	}
	if req.Visibility != "" {
		if req.Visibility != model.VisibilityPrivate && req.Visibility != model.VisibilityPublic {
			return nil, errors.ErrValidation.WithMessagef("invalid visibility: %s", req.Visibility)
		}
		kb.Visibility = req.Visibility
	}
	if req.Metadata != nil {
		kb.Metadata = req.Metadata
	}

	if err := s.store.KnowledgeBases().Update(ctx, kb); err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}
	return kb, nil
}

func (s *knowledgeBaseService) Delete(ctx context.Context, ownerID, kbID string) error {
	if _, err := s.getOwned(ctx, ownerID, kbID); err != nil {
		return err
	}
	if err := s.store.KnowledgeBases().Delete(ctx, kbID); err != nil {
		return errors.ErrDatabase.WithCause(err)
	}
	return nil
}

// AddDocument 将文档加入知识库。
func (s *knowledgeBaseService) AddDocument(ctx context.Context, ownerID, kbID, docID string, metadata map[string]any) error {
	kb, err := s.getOwned(ctx, ownerID, kbID)
	if err != nil {
		return err
	}

	doc, err := s.store.Documents().Get(ctx, ownerID, docID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrDocumentNotFound
		}
		return errors.ErrDatabase.WithCause(err)
	}
	if doc.Status != model.DocumentStatusCompleted {
		return errors.ErrDocumentNotReady.WithMessagef("document status is %s", doc.Status)
	}

	exists, err := s.store.KnowledgeBases().HasAssociation(ctx, kbID, docID)
	if err != nil {
		return errors.ErrDatabase.WithCause(err)
	}
	if exists {
		return errors.ErrDuplicateAssociation
	}

	assoc := &model.KnowledgeAssociation{
		ID:              id.New(),
		KnowledgeBaseID: kbID,
		DocumentID:      docID,
		Metadata:        metadata,
	}
	if err := s.store.KnowledgeBases().AddAssociation(ctx, assoc); err != nil {
		return errors.ErrDatabase.WithCause(err)
	}
	s.touch(ctx, kb)

	logger.Infow("文档加入知识库", "knowledge_base_id", kbID, "document_id", docID)
	return nil
}

func (s *knowledgeBaseService) RemoveDocument(ctx context.Context, ownerID, kbID, docID string) error {
	kb, err := s.getOwned(ctx, ownerID, kbID)
	if err != nil {
		return err
	}
	if err := s.store.KnowledgeBases().RemoveAssociation(ctx, kbID, docID); err != nil {
		return errors.ErrDatabase.WithCause(err)
	}
	s.touch(ctx, kb)
	return nil
}

// touch 推进知识库的 updated_at，使统计中的 last_updated 反映成员变更。
func (s *knowledgeBaseService) touch(ctx context.Context, kb *model.KnowledgeBase) {
	if err := s.store.KnowledgeBases().Update(ctx, kb); err != nil {
		logger.Warnw("更新知识库时间失败", "knowledge_base_id", kb.ID, "error", err.Error())
	}
}

// Search 在知识库范围内检索。片段按知识库属主过滤，
// 公开知识库对非属主同样可检索。
func (s *knowledgeBaseService) Search(ctx context.Context, ownerID, kbID string, req *SearchRequest) ([]*SearchResult, error) {
	kb, err := s.Get(ctx, ownerID, kbID)
	if err != nil {
		return nil, err
	}

	docIDs, err := s.store.KnowledgeBases().ListDocumentIDs(ctx, kbID)
	if err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}
	if len(docIDs) == 0 {
		return []*SearchResult{}, nil
	}

	scoped := *req
	scoped.DocumentIDs = docIDs
	return s.retriever.Search(ctx, kb.OwnerID, &scoped)
}

// Stats 聚合知识库统计。片段数取各已完成文档的成功片段计数之和。
func (s *knowledgeBaseService) Stats(ctx context.Context, ownerID, kbID string) (*KnowledgeBaseStats, error) {
	kb, err := s.Get(ctx, ownerID, kbID)
	if err != nil {
		return nil, err
	}

	docIDs, err := s.store.KnowledgeBases().ListDocumentIDs(ctx, kbID)
	if err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}

	stats := &KnowledgeBaseStats{
		KnowledgeBaseID:  kbID,
		DocumentCount:    len(docIDs),
		DocumentsByState: map[string]int{},
		DocumentsByType:  map[string]int{},
		LastUpdated:      kb.UpdatedAt,
	}
	if len(docIDs) == 0 {
		return stats, nil
	}

	docs, err := s.store.Documents().ListByIDs(ctx, docIDs)
	if err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}
	for _, doc := range docs {
		stats.DocumentsByState[doc.Status]++
		stats.DocumentsByType[doc.Type]++
		if doc.Status == model.DocumentStatusCompleted {
			stats.FragmentCount += doc.ChunksProcessed
		}
	}
	return stats, nil
}

// getOwned 获取属主自己的知识库，用于变更类操作。
func (s *knowledgeBaseService) getOwned(ctx context.Context, ownerID, kbID string) (*model.KnowledgeBase, error) {
	kb, err := s.store.KnowledgeBases().Get(ctx, kbID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrKnowledgeBaseNotFound
		}
		return nil, errors.ErrDatabase.WithCause(err)
	}
	if kb.OwnerID != ownerID {
		return nil, errors.ErrKnowledgeBaseNotFound
	}
	return kb, nil
}
