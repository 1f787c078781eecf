package biz

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	"github.com/panjf2000/ants/v2"
	"gorm.io/gorm"

	"github.com/kart-io/chatbase/internal/chatbase/metrics"
	"github.com/kart-io/chatbase/internal/chatbase/store"
	"github.com/kart-io/chatbase/internal/model"
	"github.com/kart-io/chatbase/pkg/errors"
	"github.com/kart-io/chatbase/pkg/llm"
	"github.com/kart-io/chatbase/pkg/utils/id"
)

// 文档处理默认参数。
const (
	// DefaultEmbedConcurrency 单个文档内片段嵌入/写入的并发上限。
	DefaultEmbedConcurrency = 4

	// maxUploadSize 上传文件大小上限（32 MiB）。
	maxUploadSize = 32 << 20
)

// allowedExtensions 上传边界允许的文件扩展名。
var allowedExtensions = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".docx": true,
	".md":   true,
}

// UploadRequest 上传文档请求。
type UploadRequest struct {
	Title    string
	Filename string
	Data     []byte
	Metadata map[string]any
}

// ProcessOptions 文档处理参数。零值字段使用默认配置。
type ProcessOptions struct {
	ChunkSize    int
	ChunkOverlap int
	Concurrency  int
	Metadata     map[string]any
}

// ProcessResult 文档处理结果。process 的契约是总是返回结果对象，
// 提取/分块/嵌入阶段的失败折叠进文档的 failed 状态而不向调用方抛错。
type ProcessResult struct {
	Status          string `json:"status"`
	ChunksProcessed int    `json:"chunks_processed"`
	ChunksFailed    int    `json:"chunks_failed"`
	TotalChunks     int    `json:"total_chunks"`
	Message         string `json:"message,omitempty"`
	ElapsedMS       int64  `json:"elapsed_ms"`
}

// DocumentService 定义文档生命周期操作。
type DocumentService interface {
	// Upload 校验并保存上传的文档，初始状态为 pending。
	Upload(ctx context.Context, ownerID string, req *UploadRequest) (*model.Document, error)

	// Get 按属主获取文档。
	Get(ctx context.Context, ownerID, docID string) (*model.Document, error)

	// List 按属主分页列出文档。
	List(ctx context.Context, ownerID string, offset, limit int) ([]*model.Document, int64, error)

	// Delete 删除文档及其在向量库中的全部片段。
	Delete(ctx context.Context, ownerID, docID string) error

	// Process 执行文档处理流水线：提取 → 分块 → 嵌入 → 向量写入。
	// 同一文档同一时刻只允许一个处理尝试，重复触发返回 ErrConflict。
	Process(ctx context.Context, ownerID, docID string, opts *ProcessOptions) (*ProcessResult, error)
}

// documentService 实现 DocumentService。
type documentService struct {
	store     store.IStore
	vectors   store.VectorStore
	embedder  llm.EmbeddingProvider
	extractor *Extractor
	pool      *ants.Pool
	metrics   *metrics.Metrics
}

var _ DocumentService = (*documentService)(nil)

// NewDocumentService 创建文档服务。pool 为嵌入任务的共享协程池，
// 传 nil 时退化为串行处理。
func NewDocumentService(s store.IStore, vectors store.VectorStore, embedder llm.EmbeddingProvider, pool *ants.Pool) DocumentService {
	return &documentService{
		store:     s,
		vectors:   vectors,
		embedder:  embedder,
		extractor: NewExtractor(),
		pool:      pool,
		metrics:   metrics.Get(),
	}
}

// Upload 校验并保存上传的文档。
func (s *documentService) Upload(ctx context.Context, ownerID string, req *UploadRequest) (*model.Document, error) {
	if req == nil || len(req.Data) == 0 {
		return nil, errors.ErrValidation.WithMessage("document data is empty")
	}
	if len(req.Data) > maxUploadSize {
		return nil, errors.ErrValidation.WithMessagef("document exceeds size limit of %d bytes", maxUploadSize)
	}

	ext := strings.ToLower(filepath.Ext(req.Filename))
	if !allowedExtensions[ext] {
		return nil, errors.ErrUnsupportedFormat.WithMessagef("file extension %q is not allowed", ext)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = req.Filename
	}

	doc := &model.Document{
		ID:       id.New(),
		OwnerID:  ownerID,
		Title:    title,
		Source:   req.Filename,
		Type:     s.extractor.DetectType(req.Data, req.Filename),
		Size:     int64(len(req.Data)),
		Data:     req.Data,
		Status:   model.DocumentStatusPending,
		Metadata: req.Metadata,
	}

	if err := s.store.Documents().Create(ctx, doc); err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}

	logger.Infow("文档上传完成",
		"document_id", doc.ID,
		"owner_id", ownerID,
		"type", doc.Type,
		"size", doc.Size,
	)
	return doc, nil
}

func (s *documentService) Get(ctx context.Context, ownerID, docID string) (*model.Document, error) {
	doc, err := s.store.Documents().Get(ctx, ownerID, docID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrDocumentNotFound
		}
		return nil, errors.ErrDatabase.WithCause(err)
	}
	return doc, nil
}

func (s *documentService) List(ctx context.Context, ownerID string, offset, limit int) ([]*model.Document, int64, error) {
	docs, total, err := s.store.Documents().List(ctx, ownerID, offset, limit)
	if err != nil {
		return nil, 0, errors.ErrDatabase.WithCause(err)
	}
	return docs, total, nil
}

// Delete 删除文档，先清理向量库中的片段再删除记录。
func (s *documentService) Delete(ctx context.Context, ownerID, docID string) error {
	if _, err := s.Get(ctx, ownerID, docID); err != nil {
		return err
	}

	if err := s.vectors.DeleteByDocument(ctx, docID); err != nil {
		// 向量清理失败不阻断删除，留待后续按 document_id 对账回收
		logger.Warnw("删除文档片段失败", "document_id", docID, "error", err.Error())
	}

	if err := s.store.Documents().Delete(ctx, ownerID, docID); err != nil {
		return errors.ErrDatabase.WithCause(err)
	}
	return nil
}

// Process 执行文档处理流水线。
func (s *documentService) Process(ctx context.Context, ownerID, docID string, opts *ProcessOptions) (*ProcessResult, error) {
	if opts == nil {
		opts = &ProcessOptions{}
	}

	start := time.Now()

	// 1. 在事务内以更新锁占住文档行，拒绝并发的重复处理。
	doc, err := s.claimForProcessing(ctx, ownerID, docID, opts)
	if err != nil {
		return nil, err
	}

	// 2. 提取文本。失败折叠为 failed 状态。
	text, err := s.extractor.Extract(doc.Data, doc.Type)
	if err != nil {
		return s.failDocument(ctx, doc, start, err), nil
	}

	// 3. 分块。
	chunker := NewChunker(opts.ChunkSize, opts.ChunkOverlap)
	chunks := chunker.Split(text)
	if len(chunks) == 0 {
		return s.failDocument(ctx, doc, start, errors.ErrEmptyContent.WithMessage("chunking produced no fragments")), nil
	}

	// 4. 并发嵌入并写入向量库。片段级失败只计数，全部失败才算文档失败。
	processed, failed := s.embedAndIndex(ctx, doc, chunks, opts)

	doc.ChunksProcessed = processed
	doc.ChunksFailed = failed
	doc.ChunksTotal = len(chunks)

	if processed == 0 {
		return s.failDocument(ctx, doc, start, errors.ErrInternal.WithMessage("all fragments failed to embed")), nil
	}

	// 5. 标记完成，保存提取文本与统计。
	doc.Status = model.DocumentStatusCompleted
	doc.Content = text
	doc.VectorRef = s.vectors.Collection()
	mergeMetadata(doc, map[string]any{
		"processed_at": time.Now().UTC().Format(time.RFC3339),
		"elapsed_ms":   time.Since(start).Milliseconds(),
	})
	if err := s.store.Documents().Update(ctx, doc); err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}

	s.metrics.RecordDocumentProcessed(processed, failed, nil)
	logger.Infow("文档处理完成",
		"document_id", doc.ID,
		"chunks_processed", processed,
		"chunks_failed", failed,
		"total_chunks", len(chunks),
		"elapsed", time.Since(start).String(),
	)

	return &ProcessResult{
		Status:          model.DocumentStatusCompleted,
		ChunksProcessed: processed,
		ChunksFailed:    failed,
		TotalChunks:     len(chunks),
		ElapsedMS:       time.Since(start).Milliseconds(),
	}, nil
}

// claimForProcessing 在事务内锁定文档行并将状态切换为 processing。
func (s *documentService) claimForProcessing(ctx context.Context, ownerID, docID string, opts *ProcessOptions) (*model.Document, error) {
	var doc *model.Document
	err := s.store.TX(ctx, func(tx store.IStore) error {
		locked, err := tx.Documents().GetForUpdate(ctx, docID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.ErrDocumentNotFound
			}
			return errors.ErrDatabase.WithCause(err)
		}
		if locked.OwnerID != ownerID {
			return errors.ErrDocumentNotFound
		}
		if locked.Status == model.DocumentStatusProcessing {
			return errors.ErrConflict.WithMessage("document is already being processed")
		}

		locked.Status = model.DocumentStatusProcessing
		locked.Attempts++
		mergeMetadata(locked, map[string]any{
			"last_attempt_at": time.Now().UTC().Format(time.RFC3339),
		})
		if opts.Metadata != nil {
			mergeMetadata(locked, opts.Metadata)
		}
		if err := tx.Documents().Update(ctx, locked); err != nil {
			return errors.ErrDatabase.WithCause(err)
		}
		doc = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// embedAndIndex 将块转换为片段并并发嵌入/写入，返回成功与失败计数。
func (s *documentService) embedAndIndex(ctx context.Context, doc *model.Document, chunks []Chunk, opts *ProcessOptions) (int, int) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultEmbedConcurrency
	}

	var processed, failed atomic.Int64
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	for _, chunk := range chunks {
		fragment := &model.Fragment{
			ID:         id.Fragment(doc.ID, chunk.Index),
			DocumentID: doc.ID,
			OwnerID:    doc.OwnerID,
			Index:      chunk.Index,
			Text:       chunk.Text,
			Start:      chunk.Start,
			End:        chunk.End,
		}

		task := func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.indexFragment(ctx, fragment); err != nil {
				failed.Add(1)
				logger.Warnw("片段处理失败",
					"fragment_id", fragment.ID,
					"error", err.Error(),
				)
				return
			}
			processed.Add(1)
		}

		wg.Add(1)
		sem <- struct{}{}
		if s.pool != nil {
			if err := s.pool.Submit(task); err != nil {
				// 池不可用时降级到同步执行
				task()
			}
		} else {
			task()
		}
	}
	wg.Wait()

	return int(processed.Load()), int(failed.Load())
}

// indexFragment 嵌入单个片段并幂等写入向量库。
func (s *documentService) indexFragment(ctx context.Context, fragment *model.Fragment) error {
	embedding, err := s.embedder.EmbedSingle(ctx, fragment.Text)
	if err != nil {
		return fmt.Errorf("embed fragment: %w", err)
	}
	fragment.Embedding = embedding

	if err := s.vectors.Upsert(ctx, []*model.Fragment{fragment}); err != nil {
		return fmt.Errorf("upsert fragment: %w", err)
	}
	return nil
}

// failDocument 将处理失败折叠进文档状态并返回结果对象。
func (s *documentService) failDocument(ctx context.Context, doc *model.Document, start time.Time, cause error) *ProcessResult {
	doc.Status = model.DocumentStatusFailed
	mergeMetadata(doc, map[string]any{
		"error":     errorType(cause),
		"message":   cause.Error(),
		"failed_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err := s.store.Documents().Update(ctx, doc); err != nil {
		logger.Errorw("保存失败状态失败", "document_id", doc.ID, "error", err.Error())
	}

	s.metrics.RecordDocumentProcessed(doc.ChunksProcessed, doc.ChunksFailed, cause)
	logger.Warnw("文档处理失败",
		"document_id", doc.ID,
		"attempt", doc.Attempts,
		"error", cause.Error(),
	)

	return &ProcessResult{
		Status:          model.DocumentStatusFailed,
		ChunksProcessed: doc.ChunksProcessed,
		ChunksFailed:    doc.ChunksFailed,
		TotalChunks:     doc.ChunksTotal,
		Message:         cause.Error(),
		ElapsedMS:       time.Since(start).Milliseconds(),
	}
}

// mergeMetadata 合并元数据字段。
func mergeMetadata(doc *model.Document, fields map[string]any) {
	if doc.Metadata == nil {
		doc.Metadata = model.JSONMap{}
	}
	for k, v := range fields {
		doc.Metadata[k] = v
	}
}

// errorType 返回错误的分类名，用于失败元数据。
func errorType(err error) string {
	switch {
	case errors.Is(err, errors.ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, errors.ErrEmptyContent):
		return "empty_content"
	case errors.Is(err, errors.ErrExtraction):
		return "extraction_error"
	default:
		return "internal_error"
	}
}
