package biz

import (
	"context"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/chatbase/internal/chatbase/metrics"
	"github.com/kart-io/chatbase/internal/chatbase/store"
	"github.com/kart-io/chatbase/pkg/errors"
	"github.com/kart-io/chatbase/pkg/llm"
)

// 检索默认参数。
const (
	// DefaultSearchLimit 默认返回结果数。
	DefaultSearchLimit = 5
	// MaxSearchLimit 单次检索返回结果数上限。
	MaxSearchLimit = 50
)

// SearchRequest 检索请求。
type SearchRequest struct {
	// Query 查询文本。
	Query string
	// Limit 返回结果数，(0, MaxSearchLimit]。
	Limit int
	// MinScore 相似度下限，[0, 1]。
	MinScore float32
	// DocumentIDs 限定的文档 ID 集合；为空不施加约束。
	DocumentIDs []string
}

// SearchResult 一条检索结果。
type SearchResult struct {
	FragmentID string         `json:"fragment_id"`
	DocumentID string         `json:"document_id"`
	Text       string         `json:"text"`
	Score      float32        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Retriever 负责片段检索：查询嵌入 + 向量相似度搜索。
type Retriever struct {
	vectors  store.VectorStore
	embedder llm.EmbeddingProvider
	metrics  *metrics.Metrics
}

// NewRetriever 创建检索器实例。
func NewRetriever(vectors store.VectorStore, embedder llm.EmbeddingProvider) *Retriever {
	return &Retriever{
		vectors:  vectors,
		embedder: embedder,
		metrics:  metrics.Get(),
	}
}

// Search 在属主可见的片段中检索。嵌入服务或向量库不可用时返回
// ErrRetrievalUnavailable，由调用方决定降级策略。
func (r *Retriever) Search(ctx context.Context, ownerID string, req *SearchRequest) ([]*SearchResult, error) {
	if err := validateSearchRequest(req); err != nil {
		return nil, err
	}

	start := time.Now()
	results, err := r.search(ctx, ownerID, req)
	r.metrics.RecordRetrieval(time.Since(start), err)
	return results, err
}

func (r *Retriever) search(ctx context.Context, ownerID string, req *SearchRequest) ([]*SearchResult, error) {
	embedding, err := r.embedder.EmbedSingle(ctx, req.Query)
	if err != nil {
		logger.Warnw("查询嵌入失败", "error", err.Error())
		return nil, errors.ErrRetrievalUnavailable.WithCause(err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	filters := &store.SearchFilters{
		OwnerID:     ownerID,
		DocumentIDs: req.DocumentIDs,
	}
	found, err := r.vectors.Search(ctx, embedding, limit, req.MinScore, filters)
	if err != nil {
		logger.Warnw("向量检索失败", "error", err.Error())
		return nil, errors.ErrRetrievalUnavailable.WithCause(err)
	}

	results := make([]*SearchResult, len(found))
	for i, f := range found {
		results[i] = &SearchResult{
			FragmentID: f.FragmentID,
			DocumentID: f.DocumentID,
			Text:       f.Text,
			Score:      f.Score,
			Metadata:   f.Metadata,
		}
	}
	return results, nil
}

func validateSearchRequest(req *SearchRequest) error {
	if req == nil || req.Query == "" {
		return errors.ErrValidation.WithMessage("query must not be empty")
	}
	if req.Limit < 0 || req.Limit > MaxSearchLimit {
		return errors.ErrValidation.WithMessagef("limit must be in (0, %d]", MaxSearchLimit)
	}
	if req.MinScore < 0 || req.MinScore > 1 {
		return errors.ErrValidation.WithMessage("min_score must be in [0, 1]")
	}
	return nil
}
