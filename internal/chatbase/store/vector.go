package store

import (
	"context"

	"github.com/kart-io/chatbase/internal/model"
)

// SearchFilters 是按元数据字段的精确匹配合取；零值字段不施加约束。
type SearchFilters struct {
	// OwnerID 限定文档属主。
	OwnerID string
	// KnowledgeBaseID 限定知识库。
	KnowledgeBaseID string
	// DocumentIDs 限定文档 ID 集合；空切片不施加约束。
	DocumentIDs []string
}

// VectorSearchResult 表示一条向量检索结果。
type VectorSearchResult struct {
	// FragmentID 片段 ID。
	FragmentID string
	// DocumentID 所属文档 ID。
	DocumentID string
	// Text 片段文本。
	Text string
	// Score 相似度分数，越大越相似。
	Score float32
	// Metadata 片段元数据。
	Metadata map[string]any
}

// VectorStore 定义向量存储接口。
type VectorStore interface {
	// EnsureCollection 确保集合存在（幂等）。
	EnsureCollection(ctx context.Context, dimension int) error

	// Upsert 幂等写入片段；相同片段 ID 的重复写入覆盖旧值。
	Upsert(ctx context.Context, fragments []*model.Fragment) error

	// Search 向量相似度搜索，返回 score >= minScore 的至多 topK 条结果，
	// 按分数降序排列。
	Search(ctx context.Context, embedding []float32, topK int, minScore float32, filters *SearchFilters) ([]*VectorSearchResult, error)

	// DeleteFragment 删除单个片段；片段不存在时为空操作。
	DeleteFragment(ctx context.Context, fragmentID string) error

	// DeleteByDocument 删除文档的全部片段；文档无片段时为空操作。
	DeleteByDocument(ctx context.Context, documentID string) error

	// Collection 返回片段集合名。
	Collection() string

	// Stats 返回集合中的片段总数。
	Stats(ctx context.Context) (int64, error)

	// Close 关闭连接。
	Close(ctx context.Context) error
}
