package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/kart-io/chatbase/internal/model"
	"github.com/kart-io/chatbase/pkg/component/milvus"
)

const (
	fragmentPKField   = "fragment_id"
	fragmentTextField = "text"

	// maxFetchMultiplier 控制为满足 minScore 过滤预取的候选倍数。
	maxFetchMultiplier = 2
)

// MilvusStore 实现基于 Milvus 的向量存储。
type MilvusStore struct {
	client     *milvus.Client
	collection string
}

var _ VectorStore = (*MilvusStore)(nil)

// NewMilvusStore 创建 Milvus 存储实例。
func NewMilvusStore(client *milvus.Client, collection string) *MilvusStore {
	return &MilvusStore{
		client:     client,
		collection: collection,
	}
}

// EnsureCollection 确保片段集合存在。
func (s *MilvusStore) EnsureCollection(ctx context.Context, dimension int) error {
	schema := &milvus.CollectionSchema{
		Name:        s.collection,
		Description: "chatbase document fragments",
		Dimension:   dimension,
		PKField:     fragmentPKField,
		PKMaxLen:    128,
		TextField:   fragmentTextField,
		TextMaxLen:  65535,
		MetaFields: []milvus.MetaField{
			{Name: "document_id", DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: "owner_id", DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: "knowledge_base_id", DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: "chunk_index", DataType: entity.FieldTypeInt64},
			{Name: "start_pos", DataType: entity.FieldTypeInt64},
			{Name: "end_pos", DataType: entity.FieldTypeInt64},
		},
	}
	return s.client.CreateCollection(ctx, schema)
}

// Upsert 幂等写入片段。
func (s *MilvusStore) Upsert(ctx context.Context, fragments []*model.Fragment) error {
	if len(fragments) == 0 {
		return nil
	}

	data := &milvus.UpsertData{
		IDs:        make([]string, len(fragments)),
		Embeddings: make([][]float32, len(fragments)),
		Texts:      make([]string, len(fragments)),
		Metadata: map[string][]any{
			"document_id":       make([]any, len(fragments)),
			"owner_id":          make([]any, len(fragments)),
			"knowledge_base_id": make([]any, len(fragments)),
			"chunk_index":       make([]any, len(fragments)),
			"start_pos":         make([]any, len(fragments)),
			"end_pos":           make([]any, len(fragments)),
		},
	}

	for i, f := range fragments {
		data.IDs[i] = f.ID
		data.Embeddings[i] = f.Embedding
		data.Texts[i] = f.Text
		data.Metadata["document_id"][i] = f.DocumentID
		data.Metadata["owner_id"][i] = f.OwnerID
		data.Metadata["knowledge_base_id"][i] = f.KnowledgeBaseID
		data.Metadata["chunk_index"][i] = int64(f.Index)
		data.Metadata["start_pos"][i] = int64(f.Start)
		data.Metadata["end_pos"][i] = int64(f.End)
	}

	if err := s.client.Upsert(ctx, s.collection, fragmentPKField, fragmentTextField, data); err != nil {
		return fmt.Errorf("failed to upsert fragments: %w", err)
	}
	return nil
}

// buildFilterExpr 将 SearchFilters 编译为 Milvus 布尔表达式。
func buildFilterExpr(filters *SearchFilters) string {
	if filters == nil {
		return ""
	}

	var conds []string
	if filters.OwnerID != "" {
		conds = append(conds, fmt.Sprintf("owner_id == %q", filters.OwnerID))
	}
	if filters.KnowledgeBaseID != "" {
		conds = append(conds, fmt.Sprintf("knowledge_base_id == %q", filters.KnowledgeBaseID))
	}
	if len(filters.DocumentIDs) > 0 {
		quoted := make([]string, len(filters.DocumentIDs))
		for i, id := range filters.DocumentIDs {
			quoted[i] = fmt.Sprintf("%q", id)
		}
		conds = append(conds, fmt.Sprintf("document_id in [%s]", strings.Join(quoted, ", ")))
	}

	return strings.Join(conds, " and ")
}

// Search 执行向量相似度搜索，客户端侧应用 minScore 截断。
func (s *MilvusStore) Search(ctx context.Context, embedding []float32, topK int, minScore float32, filters *SearchFilters) ([]*VectorSearchResult, error) {
	expr := buildFilterExpr(filters)
	outputFields := []string{"document_id", fragmentTextField, "chunk_index", "start_pos", "end_pos", "knowledge_base_id"}

	// 预取多于 topK 的候选，minScore 截断后仍可能凑满 topK 条
	fetchK := topK * maxFetchMultiplier
	results, err := s.client.Search(ctx, s.collection, embedding, fetchK, expr, outputFields)
	if err != nil {
		return nil, fmt.Errorf("failed to search milvus: %w", err)
	}

	searchResults := make([]*VectorSearchResult, 0, topK)
	for _, r := range results {
		if r.Score < minScore {
			continue
		}

		sr := &VectorSearchResult{
			FragmentID: r.ID,
			Score:      r.Score,
			Metadata:   r.Metadata,
		}
		if docID, ok := r.Metadata["document_id"].(string); ok {
			sr.DocumentID = docID
		}
		if text, ok := r.Metadata[fragmentTextField].(string); ok {
			sr.Text = text
		}

		searchResults = append(searchResults, sr)
		if len(searchResults) >= topK {
			break
		}
	}

	return searchResults, nil
}

// DeleteFragment 删除单个片段。
func (s *MilvusStore) DeleteFragment(ctx context.Context, fragmentID string) error {
	expr := fmt.Sprintf("%s == %q", fragmentPKField, fragmentID)
	return s.client.Delete(ctx, s.collection, expr)
}

// DeleteByDocument 删除文档的全部片段。
func (s *MilvusStore) DeleteByDocument(ctx context.Context, documentID string) error {
	expr := fmt.Sprintf("document_id == %q", documentID)
	return s.client.Delete(ctx, s.collection, expr)
}

// Collection 返回片段集合名。
func (s *MilvusStore) Collection() string {
	return s.collection
}

// Stats 返回集合中的片段总数。
func (s *MilvusStore) Stats(ctx context.Context) (int64, error) {
	return s.client.GetCollectionStats(ctx, s.collection)
}

// Close 关闭 Milvus 连接。
func (s *MilvusStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}
