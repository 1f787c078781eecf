package biz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kart-io/chatbase/internal/chatbase/store"
	"github.com/kart-io/chatbase/internal/model"
	"github.com/kart-io/chatbase/pkg/llm"
	"github.com/kart-io/chatbase/pkg/utils/id"
)

// newTestStore 创建基于内存 SQLite 的关系存储，每个测试使用独立库。
func newTestStore(t *testing.T) store.IStore {
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
	return store.NewStore(db)
}

// fakeEmbedder 确定性的嵌入供应商。包含 failSubstrings 中任一子串的
// 文本返回错误。
type fakeEmbedder struct {
	mu             sync.Mutex
	calls          int
	failSubstrings []string
	failAll        bool
}

var _ llm.EmbeddingProvider = (*fakeEmbedder)(nil)

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		v, err := f.EmbedSingle(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.failAll {
		return nil, fmt.Errorf("embedding backend unavailable")
	}
	for _, sub := range f.failSubstrings {
		if strings.Contains(text, sub) {
			return nil, fmt.Errorf("embedding backend unavailable")
		}
	}
	return []float32{float32(len(text)), 1, 0}, nil
}

func (f *fakeEmbedder) Name() string { return "fake-embedder" }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeVectorStore 内存向量存储。searchResults 非空时 Search 返回脚本化
// 结果，否则按过滤条件返回已写入的片段。
type fakeVectorStore struct {
	mu            sync.Mutex
	fragments     map[string]*model.Fragment
	searchResults []*store.VectorSearchResult
	searchErr     error
	upsertErr     error
}

var _ store.VectorStore = (*fakeVectorStore)(nil)

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{fragments: make(map[string]*model.Fragment)}
}

func (f *fakeVectorStore) EnsureCollection(context.Context, int) error { return nil }

func (f *fakeVectorStore) Upsert(_ context.Context, fragments []*model.Fragment) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, frag := range fragments {
		f.fragments[frag.ID] = frag
	}
	return nil
}

func (f *fakeVectorStore) Search(_ context.Context, _ []float32, topK int, minScore float32, filters *store.SearchFilters) ([]*store.VectorSearchResult, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.searchResults != nil {
		results := f.searchResults
		if len(results) > topK {
			results = results[:topK]
		}
		return results, nil
	}

	allowed := map[string]bool{}
	for _, docID := range filters.DocumentIDs {
		allowed[docID] = true
	}

	var results []*store.VectorSearchResult
	for _, frag := range f.fragments {
		if filters.OwnerID != "" && frag.OwnerID != filters.OwnerID {
			continue
		}
		if len(allowed) > 0 && !allowed[frag.DocumentID] {
			continue
		}
		score := float32(0.9)
		if score < minScore {
			continue
		}
		results = append(results, &store.VectorSearchResult{
			FragmentID: frag.ID,
			DocumentID: frag.DocumentID,
			Text:       frag.Text,
			Score:      score,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].FragmentID < results[j].FragmentID })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (f *fakeVectorStore) DeleteFragment(_ context.Context, fragmentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.fragments, fragmentID)
	return nil
}

func (f *fakeVectorStore) DeleteByDocument(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for fid, frag := range f.fragments {
		if frag.DocumentID == documentID {
			delete(f.fragments, fid)
		}
	}
	return nil
}

func (f *fakeVectorStore) Collection() string { return "test_fragments" }

func (f *fakeVectorStore) Stats(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.fragments)), nil
}

func (f *fakeVectorStore) Close(context.Context) error { return nil }

func (f *fakeVectorStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fragments)
}
