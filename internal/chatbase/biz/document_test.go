package biz

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/chatbase/internal/model"
	"github.com/kart-io/chatbase/pkg/errors"
)

const testOwner = "owner-1"

func newTestDocumentService(t *testing.T, embedder *fakeEmbedder, vectors *fakeVectorStore) DocumentService {
	t.Helper()
	return NewDocumentService(newTestStore(t), vectors, embedder, nil)
}

func TestDocumentService_Upload(t *testing.T) {
	svc := newTestDocumentService(t, &fakeEmbedder{}, newFakeVectorStore())
	ctx := context.Background()

	doc, err := svc.Upload(ctx, testOwner, &UploadRequest{
		Title:    "说明文档",
		Filename: "readme.txt",
		Data:     []byte("hello world"),
		Metadata: map[string]any{"source": "unit"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, testOwner, doc.OwnerID)
	assert.Equal(t, "说明文档", doc.Title)
	assert.Equal(t, model.DocumentTypeText, doc.Type)
	assert.Equal(t, model.DocumentStatusPending, doc.Status)
	assert.Equal(t, int64(11), doc.Size)

	// 可以按属主读回
	got, err := svc.Get(ctx, testOwner, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)

	// 其他属主不可见
	_, err = svc.Get(ctx, "other-owner", doc.ID)
	assert.True(t, errors.IsCode(err, errors.ErrDocumentNotFound.Code))
}

func TestDocumentService_Upload_Validation(t *testing.T) {
	svc := newTestDocumentService(t, &fakeEmbedder{}, newFakeVectorStore())
	ctx := context.Background()

	// 空内容
	_, err := svc.Upload(ctx, testOwner, &UploadRequest{Filename: "a.txt"})
	assert.True(t, errors.IsCode(err, errors.ErrValidation.Code))

	// 不允许的扩展名
	_, err = svc.Upload(ctx, testOwner, &UploadRequest{Filename: "a.exe", Data: []byte("x")})
	assert.True(t, errors.IsCode(err, errors.ErrUnsupportedFormat.Code))

	// 标题缺省使用文件名
	doc, err := svc.Upload(ctx, testOwner, &UploadRequest{Filename: "notes.md", Data: []byte("# notes")})
	require.NoError(t, err)
	assert.Equal(t, "notes.md", doc.Title)
}

func TestDocumentService_Process(t *testing.T) {
	vectors := newFakeVectorStore()
	svc := newTestDocumentService(t, &fakeEmbedder{}, vectors)
	ctx := context.Background()

	text := strings.Repeat("alpha beta gamma delta epsilon ", 20) // 620 字符
	doc, err := svc.Upload(ctx, testOwner, &UploadRequest{
		Filename: "corpus.txt",
		Data:     []byte(text),
	})
	require.NoError(t, err)

	result, err := svc.Process(ctx, testOwner, doc.ID, &ProcessOptions{ChunkSize: 200, ChunkOverlap: 40})
	require.NoError(t, err)

	assert.Equal(t, model.DocumentStatusCompleted, result.Status)
	assert.Greater(t, result.TotalChunks, 1)
	assert.Equal(t, result.TotalChunks, result.ChunksProcessed)
	assert.Zero(t, result.ChunksFailed)
	assert.Equal(t, result.ChunksProcessed, vectors.count())

	// 文档状态与统计已落库
	got, err := svc.Get(ctx, testOwner, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusCompleted, got.Status)
	assert.Equal(t, strings.TrimSpace(text), got.Content)
	assert.Equal(t, "test_fragments", got.VectorRef)
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.Metadata, "processed_at")
}

// 重新处理同一文档时片段 ID 不变，向量库中不产生重复片段。
func TestDocumentService_Process_Idempotent(t *testing.T) {
	vectors := newFakeVectorStore()
	svc := newTestDocumentService(t, &fakeEmbedder{}, vectors)
	ctx := context.Background()

	doc, err := svc.Upload(ctx, testOwner, &UploadRequest{
		Filename: "corpus.txt",
		Data:     []byte(strings.Repeat("word ", 100)),
	})
	require.NoError(t, err)

	first, err := svc.Process(ctx, testOwner, doc.ID, &ProcessOptions{ChunkSize: 100, ChunkOverlap: 20})
	require.NoError(t, err)
	countAfterFirst := vectors.count()

	second, err := svc.Process(ctx, testOwner, doc.ID, &ProcessOptions{ChunkSize: 100, ChunkOverlap: 20})
	require.NoError(t, err)

	assert.Equal(t, first.ChunksProcessed, second.ChunksProcessed)
	assert.Equal(t, countAfterFirst, vectors.count())

	got, err := svc.Get(ctx, testOwner, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
}

func TestDocumentService_Process_Conflict(t *testing.T) {
	st := newTestStore(t)
	svc := NewDocumentService(st, newFakeVectorStore(), &fakeEmbedder{}, nil)
	ctx := context.Background()

	doc, err := svc.Upload(ctx, testOwner, &UploadRequest{Filename: "a.txt", Data: []byte("content")})
	require.NoError(t, err)

	// 模拟另一个处理尝试占住文档
	doc.Status = model.DocumentStatusProcessing
	require.NoError(t, st.Documents().Update(ctx, doc))

	_, err = svc.Process(ctx, testOwner, doc.ID, nil)
	assert.True(t, errors.IsCode(err, errors.ErrConflict.Code))
}

func TestDocumentService_Process_NotFound(t *testing.T) {
	svc := newTestDocumentService(t, &fakeEmbedder{}, newFakeVectorStore())
	ctx := context.Background()

	_, err := svc.Process(ctx, testOwner, "missing-id", nil)
	assert.True(t, errors.IsCode(err, errors.ErrDocumentNotFound.Code))

	// 属主不匹配等同于不存在
	doc, err := svc.Upload(ctx, testOwner, &UploadRequest{Filename: "a.txt", Data: []byte("content")})
	require.NoError(t, err)
	_, err = svc.Process(ctx, "other-owner", doc.ID, nil)
	assert.True(t, errors.IsCode(err, errors.ErrDocumentNotFound.Code))
}

// 提取失败折叠进 failed 状态，Process 本身不返回错误。
func TestDocumentService_Process_ExtractionFailure(t *testing.T) {
	svc := newTestDocumentService(t, &fakeEmbedder{}, newFakeVectorStore())
	ctx := context.Background()

	doc, err := svc.Upload(ctx, testOwner, &UploadRequest{
		Filename: "broken.pdf",
		Data:     []byte("%PDF-1.7 garbage"),
	})
	require.NoError(t, err)

	result, err := svc.Process(ctx, testOwner, doc.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusFailed, result.Status)
	assert.NotEmpty(t, result.Message)

	got, err := svc.Get(ctx, testOwner, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusFailed, got.Status)
	assert.Equal(t, "extraction_error", got.Metadata["error"])
	assert.Contains(t, got.Metadata, "failed_at")

	// 失败后允许重试
	_, err = svc.Process(ctx, testOwner, doc.ID, nil)
	require.NoError(t, err)
	got, err = svc.Get(ctx, testOwner, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
}

// 片段级失败只计数，只要有片段成功文档仍记为 completed。
func TestDocumentService_Process_PartialFailure(t *testing.T) {
	vectors := newFakeVectorStore()
	embedder := &fakeEmbedder{failSubstrings: []string{"beta"}}
	svc := newTestDocumentService(t, embedder, vectors)
	ctx := context.Background()

	// 两个块：前一半 alpha，后一半 beta，beta 块嵌入失败
	text := strings.Repeat("alpha ", 10) + strings.Repeat("beta ", 12)
	doc, err := svc.Upload(ctx, testOwner, &UploadRequest{Filename: "a.txt", Data: []byte(text)})
	require.NoError(t, err)

	result, err := svc.Process(ctx, testOwner, doc.ID, &ProcessOptions{ChunkSize: 60, ChunkOverlap: 0})
	require.NoError(t, err)

	assert.Equal(t, model.DocumentStatusCompleted, result.Status)
	assert.Equal(t, 1, result.ChunksProcessed)
	assert.Equal(t, 1, result.ChunksFailed)
	assert.Equal(t, 2, result.TotalChunks)
	assert.Equal(t, 1, vectors.count())
}

func TestDocumentService_Process_AllFragmentsFail(t *testing.T) {
	svc := newTestDocumentService(t, &fakeEmbedder{failAll: true}, newFakeVectorStore())
	ctx := context.Background()

	doc, err := svc.Upload(ctx, testOwner, &UploadRequest{Filename: "a.txt", Data: []byte("some content")})
	require.NoError(t, err)

	result, err := svc.Process(ctx, testOwner, doc.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusFailed, result.Status)

	got, err := svc.Get(ctx, testOwner, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusFailed, got.Status)
}

func TestDocumentService_Delete(t *testing.T) {
	vectors := newFakeVectorStore()
	svc := newTestDocumentService(t, &fakeEmbedder{}, vectors)
	ctx := context.Background()

	doc, err := svc.Upload(ctx, testOwner, &UploadRequest{Filename: "a.txt", Data: []byte(strings.Repeat("word ", 50))})
	require.NoError(t, err)
	_, err = svc.Process(ctx, testOwner, doc.ID, nil)
	require.NoError(t, err)
	require.Greater(t, vectors.count(), 0)

	require.NoError(t, svc.Delete(ctx, testOwner, doc.ID))

	// 记录与向量片段都被清理
	_, err = svc.Get(ctx, testOwner, doc.ID)
	assert.True(t, errors.IsCode(err, errors.ErrDocumentNotFound.Code))
	assert.Equal(t, 0, vectors.count())
}

func TestDocumentService_List(t *testing.T) {
	svc := newTestDocumentService(t, &fakeEmbedder{}, newFakeVectorStore())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Upload(ctx, testOwner, &UploadRequest{Filename: "a.txt", Data: []byte("content")})
		require.NoError(t, err)
	}
	_, err := svc.Upload(ctx, "other-owner", &UploadRequest{Filename: "b.txt", Data: []byte("content")})
	require.NoError(t, err)

	docs, total, err := svc.List(ctx, testOwner, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, docs, 2)
}
