package biz

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/chatbase/internal/model"
	"github.com/kart-io/chatbase/pkg/errors"
)

func TestRetriever_Search(t *testing.T) {
	vectors := newFakeVectorStore()
	r := NewRetriever(vectors, &fakeEmbedder{})
	ctx := context.Background()

	require.NoError(t, vectors.Upsert(ctx, []*model.Fragment{
		{ID: "doc-1:0", DocumentID: "doc-1", OwnerID: testOwner, Text: "alpha"},
		{ID: "doc-1:1", DocumentID: "doc-1", OwnerID: testOwner, Text: "beta"},
		{ID: "doc-2:0", DocumentID: "doc-2", OwnerID: "other-owner", Text: "gamma"},
	}))

	// 检索只返回属主自己的片段
	results, err := r.Search(ctx, testOwner, &SearchRequest{Query: "alpha"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, "doc-1", res.DocumentID)
	}

	// 文档集合过滤
	results, err = r.Search(ctx, testOwner, &SearchRequest{
		Query:       "alpha",
		DocumentIDs: []string{"doc-404"},
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetriever_Search_Validation(t *testing.T) {
	r := NewRetriever(newFakeVectorStore(), &fakeEmbedder{})
	ctx := context.Background()

	cases := []*SearchRequest{
		nil,
		{Query: ""},
		{Query: "q", Limit: MaxSearchLimit + 1},
		{Query: "q", Limit: -1},
		{Query: "q", MinScore: 1.5},
		{Query: "q", MinScore: -0.1},
	}
	for _, req := range cases {
		_, err := r.Search(ctx, testOwner, req)
		assert.True(t, errors.IsCode(err, errors.ErrValidation.Code), "request %+v", req)
	}
}

// 嵌入或向量库不可用映射为 ErrRetrievalUnavailable。
func TestRetriever_Search_Unavailable(t *testing.T) {
	ctx := context.Background()

	r := NewRetriever(newFakeVectorStore(), &fakeEmbedder{failAll: true})
	_, err := r.Search(ctx, testOwner, &SearchRequest{Query: "q"})
	assert.True(t, errors.IsCode(err, errors.ErrRetrievalUnavailable.Code))

	vectors := newFakeVectorStore()
	vectors.searchErr = fmt.Errorf("milvus down")
	r = NewRetriever(vectors, &fakeEmbedder{})
	_, err = r.Search(ctx, testOwner, &SearchRequest{Query: "q"})
	assert.True(t, errors.IsCode(err, errors.ErrRetrievalUnavailable.Code))
}
