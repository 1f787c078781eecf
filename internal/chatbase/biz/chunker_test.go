package biz

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_ShortText(t *testing.T) {
	c := NewChunker(1000, 200)
	chunks := c.Split("hello world")

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "hello world", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 11, chunks[0].End)
}

func TestChunker_EmptyText(t *testing.T) {
	c := NewChunker(1000, 200)
	assert.Nil(t, c.Split(""))
	assert.Nil(t, c.Split("   \n\t  "))
}

// 2400 字符文本按 size=1000/overlap=200 切分应产生 3 个块，
// 区间近似 [0,1000) [800,1800) [1600,2400)。
func TestChunker_OverlapSpans(t *testing.T) {
	// 构造 2400 字符的带词边界文本："word word word ..."
	word := "word "
	text := strings.Repeat(word, 480) // 2400 字符
	c := NewChunker(1000, 200)

	chunks := c.Split(text)
	require.Len(t, chunks, 3)

	assert.Equal(t, 0, chunks[0].Start)
	assert.InDelta(t, 1000, chunks[0].End, 10)
	assert.InDelta(t, 800, chunks[1].Start, 10)
	assert.InDelta(t, 1800, chunks[1].End, 10)
	assert.InDelta(t, 1600, chunks[2].Start, 10)
	assert.Equal(t, 2400, chunks[2].End)

	// 相邻块尾部与头部重叠
	for i := 1; i < len(chunks); i++ {
		assert.Less(t, chunks[i].Start, chunks[i-1].End)
	}
}

// 块区间应无间隙覆盖整个文本。
func TestChunker_Coverage(t *testing.T) {
	texts := []string{
		strings.Repeat("lorem ipsum dolor sit amet ", 100),
		strings.Repeat("无词边界的连续中文文本", 120),
		strings.Repeat("mixed 中英文 content with spaces ", 80),
	}

	for _, text := range texts {
		c := NewChunker(300, 60)
		chunks := c.Split(text)
		require.NotEmpty(t, chunks)

		runes := []rune(text)
		assert.Equal(t, 0, chunks[0].Start)
		assert.Equal(t, len(runes), chunks[len(chunks)-1].End)
		for i := 1; i < len(chunks); i++ {
			// 无间隙：下一块起点不晚于上一块终点
			assert.LessOrEqual(t, chunks[i].Start, chunks[i-1].End)
			// 有序且前进
			assert.Greater(t, chunks[i].Start, chunks[i-1].Start)
			assert.Equal(t, i, chunks[i].Index)
		}
	}
}

// 块文本必须与源文本的对应区间一致。
func TestChunker_SpansMatchText(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta ", 60)
	runes := []rune(text)

	c := NewChunker(200, 40)
	for _, chunk := range c.Split(text) {
		assert.Equal(t, string(runes[chunk.Start:chunk.End]), chunk.Text)
	}
}

// 即使 overlap >= size 也必须在有限步内终止。
func TestChunker_Termination(t *testing.T) {
	text := strings.Repeat("x", 5000)

	cases := []struct {
		size    int
		overlap int
	}{
		{100, 99},
		{100, 100},  // 构造时收缩为 99
		{100, 1000}, // 构造时收缩为 99
		{10, 0},
		{1, 0},
	}
	for _, tc := range cases {
		c := NewChunker(tc.size, tc.overlap)
		chunks := c.Split(text)
		require.NotEmpty(t, chunks)
		// 上界：len / (size - overlap) + 1，收缩后步长至少为 1
		assert.LessOrEqual(t, len(chunks), len(text)+1)
		assert.Equal(t, len(chunks)-1, chunks[len(chunks)-1].Index)
	}
}

// 窗口右边界落在词中间时优先回退到空白处断开。
func TestChunker_WordBoundarySnap(t *testing.T) {
	// 100 字符窗口会落在第二个长词中间
	text := strings.Repeat("abcdefghi ", 9) + "supercalifragilistic " + strings.Repeat("word ", 40)
	c := NewChunker(100, 10)

	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)

	runes := []rune(text)
	for _, chunk := range chunks[:len(chunks)-1] {
		// 块末尾或其后紧邻处应是空白（词边界）
		last := rune(0)
		if chunk.End > 0 {
			last = runes[chunk.End-1]
		}
		next := runes[chunk.End]
		assert.True(t, last == ' ' || next == ' ',
			"chunk ending at %d should sit on a word boundary", chunk.End)
	}
}

// 纯空白的窗口被丢弃。
func TestChunker_DropsBlankChunks(t *testing.T) {
	text := "alpha" + strings.Repeat(" ", 300) + "omega"
	c := NewChunker(100, 10)

	chunks := c.Split(text)
	for _, chunk := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(chunk.Text))
	}
}

func TestNewChunker_InvalidConfig(t *testing.T) {
	c := NewChunker(0, -1)
	assert.Equal(t, DefaultChunkSize, c.size)
	assert.Equal(t, DefaultChunkOverlap, c.overlap)

	c = NewChunker(100, 200)
	assert.Equal(t, 99, c.overlap)
}
