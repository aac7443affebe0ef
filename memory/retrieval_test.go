package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brooksjoey/MnemosyneOS/types"
)

func TestSearch_RanksBySimilarity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.mustIngest("agents", "quantum entanglement links particle states", "api", "")
	target := h.mustIngest("agents", "gardening tips for early spring", "api", "")
	h.mustIngest("agents", "the stock market closed higher today", "api", "")

	hits, err := h.svc.Search(ctx, SearchRequest{
		Namespace: "agents",
		Query:     "gardening tips for early spring",
		K:         3,
	})
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, target.ID, hits[0].Record.ID)
	assert.Greater(t, hits[0].Score, 0.99, "identical text embeds to an identical vector")
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	assert.GreaterOrEqual(t, hits[1].Score, hits[2].Score)
}

func TestSearch_NamespaceIsolation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.mustIngest("alpha", "shared secret of namespace alpha", "api", "")
	other := h.mustIngest("beta", "completely unrelated beta content", "api", "")

	hits, err := h.svc.Search(ctx, SearchRequest{
		Namespace: "beta",
		Query:     "shared secret of namespace alpha",
		K:         10,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, other.ID, hits[0].Record.ID)
}

func TestSearch_UnpinnedNamespaceReturnsEmpty(t *testing.T) {
	h := newHarness(t)

	hits, err := h.svc.Search(context.Background(), SearchRequest{
		Namespace: "untouched",
		Query:     "anything at all",
	})
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
}

func TestSearch_LayerFilter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.mustIngest("agents", "the quarterly report is due friday", "api", types.LayerSemantic)
	h.mustIngest("agents", "the quarterly report is due friday", "api", types.LayerEpisodic)

	all, err := h.svc.Search(ctx, SearchRequest{
		Namespace: "agents",
		Query:     "the quarterly report is due friday",
		K:         10,
	})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	episodic, err := h.svc.Search(ctx, SearchRequest{
		Namespace: "agents",
		Query:     "the quarterly report is due friday",
		K:         10,
		Layers:    []types.MemoryLayer{types.LayerEpisodic},
	})
	require.NoError(t, err)
	require.Len(t, episodic, 1)
	assert.Equal(t, types.LayerEpisodic, episodic[0].Record.Layer)

	none, err := h.svc.Search(ctx, SearchRequest{
		Namespace: "agents",
		Query:     "the quarterly report is due friday",
		K:         10,
		Layers:    []types.MemoryLayer{types.LayerProcedural},
	})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSearch_MinScoreFiltersWeakHits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	exact := h.mustIngest("agents", "reset the router by holding the button", "api", "")
	h.mustIngest("agents", "chocolate cake needs forty minutes in the oven", "api", "")

	hits, err := h.svc.Search(ctx, SearchRequest{
		Namespace: "agents",
		Query:     "reset the router by holding the button",
		K:         10,
		MinScore:  0.95,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, exact.ID, hits[0].Record.ID)
}

func TestSearch_KDefaultsAndClamp(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Config.Memory.DefaultK = 2
		o.Config.Memory.MaxK = 3
	})
	ctx := context.Background()

	texts := []string{
		"first memory about oceans",
		"second memory about rivers",
		"third memory about mountains",
		"fourth memory about deserts",
		"fifth memory about forests",
	}
	for _, text := range texts {
		h.mustIngest("agents", text, "api", "")
	}

	defaulted, err := h.svc.Search(ctx, SearchRequest{Namespace: "agents", Query: "memory about water"})
	require.NoError(t, err)
	assert.Len(t, defaulted, 2, "k=0 falls back to the default")

	clamped, err := h.svc.Search(ctx, SearchRequest{Namespace: "agents", Query: "memory about water", K: 100})
	require.NoError(t, err)
	assert.Len(t, clamped, 3, "oversized k clamps to the maximum")

	one, err := h.svc.Search(ctx, SearchRequest{Namespace: "agents", Query: "memory about water", K: 1})
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestSearch_TieBreaksByRecency(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// 同一文本进两层，向量完全一致，得分并列
	older := h.mustIngest("agents", "identical content twice over", "api", types.LayerSemantic)
	time.Sleep(25 * time.Millisecond)
	newer := h.mustIngest("agents", "identical content twice over", "api", types.LayerProcedural)

	hits, err := h.svc.Search(ctx, SearchRequest{
		Namespace: "agents",
		Query:     "identical content twice over",
		K:         5,
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.InDelta(t, hits[0].Score, hits[1].Score, 1e-9)
	assert.Equal(t, newer.ID, hits[0].Record.ID, "newer record wins the tie")
	assert.Equal(t, older.ID, hits[1].Record.ID)
}

func TestSearch_OrphanVectorsDropped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	orphaned := h.mustIngest("agents", "this record will vanish", "api", "")
	kept := h.mustIngest("agents", "this record survives", "api", "")

	// 绕过服务直接删记录，留下孤儿向量
	deleted, err := h.records.Delete(ctx, "agents", orphaned.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	hits, err := h.svc.Search(ctx, SearchRequest{
		Namespace: "agents",
		Query:     "this record will vanish",
		K:         5,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, kept.ID, hits[0].Record.ID)
}

func TestSearch_ValidationErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Search(ctx, SearchRequest{Namespace: "Bad Namespace!", Query: "q"})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	_, err = h.svc.Search(ctx, SearchRequest{Namespace: "agents", Query: "   "})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	_, err = h.svc.Search(ctx, SearchRequest{
		Namespace: "agents",
		Query:     "fine",
		Layers:    []types.MemoryLayer{"bogus"},
	})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}
