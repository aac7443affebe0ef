package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brooksjoey/MnemosyneOS/types"
)

func TestResolveLayer_HintWins(t *testing.T) {
	got := resolveLayer(types.LayerProcedural, "feed:blog.example.com")
	assert.Equal(t, types.LayerProcedural, got)
}

func TestResolveLayer_InvalidHintFallsBack(t *testing.T) {
	got := resolveLayer(types.MemoryLayer("bogus"), "chat:session-9")
	assert.Equal(t, types.LayerEpisodic, got)
}

func TestLayerForSource(t *testing.T) {
	cases := []struct {
		source string
		want   types.MemoryLayer
	}{
		{"feed:blog.example.com", types.LayerEpisodic},
		{"rss", types.LayerEpisodic},
		{"chat:session-42", types.LayerEpisodic},
		{"chat", types.LayerEpisodic},
		{"reflection", types.LayerReflective},
		{"identity:self", types.LayerIdentity},
		{"profile", types.LayerIdentity},
		{"api", types.LayerSemantic},
		{"", types.LayerSemantic},
		{"  FEED:upper.example.com  ", types.LayerEpisodic},
		{"import:wiki", types.LayerSemantic},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, layerForSource(tc.source), "source %q", tc.source)
	}
}
