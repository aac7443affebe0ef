package memory

import (
	"strings"

	"github.com/brooksjoey/MnemosyneOS/types"
)

// resolveLayer 解析记录层：显式提示优先，否则按来源推断.
func resolveLayer(hint types.MemoryLayer, source string) types.MemoryLayer {
	if hint != "" && hint.Valid() {
		return hint
	}
	return layerForSource(source)
}

// layerForSource 按来源前缀推断默认层。
// feed/rss 与 chat 归情景层，反思产物归反思层，身份/画像归身份层，
// 其余默认语义层.
func layerForSource(source string) types.MemoryLayer {
	s := strings.ToLower(strings.TrimSpace(source))
	switch {
	case strings.HasPrefix(s, "feed"), strings.HasPrefix(s, "rss"):
		return types.LayerEpisodic
	case strings.HasPrefix(s, "chat"):
		return types.LayerEpisodic
	case strings.HasPrefix(s, "reflection"):
		return types.LayerReflective
	case strings.HasPrefix(s, "identity"), strings.HasPrefix(s, "profile"):
		return types.LayerIdentity
	default:
		return types.LayerSemantic
	}
}
