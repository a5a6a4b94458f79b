package render

import (
	"strings"

	"github.com/gravito-framework/connectty-go/pkg/types"
)

// sparkline block characters from lowest to highest
var sparkBlocks = []rune{
	'\u2581', // ▁
	'\u2582', // ▂
	'\u2583', // ▃
	'\u2584', // ▄
	'\u2585', // ▅
	'\u2586', // ▆
	'\u2587', // ▇
	'\u2588', // █
}

// Sparkline renders the last width points of a series
func Sparkline(points []types.Point, width int) string {
	if width > 0 && len(points) > width {
		points = points[len(points)-width:]
	}
	if len(points) == 0 {
		return ""
	}

	lo, hi := points[0].Value, points[0].Value
	for _, p := range points {
		lo = min(lo, p.Value)
		hi = max(hi, p.Value)
	}

	var b strings.Builder
	rng := hi - lo
	for _, p := range points {
		idx := 0
		if rng > 0 {
			idx = int((p.Value - lo) / rng * float64(len(sparkBlocks)-1))
		}
		idx = max(0, min(idx, len(sparkBlocks)-1))
		b.WriteRune(sparkBlocks[idx])
	}

	return b.String()
}
