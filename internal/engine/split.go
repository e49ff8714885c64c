package engine

import (
	"log/slog"
	"strings"
)

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// sentence-final runes that end a fragment, covering both ASCII and CJK
// punctuation.
var splitBoundaries = map[rune]bool{
	'.': true, '!': true, '?': true, ';': true, '\n': true,
	'。': true, '！': true, '？': true, '；': true,
}

// SplitText cuts text into sentence-sized fragments so long submissions are
// synthesized and voiced incrementally. Boundary punctuation stays attached
// to its fragment. Text with no boundaries comes back as a single fragment.
func SplitText(text string) []string {
	var fragments []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if splitBoundaries[r] {
			if frag := strings.TrimSpace(current.String()); frag != "" {
				fragments = append(fragments, frag)
			}
			current.Reset()
		}
	}
	if frag := strings.TrimSpace(current.String()); frag != "" {
		fragments = append(fragments, frag)
	}
	if len(fragments) == 0 {
		return []string{text}
	}
	return fragments
}
