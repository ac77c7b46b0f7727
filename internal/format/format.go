// Package format provides response chunking and display formatting for
// messages relayed to the chat platform.
package format

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxMessageLength is the per-message character budget. Discord allows
// 2000; we keep headroom for the fence re-opening markers the chunker
// may prepend.
const MaxMessageLength = 1900

// fence is the fenced-code-block marker.
const fence = "```"

// Chunk splits text into fragments of at most maxLen characters. Split
// points are chosen in priority order: a code-fence boundary past the
// midpoint of the fragment, the last newline before the limit, or a
// hard cut at the limit. A second pass re-balances fenced code blocks
// so every fragment is independently well-formed: a fragment that
// starts inside a block re-opens the fence with the original language
// tag, and a fragment that ends inside a block closes it.
func Chunk(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = MaxMessageLength
	}

	var chunks []string
	remaining := text
	for len(remaining) > 0 {
		if len(remaining) <= maxLen {
			chunks = append(chunks, remaining)
			break
		}

		splitAt := fenceBoundary(remaining, maxLen)
		if splitAt == -1 {
			splitAt = strings.LastIndex(remaining[:maxLen+1], "\n")
		}
		if splitAt <= 0 {
			splitAt = maxLen
		}

		chunks = append(chunks, remaining[:splitAt])
		remaining = strings.TrimLeft(remaining[splitAt:], " \t\n\r")
	}

	return balanceFences(chunks)
}

// fenceBoundary returns the index just past the last fence marker
// before maxLen, or -1 if none falls past the midpoint. Splitting at a
// closing fence keeps whole code blocks inside one fragment whenever
// the block ends in the fragment's second half.
func fenceBoundary(text string, maxLen int) int {
	lastClose := -1
	pos := 0
	for pos < maxLen {
		idx := strings.Index(text[pos:], fence)
		if idx == -1 {
			break
		}
		idx += pos
		if idx >= maxLen {
			break
		}
		lastClose = idx + len(fence)
		pos = idx + len(fence)
	}

	if lastClose > maxLen/2 {
		return lastClose
	}
	return -1
}

var fenceLangRe = regexp.MustCompile(`^(\w*)`)

// balanceFences tracks code-block open/close state across fragment
// boundaries. Fragments continuing a block get a re-opening fence with
// the captured language tag; fragments ending inside a block get a
// closing fence appended.
func balanceFences(chunks []string) []string {
	result := make([]string, 0, len(chunks))
	inBlock := false
	lang := ""

	for i, chunk := range chunks {
		if inBlock && i > 0 {
			chunk = fence + lang + "\n" + chunk
		}

		open, tag := inBlock, lang
		pos := 0
		for {
			idx := strings.Index(chunk[pos:], fence)
			if idx == -1 {
				break
			}
			idx += pos
			if open {
				open = false
				tag = ""
			} else {
				open = true
				tag = fenceLangRe.FindString(chunk[idx+len(fence):])
			}
			pos = idx + len(fence)
		}

		if open {
			chunk += "\n" + fence
		}

		result = append(result, chunk)
		inBlock = open
		lang = tag
	}

	return result
}

// FormatTokens abbreviates a token count: 12345 → "12k".
func FormatTokens(tokens int) string {
	if tokens >= 1000 {
		return fmt.Sprintf("%dk", tokens/1000)
	}
	return fmt.Sprintf("%d", tokens)
}

// CostFooter renders the usage footer appended to the final fragment of
// a response. Costs below one cent display as "<$0.01" rather than a
// misleadingly precise decimal.
func CostFooter(costUSD float64, durationMs int64, numTurns, contextUsed, contextWindow int) string {
	costStr := "<$0.01"
	if costUSD >= 0.01 {
		costStr = fmt.Sprintf("$%.3f", costUSD)
	}

	turnsStr := fmt.Sprintf("%d turns", numTurns)
	if numTurns == 1 {
		turnsStr = "1 turn"
	}

	parts := []string{
		costStr,
		fmt.Sprintf("%.1fs", float64(durationMs)/1000),
		turnsStr,
	}
	if contextUsed > 0 && contextWindow > 0 {
		parts = append(parts, fmt.Sprintf("%s/%s context",
			FormatTokens(contextUsed), FormatTokens(contextWindow)))
	}

	return "-# " + strings.Join(parts, " · ")
}

// Truncate shortens s to at most maxLen characters, replacing the tail
// with "..." when cut.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
