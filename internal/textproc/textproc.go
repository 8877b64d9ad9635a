package textproc

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	spaceRuns   = regexp.MustCompile(`[ \t]+`)
	newlineRuns = regexp.MustCompile(`\n{3,}`)
)

// Preprocess normalizes raw document text before chunking. It is pure and
// deterministic: CRLF becomes LF, control characters other than newline and
// tab are dropped, horizontal whitespace runs collapse to a single space,
// and runs of blank lines collapse to one paragraph break.
func Preprocess(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, " ", " ")

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			b.WriteRune(r)
		}
	}
	text = spaceRuns.ReplaceAllString(b.String(), " ")
	text = newlineRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// sentence terminators checked in order; the first one found wins.
var sentenceSeps = []string{". ", ".\n", "? ", "?\n", "! ", "!\n"}

// Chunk splits text into overlapping windows of at most size runes,
// preferring a paragraph break and then a sentence break in the back half
// of each window. Consecutive chunks share at most overlap runes; overlap
// must be smaller than size.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}

	runes := []rune(text)
	if len(runes) <= size {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			if chunk := strings.TrimSpace(string(runes[start:])); chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}
		end = findBreak(runes, start, end, size)

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		// A break point close to start can make end-overlap regress;
		// every iteration must advance.
		if next := end - overlap; next > start {
			start = next
		} else {
			start = end
		}
	}
	return chunks
}

// findBreak looks for the last paragraph break within [start+size/2, end),
// then the last sentence terminator in the same window, and falls back to
// the hard window end.
func findBreak(runes []rune, start, end, size int) int {
	window := string(runes[start:end])
	minPos := size / 2

	if p := strings.LastIndex(window, "\n\n"); p >= 0 {
		if runeLen(window[:p]) >= minPos {
			return start + runeLen(window[:p]) + 2
		}
	}

	for _, sep := range sentenceSeps {
		p := strings.LastIndex(window, sep)
		if p < 0 {
			continue
		}
		candidate := runeLen(window[:p]) + runeLen(sep)
		if candidate > minPos {
			return start + candidate
		}
	}
	return end
}

func runeLen(s string) int {
	return len([]rune(s))
}
