package telegraph

import (
	"strings"
	"unicode/utf8"
)

// DefaultMessageLimit is the Discord per-message character limit.
const DefaultMessageLimit = 2000

// EmptyResponse replaces a reply with no text.
const EmptyResponse = "I received an empty response."

// splitHeadroom is kept free when a single line must be hard-split.
const splitHeadroom = 10

// Chunk splits text into segments of at most limit characters (runes),
// breaking on line boundaries where possible. Lines keep their trailing
// newline, so joining the segments reproduces text. A line longer than
// limit is cut into pieces of limit-10 characters. Empty text yields the
// single segment EmptyResponse; limit <= 0 disables splitting.
func Chunk(text string, limit int) []string {
	if text == "" {
		return []string{EmptyResponse}
	}
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	piece := limit - splitHeadroom
	if piece <= 0 {
		piece = limit
	}

	var (
		segs []string
		cur  strings.Builder
		n    int // runes in cur
	)
	flush := func() {
		if n > 0 {
			segs = append(segs, cur.String())
			cur.Reset()
			n = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		ln := utf8.RuneCountInString(line)
		if ln > limit {
			flush()
			r := []rune(line)
			for len(r) > 0 {
				k := min(piece, len(r))
				segs = append(segs, string(r[:k]))
				r = r[k:]
			}
			continue
		}
		if n+ln > limit {
			flush()
		}
		cur.WriteString(line)
		n += ln
	}
	flush()
	return segs
}
