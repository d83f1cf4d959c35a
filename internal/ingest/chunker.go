package ingest

import (
	"strings"
	"unicode/utf8"
)

// separators are tried in order; the empty separator splits into runes.
var separators = []string{"\n\n", "\n", " ", ""}

// Chunker splits text into overlapping chunks of at most Size runes,
// preferring paragraph, then line, then word boundaries.
type Chunker struct {
	Size    int
	Overlap int
}

// Split returns the chunks of text in order. Whitespace-only input yields nil.
func (c Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" || c.Size <= 0 {
		return nil
	}
	return c.split(text, separators)
}

func (c Chunker) split(text string, seps []string) []string {
	sep := seps[len(seps)-1]
	var rest []string
	for i, s := range seps {
		if s == "" || strings.Contains(text, s) {
			sep = s
			rest = seps[i+1:]
			break
		}
	}

	var out, small []string
	for _, piece := range strings.Split(text, sep) {
		if piece == "" {
			continue
		}
		if runeLen(piece) < c.Size {
			small = append(small, piece)
			continue
		}
		if len(small) > 0 {
			out = append(out, c.merge(small, sep)...)
			small = nil
		}
		if len(rest) == 0 {
			out = append(out, piece)
		} else {
			out = append(out, c.split(piece, rest)...)
		}
	}
	if len(small) > 0 {
		out = append(out, c.merge(small, sep)...)
	}
	return out
}

// merge packs pieces into chunks, carrying up to Overlap runes of trailing
// pieces into the next chunk.
func (c Chunker) merge(pieces []string, sep string) []string {
	sepLen := runeLen(sep)
	var out, cur []string
	total := 0

	emit := func() {
		if doc := strings.TrimSpace(strings.Join(cur, sep)); doc != "" {
			out = append(out, doc)
		}
	}

	for _, p := range pieces {
		n := runeLen(p)
		extra := 0
		if len(cur) > 0 {
			extra = sepLen
		}
		if len(cur) > 0 && total+n+extra > c.Size {
			emit()
			for len(cur) > 0 && (total > c.Overlap || total+n+sepLen > c.Size) {
				total -= runeLen(cur[0])
				if len(cur) > 1 {
					total -= sepLen
				}
				cur = cur[1:]
			}
		}
		if len(cur) > 0 {
			total += sepLen
		}
		cur = append(cur, p)
		total += n
	}
	if len(cur) > 0 {
		emit()
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
