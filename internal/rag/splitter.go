package rag

import (
	"strings"
	"unicode/utf8"
)

// defaultSeparators order chunk boundaries from paragraph down to character
// level. The empty string means "hard-slice at chunk size".
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter breaks document text into overlapping chunks, preferring natural
// boundaries (paragraphs, then lines, then sentences, then words) and only
// falling back to character slices when a span has no separators at all.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 5
	}
	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
	}
}

// Split returns the chunked text. Whitespace-only input yields no chunks.
func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var out []string
	for _, c := range s.split(text, s.separators) {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func (s *Splitter) split(text string, separators []string) []string {
	if len(text) <= s.chunkSize {
		return []string{text}
	}

	// The first separator actually present in the text wins.
	sep := ""
	var deeper []string
	for i, candidate := range separators {
		if candidate == "" {
			sep = ""
			deeper = nil
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			deeper = separators[i+1:]
			break
		}
	}

	if sep == "" {
		return s.hardSlice(text)
	}

	var final []string
	var pending []string
	for _, piece := range strings.Split(text, sep) {
		if piece == "" {
			continue
		}
		if len(piece) <= s.chunkSize {
			pending = append(pending, piece)
			continue
		}
		// An oversized piece: flush what we merged so far, then descend
		// into finer separators for the piece itself.
		if len(pending) > 0 {
			final = append(final, s.merge(pending, sep)...)
			pending = nil
		}
		final = append(final, s.split(piece, deeper)...)
	}
	if len(pending) > 0 {
		final = append(final, s.merge(pending, sep)...)
	}
	return final
}

// merge greedily packs pieces into chunks of at most chunkSize, carrying
// trailing pieces over into the next chunk until the overlap budget is used.
func (s *Splitter) merge(pieces []string, sep string) []string {
	var chunks []string
	var window []string
	windowLen := 0

	joinedLen := func(extra int) int {
		n := windowLen + extra
		if len(window) > 0 {
			n += len(sep) * len(window) // separators between and before the new piece
		}
		return n
	}

	for _, piece := range pieces {
		if joinedLen(len(piece)) > s.chunkSize && len(window) > 0 {
			chunks = append(chunks, strings.Join(window, sep))
			// Shrink the window from the front down to the overlap budget.
			for len(window) > 0 && (windowLen > s.chunkOverlap || joinedLen(len(piece)) > s.chunkSize) {
				windowLen -= len(window[0])
				window = window[1:]
			}
		}
		window = append(window, piece)
		windowLen += len(piece)
	}
	if len(window) > 0 {
		chunks = append(chunks, strings.Join(window, sep))
	}
	return chunks
}

// hardSlice cuts text into fixed-size chunks with character overlap. Last
// resort for text with no separators. Cut points step back to rune
// boundaries so multi-byte characters are never split.
func (s *Splitter) hardSlice(text string) []string {
	step := s.chunkSize - s.chunkOverlap
	var chunks []string
	for start := 0; start < len(text); {
		end := runeBoundary(text, start+s.chunkSize)
		if end <= start {
			// A rune wider than the chunk size; take it whole.
			_, size := utf8.DecodeRuneInString(text[start:])
			end = start + size
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
		next := runeBoundary(text, start+step)
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// runeBoundary steps i back to the start of the rune it falls inside.
func runeBoundary(text string, i int) int {
	if i >= len(text) {
		return len(text)
	}
	for i > 0 && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}
