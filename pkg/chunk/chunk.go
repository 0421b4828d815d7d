// Package chunk splits document text into bounded, ordered chunks for
// embedding.
//
// Splitting is structure-aware: Markdown headers delimit sections, paragraphs
// are kept together while they fit, oversized paragraphs fall back to
// sentence boundaries, and a single oversized sentence is window-split with
// overlap. Sizes are measured in characters (runes).
package chunk

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/smartinsight/knowledge-core/pkg/knowledge"
)

// Defaults applied by [Split] when the caller passes zero values.
const (
	DefaultMaxChunkSize = 1000
	DefaultOverlap      = 200
)

// DefaultSection names the section of text appearing before any header when
// no document title is available.
const DefaultSection = "Document"

// Chunk is one bounded piece of a document.
type Chunk struct {
	// Text is the chunk content.
	Text string

	// Position is the chunk's sequential index across the whole document,
	// starting at 0.
	Position int

	// Section is the most recent Markdown header above the chunk, or the
	// document title (or [DefaultSection]) before any header.
	Section string

	// DocumentTitle is the title passed to [Split], if any.
	DocumentTitle string
}

var (
	atxHeader  = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)
	setextEq   = regexp.MustCompile(`^={2,}\s*$`)
	setextDash = regexp.MustCompile(`^-{2,}\s*$`)

	paragraphBreak = regexp.MustCompile(`\n[ \t]*\n+`)

	// sentenceBoundary matches the gap between sentences: terminal
	// punctuation, whitespace, then an uppercase letter starting the next
	// sentence.
	sentenceBoundary = regexp.MustCompile(`[.!?][ \t\r\n]+[A-Z]`)
)

// Split chunks text into ordered pieces of at most maxChunkSize characters.
// maxChunkSize and overlap fall back to the package defaults when zero;
// overlap is clamped to maxChunkSize/2. Empty or whitespace-only input yields
// an empty slice.
func Split(text, title string, maxChunkSize, overlap int) ([]Chunk, error) {
	if maxChunkSize == 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	if maxChunkSize < 0 {
		return nil, fmt.Errorf("chunk: max chunk size %d must be positive: %w", maxChunkSize, knowledge.ErrInvalidArgument)
	}
	if overlap == 0 {
		overlap = DefaultOverlap
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunk: overlap %d must be non-negative: %w", overlap, knowledge.ErrInvalidArgument)
	}
	if overlap > maxChunkSize/2 {
		overlap = maxChunkSize / 2
	}

	chunks := []Chunk{}
	for _, sec := range splitSections(text, title) {
		for _, piece := range chunkText(sec.text, maxChunkSize, overlap) {
			chunks = append(chunks, Chunk{
				Text:          piece,
				Position:      len(chunks),
				Section:       sec.name,
				DocumentTitle: title,
			})
		}
	}
	return chunks, nil
}

type section struct {
	name string
	text string
}

// splitSections partitions text at Markdown headers (ATX and setext). Text
// before the first header belongs to a section named after the document title
// (or [DefaultSection]).
func splitSections(text, title string) []section {
	name := title
	if name == "" {
		name = DefaultSection
	}

	lines := strings.Split(text, "\n")
	var (
		sections []section
		buf      []string
	)
	flush := func() {
		body := strings.TrimSpace(strings.Join(buf, "\n"))
		buf = buf[:0]
		if body != "" {
			sections = append(sections, section{name: name, text: body})
		}
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if m := atxHeader.FindStringSubmatch(line); m != nil {
			flush()
			name = m[2]
			continue
		}
		// A setext underline promotes the preceding buffered line to a header.
		if i+1 < len(lines) && strings.TrimSpace(line) != "" &&
			(setextEq.MatchString(lines[i+1]) || setextDash.MatchString(lines[i+1])) {
			flush()
			name = strings.TrimSpace(line)
			i++
			continue
		}
		buf = append(buf, line)
	}
	flush()
	return sections
}

// chunkText packs a section's paragraphs into chunks of at most maxSize
// characters, falling back to sentence and window splitting for oversized
// content.
func chunkText(text string, maxSize, overlap int) []string {
	var (
		out []string
		cur strings.Builder
		n   int // rune length of cur
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
			n = 0
		}
	}

	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		pn := len([]rune(para))

		if pn > maxSize {
			flush()
			out = append(out, splitOversized(para, maxSize, overlap)...)
			continue
		}
		if n > 0 && n+2+pn > maxSize {
			flush()
		}
		if n > 0 {
			cur.WriteString("\n\n")
			n += 2
		}
		cur.WriteString(para)
		n += pn
	}
	flush()
	return out
}

// splitOversized breaks one paragraph longer than maxSize at sentence
// boundaries, window-splitting any sentence that is itself too long.
func splitOversized(para string, maxSize, overlap int) []string {
	var (
		out []string
		cur strings.Builder
		n   int
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
			n = 0
		}
	}

	for _, sentence := range splitSentences(para) {
		sn := len([]rune(sentence))
		if sn > maxSize {
			flush()
			out = append(out, windowSplit(sentence, maxSize, overlap)...)
			continue
		}
		if n > 0 && n+1+sn > maxSize {
			flush()
		}
		if n > 0 {
			cur.WriteByte(' ')
			n++
		}
		cur.WriteString(sentence)
		n += sn
	}
	flush()
	return out
}

// splitSentences cuts text at sentence boundaries. The uppercase letter that
// opens the next sentence stays with that sentence.
func splitSentences(text string) []string {
	matches := sentenceBoundary.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return []string{text}
	}
	var out []string
	start := 0
	for _, m := range matches {
		// m[1]-1 is the byte offset of the uppercase letter.
		cut := m[1] - 1
		out = append(out, strings.TrimSpace(text[start:cut]))
		start = cut
	}
	out = append(out, strings.TrimSpace(text[start:]))
	return out
}

// windowSplit slices text into windows of maxSize runes advancing by
// maxSize-overlap, so consecutive windows share overlap runes.
func windowSplit(text string, maxSize, overlap int) []string {
	runes := []rune(text)
	step := maxSize - overlap
	if step < 1 {
		step = 1
	}

	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + maxSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}
