package splitters

import (
	"iter"
	"strings"
)

// DefaultBoundaryWindow is how many tokens before the ideal end of a chunk are
// searched for a paragraph or sentence boundary.
const DefaultBoundaryWindow = 100

// sentenceTerminators end a sentence in Japanese or English text.
var sentenceTerminators = []string{"。", "．", ".", "!", "?", "！", "？"}

// ChunkText is one chunk produced by the splitter.
type ChunkText struct {
	Index       int    // zero-based position within the document
	Text        string // text[StartOffset:EndOffset]
	StartOffset int    // byte offset of the first character
	EndOffset   int    // byte offset one past the last character
	StartToken  int    // index of the first token
	EndToken    int    // index one past the last token
	TokenCount  int
}

// boundary ranks how good a cut point is.
type boundary int

const (
	boundaryNone boundary = iota
	boundaryNewline
	boundarySentence
	boundaryParagraph
)

// TextSplitter splits extracted document text into bounded, overlapping chunks.
// It is stateless apart from its tokenizer and safe for concurrent use.
type TextSplitter struct {
	tokenizer Tokenizer
	window    int
}

// Option configures a TextSplitter.
type Option func(*TextSplitter)

// WithBoundaryWindow sets the tolerance window (in tokens) used to look for a
// natural boundary before falling back to a hard cut.
func WithBoundaryWindow(tokens int) Option {
	return func(s *TextSplitter) {
		if tokens >= 0 {
			s.window = tokens
		}
	}
}

// WithTokenizer replaces the default UnicodeTokenizer.
func WithTokenizer(t Tokenizer) Option {
	return func(s *TextSplitter) {
		if t != nil {
			s.tokenizer = t
		}
	}
}

// NewTextSplitter creates a TextSplitter.
func NewTextSplitter(opts ...Option) *TextSplitter {
	s := &TextSplitter{tokenizer: NewUnicodeTokenizer(), window: DefaultBoundaryWindow}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tokenizer returns the tokenizer in use.
func (s *TextSplitter) Tokenizer() Tokenizer { return s.tokenizer }

// Chunk splits text into chunks of at most targetTokens tokens, consecutive
// chunks sharing overlapTokens tokens. Empty or whitespace-only text yields
// no chunks. The result is deterministic for identical input.
func (s *TextSplitter) Chunk(text string, targetTokens, overlapTokens int) []ChunkText {
	var chunks []ChunkText
	for _, c := range s.All(text, targetTokens, overlapTokens) {
		chunks = append(chunks, c)
	}
	return chunks
}

// All returns the chunks as a restartable sequence; each iteration
// re-tokenizes text and yields chunks lazily in index order.
func (s *TextSplitter) All(text string, targetTokens, overlapTokens int) iter.Seq2[int, ChunkText] {
	target := max(targetTokens, 1)
	overlap := min(max(overlapTokens, 0), target-1)

	return func(yield func(int, ChunkText) bool) {
		tokens := s.tokenizer.Tokenize(text)
		n := len(tokens)
		if n == 0 {
			return
		}
		start, index := 0, 0
		for start < n {
			end := n
			if start+target < n {
				end = s.cutPoint(text, tokens, start, start+target, overlap)
			}

			startOffset := tokens[start].Start
			if index == 0 {
				startOffset = 0
			}
			endOffset := tokens[end-1].End
			c := ChunkText{
				Index:       index,
				Text:        text[startOffset:endOffset],
				StartOffset: startOffset,
				EndOffset:   endOffset,
				StartToken:  start,
				EndToken:    end,
				TokenCount:  end - start,
			}
			if !yield(index, c) {
				return
			}
			if end == n {
				return
			}
			start = end - overlap
			index++
		}
	}
}

// cutPoint picks the exclusive end token for a chunk that starts at start and
// would ideally end at ideal. The best boundary in the tolerance window wins,
// the latest position breaking ties; with no boundary it cuts at ideal.
// The result always leaves room for forward progress after the overlap.
func (s *TextSplitter) cutPoint(text string, tokens []Token, start, ideal, overlap int) int {
	lowest := max(ideal-s.window, start+overlap+1)
	best, bestKind := ideal, boundaryNone
	for end := ideal; end >= lowest; end-- {
		kind := boundaryAt(text, tokens, end)
		if kind > bestKind {
			best, bestKind = end, kind
			if kind == boundaryParagraph {
				break
			}
		}
	}
	return best
}

// boundaryAt classifies the cut between tokens[end-1] and tokens[end].
func boundaryAt(text string, tokens []Token, end int) boundary {
	if end <= 0 || end >= len(tokens) {
		return boundaryNone
	}
	gap := text[tokens[end-1].End:tokens[end].Start]
	switch {
	case strings.Count(gap, "\n") >= 2:
		return boundaryParagraph
	case endsSentence(text[tokens[end-1].Start:tokens[end-1].End], gap):
		return boundarySentence
	case strings.Contains(gap, "\n"):
		return boundaryNewline
	}
	return boundaryNone
}

// endsSentence reports whether token closes a sentence. ASCII terminators
// only count when followed by whitespace, so "3.14" is not a boundary.
func endsSentence(token, gap string) bool {
	for _, t := range sentenceTerminators {
		if !strings.HasSuffix(token, t) {
			continue
		}
		if len(t) == 1 && gap == "" {
			return false
		}
		return true
	}
	return false
}
