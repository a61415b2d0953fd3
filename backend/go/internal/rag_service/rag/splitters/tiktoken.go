package splitters

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer counts tokens with a BPE vocabulary so chunk sizes match
// what OpenAI-compatible embedding models see.
type TiktokenTokenizer struct {
	encoding string
	tke      *tiktoken.Tiktoken
}

// NewTiktokenTokenizer creates a tokenizer for the given encoding.
// An empty encoding selects "cl100k_base", the tokenizer for gpt-4, gpt-3.5-turbo
// and text-embedding-ada-002.
func NewTiktokenTokenizer(encoding string) (*TiktokenTokenizer, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}
	return &TiktokenTokenizer{encoding: encoding, tke: tke}, nil
}

// Name implements Tokenizer.
func (t *TiktokenTokenizer) Name() string { return "tiktoken/" + t.encoding }

// Tokenize implements Tokenizer. BPE tokens can split a multi-byte rune, so
// such tokens are merged with their successor until every offset is a rune
// boundary. Whitespace-only tokens are dropped.
func (t *TiktokenTokenizer) Tokenize(text string) []Token {
	ids := t.tke.Encode(text, nil, nil)
	tokens := make([]Token, 0, len(ids))
	offset := 0
	start := 0
	for _, id := range ids {
		offset += len(t.tke.Decode([]int{id}))
		if offset > len(text) {
			offset = len(text)
		}
		if offset < len(text) && !utf8.RuneStart(text[offset]) {
			continue
		}
		if !isBlank(text[start:offset]) {
			tokens = append(tokens, trimToken(text, start, offset))
		}
		start = offset
	}
	if start < len(text) && !isBlank(text[start:]) {
		tokens = append(tokens, trimToken(text, start, len(text)))
	}
	return tokens
}

// trimToken narrows [start,end) to exclude leading and trailing whitespace,
// so a token like " word" starts at the word.
func trimToken(text string, start, end int) Token {
	for start < end {
		r, size := utf8.DecodeRuneInString(text[start:end])
		if !isSpaceRune(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if !isSpaceRune(r) {
			break
		}
		end -= size
	}
	return Token{Start: start, End: end}
}
