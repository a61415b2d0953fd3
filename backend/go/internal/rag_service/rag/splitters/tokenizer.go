package splitters

import (
	"unicode"
	"unicode/utf8"
)

// Token is one token of a text, located by byte offsets into that text.
type Token struct {
	Start int
	End   int
}

// Tokenizer cuts text into tokens with byte offsets. Offsets are strictly
// increasing, never overlap, and always fall on rune boundaries.
type Tokenizer interface {
	Tokenize(text string) []Token
	Name() string
}

// UnicodeTokenizer approximates model tokens without a vocabulary:
// a run of Latin letters or digits is one token, every CJK rune is one token,
// every other visible rune is one token and whitespace is skipped.
type UnicodeTokenizer struct{}

// NewUnicodeTokenizer returns the default tokenizer.
func NewUnicodeTokenizer() UnicodeTokenizer { return UnicodeTokenizer{} }

// Name implements Tokenizer.
func (UnicodeTokenizer) Name() string { return "unicode" }

// Tokenize implements Tokenizer.
func (UnicodeTokenizer) Tokenize(text string) []Token {
	tokens := make([]Token, 0, len(text)/4)
	runStart := -1
	flush := func(at int) {
		if runStart >= 0 {
			tokens = append(tokens, Token{Start: runStart, End: at})
			runStart = -1
		}
	}
	for i, r := range text {
		size := utf8.RuneLen(r)
		if size < 0 {
			size = 1
		}
		switch {
		case unicode.IsSpace(r):
			flush(i)
		case isCJK(r):
			flush(i)
			tokens = append(tokens, Token{Start: i, End: i + size})
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r):
			if runStart < 0 {
				runStart = i
			}
		default:
			flush(i)
			tokens = append(tokens, Token{Start: i, End: i + size})
		}
	}
	flush(len(text))
	return tokens
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) || r == 'ー'
}
