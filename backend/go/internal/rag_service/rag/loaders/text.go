// Package loaders turns stored payloads of already-extracted text into the
// plain text the chunker expects.
package loaders

import (
	"errors"
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/gabriel-vasile/mimetype"
)

// ErrBinaryContent is returned for payloads that are not text.
var ErrBinaryContent = errors.New("payload is not text")

// DecodeText sniffs data and returns it as text. HTML is converted to
// Markdown so headings and lists survive as paragraph boundaries; other text
// types pass through; anything else is rejected.
func DecodeText(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	mtype := mimetype.Detect(data)

	switch {
	case isAny(mtype, "text/html", "application/xhtml+xml"):
		md, err := htmltomarkdown.ConvertString(string(data))
		if err != nil {
			return "", fmt.Errorf("convert html: %w", err)
		}
		return md, nil
	case isAny(mtype, "text/plain"):
		return strings.ToValidUTF8(string(data), "�"), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrBinaryContent, mtype.String())
	}
}

// isAny reports whether mtype or one of its ancestors is one of the given types.
func isAny(mtype *mimetype.MIME, types ...string) bool {
	for m := mtype; m != nil; m = m.Parent() {
		for _, t := range types {
			if m.Is(t) {
				return true
			}
		}
	}
	return false
}
