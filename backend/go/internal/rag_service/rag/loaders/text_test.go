package loaders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePlainText(t *testing.T) {
	text, err := DecodeText([]byte("株式会社テストの就業規則\n第一条"))
	require.NoError(t, err)
	assert.Equal(t, "株式会社テストの就業規則\n第一条", text)
}

func TestDecodeHTMLToMarkdown(t *testing.T) {
	text, err := DecodeText([]byte("<!DOCTYPE html><html><body><h1>Handbook</h1><p>Leave goes to <b>HR</b>.</p><script>x()</script></body></html>"))
	require.NoError(t, err)
	assert.Contains(t, text, "# Handbook")
	assert.Contains(t, text, "Leave goes to **HR**.")
	assert.NotContains(t, text, "<p>")
}

func TestDecodeRejectsBinary(t *testing.T) {
	_, err := DecodeText([]byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n1 0 obj"))
	assert.ErrorIs(t, err, ErrBinaryContent)
}

func TestDecodeEmpty(t *testing.T) {
	text, err := DecodeText(nil)
	require.NoError(t, err)
	assert.Empty(t, text)
}
