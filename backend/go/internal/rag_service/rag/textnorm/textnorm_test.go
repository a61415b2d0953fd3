package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"full width alnum", "ＡＢＣ１２３", "abc123"},
		{"circled kabushiki", "㈱テスト", "株式会社テスト"},
		{"parenthesised kabushiki", "（株）テスト", "株式会社テスト"},
		{"square kabushiki", "㍿テスト", "株式会社テスト"},
		{"katakana reading", "カブシキガイシャテスト", "株式会社テスト"},
		{"half width katakana", "ｶﾌﾞｼｷｶﾞｲｼｬテスト", "株式会社テスト"},
		{"romaji mixed case", "Kabushiki  Kaisha Test", "株式会社 test"},
		{"yugen", "(有)山田商店", "有限会社山田商店"},
		{"punctuation", "東京、大阪。「本社」〜", "東京,大阪.\"本社\"~"},
		{"whitespace", "  a\t　b\n\nc  ", "a b c"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestNormalizeQueryAndContentConverge(t *testing.T) {
	assert.Equal(t, Normalize("株式会社テスト"), Normalize("㈱テスト"))
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity("株式会社テスト", "株式会社テスト"), 1e-9)
	assert.InDelta(t, 0.0, Similarity("", "abc"), 1e-9)
	assert.InDelta(t, 0.0, Similarity("abc", "xyz"), 1e-9)

	// pg_trgm: similarity('word', 'two words') = 4/11
	assert.InDelta(t, 4.0/11.0, Similarity("word", "two words"), 1e-9)

	s := Similarity("quota manager", "quota managers")
	assert.Greater(t, s, 0.6)
	assert.Less(t, s, 1.0)
}

func TestMatcher(t *testing.T) {
	m := NewMatcher("㈱テスト")
	assert.Equal(t, "株式会社テスト", m.Query())
	assert.InDelta(t, 1.0, m.Similarity(Normalize("株式会社テスト")), 1e-9)
}

func TestRuneLen(t *testing.T) {
	assert.Equal(t, 7, RuneLen("株式会社テスト"))
	assert.Equal(t, 3, RuneLen("abc"))
}

func FuzzNormalizeIdempotent(f *testing.F) {
	for _, seed := range []string{
		"㈱テスト", "ＡＢＣ", "Kabushiki Kaisha", "ｶﾌﾞｼｷｶﾞｲｼｬ", "東京、大阪。", "İstanbul", "  \t\n", "((株))", "\xff\xfe",
	} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, s string) {
		once := Normalize(s)
		if twice := Normalize(once); twice != once {
			t.Fatalf("Normalize not idempotent for %q: %q != %q", s, twice, once)
		}
	})
}
