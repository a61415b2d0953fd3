// Package textnorm normalizes Japanese/English business text for lexical
// comparison and scores it with pg_trgm-compatible trigram similarity.
package textnorm

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// maxPasses bounds the fixed-point loop in Normalize.
const maxPasses = 3

// punctuation maps punctuation variants to one ASCII form.
var punctuation = strings.NewReplacer(
	// dashes and long-vowel-like bars used as hyphens
	"‐", "-", "‑", "-", "‒", "-", "–", "-", "—", "-", "―", "-", "−", "-", "﹣", "-",
	// wave dashes
	"〜", "~", "～", "~", "〰", "~",
	// quotes
	"“", "\"", "”", "\"", "„", "\"", "‘", "'", "’", "'", "‚", "'", "「", "\"", "」", "\"", "『", "\"", "』", "\"",
	// ideographic comma and full stop
	"、", ",", "，", ",", "。", ".", "．", ".", "｡", ".", "､", ",",
	// middle dots
	"･", "・", "·", "・",
	// brackets
	"【", "[", "】", "]", "〔", "[", "〕", "]", "［", "[", "］", "]", "〈", "<", "〉", ">", "《", "<", "》", ">",
)

// legalEntities maps legal-entity spellings (already lowercased and
// NFKC-folded) to their canonical kanji token.
var legalEntities = strings.NewReplacer(
	// 株式会社
	"(株)", "株式会社",
	"カブシキガイシャ", "株式会社",
	"カブシキカイシャ", "株式会社",
	"かぶしきがいしゃ", "株式会社",
	"かぶしきかいしゃ", "株式会社",
	"kabushiki kaisha", "株式会社",
	"kabushiki gaisha", "株式会社",
	"kabushikigaisha", "株式会社",
	"kabushikikaisha", "株式会社",
	// 有限会社
	"(有)", "有限会社",
	"ユウゲンガイシャ", "有限会社",
	"ゆうげんがいしゃ", "有限会社",
	"yugen kaisha", "有限会社",
	"yugen gaisha", "有限会社",
	"yugengaisha", "有限会社",
	// 合同会社
	"(同)", "合同会社",
	"ゴウドウガイシャ", "合同会社",
	"ごうどうがいしゃ", "合同会社",
	"godo kaisha", "合同会社",
	"godo gaisha", "合同会社",
	// 合資会社 / 合名会社
	"(資)", "合資会社",
	"(名)", "合名会社",
	// 一般社団法人 / 一般財団法人
	"(一社)", "一般社団法人",
	"(一財)", "一般財団法人",
	// 医療法人 / 学校法人 / 社会福祉法人
	"(医)", "医療法人",
	"(学)", "学校法人",
	"(福)", "社会福祉法人",
)

// Normalize applies the canonical lexical normalization: NFKC with
// full-width folding, lowercasing, punctuation and legal-entity
// unification, then whitespace collapsing.
// It is idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	for i := 0; i < maxPasses; i++ {
		next := normalizeOnce(s)
		if next == s {
			return next
		}
		s = next
	}
	return s
}

func normalizeOnce(s string) string {
	s = norm.NFKC.String(s)
	s = width.Fold.String(s)
	s = strings.ToLower(s)
	s = norm.NFKC.String(s)
	s = punctuation.Replace(s)
	s = collapseSpace(s)
	s = legalEntities.Replace(s)
	return collapseSpace(s)
}

// collapseSpace trims and collapses every whitespace run to a single ASCII space.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// RuneLen returns the length in characters used by the length penalty.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}
