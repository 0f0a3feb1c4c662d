package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はチャット本文からマークアップを除去し、プレーンテキストに変換する。
// エンリッチメントの抽出処理に渡す前に使用する。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はすべてのタグを除去するポリシーでTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、エンティティを復元したうえで行内の空白を1つに畳み込む。
// 改行は文の区切りとして1つだけ残し、空行は捨てる。
// script, styleの中身はタグごと除去される。
func (s *TextSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := html.UnescapeString(s.policy.Sanitize(raw))

	var lines []string
	for _, line := range strings.FieldsFunc(stripped, isLineBreak) {
		if fields := strings.Fields(line); len(fields) > 0 {
			lines = append(lines, strings.Join(fields, " "))
		}
	}
	return strings.Join(lines, "\n")
}

func isLineBreak(r rune) bool {
	return r == '\n' || r == '\r'
}
