// Package entity はメンションから正規形への変換を提供する。
package entity

import (
	"strings"
	"unicode"
)

// Canonicalize は前後の空白を除去し、単語ごとに先頭を大文字、残りを小文字にする。
// 大文字・小文字の区別を持たない文字（数字、記号、漢字など）が単語の区切りになるため、
// "o'neil" は "O'Neil"、"r2d2" は "R2D2" になる。
// 空文字列や空白のみの入力には空文字列を返す。
func Canonicalize(mention string) string {
	trimmed := strings.TrimSpace(mention)
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	prevCased := false
	for _, r := range trimmed {
		switch {
		case !isCased(r):
			b.WriteRune(r)
			prevCased = false
		case prevCased:
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(unicode.ToTitle(r))
			prevCased = true
		}
	}
	return b.String()
}

// isCased は大文字・小文字・タイトルケースの区別を持つ文字かを判定する。
func isCased(r rune) bool {
	return unicode.IsUpper(r) || unicode.IsLower(r) || unicode.IsTitle(r)
}
