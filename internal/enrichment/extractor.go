package enrichment

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// 抽出器の名前
const (
	ExtractorNoop        = "noop"
	ExtractorCapitalized = "capitalized"
)

// relationCoOccurs は同一文中で隣接して現れたエンティティ間の関係名。
const relationCoOccurs = "co_occurs_with"

// Mention は抽出されたエンティティの表記と種別。
type Mention struct {
	Name string
	Type string
}

// Relation は抽出された2つのエンティティ間の関係。
type Relation struct {
	Source string
	Verb   string
	Target string
}

// Extraction は1メッセージからの抽出結果。
type Extraction struct {
	Mentions  []Mention
	Relations []Relation
}

// Extractor はプレーンテキストからエンティティと関係を抽出する。
type Extractor interface {
	Extract(ctx context.Context, text string) (Extraction, error)
}

// NewExtractor は名前に対応するExtractorを返す。空文字列はnoopとして扱う。
func NewExtractor(name string) (Extractor, error) {
	switch name {
	case "", ExtractorNoop:
		return NoopExtractor{}, nil
	case ExtractorCapitalized:
		return CapitalizedExtractor{}, nil
	default:
		return nil, fmt.Errorf("unknown extractor: %q", name)
	}
}

// NoopExtractor は何も抽出しない。常に成功する。
type NoopExtractor struct{}

// Extract は空の抽出結果を返す。
func (NoopExtractor) Extract(context.Context, string) (Extraction, error) {
	return Extraction{}, nil
}

// CapitalizedExtractor は大文字で始まる語の連続を固有名詞とみなす簡易抽出器。
// 文頭の1語だけのものと一般的な機能語は除外する。
type CapitalizedExtractor struct{}

// stopWords は大文字で始まっていてもエンティティとみなさない語。
var stopWords = map[string]struct{}{
	"I": {}, "The": {}, "A": {}, "An": {}, "And": {}, "But": {}, "Or": {},
	"It": {}, "This": {}, "That": {}, "We": {}, "You": {}, "He": {}, "She": {}, "They": {},
}

// Extract は文ごとに大文字始まりの語の連続を集め、隣接するものを関係で結ぶ。
func (CapitalizedExtractor) Extract(_ context.Context, text string) (Extraction, error) {
	var out Extraction
	seen := make(map[string]struct{})

	for _, sentence := range splitSentences(text) {
		var names []string
		var run []string
		flush := func() {
			if len(run) > 0 {
				names = append(names, strings.Join(run, " "))
				run = nil
			}
		}

		for i, word := range strings.Fields(sentence) {
			w := strings.TrimFunc(word, func(r rune) bool {
				return !unicode.IsLetter(r) && !unicode.IsDigit(r)
			})
			if w == "" || !startsUpper(w) || isStopWord(w) {
				flush()
				continue
			}
			// 文頭の語は後続が大文字始まりの場合のみ採用する
			if i == 0 && !nextStartsUpper(sentence) {
				continue
			}
			run = append(run, w)
			if strings.ContainsAny(word, ",;:") {
				flush()
			}
		}
		flush()

		for _, n := range names {
			if _, ok := seen[n]; !ok {
				seen[n] = struct{}{}
				out.Mentions = append(out.Mentions, Mention{Name: n, Type: "Thing"})
			}
		}
		for i := 1; i < len(names); i++ {
			if names[i-1] != names[i] {
				out.Relations = append(out.Relations, Relation{Source: names[i-1], Verb: relationCoOccurs, Target: names[i]})
			}
		}
	}
	return out, nil
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
}

func startsUpper(w string) bool {
	for _, r := range w {
		return unicode.IsUpper(r)
	}
	return false
}

func isStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

// nextStartsUpper は文の2語目が大文字で始まるかを返す。
func nextStartsUpper(sentence string) bool {
	fields := strings.Fields(sentence)
	if len(fields) < 2 {
		return false
	}
	w := strings.TrimFunc(fields[1], func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return w != "" && startsUpper(w) && !isStopWord(w)
}
