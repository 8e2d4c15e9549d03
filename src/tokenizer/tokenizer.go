// Package tokenizer 全文索引与查询共用的分词器
// 索引和查询必须使用同一个语言配置，否则同一个词会得到不同的词干
package tokenizer

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kljensen/snowball"
	"golang.org/x/text/cases"
)

const (
	// 超过此长度的token不进入索引
	maxTokenBytes = 64
	// 标题中的词频按此倍数计算
	TitleWeight = 2
)

type Tokenizer struct {
	language string
	stem     bool
}

// New language为snowball支持的语言（english、hungarian等），不支持时只做大小写折叠
func New(language string) *Tokenizer {
	t := &Tokenizer{language: language}
	if _, err := snowball.Stem("tests", language, true); err == nil {
		t.stem = true
	}
	return t
}

// Language 写入索引元数据，用于判断是否需要重建索引
func (t *Tokenizer) Language() string {
	if !t.stem {
		return "none"
	}
	return t.language
}

func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func keep(word string) bool {
	if len(word) > maxTokenBytes {
		return false
	}
	if utf8.RuneCountInString(word) >= 2 {
		return true
	}
	r, _ := utf8.DecodeRuneInString(word)
	return unicode.IsDigit(r)
}

func (t *Tokenizer) normalize(fold cases.Caser, word string) string {
	word = fold.String(word)
	if t.stem {
		if stemmed, err := snowball.Stem(word, t.language, false); err == nil && stemmed != "" {
			return stemmed
		}
	}
	return word
}

// Tokens 返回text中所有词干，保持出现顺序
func (t *Tokenizer) Tokens(text string) []string {
	fold := cases.Fold()
	var out []string
	for _, w := range splitWords(text) {
		if !keep(w) {
			continue
		}
		out = append(out, t.normalize(fold, w))
	}
	return out
}

// TermFrequencies 一篇文章的posting数据：词干 -> 词频，标题中的词按TitleWeight计
func (t *Tokenizer) TermFrequencies(title, body string) map[string]int {
	tf := make(map[string]int)
	for _, tok := range t.Tokens(title) {
		tf[tok] += TitleWeight
	}
	for _, tok := range t.Tokens(body) {
		tf[tok]++
	}
	return tf
}

// QueryStems 查询关键词对应的去重后的词干，按字典序返回
// 一个关键词可能包含多个词（例如 "new york"），每个词都必须命中
func (t *Tokenizer) QueryStems(keywords []string) []string {
	set := make(map[string]struct{})
	for _, k := range keywords {
		for _, tok := range t.Tokens(k) {
			set[tok] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Snippet 取正文中第一个命中词附近的maxWords个词；没有命中词时取开头
func (t *Tokenizer) Snippet(body string, stems []string, maxWords int) string {
	words := strings.Fields(body)
	if len(words) == 0 || maxWords <= 0 {
		return ""
	}

	want := make(map[string]struct{}, len(stems))
	for _, s := range stems {
		want[s] = struct{}{}
	}

	hit := -1
	if len(want) > 0 {
		fold := cases.Fold()
	outer:
		for i, w := range words {
			for _, part := range splitWords(w) {
				if !keep(part) {
					continue
				}
				if _, ok := want[t.normalize(fold, part)]; ok {
					hit = i
					break outer
				}
			}
		}
	}

	start := 0
	if hit > maxWords/3 {
		start = hit - maxWords/3
	}
	end := start + maxWords
	if end > len(words) {
		end = len(words)
		if end-maxWords > 0 && hit >= 0 {
			start = end - maxWords
		}
	}

	snippet := strings.Join(words[start:end], " ")
	if start > 0 {
		snippet = "… " + snippet
	}
	if end < len(words) {
		snippet += " …"
	}
	return snippet
}
