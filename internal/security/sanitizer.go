// Package security は入出力の安全性に関わる機能を提供する。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer は利用者が入力したテキストを保存前に無害化する。
type Sanitizer interface {
	// Notes は講師のレビューコメントを無害化する。簡単な書式とhttpsリンクのみ残す。
	Notes(raw string) string
	// Plain は全てのタグを取り除いたテキストを返す。名前などの1行項目に使う。
	Plain(raw string) string
}

type sanitizer struct {
	notes *bluemonday.Policy
	plain *bluemonday.Policy
}

var _ Sanitizer = (*sanitizer)(nil)

// NewSanitizer はSanitizerを生成する。
//   - レビューコメント: p, br, ul, ol, li, strong, em, a(href) を許可
//   - リンクはhttpsの絶対URLのみ。target="_blank" と rel="noopener noreferrer" を付与
func NewSanitizer() Sanitizer {
	notes := bluemonday.NewPolicy()
	notes.AllowElements("p", "br", "ul", "ol", "li", "strong", "em")
	notes.AllowAttrs("href").OnElements("a")
	notes.AllowURLSchemes("https")
	notes.AllowRelativeURLs(false)
	notes.RequireParseableURLs(true)
	notes.AddTargetBlankToFullyQualifiedLinks(true)
	notes.RequireNoReferrerOnLinks(true)

	return &sanitizer{
		notes: notes,
		plain: bluemonday.StrictPolicy(),
	}
}

func (s *sanitizer) Notes(raw string) string {
	return strings.TrimSpace(s.notes.Sanitize(raw))
}

func (s *sanitizer) Plain(raw string) string {
	return strings.TrimSpace(s.plain.Sanitize(raw))
}
