package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"golang.org/x/net/html"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// render はテンプレートをHTMLに展開し、テキスト版を併せて返す。
func render(name string, data any) (htmlBody, textBody string, err error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	htmlBody = buf.String()
	textBody, err = htmlToText(htmlBody)
	if err != nil {
		return "", "", err
	}
	return htmlBody, textBody, nil
}

// blockElements の終わりで改行する。
var blockElements = map[string]bool{
	"p": true, "li": true, "h1": true, "h2": true, "br": true, "ul": true,
}

// htmlToText はHTMLから表示テキストを取り出す。リンクは「テキスト (URL)」にする。
func htmlToText(src string) (string, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
				if out := b.String(); out != "" && !strings.HasSuffix(out, "\n") && !strings.HasSuffix(out, "- ") {
					b.WriteString(" ")
				}
				b.WriteString(text)
			}
		case html.ElementNode:
			if n.Data == "li" {
				b.WriteString("- ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			if n.Data == "a" {
				for _, a := range n.Attr {
					if a.Key == "href" {
						fmt.Fprintf(&b, " (%s)", a.Val)
					}
				}
			}
			if blockElements[n.Data] && !strings.HasSuffix(b.String(), "\n") {
				b.WriteString("\n")
			}
		}
	}
	walk(doc)
	return strings.TrimSpace(b.String()), nil
}
