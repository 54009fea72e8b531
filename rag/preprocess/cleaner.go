// Package preprocess normalises text pulled from the web before it is
// scored or shown to the model.
package preprocess

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

var (
	reSpaces   = regexp.MustCompile(`[ \t]+`)
	reNewlines = regexp.MustCompile(`\n{3,}`)
	reTag      = regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9]*(\s[^<>]*)?/?>`)

	ligatures = strings.NewReplacer(
		"ﬁ", "fi", "ﬂ", "fl",
		"\u00a0", " ",
		"•", "-", "·", ".",
	)

	// navigation and boilerplate lines common on documentation and blog pages
	noise = []string{
		"쿠키", "개인정보처리방침", "광고", "관련 글", "구독하기", "로그인", "Copyright",
		"Cookie", "Privacy Policy", "Sign in", "Subscribe", "All rights reserved",
	}
)

// CleanBasic removes control characters, fixes ligatures and collapses runs
// of blanks and empty lines.
func CleanBasic(text string) string {
	if text == "" {
		return ""
	}

	b := strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)

	b = ligatures.Replace(b)
	b = reSpaces.ReplaceAllString(b, " ")
	b = reNewlines.ReplaceAllString(b, "\n\n")
	return strings.TrimSpace(b)
}

// LooksLikeHTML reports whether s contains markup tags.
func LooksLikeHTML(s string) bool {
	return reTag.MatchString(s)
}

// HTMLToText extracts headings, paragraphs, list items, code and tables as
// markdown-ish text. Scripts, styles and page chrome are dropped.
func HTMLToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	doc.Find("script,style,noscript,nav,header,footer,aside,form").Remove()

	var out []string
	doc.Find("h1,h2,h3,h4,p,li,pre,table").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		switch goquery.NodeName(s) {
		case "h1":
			out = append(out, "# "+text)
		case "h2":
			out = append(out, "## "+text)
		case "h3", "h4":
			out = append(out, "### "+text)
		case "li":
			out = append(out, "- "+text)
		case "pre":
			out = append(out, "```\n"+text+"\n```")
		case "table":
			out = append(out, parseTable(s))
		default:
			out = append(out, text)
		}
	})
	if len(out) == 0 {
		// fragments without block elements
		out = append(out, strings.TrimSpace(doc.Text()))
	}
	return strings.Join(out, "\n\n"), nil
}

func parseTable(sel *goquery.Selection) string {
	var rows []string
	sel.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cols []string
		tr.Find("th,td").Each(func(_ int, td *goquery.Selection) {
			cols = append(cols, strings.TrimSpace(td.Text()))
		})
		if len(cols) > 0 {
			rows = append(rows, "| "+strings.Join(cols, " | ")+" |")
		}
	})
	return strings.Join(rows, "\n")
}

// RemoveDuplicateParagraphs dedupe by exact paragraph text
func RemoveDuplicateParagraphs(text string) string {
	parts := strings.Split(text, "\n\n")
	seen := map[string]struct{}{}
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return strings.Join(out, "\n\n")
}

// RemoveWebNoise drops short lines that are page chrome rather than content.
func RemoveWebNoise(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if isNoise(l) {
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

func isNoise(line string) bool {
	if len([]rune(line)) > 80 {
		return false
	}
	for _, p := range noise {
		if strings.Contains(line, p) {
			return true
		}
	}
	return false
}

// Preprocess cleans plain text.
func Preprocess(raw string) string {
	t := CleanBasic(raw)
	t = RemoveWebNoise(t)
	return RemoveDuplicateParagraphs(t)
}

// WebContent turns a web search snippet or page, HTML or not, into clean text.
func WebContent(raw string) string {
	if LooksLikeHTML(raw) {
		if text, err := HTMLToText(raw); err == nil {
			raw = text
		}
	}
	return Preprocess(raw)
}
