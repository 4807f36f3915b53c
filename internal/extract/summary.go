package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// PageSummary is the condensed, prompt-ready view of one page.
type PageSummary struct {
	URL             string   `json:"url"`
	Title           string   `json:"title"`
	MetaDescription string   `json:"metaDescription,omitempty"`
	Headings        []string `json:"headings,omitempty"`
	NavLinks        []string `json:"navLinks,omitempty"`
	Text            string   `json:"text"`
}

// Summarize condenses a page to its title, description, headings, navigation
// labels and up to maxText characters of visible text.
func Summarize(page, pageURL string, maxText int) PageSummary {
	doc := parse(page)
	s := PageSummary{
		URL:             pageURL,
		Title:           collapse(doc.Find("title").First().Text()),
		MetaDescription: metaDescription(doc),
	}

	doc.Find("h1, h2, h3").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		if t := collapse(h.Text()); t != "" {
			s.Headings = append(s.Headings, goquery.NodeName(h)+": "+t)
		}
		return len(s.Headings) < 30
	})

	seen := make(map[string]bool)
	doc.Find("nav a, header a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if t := collapse(a.Text()); t != "" && !seen[t] {
			seen[t] = true
			s.NavLinks = append(s.NavLinks, t)
		}
		return len(s.NavLinks) < 40
	})

	s.Text = truncate(VisibleText(doc), maxText)
	return s
}

// MetaDescription returns the page's meta or Open Graph description.
func MetaDescription(page string) string {
	return metaDescription(parse(page))
}

func metaDescription(doc *goquery.Document) string {
	for _, sel := range []string{`meta[name="description"]`, `meta[property="og:description"]`, `meta[name="twitter:description"]`} {
		if content := collapse(doc.Find(sel).First().AttrOr("content", "")); content != "" {
			return content
		}
	}
	return ""
}

// VisibleText is the document's text with scripts, styles and templates removed.
func VisibleText(doc *goquery.Document) string {
	body := doc.Find("body").Clone()
	if body.Length() == 0 {
		body = doc.Selection.Clone()
	}
	body.Find("script, style, noscript, template, svg, iframe").Remove()
	return collapse(body.Text())
}

// truncate cuts s to at most n bytes on a rune boundary. n <= 0 disables it.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut]) + "…"
}
