// Package extract pulls typed signals (images, structured data, product
// cards, page summaries) out of untrusted third-party HTML without executing it.
package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extractor applies a Vocabulary to HTML documents.
type Extractor struct {
	vocab *Vocabulary
}

// New creates an Extractor. A nil vocabulary selects the embedded default.
func New(vocab *Vocabulary) *Extractor {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	return &Extractor{vocab: vocab}
}

// Default is an Extractor over the embedded vocabulary.
func Default() *Extractor {
	return New(nil)
}

// parse never fails on malformed markup; the tokenizer is tolerant and only
// reader errors, which strings.Reader never returns, are reported.
func parse(html string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader("<html></html>"))
	}
	return doc
}

// ResolveURL turns an attribute value into an absolute http(s) URL.
// Protocol-relative values get https:, root-relative values get the base
// origin, anything else resolves against base. data:, blob: and values
// under 5 characters are rejected.
func ResolveURL(raw string, base *url.URL) (string, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) < 5 {
		return "", false
	}
	lower := strings.ToLower(raw)
	for _, prefix := range []string{"data:", "blob:", "javascript:", "mailto:", "tel:", "about:"} {
		if strings.HasPrefix(lower, prefix) {
			return "", false
		}
	}

	var abs string
	switch {
	case strings.HasPrefix(raw, "//"):
		abs = "https:" + raw
	case strings.HasPrefix(raw, "/"):
		if base == nil {
			return "", false
		}
		abs = base.Scheme + "://" + base.Host + raw
	case base != nil:
		ref, err := base.Parse(raw)
		if err != nil {
			return "", false
		}
		abs = ref.String()
	default:
		abs = raw
	}

	u, err := url.Parse(abs)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}

// SameSite reports whether two hosts are the same site, ignoring a leading www.
func SameSite(a, b string) bool {
	return strings.TrimPrefix(strings.ToLower(a), "www.") == strings.TrimPrefix(strings.ToLower(b), "www.")
}

func parseBase(raw string) *url.URL {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return nil
	}
	return u
}

// collapse trims and squeezes runs of whitespace to single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// openTag renders an element's start tag, attributes only, for keyword matching.
func openTag(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	n := sel.Nodes[0]
	var b strings.Builder
	b.WriteString("<")
	b.WriteString(n.Data)
	for _, a := range n.Attr {
		b.WriteString(" ")
		b.WriteString(a.Key)
		b.WriteString(`="`)
		b.WriteString(a.Val)
		b.WriteString(`"`)
	}
	b.WriteString(">")
	return b.String()
}

// ancestorMarkers joins class and id attributes of up to three ancestors.
func ancestorMarkers(sel *goquery.Selection) string {
	var parts []string
	sel.Parents().Slice(0, min(3, sel.Parents().Length())).Each(func(_ int, p *goquery.Selection) {
		if class, ok := p.Attr("class"); ok {
			parts = append(parts, class)
		}
		if id, ok := p.Attr("id"); ok {
			parts = append(parts, id)
		}
	})
	return strings.Join(parts, " ")
}
