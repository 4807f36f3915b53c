package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// StructuralHints describes how a page is built, for the research prompt.
type StructuralHints struct {
	Frameworks []string       `json:"frameworks"`
	Counts     map[string]int `json:"counts"`
}

var countedElements = map[string]string{
	"forms":    "form",
	"inputs":   "input, select, textarea",
	"buttons":  "button, [role=button], input[type=submit]",
	"navLinks": "nav a",
	"images":   "img",
	"sections": "section, article",
	"headings": "h1, h2, h3, h4, h5, h6",
	"scripts":  "script[src]",
	"iframes":  "iframe",
	"tables":   "table",
}

// Hints detects frameworks from raw markup markers and counts structural elements.
func (e *Extractor) Hints(page string) StructuralHints {
	h := StructuralHints{Counts: make(map[string]int, len(countedElements))}
	for _, fw := range e.vocab.Frameworks {
		for _, marker := range fw.Markers {
			if strings.Contains(page, marker) {
				h.Frameworks = append(h.Frameworks, fw.Name)
				break
			}
		}
	}

	doc := parse(page)
	for name, selector := range countedElements {
		h.Counts[name] = doc.Find(selector).Length()
	}
	for tag, n := range headingCounts(doc) {
		h.Counts[tag] = n
	}
	h.Counts["passwordFields"] = doc.Find(`input[type="password"]`).Length()
	return h
}

// HasLoginForm reports whether the page carries a password field.
func (h StructuralHints) HasLoginForm() bool {
	return h.Counts["passwordFields"] > 0
}

// headingCounts counts heading tags by level.
func headingCounts(doc *goquery.Document) map[string]int {
	counts := make(map[string]int, 6)
	for _, tag := range []string{"h1", "h2", "h3", "h4", "h5", "h6"} {
		counts[tag] = doc.Find(tag).Length()
	}
	return counts
}
