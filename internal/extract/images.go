package extract

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/sykell/site-replicator/internal/model"
)

const (
	// ContextGeneral is assigned when no vocabulary keyword matches.
	ContextGeneral = "general"
	// ContextBackground marks CSS background images with no better match.
	ContextBackground = "background"
)

var cssURLRe = regexp.MustCompile(`url\(\s*['"]?([^'")]+?)['"]?\s*\)`)

// ExtractImages returns every image referenced by html using the default vocabulary.
func ExtractImages(html, baseURL string) []model.ImageRef {
	return Default().Images(html, baseURL)
}

// Images returns every image referenced by html, deduplicated by absolute
// URL. The first occurrence decides alt text and context.
func (e *Extractor) Images(html, baseURL string) []model.ImageRef {
	doc := parse(html)
	c := e.newImageCollector(parseBase(baseURL))
	c.scanElements(doc.Selection)
	c.scanDocument(doc)
	return c.out
}

// imagesIn collects images from a fragment. Document-level sources (meta
// tags, icon links, style blocks, JSON-LD) are not considered.
func (e *Extractor) imagesIn(sel *goquery.Selection, base *url.URL) []model.ImageRef {
	c := e.newImageCollector(base)
	c.scanElements(sel)
	return c.out
}

type imageCollector struct {
	vocab *Vocabulary
	base  *url.URL
	seen  map[string]bool
	out   []model.ImageRef
}

func (e *Extractor) newImageCollector(base *url.URL) *imageCollector {
	return &imageCollector{vocab: e.vocab, base: base, seen: make(map[string]bool)}
}

// add records one reference. Context is chosen from the element markup and
// alt text, then from nearby ancestors, then the fallback.
func (c *imageCollector) add(raw, alt string, sel *goquery.Selection, fallback string) {
	src, ok := ResolveURL(raw, c.base)
	if !ok || c.seen[src] {
		return
	}
	c.seen[src] = true

	context := ContextGeneral
	if sel != nil {
		context = c.vocab.classify(openTag(sel) + " " + alt)
		if context == ContextGeneral {
			context = c.vocab.classify(ancestorMarkers(sel))
		}
	}
	if context == ContextGeneral && fallback != "" {
		context = fallback
	}
	c.out = append(c.out, model.ImageRef{Src: src, Alt: collapse(alt), Context: context})
}

func (c *imageCollector) scanElements(root *goquery.Selection) {
	root.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		c.add(img.AttrOr("src", ""), img.AttrOr("alt", ""), img, "")
	})

	for _, attr := range c.vocab.LazyAttributes {
		root.Find("[" + attr + "]").Each(func(_ int, el *goquery.Selection) {
			val := el.AttrOr(attr, "")
			alt := el.AttrOr("alt", "")
			switch {
			case strings.Contains(val, "url("):
				for _, m := range cssURLRe.FindAllStringSubmatch(val, -1) {
					c.add(m[1], alt, el, ContextBackground)
				}
			case strings.HasSuffix(attr, "srcset"):
				for _, candidate := range srcsetURLs(val) {
					c.add(candidate, alt, el, "")
				}
			default:
				c.add(val, alt, el, "")
			}
		})
	}

	root.Find("img[srcset]").Each(func(_ int, img *goquery.Selection) {
		for _, candidate := range srcsetURLs(img.AttrOr("srcset", "")) {
			c.add(candidate, img.AttrOr("alt", ""), img, "")
		}
	})

	root.Find("picture source[srcset], source[srcset]").Each(func(_ int, source *goquery.Selection) {
		alt := source.Parent().Find("img").AttrOr("alt", "")
		for _, candidate := range srcsetURLs(source.AttrOr("srcset", "")) {
			c.add(candidate, alt, source, "")
		}
	})

	root.Find("[style]").Each(func(_ int, el *goquery.Selection) {
		for _, m := range cssURLRe.FindAllStringSubmatch(el.AttrOr("style", ""), -1) {
			c.add(m[1], el.AttrOr("aria-label", ""), el, ContextBackground)
		}
	})

	root.Find("video[poster]").Each(func(_ int, video *goquery.Selection) {
		c.add(video.AttrOr("poster", ""), "", video, "hero")
	})
}

func (c *imageCollector) scanDocument(doc *goquery.Document) {
	doc.Find("meta[content]").Each(func(_ int, meta *goquery.Selection) {
		key := strings.ToLower(meta.AttrOr("property", meta.AttrOr("name", "")))
		for _, want := range c.vocab.MetaImageKeys {
			if key == want {
				c.add(meta.AttrOr("content", ""), "", nil, "hero")
				return
			}
		}
	})

	doc.Find("link[rel][href]").Each(func(_ int, link *goquery.Selection) {
		rel := strings.ToLower(strings.TrimSpace(link.AttrOr("rel", "")))
		for _, want := range c.vocab.IconRels {
			if rel == want {
				c.add(link.AttrOr("href", ""), "", nil, "icon")
				return
			}
		}
	})

	doc.Find("style").Each(func(_ int, style *goquery.Selection) {
		for _, m := range cssURLRe.FindAllStringSubmatch(style.Text(), -1) {
			if isFontURL(m[1]) {
				continue
			}
			c.add(m[1], "", nil, ContextBackground)
		}
	})

	for _, block := range jsonLDBlocks(doc) {
		c.walkJSONLD(block, "")
	}
}

// walkJSONLD visits image-bearing keys, recursing into @graph,
// itemListElement and item. kind is the nearest enclosing @type.
func (c *imageCollector) walkJSONLD(node any, kind string) {
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			c.walkJSONLD(item, kind)
		}
	case map[string]any:
		if types := schemaTypes(v); len(types) > 0 {
			kind = types[0]
		}
		for _, key := range c.vocab.JSONLDImageKeys {
			fallback := ""
			switch {
			case key == "logo":
				fallback = "logo"
			case isProductType(kind):
				fallback = "product"
			}
			for _, raw := range imageStrings(v[key]) {
				c.add(raw, "", nil, fallback)
			}
		}
		for _, key := range []string{"@graph", "itemListElement", "item", "mainEntity", "hasMenuSection", "hasMenuItem"} {
			if child, ok := v[key]; ok {
				c.walkJSONLD(child, kind)
			}
		}
	}
}

// imageStrings flattens the shapes schema.org allows for an image value:
// a URL, an ImageObject, or a list of either.
func imageStrings(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []any:
		var out []string
		for _, item := range val {
			out = append(out, imageStrings(item)...)
		}
		return out
	case map[string]any:
		for _, key := range []string{"url", "contentUrl", "@id"} {
			if s, ok := val[key].(string); ok && s != "" {
				return []string{s}
			}
		}
	}
	return nil
}

// srcsetURLs returns every candidate URL of a srcset value.
// srcsetURLs returns the candidate URLs of a srcset. A URL runs to the next
// whitespace, so commas inside it (w_400,h_300) survive; candidates are
// separated by a comma ending the URL or following its descriptors.
func srcsetURLs(srcset string) []string {
	const space = " \t\n\r\f"
	var out []string
	rest := srcset
	for {
		rest = strings.TrimLeft(rest, space+",")
		if rest == "" {
			return out
		}
		end := strings.IndexAny(rest, space)
		if end < 0 {
			end = len(rest)
		}
		candidate := rest[:end]
		rest = rest[end:]

		if trimmed := strings.TrimRight(candidate, ","); trimmed != candidate {
			out = append(out, trimmed)
			continue
		}
		out = append(out, candidate)

		depth := 0
		i := 0
	descriptors:
		for ; i < len(rest); i++ {
			switch rest[i] {
			case '(':
				depth++
			case ')':
				if depth > 0 {
					depth--
				}
			case ',':
				if depth == 0 {
					break descriptors
				}
			}
		}
		rest = rest[i:]
	}
}

func isFontURL(raw string) bool {
	lower := strings.ToLower(raw)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range []string{".woff", ".woff2", ".ttf", ".otf", ".eot"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// jsonLDBlocks decodes every ld+json script. Blocks that fail to decode are skipped.
func jsonLDBlocks(doc *goquery.Document) []any {
	var blocks []any
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, script *goquery.Selection) {
		var v any
		if err := json.Unmarshal([]byte(strings.TrimSpace(script.Text())), &v); err != nil {
			return
		}
		blocks = append(blocks, v)
	})
	return blocks
}
