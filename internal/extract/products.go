package extract

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/sykell/site-replicator/internal/model"
)

// maxCardImages caps the images kept per product card.
const maxCardImages = 5

// ExtractProductsFromHTML finds product-card fragments with the default vocabulary.
func ExtractProductsFromHTML(page, pageURL string) []model.ScrapedProduct {
	return Default().Products(page, pageURL)
}

// Products extracts product cards from markup. It is the fallback for pages
// without structured data. A matched element that wraps two or more cards is
// treated as a list and its cards are read individually; otherwise cards
// nested inside an already matched card are ignored. A card is kept only if
// its name is longer than two characters.
func (e *Extractor) Products(page, pageURL string) []model.ScrapedProduct {
	doc := parse(page)
	base := parseBase(pageURL)

	var cards []*cardMatch
	index := make(map[*html.Node]*cardMatch)
	doc.Find("*").Each(func(_ int, sel *goquery.Selection) {
		if !e.isProductCard(sel) {
			return
		}
		m := &cardMatch{}
		for p := sel.Nodes[0].Parent; p != nil; p = p.Parent {
			if parent, ok := index[p]; ok {
				m.parent = parent
				break
			}
		}
		m.product, m.ok = e.productFromCard(sel, base, pageURL)
		index[sel.Nodes[0]] = m
		cards = append(cards, m)
	})

	// Document order puts ancestors first, so walking backwards settles
	// every descendant before its container.
	for i := len(cards) - 1; i >= 0; i-- {
		m := cards[i]
		m.list = m.below >= 2
		if m.parent == nil {
			continue
		}
		switch {
		case m.list:
			m.parent.below += m.below
		case m.ok:
			m.parent.below++
		}
	}

	var products []model.ScrapedProduct
	for _, m := range cards {
		if m.parent != nil && (m.parent.claimed || m.parent.inside) {
			m.inside = true
			continue
		}
		if m.list {
			continue
		}
		m.claimed = true
		if m.ok {
			products = append(products, m.product)
		}
	}
	return products
}

// cardMatch is one element matching the card vocabulary.
type cardMatch struct {
	parent  *cardMatch
	product model.ScrapedProduct
	ok      bool
	below   int // cards found beneath it
	list    bool
	claimed bool
	inside  bool
}

func (e *Extractor) isProductCard(sel *goquery.Selection) bool {
	card := e.vocab.ProductCard
	for _, a := range sel.Nodes[0].Attr {
		key := strings.ToLower(a.Key)
		val := strings.ToLower(a.Val)
		switch {
		case key == "data-component" || key == "data-testid":
			if containsAny(val, card.ComponentKeywords) || containsAny(val, card.Containers) {
				return true
			}
		case key == "class" || strings.HasPrefix(key, "data-"):
			if containsAny(val, card.Containers) {
				return true
			}
		}
	}
	return false
}

func (e *Extractor) productFromCard(card *goquery.Selection, base *url.URL, pageURL string) (model.ScrapedProduct, bool) {
	vocab := e.vocab.ProductCard

	name := ""
	card.Find("h1, h2, h3, h4, h5, h6, a, span, div, p, [itemprop]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		markers := strings.ToLower(sel.AttrOr("class", "") + " " + sel.AttrOr("itemprop", "") + " " + sel.AttrOr("data-testid", ""))
		if !containsAny(markers, vocab.TitleKeywords) {
			return true
		}
		name = collapse(sel.Text())
		return name == ""
	})
	if name == "" {
		name = collapse(card.Find("h1, h2, h3, h4, h5, h6").First().Text())
	}
	if utf8.RuneCountInString(name) <= 2 {
		return model.ScrapedProduct{}, false
	}

	p := model.ScrapedProduct{Name: name, InStock: true, Images: []string{}}

	card.Find("*").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		markers := strings.ToLower(sel.AttrOr("class", "") + " " + sel.AttrOr("itemprop", "") + " " + sel.AttrOr("data-testid", ""))
		if !containsAny(markers, vocab.PriceKeywords) {
			return true
		}
		if amount, currency, ok := FindPrice(collapse(sel.Text())); ok {
			p.Price, p.Currency = amount, currency
			return false
		}
		if content, ok := sel.Attr("content"); ok && strings.TrimSpace(content) != "" {
			p.Price = strings.TrimSpace(content)
			return false
		}
		return true
	})
	if p.Price == "" {
		if amount, currency, ok := FindPrice(collapse(card.Text())); ok {
			p.Price, p.Currency = amount, currency
		}
	}

	link := ""
	card.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if containsAny(strings.ToLower(a.AttrOr("href", "")), vocab.LinkKeywords) {
			link = a.AttrOr("href", "")
			return false
		}
		return true
	})
	if link == "" {
		if goquery.NodeName(card) == "a" {
			link = card.AttrOr("href", "")
		} else {
			link = card.Find("a[href]").First().AttrOr("href", "")
		}
	}
	if abs, ok := ResolveURL(link, base); ok {
		p.URL = abs
	} else {
		p.URL = pageURL
	}

	for _, img := range e.imagesIn(card, base) {
		if len(p.Images) == maxCardImages {
			break
		}
		p.Images = append(p.Images, img.Src)
	}

	if strings.Contains(strings.ToLower(card.Text()), "sold out") || strings.Contains(strings.ToLower(card.Text()), "out of stock") {
		p.InStock = false
	}
	return p, true
}
