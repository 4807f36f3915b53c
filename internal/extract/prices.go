package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// priceRe matches a currency-tagged amount: $12.00, £8, € 1.299,00, USD 40.
var priceRe = regexp.MustCompile(`(?:[$£€]\s?\d+(?:[,.]\d{3})*(?:[.,]\d{1,2})?|\bUSD\s?\d+(?:[,.]\d{3})*(?:[.,]\d{1,2})?)`)

var currencySymbols = map[string]string{"$": "USD", "£": "GBP", "€": "EUR"}

// FindPrice returns the first currency-tagged amount in text, split into the
// numeric part and an ISO currency code.
func FindPrice(text string) (amount, currency string, ok bool) {
	match := priceRe.FindString(text)
	if match == "" {
		return "", "", false
	}
	return splitPrice(match)
}

func splitPrice(match string) (amount, currency string, ok bool) {
	match = strings.TrimSpace(match)
	if strings.HasPrefix(match, "USD") {
		return strings.TrimSpace(strings.TrimPrefix(match, "USD")), "USD", true
	}
	for symbol, code := range currencySymbols {
		if strings.HasPrefix(match, symbol) {
			return strings.TrimSpace(strings.TrimPrefix(match, symbol)), code, true
		}
	}
	return match, "", true
}

// PriceSignal is a price seen in free text together with the words before it.
type PriceSignal struct {
	Label string `json:"label"`
	Price string `json:"price"`
}

// PriceSignals scans the visible text of a page for prices. It is the
// textual fallback when no catalog entity could be extracted.
func PriceSignals(page string, limit int) []PriceSignal {
	doc := parse(page)
	doc.Find("script, style, noscript, template").Remove()

	var out []PriceSignal
	seen := make(map[string]bool)
	doc.Find("li, p, span, div, td, h2, h3, h4").Each(func(_ int, sel *goquery.Selection) {
		if limit > 0 && len(out) >= limit {
			return
		}
		if sel.Children().Length() > 3 {
			return
		}
		line := collapse(sel.Text())
		if len(line) > 160 {
			return
		}
		loc := priceRe.FindStringIndex(line)
		if loc == nil {
			return
		}
		label := strings.TrimSpace(strings.Trim(strings.TrimSpace(line[:loc[0]]), "-:|–"))
		if label == "" {
			label = strings.TrimSpace(line[loc[1]:])
		}
		key := strings.ToLower(label + "|" + line[loc[0]:loc[1]])
		if label == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, PriceSignal{Label: label, Price: line[loc[0]:loc[1]]})
	})
	return out
}
