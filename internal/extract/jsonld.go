package extract

import (
	"html"
	"strconv"
	"strings"

	"github.com/sykell/site-replicator/internal/model"
)

// StructuredData is every typed entity recovered from a page's JSON-LD.
type StructuredData struct {
	Products  []model.ScrapedProduct
	Listings  []model.ScrapedListing
	MenuItems []model.ScrapedMenuItem
	Jobs      []model.ScrapedJob
	Articles  []model.ScrapedArticle
}

// Count is the number of entities of every kind.
func (s StructuredData) Count() int {
	return len(s.Products) + len(s.Listings) + len(s.MenuItems) + len(s.Jobs) + len(s.Articles)
}

var (
	productTypes = map[string]bool{"product": true, "individualproduct": true, "productmodel": true, "productgroup": true}
	listingTypes = map[string]bool{
		"realestatelisting": true, "residence": true, "house": true, "apartment": true,
		"singlefamilyresidence": true, "accommodation": true, "offerforlease": true, "offerforpurchase": true,
	}
	articleTypes = map[string]bool{"article": true, "newsarticle": true, "blogposting": true, "report": true}
)

// ExtractJSONLDProducts returns the products described by the page's JSON-LD.
func ExtractJSONLDProducts(page string) []model.ScrapedProduct {
	return ExtractStructuredData(page, "").Products
}

// ExtractStructuredData walks every ld+json block. A block that does not
// decode is skipped without affecting the others.
func ExtractStructuredData(page, pageURL string) StructuredData {
	var out StructuredData
	for _, block := range jsonLDBlocks(parse(page)) {
		out.walk(block, pageURL, "")
	}
	return out
}

func (s *StructuredData) walk(node any, pageURL, section string) {
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			s.walk(item, pageURL, section)
		}
	case map[string]any:
		for _, t := range schemaTypes(v) {
			switch {
			case productTypes[t]:
				s.Products = append(s.Products, productFromJSONLD(v, pageURL))
				if t == "productgroup" {
					s.walk(v["hasVariant"], pageURL, section)
				}
				return
			case t == "itemlist":
				for _, el := range asSlice(v["itemListElement"]) {
					if m, ok := el.(map[string]any); ok {
						if item, ok := m["item"]; ok {
							s.walk(item, pageURL, section)
							continue
						}
					}
					s.walk(el, pageURL, section)
				}
				return
			case listingTypes[t]:
				s.Listings = append(s.Listings, listingFromJSONLD(v, pageURL))
				return
			case t == "menu" || t == "menusection":
				category := section
				if t == "menusection" {
					category = text(v["name"])
				}
				s.walk(v["hasMenuSection"], pageURL, category)
				s.walk(v["hasMenuItem"], pageURL, category)
				return
			case t == "menuitem":
				s.MenuItems = append(s.MenuItems, menuItemFromJSONLD(v, pageURL, section))
				return
			case t == "jobposting":
				s.Jobs = append(s.Jobs, jobFromJSONLD(v, pageURL))
				return
			case articleTypes[t]:
				s.Articles = append(s.Articles, articleFromJSONLD(v, pageURL))
				return
			}
		}
		s.walk(v["@graph"], pageURL, section)
		s.walk(v["mainEntity"], pageURL, section)
		s.walk(v["hasMenu"], pageURL, section)
	}
}

func productFromJSONLD(v map[string]any, pageURL string) model.ScrapedProduct {
	p := model.ScrapedProduct{
		Name:        text(v["name"]),
		Description: text(v["description"]),
		Images:      imageStrings(v["image"]),
		URL:         firstNonEmpty(text(v["url"]), pageURL),
		Category:    text(v["category"]),
		Brand:       name(v["brand"]),
		SKU:         text(v["sku"]),
		InStock:     true,
	}
	if p.Images == nil {
		p.Images = []string{}
	}

	offers := asSlice(firstPresent(v, "offers", "offer"))
	if len(offers) == 1 {
		if agg, ok := offers[0].(map[string]any); ok && hasType(agg, "aggregateoffer") {
			if nested := asSlice(agg["offers"]); len(nested) > 0 {
				offers = nested
			} else {
				p.Price = price(firstPresent(agg, "lowPrice", "price"))
				p.Currency = text(agg["priceCurrency"])
			}
		}
	}
	if len(offers) > 0 {
		if first, ok := offers[0].(map[string]any); ok {
			if p.Price == "" {
				p.Price = price(first["price"])
				p.Currency = text(first["priceCurrency"])
			}
			availability := text(first["availability"])
			if availability != "" && !strings.Contains(availability, "InStock") {
				p.InStock = false
			}
		}
	}
	if len(offers) > 1 {
		for _, o := range offers {
			if m, ok := o.(map[string]any); ok {
				if label := firstNonEmpty(text(m["name"]), text(m["sku"]), price(m["price"])); label != "" {
					p.Variants = append(p.Variants, label)
				}
			}
		}
	}
	return p
}

func listingFromJSONLD(v map[string]any, pageURL string) model.ScrapedListing {
	l := model.ScrapedListing{
		Title:        firstNonEmpty(text(v["name"]), text(v["headline"])),
		Description:  text(v["description"]),
		Images:       imageStrings(v["image"]),
		URL:          firstNonEmpty(text(v["url"]), pageURL),
		PropertyType: schemaTypeName(v),
	}
	if l.Images == nil {
		l.Images = []string{}
	}
	if offer, ok := firstMap(firstPresent(v, "offers", "offer")); ok {
		l.Price = price(offer["price"])
		l.Currency = text(offer["priceCurrency"])
	}
	// RealEstateListing usually nests the property under "about".
	about, _ := firstMap(firstPresent(v, "about", "itemOffered", "mainEntity"))
	subject := v
	if about != nil {
		subject = about
		if l.PropertyType == "" || strings.EqualFold(l.PropertyType, "RealEstateListing") {
			l.PropertyType = schemaTypeName(about)
		}
		if len(l.Images) == 0 {
			l.Images = imageStrings(about["image"])
			if l.Images == nil {
				l.Images = []string{}
			}
		}
	}
	l.Address = address(subject["address"])
	l.Bedrooms = quantity(firstPresent(subject, "numberOfBedrooms", "numberOfRooms"))
	l.Bathrooms = quantity(firstPresent(subject, "numberOfBathroomsTotal", "numberOfFullBathrooms"))
	l.Sqft = quantity(subject["floorSize"])
	return l
}

func menuItemFromJSONLD(v map[string]any, pageURL, section string) model.ScrapedMenuItem {
	m := model.ScrapedMenuItem{
		Name:        text(v["name"]),
		Description: text(v["description"]),
		Category:    section,
		Images:      imageStrings(v["image"]),
		URL:         firstNonEmpty(text(v["url"]), pageURL),
	}
	if m.Images == nil {
		m.Images = []string{}
	}
	if offer, ok := firstMap(firstPresent(v, "offers", "offer")); ok {
		m.Price = price(offer["price"])
		m.Currency = text(offer["priceCurrency"])
	}
	for _, diet := range asSlice(v["suitableForDiet"]) {
		tag := text(diet)
		tag = strings.TrimSuffix(tag[strings.LastIndex(tag, "/")+1:], "Diet")
		if tag != "" {
			m.DietaryTags = append(m.DietaryTags, tag)
		}
	}
	return m
}

func jobFromJSONLD(v map[string]any, pageURL string) model.ScrapedJob {
	j := model.ScrapedJob{
		Title:       text(v["title"]),
		Company:     name(v["hiringOrganization"]),
		Description: text(v["description"]),
		DatePosted:  text(v["datePosted"]),
		URL:         firstNonEmpty(text(v["url"]), pageURL),
	}
	var types []string
	for _, t := range asSlice(v["employmentType"]) {
		if s := text(t); s != "" {
			types = append(types, s)
		}
	}
	j.EmploymentType = strings.Join(types, ", ")
	if place, ok := firstMap(v["jobLocation"]); ok {
		j.Location = address(place["address"])
	}
	if j.Location == "" && text(v["jobLocationType"]) == "TELECOMMUTE" {
		j.Location = "Remote"
	}
	j.Salary = salary(v["baseSalary"])
	return j
}

func articleFromJSONLD(v map[string]any, pageURL string) model.ScrapedArticle {
	a := model.ScrapedArticle{
		Title:       firstNonEmpty(text(v["headline"]), text(v["name"])),
		Author:      name(v["author"]),
		PublishedAt: text(v["datePublished"]),
		Summary:     text(v["description"]),
		Images:      imageStrings(v["image"]),
		URL:         firstNonEmpty(text(v["url"]), pageURL),
	}
	if a.Images == nil {
		a.Images = []string{}
	}
	return a
}

// schemaTypes returns the lower-cased @type values of a node.
func schemaTypes(v map[string]any) []string {
	var out []string
	for _, t := range asSlice(v["@type"]) {
		if s, ok := t.(string); ok {
			s = s[strings.LastIndex(s, "/")+1:]
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}

func schemaTypeName(v map[string]any) string {
	for _, t := range asSlice(v["@type"]) {
		if s, ok := t.(string); ok {
			return s[strings.LastIndex(s, "/")+1:]
		}
	}
	return ""
}

func hasType(v map[string]any, want string) bool {
	for _, t := range schemaTypes(v) {
		if t == want {
			return true
		}
	}
	return false
}

func isProductType(kind string) bool {
	return productTypes[kind]
}

func asSlice(v any) []any {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		return val
	default:
		return []any{val}
	}
}

func firstMap(v any) (map[string]any, bool) {
	for _, item := range asSlice(v) {
		if m, ok := item.(map[string]any); ok {
			return m, true
		}
	}
	return nil, false
}

func firstPresent(v map[string]any, keys ...string) any {
	for _, k := range keys {
		if val, ok := v[k]; ok && val != nil {
			return val
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// text renders a scalar as unescaped, whitespace-collapsed text.
func text(v any) string {
	switch val := v.(type) {
	case string:
		return collapse(html.UnescapeString(val))
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case map[string]any:
		return firstNonEmpty(text(val["@value"]), text(val["name"]))
	case []any:
		if len(val) > 0 {
			return text(val[0])
		}
	}
	return ""
}

func name(v any) string {
	if m, ok := firstMap(v); ok {
		return text(m["name"])
	}
	return text(v)
}

// price keeps string prices verbatim and formats numbers without trailing zeros.
func price(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return ""
}

func quantity(v any) string {
	if m, ok := v.(map[string]any); ok {
		return text(m["value"])
	}
	return text(v)
}

func address(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return text(v)
	}
	var parts []string
	for _, key := range []string{"streetAddress", "addressLocality", "addressRegion", "postalCode", "addressCountry"} {
		if s := name(m[key]); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func salary(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return text(v)
	}
	currency := text(m["currency"])
	value, ok := m["value"].(map[string]any)
	if !ok {
		return strings.TrimSpace(currency + " " + text(m["value"]))
	}
	amount := text(value["value"])
	if lo, hi := text(value["minValue"]), text(value["maxValue"]); lo != "" && hi != "" {
		amount = lo + "-" + hi
	}
	out := strings.TrimSpace(currency + " " + amount)
	if unit := text(value["unitText"]); unit != "" {
		out += " per " + strings.ToLower(unit)
	}
	return out
}
