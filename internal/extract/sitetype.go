package extract

import (
	"strings"

	"github.com/sykell/site-replicator/internal/model"
)

// minKeywordHits is how many vocabulary phrases must appear before text alone
// decides a site type.
const minKeywordHits = 2

// siteTypeOrder breaks ties between equally supported site types.
var siteTypeOrder = []model.SiteType{
	model.SiteRetail,
	model.SiteRealEstate,
	model.SiteRestaurant,
	model.SiteJobs,
	model.SiteArticles,
}

// DetectSiteType picks the site type with the most extracted entities. With
// no entities at all it falls back to counting vocabulary phrases in text.
func (e *Extractor) DetectSiteType(entities map[model.SiteType]int, text string) model.SiteType {
	if best, n := argmax(entities); n > 0 {
		return best
	}

	text = strings.ToLower(text)
	hits := make(map[model.SiteType]int, len(siteTypeOrder))
	for _, st := range siteTypeOrder {
		for _, kw := range e.vocab.SiteTypeKeywords[string(st)] {
			if strings.Contains(text, kw) {
				hits[st]++
			}
		}
	}
	if best, n := argmax(hits); n >= minKeywordHits {
		return best
	}
	return model.SiteGeneric
}

// EntityCounts tallies structured data by the site type each kind implies.
func (s StructuredData) EntityCounts() map[model.SiteType]int {
	return map[model.SiteType]int{
		model.SiteRetail:     len(s.Products),
		model.SiteRealEstate: len(s.Listings),
		model.SiteRestaurant: len(s.MenuItems),
		model.SiteJobs:       len(s.Jobs),
		model.SiteArticles:   len(s.Articles),
	}
}

func argmax(counts map[model.SiteType]int) (model.SiteType, int) {
	best, bestN := model.SiteGeneric, 0
	for _, st := range siteTypeOrder {
		if counts[st] > bestN {
			best, bestN = st, counts[st]
		}
	}
	return best, bestN
}
