package extract

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var defaultVocabulary []byte

// ImageContext is one named visual role and the keywords that select it.
type ImageContext struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// ProductCardVocabulary drives the pattern-based product extractor.
type ProductCardVocabulary struct {
	Containers        []string `yaml:"containers"`
	ComponentKeywords []string `yaml:"component_keywords"`
	TitleKeywords     []string `yaml:"title_keywords"`
	PriceKeywords     []string `yaml:"price_keywords"`
	LinkKeywords      []string `yaml:"link_keywords"`
}

// Framework names a platform and the raw-HTML markers revealing it.
type Framework struct {
	Name    string   `yaml:"name"`
	Markers []string `yaml:"markers"`
}

// Vocabulary is the tunable keyword data behind every extractor.
type Vocabulary struct {
	ImageContexts    []ImageContext        `yaml:"image_contexts"`
	LazyAttributes   []string              `yaml:"lazy_attributes"`
	MetaImageKeys    []string              `yaml:"meta_image_keys"`
	IconRels         []string              `yaml:"icon_rels"`
	JSONLDImageKeys  []string              `yaml:"jsonld_image_keys"`
	ProductCard      ProductCardVocabulary `yaml:"product_card"`
	SiteTypeKeywords map[string][]string   `yaml:"site_type_keywords"`
	Frameworks       []Framework           `yaml:"frameworks"`
}

var (
	defaultOnce  sync.Once
	defaultVocab *Vocabulary
)

// DefaultVocabulary returns the embedded vocabulary.
func DefaultVocabulary() *Vocabulary {
	defaultOnce.Do(func() {
		v, err := ParseVocabulary(defaultVocabulary)
		if err != nil {
			panic(fmt.Sprintf("extract: embedded vocabulary: %v", err))
		}
		defaultVocab = v
	})
	return defaultVocab
}

// LoadVocabulary reads a vocabulary file. An empty path yields the default.
func LoadVocabulary(path string) (*Vocabulary, error) {
	if path == "" {
		return DefaultVocabulary(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary: %w", err)
	}
	return ParseVocabulary(data)
}

// ParseVocabulary decodes YAML vocabulary and lower-cases every keyword.
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary: %w", err)
	}
	if len(v.ImageContexts) == 0 || len(v.ProductCard.Containers) == 0 {
		return nil, fmt.Errorf("vocabulary needs image_contexts and product_card.containers")
	}
	for i := range v.ImageContexts {
		lowerAll(v.ImageContexts[i].Keywords)
	}
	lowerAll(v.LazyAttributes)
	lowerAll(v.MetaImageKeys)
	lowerAll(v.IconRels)
	lowerAll(v.ProductCard.Containers)
	lowerAll(v.ProductCard.ComponentKeywords)
	lowerAll(v.ProductCard.TitleKeywords)
	lowerAll(v.ProductCard.PriceKeywords)
	lowerAll(v.ProductCard.LinkKeywords)
	for _, kws := range v.SiteTypeKeywords {
		lowerAll(kws)
	}
	return &v, nil
}

// classify returns the first image context whose keyword occurs in text.
func (v *Vocabulary) classify(text string) string {
	text = strings.ToLower(text)
	for _, c := range v.ImageContexts {
		for _, kw := range c.Keywords {
			if strings.Contains(text, kw) {
				return c.Name
			}
		}
	}
	return ContextGeneral
}

func lowerAll(items []string) {
	for i, s := range items {
		items[i] = strings.ToLower(s)
	}
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
