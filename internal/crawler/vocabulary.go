package crawler

import (
	_ "embed"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var defaultVocabulary []byte

// Vocabulary is the URL path data that steers discovery and deep crawling.
type Vocabulary struct {
	CatalogPaths        []string       `yaml:"catalog_paths"`
	ExcludePaths        []string       `yaml:"exclude_paths"`
	StaticExtensions    []string       `yaml:"static_extensions"`
	CollectionWeights   map[string]int `yaml:"collection_weights"`
	DeepCrawlPriorities []string       `yaml:"deep_crawl_priorities"`
}

var (
	defaultOnce  sync.Once
	defaultVocab *Vocabulary
)

// DefaultVocabulary returns the embedded crawl vocabulary.
func DefaultVocabulary() *Vocabulary {
	defaultOnce.Do(func() {
		v, err := ParseVocabulary(defaultVocabulary)
		if err != nil {
			panic(fmt.Sprintf("crawler: embedded vocabulary: %v", err))
		}
		defaultVocab = v
	})
	return defaultVocab
}

// LoadVocabulary reads a vocabulary file. An empty path yields the default.
func LoadVocabulary(file string) (*Vocabulary, error) {
	if file == "" {
		return DefaultVocabulary(), nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read crawl vocabulary: %w", err)
	}
	return ParseVocabulary(data)
}

// ParseVocabulary decodes YAML crawl vocabulary.
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse crawl vocabulary: %w", err)
	}
	if len(v.CatalogPaths) == 0 {
		return nil, fmt.Errorf("crawl vocabulary needs catalog_paths")
	}
	return &v, nil
}

// segments splits a path into lower-cased, non-empty segments.
func segments(p string) []string {
	var out []string
	for _, s := range strings.Split(strings.ToLower(p), "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// isStatic reports whether the path names a static asset.
func (v *Vocabulary) isStatic(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	for _, e := range v.StaticExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// isExcluded reports whether any path segment starts with an excluded fragment.
func (v *Vocabulary) isExcluded(p string) bool {
	for _, seg := range segments(p) {
		for _, ex := range v.ExcludePaths {
			if seg == ex || strings.HasPrefix(seg, ex+"-") || strings.HasPrefix(seg, ex+".") {
				return true
			}
		}
	}
	return v.isStatic(p)
}

// isCatalog reports whether a path looks like a catalog, category or listing page.
func (v *Vocabulary) isCatalog(p string) bool {
	if v.isExcluded(p) {
		return false
	}
	for _, seg := range segments(p) {
		for _, kw := range v.CatalogPaths {
			if seg == kw || strings.HasPrefix(seg, kw+"-") || strings.HasSuffix(seg, "-"+kw) {
				return true
			}
		}
	}
	return false
}

// collectionScore weighs a path by the collection fragments it contains.
func (v *Vocabulary) collectionScore(p string) int {
	lower := strings.ToLower(p)
	score := 0
	for fragment, weight := range v.CollectionWeights {
		if strings.Contains(lower, fragment) {
			score += weight
		}
	}
	return score
}

// deepScore ranks a path for the deep crawl: earlier vocabulary entries score
// higher, unmatched paths score zero.
func (v *Vocabulary) deepScore(p string) int {
	lower := strings.ToLower(p)
	for i, kw := range v.DeepCrawlPriorities {
		if strings.Contains(lower, kw) {
			return len(v.DeepCrawlPriorities) - i
		}
	}
	return 0
}
