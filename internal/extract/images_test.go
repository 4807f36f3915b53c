package extract

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sykell/site-replicator/internal/model"
)

func byURL(refs []model.ImageRef) map[string]model.ImageRef {
	out := make(map[string]model.ImageRef, len(refs))
	for _, r := range refs {
		out[r.Src] = r
	}
	return out
}

func TestResolveURL(t *testing.T) {
	base, err := url.Parse("https://example.com/dir/page.html")
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
		want string
		ok   bool
	}{
		{"protocol relative", "//cdn.example.net/a.png", "https://cdn.example.net/a.png", true},
		{"root relative", "/img/a.png", "https://example.com/img/a.png", true},
		{"document relative", "img/a.png", "https://example.com/dir/img/a.png", true},
		{"absolute", "http://other.example.org/a.png", "http://other.example.org/a.png", true},
		{"fragment dropped", "/a.png#zoom", "https://example.com/a.png", true},
		{"data uri", "data:image/png;base64,iVBORw0KGgo=", "", false},
		{"blob uri", "blob:https://example.com/1234", "", false},
		{"too short", "a.pn", "", false},
		{"ftp", "ftp://example.com/a.png", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveURL(tt.raw, base)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractImagesDeduplicatesLazyAttribute(t *testing.T) {
	page := `<html><body><img src="/a.jpg" data-src="/a.jpg" alt="Hero shot"></body></html>`

	refs := ExtractImages(page, "https://example.com/")
	require.Len(t, refs, 1)
	assert.Equal(t, "https://example.com/a.jpg", refs[0].Src)
	assert.Equal(t, "hero", refs[0].Context)
	assert.Equal(t, "Hero shot", refs[0].Alt)
}

func TestExtractImagesSources(t *testing.T) {
	page := `<html>
<head>
  <meta property="og:image" content="https://example.com/social.jpg">
  <link rel="icon" href="/favicon.ico">
  <style>.banner { background: url("/bg.jpg") } @font-face { src: url(/f.woff2) }</style>
  <script type="application/ld+json">{not json</script>
  <script type="application/ld+json">
  {"@context":"https://schema.org","@graph":[
    {"@type":"Organization","logo":"/brand.png"},
    {"@type":"Product","name":"Mug","image":["/mug.jpg"]}
  ]}
  </script>
</head>
<body>
  <img srcset="/s1.jpg 1x, /s2.jpg 2x" alt="gallery shot">
  <picture><source srcset="/p-large.webp"><img src="/p-small.jpg" alt="x"></picture>
  <div class="lazy" data-bg="url('/lazy-bg.jpg')"></div>
  <div class="team-member" style="background-image: url('/t.jpg')"></div>
  <video poster="/media/p.jpg"></video>
  <img src="data:image/gif;base64,R0lGODlhAQABAAAAACw=">
</body>
</html>`

	refs := byURL(ExtractImages(page, "https://example.com/"))

	want := map[string]string{
		"https://example.com/s1.jpg":       "gallery",
		"https://example.com/s2.jpg":       "gallery",
		"https://example.com/p-small.jpg":  ContextGeneral,
		"https://example.com/p-large.webp": ContextGeneral,
		"https://example.com/lazy-bg.jpg":  ContextBackground,
		"https://example.com/t.jpg":        "team",
		"https://example.com/media/p.jpg":  "hero",
		"https://example.com/social.jpg":   "hero",
		"https://example.com/favicon.ico":  "icon",
		"https://example.com/bg.jpg":       ContextBackground,
		"https://example.com/brand.png":    "logo",
		"https://example.com/mug.jpg":      "product",
	}
	assert.Len(t, refs, len(want))
	for src, context := range want {
		ref, ok := refs[src]
		if assert.True(t, ok, "missing %s", src) {
			assert.Equal(t, context, ref.Context, src)
		}
	}
	assert.NotContains(t, refs, "https://example.com/f.woff2")
}

func TestExtractImagesClassifiesByAncestor(t *testing.T) {
	page := `<div class="testimonial-slide"><div><img src="/people/jo.jpg"></div></div>`

	refs := ExtractImages(page, "https://example.com")
	require.Len(t, refs, 1)
	assert.Equal(t, "testimonial", refs[0].Context)
}

func TestExtractImagesFirstContextWins(t *testing.T) {
	page := `<img src="/x.png" alt="Company logo on the hero banner">`

	refs := ExtractImages(page, "https://example.com")
	require.Len(t, refs, 1)
	assert.Equal(t, "logo", refs[0].Context)
}

func TestSrcsetURLs(t *testing.T) {
	tests := []struct {
		name   string
		srcset string
		want   []string
	}{
		{"density descriptors", "/s1.jpg 1x, /s2.jpg 2x", []string{"/s1.jpg", "/s2.jpg"}},
		{"single url", "/p-large.webp", []string{"/p-large.webp"}},
		{"no space after comma", "/a.jpg 400w,/b.jpg 800w", []string{"/a.jpg", "/b.jpg"}},
		{"candidate without descriptor", "/a.jpg, /b.jpg 2x", []string{"/a.jpg", "/b.jpg"}},
		{
			"commas inside urls",
			"https://res.cloudinary.com/demo/image/upload/w_400,h_300/mug.jpg 400w, https://res.cloudinary.com/demo/image/upload/w_800,h_600/mug.jpg 800w",
			[]string{
				"https://res.cloudinary.com/demo/image/upload/w_400,h_300/mug.jpg",
				"https://res.cloudinary.com/demo/image/upload/w_800,h_600/mug.jpg",
			},
		},
		{"empty", "  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, srcsetURLs(tt.srcset))
		})
	}
}
