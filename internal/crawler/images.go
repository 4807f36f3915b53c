package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"path"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sykell/site-replicator/internal/extract"
	"github.com/sykell/site-replicator/internal/fetch"
	"github.com/sykell/site-replicator/internal/model"
)

const (
	// minImageBytes drops tracking pixels and broken placeholders.
	minImageBytes = 200
	// ProductImageContext is the directory catalog images are written under.
	ProductImageContext = "products"
	maxSlugLength       = 50
)

var contentTypeExtensions = map[string]string{
	"image/jpeg":               ".jpg",
	"image/jpg":                ".jpg",
	"image/pjpeg":              ".jpg",
	"image/png":                ".png",
	"image/gif":                ".gif",
	"image/webp":               ".webp",
	"image/avif":               ".avif",
	"image/svg+xml":            ".svg",
	"image/x-icon":             ".ico",
	"image/vnd.microsoft.icon": ".ico",
	"image/bmp":                ".bmp",
	"image/tiff":               ".tiff",
}

// contextPriority orders site images for download. Lower is earlier.
var contextPriority = map[string]int{
	"product":                 0,
	"hero":                    1,
	"logo":                    2,
	"gallery":                 3,
	extract.ContextBackground: 4,
	"team":                    5,
	"testimonial":             6,
	"icon":                    7,
	extract.ContextGeneral:    8,
}

// PrioritizeImages sorts refs by visual role: product, hero, logo, gallery,
// background, team, testimonial, icon, then general. Order within a role is kept.
func PrioritizeImages(refs []model.ImageRef) []model.ImageRef {
	out := append([]model.ImageRef(nil), refs...)
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i].Context) < rank(out[j].Context)
	})
	return out
}

func rank(role string) int {
	if r, ok := contextPriority[role]; ok {
		return r
	}
	return len(contextPriority)
}

// DownloadSiteImages downloads up to limit images in order, skipping ones
// that fail the size and content-type filters.
func (c *Crawler) DownloadSiteImages(ctx context.Context, refs []model.ImageRef, limit int) []model.ImageAsset {
	var assets []model.ImageAsset
	for _, ref := range refs {
		if len(assets) >= limit || ctx.Err() != nil {
			break
		}
		name := ref.Alt
		if name == "" {
			name = strings.TrimSuffix(path.Base(urlPath(ref.Src)), path.Ext(urlPath(ref.Src)))
		}
		asset, ok := c.downloadImage(ctx, ref.Src, name, ref.Context)
		if !ok {
			continue
		}
		asset.Alt = ref.Alt
		assets = append(assets, asset)
	}
	c.log.Info("site images downloaded", "found", len(refs), "downloaded", len(assets))
	return assets
}

// downloadImage fetches one image. Bodies under 200 bytes, over the fetch
// size cap, or without an image/ content type are rejected.
func (c *Crawler) downloadImage(ctx context.Context, src, entity, role string) (model.ImageAsset, bool) {
	data, contentType, err := c.fetch.Download(ctx, src)
	if err != nil {
		c.log.Debug("image download failed", "url", src, "error", err)
		return model.ImageAsset{}, false
	}
	if len(data) < minImageBytes || len(data) > fetch.MaxImageBytes {
		c.log.Debug("image rejected by size", "url", src, "bytes", len(data))
		return model.ImageAsset{}, false
	}
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if !strings.HasPrefix(mediaType, "image/") {
		c.log.Debug("image rejected by content type", "url", src, "content_type", contentType)
		return model.ImageAsset{}, false
	}

	return model.ImageAsset{
		OriginalURL: src,
		LocalPath:   LocalImagePath(role, entity, src, mediaType),
		EntityName:  entity,
		Context:     role,
		ContentType: mediaType,
		Size:        len(data),
		Data:        data,
	}, true
}

// LocalImagePath builds /images/<context>/<slug>-<hash><ext>. The hash is
// taken from the source URL so distinct images of one entity never collide.
func LocalImagePath(role, name, src, mediaType string) string {
	sum := sha256.Sum256([]byte(src))
	return "/images/" + Slugify(role) + "/" + Slugify(name) + "-" + hex.EncodeToString(sum[:4]) + extensionFor(mediaType, src)
}

func extensionFor(mediaType, src string) string {
	if ext, ok := contentTypeExtensions[mediaType]; ok {
		return ext
	}
	ext := strings.ToLower(path.Ext(urlPath(src)))
	for _, known := range contentTypeExtensions {
		if ext == known {
			return ext
		}
	}
	return ".jpg"
}

// Slugify lower-cases s, strips diacritics and replaces every run of other
// characters with a single dash.
func Slugify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		return "image"
	}
	return slug
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}
