package images

import (
	"html"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// Candidate is an image URL found for a source, with an optional caption.
type Candidate struct {
	URL     string
	Caption string
}

var productHints = []string{"product", "hero", "main", "gallery", "zoom", "primary", "pdp"}

// ExtractCandidates returns image URLs from an HTML page in priority order:
// og:image, then elements matching selector, then <img> tags whose src, class,
// id or alt look like a product shot. Relative URLs are resolved against page;
// data: URLs and duplicates are dropped.
func ExtractCandidates(page *url.URL, body io.Reader, selector string, sanitizer *bluemonday.Policy) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	seen := map[string]bool{}
	add := func(raw, caption string) {
		u := resolve(page, raw)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, Candidate{URL: u, Caption: cleanCaption(sanitizer, caption)})
	}

	title := doc.Find(`meta[property="og:title"]`).AttrOr("content", "")
	doc.Find(`meta[property="og:image"], meta[property="og:image:secure_url"], meta[name="twitter:image"]`).Each(func(_ int, s *goquery.Selection) {
		add(s.AttrOr("content", ""), title)
	})

	if selector != "" {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			add(imageRef(s), captionOf(s))
		})
	}

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		ref := imageRef(s)
		if ref == "" || !looksLikeProduct(s, ref) {
			return
		}
		add(ref, captionOf(s))
	})

	return out, nil
}

// imageRef picks the best image reference off an element.
func imageRef(s *goquery.Selection) string {
	for _, attr := range []string{"data-zoom-image", "data-large", "data-src", "src", "content", "href"} {
		if v := strings.TrimSpace(s.AttrOr(attr, "")); v != "" {
			return v
		}
	}
	if srcset := s.AttrOr("srcset", ""); srcset != "" {
		return largestFromSrcset(srcset)
	}
	return ""
}

// largestFromSrcset returns the last candidate, which is the widest by convention.
func largestFromSrcset(srcset string) string {
	parts := strings.Split(srcset, ",")
	last := strings.Fields(strings.TrimSpace(parts[len(parts)-1]))
	if len(last) == 0 {
		return ""
	}
	return last[0]
}

func captionOf(s *goquery.Selection) string {
	if alt := s.AttrOr("alt", ""); alt != "" {
		return alt
	}
	return s.AttrOr("title", "")
}

func looksLikeProduct(s *goquery.Selection, ref string) bool {
	haystack := strings.ToLower(strings.Join([]string{
		ref, s.AttrOr("class", ""), s.AttrOr("id", ""), s.AttrOr("alt", ""),
	}, " "))
	for _, h := range productHints {
		if strings.Contains(haystack, h) {
			return true
		}
	}
	return false
}

func resolve(page *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(strings.ToLower(raw), "data:") {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if page != nil {
		ref = page.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	ref.Fragment = ""
	return ref.String()
}

const maxCaption = 200

func cleanCaption(p *bluemonday.Policy, s string) string {
	if p != nil {
		s = html.UnescapeString(p.Sanitize(s))
	}
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxCaption {
		s = string(r[:maxCaption])
	}
	return s
}
