package images

import (
	"net/url"
	"strings"
	"testing"

	"github.com/microcosm-cc/bluemonday"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productPage = `<html><head>
<meta property="og:image" content="/img/hero.jpg">
<meta property="og:title" content="Qi10   Driver">
</head><body>
<div class="gallery"><a class="zoom" href="https://cdn.example.com/qi10-large.jpg"><img src="/thumb.jpg" alt="thumb"></a></div>
<img src="data:image/png;base64,AAAA" class="product">
<img src="/img/logo.png" alt="Logo">
<img class="product-image" data-src="//cdn.example.com/qi10-side.jpg" src="/placeholder.gif" alt="Qi10 &amp; <b>side</b>">
<img src="/img/hero.jpg#zoomed" class="main">
<img srcset="/img/s.jpg 300w, /img/l-gallery.jpg 1200w">
</body></html>`

func TestExtractCandidates(t *testing.T) {
	page, _ := url.Parse("https://shop.example.com/drivers/qi10")

	got, err := ExtractCandidates(page, strings.NewReader(productPage), "div.gallery a.zoom", bluemonday.StrictPolicy())
	require.NoError(t, err)

	assert.Equal(t, []Candidate{
		{URL: "https://shop.example.com/img/hero.jpg", Caption: "Qi10 Driver"},
		{URL: "https://cdn.example.com/qi10-large.jpg"},
		{URL: "https://cdn.example.com/qi10-side.jpg", Caption: "Qi10 & side"},
		{URL: "https://shop.example.com/img/l-gallery.jpg"},
	}, got)
}

func TestExtractCandidates_NoSelector(t *testing.T) {
	got, err := ExtractCandidates(nil, strings.NewReader(`<img src="https://x.example/p.jpg" id="main-image">`), "", nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://x.example/p.jpg", got[0].URL)
}

func TestExtractCandidates_NothingUsable(t *testing.T) {
	got, err := ExtractCandidates(nil, strings.NewReader(`<p>sold out</p><img src="/logo.svg">`), "", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCleanCaption(t *testing.T) {
	p := bluemonday.StrictPolicy()
	assert.Equal(t, "Pro V1 & Pro V1x", cleanCaption(p, "Pro V1 <script>alert(1)</script>& Pro V1x"))
	assert.Len(t, []rune(cleanCaption(p, strings.Repeat("é", 500))), maxCaption)
}
