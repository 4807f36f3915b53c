package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cardsPage = `<html><body>
<div class="grid">
  <div class="product-card">
    <a href="/products/blue-mug"><img src="/img/mug.jpg" alt="Blue Mug"></a>
    <h3 class="product-card__title">Blue Mug</h3>
    <span class="price">$12.00</span>
  </div>
  <div class="product-card"><h3 class="card-title">OK</h3></div>
  <li class="product-tile" data-x="1">
    <div class="tile-name">Green Bowl</div>
    <p>Now £8.50</p>
    <a href="/about">About</a>
  </li>
  <article data-testid="product-summary">
    <h2>Salt Cellar</h2>
    <p>Sold out</p>
  </article>
</div>
</body></html>`

func TestExtractProductsFromHTML(t *testing.T) {
	products := ExtractProductsFromHTML(cardsPage, "https://example.com/shop")
	require.Len(t, products, 3)

	mug := products[0]
	assert.Equal(t, "Blue Mug", mug.Name)
	assert.Equal(t, "12.00", mug.Price)
	assert.Equal(t, "USD", mug.Currency)
	assert.Equal(t, "https://example.com/products/blue-mug", mug.URL)
	assert.Equal(t, []string{"https://example.com/img/mug.jpg"}, mug.Images)
	assert.True(t, mug.InStock)

	bowl := products[1]
	assert.Equal(t, "Green Bowl", bowl.Name)
	assert.Equal(t, "8.50", bowl.Price)
	assert.Equal(t, "GBP", bowl.Currency)
	assert.Equal(t, "https://example.com/about", bowl.URL, "falls back to the first anchor")
	assert.Empty(t, bowl.Images)

	salt := products[2]
	assert.Equal(t, "Salt Cellar", salt.Name)
	assert.Empty(t, salt.Price)
	assert.Equal(t, "https://example.com/shop", salt.URL)
	assert.False(t, salt.InStock)
}

func TestExtractProductsCapsImages(t *testing.T) {
	page := `<div class="product-item"><h4 class="name">Tile Set</h4>` +
		`<img src="/1.jpg"><img src="/2.jpg"><img src="/3.jpg"><img src="/4.jpg"><img src="/5.jpg"><img src="/6.jpg"><img src="/7.jpg">` +
		`</div>`

	products := ExtractProductsFromHTML(page, "https://example.com")
	require.Len(t, products, 1)
	assert.Len(t, products[0].Images, maxCardImages)
}

func TestExtractProductsNoCards(t *testing.T) {
	page := `<html><body><h1>About us</h1><p>We make pottery. $5 gift cards.</p></body></html>`
	assert.Empty(t, ExtractProductsFromHTML(page, "https://example.com"))
}

func TestExtractProductsReadsCardsInsideMatchedList(t *testing.T) {
	cards := `<li class="item product product-item"><strong class="product-item-name"><a class="product-item-link" href="/blue-mug.html">Blue Mug</a></strong><span class="price">$12.00</span></li>` +
		`<li class="item product product-item"><strong class="product-item-name"><a class="product-item-link" href="/green-bowl.html">Green Bowl</a></strong><span class="price">$8.00</span></li>` +
		`<li class="item product product-item"><strong class="product-item-name"><a class="product-item-link" href="/salt-cellar.html">Salt Cellar</a></strong><span class="price">$5.00</span></li>`

	bare := ExtractProductsFromHTML(`<ul>`+cards+`</ul>`, "https://example.com")
	wrapped := ExtractProductsFromHTML(`<div class="products wrapper"><ol class="products list items product-items">`+cards+`</ol></div>`, "https://example.com")

	require.Len(t, bare, 3)
	require.Len(t, wrapped, 3)
	for i, name := range []string{"Blue Mug", "Green Bowl", "Salt Cellar"} {
		assert.Equal(t, name, wrapped[i].Name)
		assert.Equal(t, bare[i], wrapped[i])
	}
	assert.Equal(t, "8.00", wrapped[1].Price)
	assert.Equal(t, "https://example.com/green-bowl.html", wrapped[1].URL)
}

func TestExtractProductsNameLengthCountsCharacters(t *testing.T) {
	page := `<div class="product-card"><h3>杯子</h3><span class="price">$3.00</span></div>` +
		`<div class="product-card"><h3>茶杯套</h3><span class="price">$9.00</span></div>`

	products := ExtractProductsFromHTML(page, "https://example.com")
	require.Len(t, products, 1)
	assert.Equal(t, "茶杯套", products[0].Name)
}
