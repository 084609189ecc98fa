package connector

import (
	"bytes"
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/shelfwatch/shelfwatch/internal/tracker"
)

// The listing ID is the digit run at the end of the slug; the anchor keeps
// digits inside the product name out of the capture.
var ozonProductPattern = regexp.MustCompile(`ozon\.ru/product/[^/?#]*?(\d+)/?(?:[?#]|$)`)

// Ozon scrapes ozon.ru product pages. The storefront is rendered client-side,
// so this connector expects a headless fetcher.
type Ozon struct {
	fetcher Fetcher
}

// NewOzon builds the connector.
func NewOzon(fetcher Fetcher) *Ozon {
	return &Ozon{fetcher: fetcher}
}

// Code implements tracker.Connector.
func (c *Ozon) Code() string { return "ozon" }

// Matches implements tracker.Connector.
func (c *Ozon) Matches(rawURL string) bool {
	return ozonProductPattern.MatchString(rawURL)
}

// ProductID implements tracker.Connector.
func (c *Ozon) ProductID(rawURL string) (string, bool) {
	m := ozonProductPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Fetch implements tracker.Connector.
func (c *Ozon) Fetch(ctx context.Context, rawURL string) (tracker.RawFields, error) {
	id, ok := c.ProductID(rawURL)
	if !ok {
		return tracker.RawFields{}, tracker.Errorf(tracker.ErrKindUnsupportedRetailer, "not an ozon product url: %s", rawURL)
	}

	page, err := c.fetcher.Get(ctx, rawURL)
	if err != nil {
		return tracker.RawFields{}, fetchErr(rawURL, err)
	}
	if err := checkStatus(page); err != nil {
		return tracker.RawFields{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return tracker.RawFields{}, tracker.NewError(tracker.ErrKindParse, "parse product page", err)
	}

	fields := tracker.RawFields{
		ProductID: id,
		Currency:  "RUB",
		Body:      page.Body,
	}

	fields.Title = strings.TrimSpace(doc.Find(`div[data-widget="webProductHeading"] h1`).First().Text())
	if fields.Title == "" {
		fields.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	// Ozon renders prices inside the webPrice widget; struck-through spans
	// carry the pre-discount price.
	priceBlock := doc.Find(`div[data-widget="webPrice"]`).First()
	if current, ok := ParsePrice(priceBlock.Find(`span`).Not(`[style*="line-through"]`).First().Text()); ok {
		fields.PricePromo = floatPtr(current)
	}
	if original, ok := ParsePrice(priceBlock.Find(`span[style*="line-through"]`).First().Text()); ok {
		fields.PriceRegular = floatPtr(original)
	}
	if fields.PriceRegular == nil {
		fields.PriceRegular, fields.PricePromo = fields.PricePromo, nil
	}

	score := doc.Find(`div[data-widget="webSingleProductScore"]`).First().Text()
	if rating, ok := ParseRating(score); ok {
		fields.Rating = floatPtr(rating)
	}
	if count, ok := ParseCount(doc.Find(`a[href*="reviews"]`).First().Text()); ok {
		fields.ReviewsCount = intPtr(count)
	}

	fields.InStock = doc.Find(`div[data-widget="webAddToCart"]`).Length() > 0 &&
		!strings.Contains(string(page.Body), "Нет в наличии")

	if fields.PriceRegular == nil && fields.InStock {
		return tracker.RawFields{}, tracker.Errorf(tracker.ErrKindParse, "no price found on page for product %s", id)
	}
	return fields, nil
}
