package connector

import (
	"bytes"
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/shelfwatch/shelfwatch/internal/tracker"
)

var vkusvillProductPattern = regexp.MustCompile(`vkusvill\.ru/goods/[^/]+-(\d+)\.html`)

// VkusVill scrapes vkusvill.ru, which serves server-rendered pages with
// microdata annotations.
type VkusVill struct {
	fetcher Fetcher
}

// NewVkusVill builds the connector.
func NewVkusVill(fetcher Fetcher) *VkusVill {
	return &VkusVill{fetcher: fetcher}
}

// Code implements tracker.Connector.
func (c *VkusVill) Code() string { return "vkusvill" }

// Matches implements tracker.Connector.
func (c *VkusVill) Matches(rawURL string) bool {
	return vkusvillProductPattern.MatchString(rawURL)
}

// ProductID implements tracker.Connector.
func (c *VkusVill) ProductID(rawURL string) (string, bool) {
	m := vkusvillProductPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Fetch implements tracker.Connector.
func (c *VkusVill) Fetch(ctx context.Context, rawURL string) (tracker.RawFields, error) {
	id, ok := c.ProductID(rawURL)
	if !ok {
		return tracker.RawFields{}, tracker.Errorf(tracker.ErrKindUnsupportedRetailer, "not a vkusvill product url: %s", rawURL)
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

	fields.Title = strings.TrimSpace(doc.Find(`h1[itemprop="name"]`).First().Text())
	if fields.Title == "" {
		fields.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	if content, exists := doc.Find(`meta[itemprop="price"]`).First().Attr("content"); exists {
		if price, ok := ParsePrice(content); ok {
			fields.PriceRegular = floatPtr(price)
		}
	}
	if fields.PriceRegular == nil {
		if price, ok := ParsePrice(doc.Find(`span[itemprop="price"], .Price__value`).First().Text()); ok {
			fields.PriceRegular = floatPtr(price)
		}
	}
	if old, ok := ParsePrice(doc.Find(".Price__old").First().Text()); ok {
		// The struck-through price becomes regular, the displayed one promo.
		fields.PricePromo = fields.PriceRegular
		fields.PriceRegular = floatPtr(old)
	}

	if rating, ok := ParseRating(doc.Find(`[itemprop="ratingValue"], .Rating__value`).First().Text()); ok {
		fields.Rating = floatPtr(rating)
	}
	if count, ok := ParseCount(doc.Find(`[itemprop="reviewCount"], .Rating__count`).First().Text()); ok {
		fields.ReviewsCount = intPtr(count)
	}

	availability, _ := doc.Find(`link[itemprop="availability"]`).First().Attr("href")
	fields.InStock = !strings.Contains(availability, "OutOfStock") &&
		doc.Find(".ProductCard__soldout").Length() == 0

	if fields.PriceRegular == nil && fields.InStock {
		return tracker.RawFields{}, tracker.Errorf(tracker.ErrKindParse, "no price found on page for product %s", id)
	}
	return fields, nil
}
