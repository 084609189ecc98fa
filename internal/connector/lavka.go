package connector

import (
	"bytes"
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/shelfwatch/shelfwatch/internal/tracker"
)

var lavkaProductPattern = regexp.MustCompile(`lavka\.yandex\.ru/\d+/good/([a-zA-Z0-9_-]+)`)

// Lavka scrapes lavka.yandex.ru. Like Ozon the storefront is a client-side
// app, so the connector expects a headless fetcher. Lavka carries no ratings
// or review counts, only price and availability.
type Lavka struct {
	fetcher Fetcher
}

// NewLavka builds the connector.
func NewLavka(fetcher Fetcher) *Lavka {
	return &Lavka{fetcher: fetcher}
}

// Code implements tracker.Connector.
func (c *Lavka) Code() string { return "lavka" }

// Matches implements tracker.Connector.
func (c *Lavka) Matches(rawURL string) bool {
	return lavkaProductPattern.MatchString(rawURL)
}

// ProductID implements tracker.Connector.
func (c *Lavka) ProductID(rawURL string) (string, bool) {
	m := lavkaProductPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Fetch implements tracker.Connector.
func (c *Lavka) Fetch(ctx context.Context, rawURL string) (tracker.RawFields, error) {
	id, ok := c.ProductID(rawURL)
	if !ok {
		return tracker.RawFields{}, tracker.Errorf(tracker.ErrKindUnsupportedRetailer, "not a lavka product url: %s", rawURL)
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

	fields.Title = strings.TrimSpace(doc.Find(`[data-testid="product-title"]`).First().Text())
	if fields.Title == "" {
		fields.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	if price, ok := ParsePrice(doc.Find(`[data-testid="product-price"]`).First().Text()); ok {
		fields.PriceRegular = floatPtr(price)
	}
	if old, ok := ParsePrice(doc.Find(`[data-testid="product-price-old"]`).First().Text()); ok {
		fields.PricePromo = fields.PriceRegular
		fields.PriceRegular = floatPtr(old)
	}

	body := string(page.Body)
	fields.InStock = !strings.Contains(body, "Товар закончился") &&
		!strings.Contains(body, "Нет в наличии")

	if fields.PriceRegular == nil && fields.InStock {
		return tracker.RawFields{}, tracker.Errorf(tracker.ErrKindParse, "no price found on page for product %s", id)
	}
	return fields, nil
}
