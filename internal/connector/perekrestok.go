package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/shelfwatch/shelfwatch/internal/tracker"
)

var perekrestokProductPattern = regexp.MustCompile(`perekrestok\.ru/cat/\d+/p/[^/]+-(\d+)`)

// Perekrestok scrapes perekrestok.ru. Product data rides along in a JSON-LD
// block, with DOM selectors as fallback.
type Perekrestok struct {
	fetcher Fetcher
}

// NewPerekrestok builds the connector.
func NewPerekrestok(fetcher Fetcher) *Perekrestok {
	return &Perekrestok{fetcher: fetcher}
}

// Code implements tracker.Connector.
func (c *Perekrestok) Code() string { return "perekrestok" }

// Matches implements tracker.Connector.
func (c *Perekrestok) Matches(rawURL string) bool {
	return perekrestokProductPattern.MatchString(rawURL)
}

// ProductID implements tracker.Connector.
func (c *Perekrestok) ProductID(rawURL string) (string, bool) {
	m := perekrestokProductPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

type productLD struct {
	Type   string `json:"@type"`
	Name   string `json:"name"`
	Offers struct {
		Price        json.Number `json:"price"`
		Availability string      `json:"availability"`
	} `json:"offers"`
	AggregateRating struct {
		RatingValue json.Number `json:"ratingValue"`
		ReviewCount json.Number `json:"reviewCount"`
	} `json:"aggregateRating"`
}

// Fetch implements tracker.Connector.
func (c *Perekrestok) Fetch(ctx context.Context, rawURL string) (tracker.RawFields, error) {
	id, ok := c.ProductID(rawURL)
	if !ok {
		return tracker.RawFields{}, tracker.Errorf(tracker.ErrKindUnsupportedRetailer, "not a perekrestok product url: %s", rawURL)
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
		InStock:   true,
		Body:      page.Body,
	}

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var ld productLD
		if json.Unmarshal([]byte(s.Text()), &ld) != nil || ld.Type != "Product" {
			return true
		}
		fields.Title = ld.Name
		if price, perr := ld.Offers.Price.Float64(); perr == nil && price > 0 {
			fields.PriceRegular = floatPtr(price)
		}
		if rating, rerr := ld.AggregateRating.RatingValue.Float64(); rerr == nil && rating > 0 {
			fields.Rating = floatPtr(rating)
		}
		if count, cerr := ld.AggregateRating.ReviewCount.Int64(); cerr == nil && count > 0 {
			fields.ReviewsCount = intPtr(int(count))
		}
		fields.InStock = !strings.Contains(ld.Offers.Availability, "OutOfStock")
		return false
	})

	if fields.Title == "" {
		fields.Title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if fields.PriceRegular == nil {
		if price, ok := ParsePrice(doc.Find(".price-new, .product-price").First().Text()); ok {
			fields.PriceRegular = floatPtr(price)
		}
	}
	if old, ok := ParsePrice(doc.Find(".price-old").First().Text()); ok {
		fields.PricePromo = fields.PriceRegular
		fields.PriceRegular = floatPtr(old)
	}

	if fields.PriceRegular == nil && fields.InStock {
		return tracker.RawFields{}, tracker.Errorf(tracker.ErrKindParse, "no price found on page for product %s", id)
	}
	return fields, nil
}
