package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/shelfwatch/shelfwatch/internal/tracker"
)

var wbProductPattern = regexp.MustCompile(`wildberries\.ru/catalog/(\d+)/detail`)

// wbCardAPI is the public card endpoint; prices come back in kopecks.
const wbCardAPI = "https://card.wb.ru/cards/v2/detail?appType=1&curr=rub&dest=-1257786&nm=%s"

// Wildberries scrapes wildberries.ru through its card JSON API, which is far
// more stable than the storefront markup.
type Wildberries struct {
	fetcher Fetcher
}

// NewWildberries builds the connector.
func NewWildberries(fetcher Fetcher) *Wildberries {
	return &Wildberries{fetcher: fetcher}
}

// Code implements tracker.Connector.
func (c *Wildberries) Code() string { return "wildberries" }

// Matches implements tracker.Connector.
func (c *Wildberries) Matches(rawURL string) bool {
	return wbProductPattern.MatchString(rawURL)
}

// ProductID implements tracker.Connector.
func (c *Wildberries) ProductID(rawURL string) (string, bool) {
	m := wbProductPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

type wbCardResponse struct {
	Data struct {
		Products []struct {
			Name          string  `json:"name"`
			ReviewRating  float64 `json:"reviewRating"`
			Feedbacks     int     `json:"feedbacks"`
			TotalQuantity int     `json:"totalQuantity"`
			Sizes         []struct {
				Price struct {
					Basic   int64 `json:"basic"`
					Product int64 `json:"product"`
				} `json:"price"`
			} `json:"sizes"`
		} `json:"products"`
	} `json:"data"`
}

// Fetch implements tracker.Connector.
func (c *Wildberries) Fetch(ctx context.Context, rawURL string) (tracker.RawFields, error) {
	id, ok := c.ProductID(rawURL)
	if !ok {
		return tracker.RawFields{}, tracker.Errorf(tracker.ErrKindUnsupportedRetailer, "not a wildberries product url: %s", rawURL)
	}

	page, err := c.fetcher.Get(ctx, fmt.Sprintf(wbCardAPI, id))
	if err != nil {
		return tracker.RawFields{}, fetchErr(rawURL, err)
	}
	if err := checkStatus(page); err != nil {
		return tracker.RawFields{}, err
	}

	var card wbCardResponse
	if err := json.Unmarshal(page.Body, &card); err != nil {
		return tracker.RawFields{}, tracker.NewError(tracker.ErrKindParse, "decode card response", err)
	}
	if len(card.Data.Products) == 0 {
		return tracker.RawFields{}, tracker.Errorf(tracker.ErrKindNotFound, "product %s not in card response", id)
	}

	p := card.Data.Products[0]
	fields := tracker.RawFields{
		ProductID: id,
		Title:     p.Name,
		Currency:  "RUB",
		InStock:   p.TotalQuantity > 0,
		Body:      page.Body,
	}
	if len(p.Sizes) > 0 {
		price := p.Sizes[0].Price
		if price.Basic > 0 {
			fields.PriceRegular = floatPtr(float64(price.Basic) / 100)
		}
		if price.Product > 0 && price.Product != price.Basic {
			fields.PricePromo = floatPtr(float64(price.Product) / 100)
		}
	}
	if p.ReviewRating > 0 {
		fields.Rating = floatPtr(p.ReviewRating)
	}
	if p.Feedbacks > 0 {
		fields.ReviewsCount = intPtr(p.Feedbacks)
	}
	if fields.PriceRegular == nil && fields.PricePromo == nil {
		return tracker.RawFields{}, tracker.Errorf(tracker.ErrKindParse, "card response for %s carries no price", id)
	}
	return fields, nil
}
