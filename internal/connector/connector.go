// Package connector implements the per-retailer fetch+parse strategies and
// the ordered registry used to resolve a product URL to its retailer.
package connector

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shelfwatch/shelfwatch/internal/tracker"
)

// Page is a fetched document handed to a connector for parsing.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
}

// Fetcher retrieves a product page. Implementations bound their own
// timeouts; a connector never blocks past the fetcher's deadline.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (Page, error)
}

// checkStatus maps HTTP status codes onto the failure taxonomy shared by all
// connectors.
func checkStatus(p Page) error {
	switch {
	case p.StatusCode == http.StatusNotFound || p.StatusCode == http.StatusGone:
		return tracker.Errorf(tracker.ErrKindNotFound, "product page returned %d", p.StatusCode)
	case p.StatusCode == http.StatusTooManyRequests:
		return tracker.Errorf(tracker.ErrKindNetwork, "retailer throttled the request (%d)", p.StatusCode)
	case p.StatusCode >= 500:
		return tracker.Errorf(tracker.ErrKindNetwork, "retailer returned %d", p.StatusCode)
	case p.StatusCode >= 400:
		return tracker.Errorf(tracker.ErrKindParse, "unexpected status %d", p.StatusCode)
	}
	return nil
}

func fetchErr(rawURL string, err error) error {
	return tracker.NewError(tracker.ErrKindNetwork, fmt.Sprintf("fetch %s", rawURL), err)
}
