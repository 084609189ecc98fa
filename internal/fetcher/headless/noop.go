package headless

import (
	"context"
	"errors"

	"github.com/shelfwatch/shelfwatch/internal/connector"
)

// Noop implements connector.Fetcher but always returns an error to indicate
// that headless browsing is not available in the current build.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Get returns an error since this is a stub implementation.
func (Noop) Get(_ context.Context, _ string) (connector.Page, error) {
	return connector.Page{}, errors.New("headless fetcher not configured")
}
