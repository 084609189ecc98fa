package connector

import (
	"github.com/shelfwatch/shelfwatch/internal/tracker"
)

// Registry holds connectors in registration order. Resolution walks the list
// and the first match wins; ties are broken by registration order, not by
// pattern specificity. The set is fixed at process start — mid-run hot-swap
// is out of scope.
type Registry struct {
	connectors []tracker.Connector
}

// NewRegistry builds a registry from the given connectors, preserving order.
func NewRegistry(connectors ...tracker.Connector) *Registry {
	return &Registry{connectors: append([]tracker.Connector(nil), connectors...)}
}

// Resolve returns the first connector whose pattern matches the URL.
func (r *Registry) Resolve(rawURL string) (tracker.Connector, bool) {
	for _, c := range r.connectors {
		if c.Matches(rawURL) {
			return c, true
		}
	}
	return nil, false
}

// Codes lists the registered retailer codes in order.
func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.connectors))
	for _, c := range r.connectors {
		codes = append(codes, c.Code())
	}
	return codes
}
