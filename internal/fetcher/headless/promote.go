package headless

import (
	"context"

	"go.uber.org/zap"

	"github.com/shelfwatch/shelfwatch/internal/connector"
)

// Promoting fetches through a static HTTP fetcher first and falls back to a
// headless render when the response looks like a client-rendered shell.
// Retailers that normally serve full HTML sometimes flip a listing page to
// an SPA bootstrap; promotion keeps those scrapes working without paying the
// browser cost on every request.
type Promoting struct {
	static   connector.Fetcher
	render   connector.Fetcher
	detector *Detector
	logger   *zap.Logger
}

// NewPromoting combines a static and a rendering fetcher. detector may be
// nil, in which case a default one is used.
func NewPromoting(static, render connector.Fetcher, detector *Detector, logger *zap.Logger) *Promoting {
	if detector == nil {
		detector = NewDetector(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{
		static:   static,
		render:   render,
		detector: detector,
		logger:   logger,
	}
}

// Get fetches the URL statically, promoting to the renderer when needed. A
// failed render falls back to the static page so the connector can at least
// report a precise parse failure.
func (p *Promoting) Get(ctx context.Context, rawURL string) (connector.Page, error) {
	page, err := p.static.Get(ctx, rawURL)
	if err != nil {
		return connector.Page{}, err
	}
	if !p.detector.NeedsRender(page) {
		return page, nil
	}

	p.logger.Debug("promoting fetch to headless render", zap.String("url", rawURL))
	rendered, renderErr := p.render.Get(ctx, rawURL)
	if renderErr != nil {
		p.logger.Warn("headless render failed, using static page",
			zap.String("url", rawURL),
			zap.Error(renderErr),
		)
		return page, nil
	}
	return rendered, nil
}
