package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shelfwatch/shelfwatch/internal/config"
	"github.com/shelfwatch/shelfwatch/internal/connector"
	"github.com/shelfwatch/shelfwatch/internal/orchestrator"
	"github.com/shelfwatch/shelfwatch/internal/storage/memory"
	"github.com/shelfwatch/shelfwatch/internal/tracker"
)

type stubConnector struct{ code, needle string }

func (c stubConnector) Code() string { return c.code }

func (c stubConnector) Matches(rawURL string) bool { return strings.Contains(rawURL, c.needle) }

func (c stubConnector) ProductID(string) (string, bool) { return "1", true }

func (c stubConnector) Fetch(context.Context, string) (tracker.RawFields, error) {
	return tracker.RawFields{}, nil
}

type nopQueue struct{}

func (nopQueue) Enqueue(context.Context, tracker.Task) error { return nil }

func (nopQueue) EnqueueAfter(context.Context, tracker.Task, time.Duration) error { return nil }

func (nopQueue) Dequeue(context.Context) (tracker.Task, error) {
	return tracker.Task{}, context.Canceled
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

type counterIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *counterIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%04d", g.n), nil
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *memory.TrackerStore) {
	t.Helper()

	records := memory.NewTrackerStore()
	registry := connector.NewRegistry(
		stubConnector{code: "ozon", needle: "ozon.ru"},
		stubConnector{code: "wildberries", needle: "wildberries.ru"},
	)
	orch := orchestrator.New(
		records, registry, nopQueue{}, wallClock{}, &counterIDGen{},
		orchestrator.Config{MaxURLs: cfg.Scraper.MaxURLsPerRun},
		zap.NewNop(),
	)
	return NewServer(orch, cfg, zap.NewNop()), records
}

func doJSON(t *testing.T, srv *Server, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreateRunAccepted(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, config.Config{})
	body := `{"urls":["https://www.ozon.ru/product/moloko-166279183/","not a url"]}`

	rec := doJSON(t, srv, http.MethodPost, "/v1/runs", body, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		RunID    string                `json:"run_id"`
		Status   string                `json:"status"`
		Total    int                   `json:"total"`
		Rejected []tracker.RejectedURL `json:"rejected"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RunID)
	require.Equal(t, "processing", resp.Status)
	require.Equal(t, 1, resp.Total)
	require.Len(t, resp.Rejected, 1)
	require.Equal(t, "not a url", resp.Rejected[0].URL)
}

func TestCreateRunPerItemProductType(t *testing.T) {
	t.Parallel()

	srv, records := newTestServer(t, config.Config{})
	body := `{"items":[
		{"url":"https://www.ozon.ru/product/a-1/","product_type":"own"},
		{"url":"https://www.wildberries.ru/catalog/2/detail.aspx","product_type":"competitor"}
	]}`

	rec := doJSON(t, srv, http.MethodPost, "/v1/runs", body, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	items, err := records.ListItems(context.Background(), resp.RunID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, tracker.ProductTypeOwn, items[0].ProductType)
	require.Equal(t, tracker.ProductTypeCompetitor, items[1].ProductType)
}

func TestCreateRunBadRequests(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, config.Config{})

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{"urls":`},
		{"no urls", `{"urls":[]}`},
		{"unknown product type", `{"urls":["https://www.ozon.ru/product/a-1/"],"product_type":"reseller"}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := doJSON(t, srv, http.MethodPost, "/v1/runs", tc.body, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.NotEmpty(t, resp["error"])
		})
	}
}

func TestCreateRunOverLimit(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, config.Config{
		Scraper: config.ScraperConfig{MaxURLsPerRun: 1},
	})
	body := `{"urls":["https://www.ozon.ru/product/a-1/","https://www.ozon.ru/product/b-2/"]}`

	rec := doJSON(t, srv, http.MethodPost, "/v1/runs", body, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "at most 1 URLs")
}

func TestGetRunReturnsView(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, config.Config{})
	rec := doJSON(t, srv, http.MethodPost, "/v1/runs", `{"urls":["https://www.ozon.ru/product/a-1/"]}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, srv, http.MethodGet, "/v1/runs/"+created.RunID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view tracker.RunView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, created.RunID, view.ID)
	require.Equal(t, tracker.RunStatusProcessing, view.Status)
	require.Len(t, view.Items, 1)
	require.Equal(t, 1, view.Progress.Total)
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, config.Config{})
	rec := doJSON(t, srv, http.MethodGet, "/v1/runs/ghost", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryRun(t *testing.T) {
	t.Parallel()

	srv, records := newTestServer(t, config.Config{})
	rec := doJSON(t, srv, http.MethodPost, "/v1/runs", `{"urls":["https://www.ozon.ru/product/a-1/"]}`, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// Nothing has failed yet, so a retry is a validation error.
	rec = doJSON(t, srv, http.MethodPost, "/v1/runs/"+created.RunID+"/retry", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	items, err := records.ListItems(context.Background(), created.RunID)
	require.NoError(t, err)
	items[0].Status = tracker.ItemStatusFailed
	require.NoError(t, records.SaveItem(context.Background(), items[0]))

	rec = doJSON(t, srv, http.MethodPost, "/v1/runs/"+created.RunID+"/retry", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var retried struct {
		RunID string `json:"run_id"`
		Total int    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &retried))
	require.NotEqual(t, created.RunID, retried.RunID)
	require.Equal(t, 1, retried.Total)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "secret"
	srv, _ := newTestServer(t, cfg)

	rec := doJSON(t, srv, http.MethodGet, "/v1/runs/ghost", "", nil)
	require.Equal(t, http.StatusForbidden, rec.Code, "missing key is rejected before the handler runs")

	rec = doJSON(t, srv, http.MethodGet, "/v1/runs/ghost", "", http.Header{"X-Api-Key": {"wrong"}})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/v1/runs/ghost", "", http.Header{"X-Api-Key": {"secret"}})
	require.Equal(t, http.StatusNotFound, rec.Code, "a valid key reaches the handler")

	// Health and metrics stay open for probes and scrapers.
	rec = doJSON(t, srv, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
