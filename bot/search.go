package bot

import (
	"context"
	"errors"
	"time"

	"github.com/hazyhaar/itembot/catalog"
	"github.com/hazyhaar/itembot/kit"
	"github.com/hazyhaar/itembot/observability"
	"github.com/hazyhaar/itembot/resolve"
)

// SearchRequest is the input of the search endpoint.
type SearchRequest struct {
	Query string `json:"query"`
}

// SearchResult is a search outcome. ImageURL is empty when no image could
// be resolved.
type SearchResult struct {
	Found    bool          `json:"found"`
	Item     *catalog.Item `json:"item,omitempty"`
	ImageURL string        `json:"image_url,omitempty"`
}

// Searcher runs the search-and-resolve pipeline shared by the chat handler,
// the status API and the MCP tool.
type Searcher struct {
	items   *catalog.Store
	images  *resolve.Chain
	events  *observability.EventLogger
	metrics *observability.MetricsManager
}

// NewSearcher returns a Searcher. events and metrics may be nil.
func NewSearcher(items *catalog.Store, images *resolve.Chain, events *observability.EventLogger, metrics *observability.MetricsManager) *Searcher {
	return &Searcher{items: items, images: images, events: events, metrics: metrics}
}

// Search finds the first item matching query and resolves its image.
func (s *Searcher) Search(ctx context.Context, query string) SearchResult {
	start := time.Now()
	item, ok := s.items.Find(query)
	if !ok {
		s.observe(ctx, query, SearchResult{}, start)
		return SearchResult{}
	}
	res := SearchResult{Found: true, Item: &item}
	if url, ok := s.images.Resolve(ctx, item); ok {
		res.ImageURL = url
	}
	s.observe(ctx, query, res, start)
	return res
}

func (s *Searcher) observe(ctx context.Context, query string, res SearchResult, start time.Time) {
	outcome := "not_found"
	ev := observability.BusinessEvent{
		EventType: observability.EventSearch,
		UserID:    kit.GetUserID(ctx),
		Success:   res.Found,
		Details: map[string]any{
			"query":     query,
			"transport": kit.GetTransport(ctx),
		},
	}
	if id := kit.GetRequestID(ctx); id != "" {
		ev.Details["request_id"] = id
	}
	if res.Found {
		outcome = "found"
		ev.EntityType = "item"
		ev.EntityID = res.Item.ID
		ev.Details["image"] = res.ImageURL != ""
	}
	ev.Action = outcome
	s.events.LogEvent(ctx, ev)
	s.metrics.Record(&observability.Metric{
		Name:   observability.MetricSearchDurationMs,
		Value:  float64(time.Since(start).Milliseconds()),
		Unit:   "milliseconds",
		Labels: map[string]string{"outcome": outcome},
	})
}

// errEmptyQuery is returned by the endpoint for a blank query.
var errEmptyQuery = errors.New("query is required")

// Endpoint exposes Search as a kit.Endpoint taking *SearchRequest.
func (s *Searcher) Endpoint() kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		r, ok := req.(*SearchRequest)
		if !ok {
			return nil, errors.New("bot: unexpected request type")
		}
		if catalog.Normalize(r.Query) == "" {
			return nil, errEmptyQuery
		}
		return s.Search(ctx, r.Query), nil
	}
}
