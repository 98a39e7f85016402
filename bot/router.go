package bot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/itembot/admin"
	"github.com/hazyhaar/itembot/channels"
	"github.com/hazyhaar/itembot/kit"
)

// Counter reports the number of observed users.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// ChannelLister lists the open channels.
type ChannelLister interface {
	ListChannels() []channels.ChannelInfo
}

// Status is the body of GET /api/status.
type Status struct {
	Items    int                    `json:"items"`
	Images   int                    `json:"images"`
	Users    int                    `json:"users"`
	Enabled  bool                   `json:"enabled"`
	Channels []channels.ChannelInfo `json:"channels"`
}

// RouterDeps are the collaborators of the status API.
type RouterDeps struct {
	Search   *Searcher
	Items    int
	Images   int
	Users    Counter
	Switch   *admin.Switch
	Channels ChannelLister // optional
}

// NewRouter returns the status API:
//
//	GET /health
//	GET /api/status
//	GET /api/search?q=<query>
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/status", func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Users.Count(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		st := Status{
			Items:    deps.Items,
			Images:   deps.Images,
			Users:    n,
			Enabled:  deps.Switch.Enabled(),
			Channels: []channels.ChannelInfo{},
		}
		if deps.Channels != nil {
			st.Channels = deps.Channels.ListChannels()
		}
		writeJSON(w, http.StatusOK, st)
	})

	search := kit.Chain(kit.WithTransportTag("http"))(deps.Search.Endpoint())
	r.Get("/api/search", func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		resp, err := search(ctx, &SearchRequest{Query: r.URL.Query().Get("q")})
		if errors.Is(err, errEmptyQuery) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		res := resp.(SearchResult)
		if !res.Found {
			writeJSON(w, http.StatusNotFound, res)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
