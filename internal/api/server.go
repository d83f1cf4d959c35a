package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/finrag/internal/ingest"
	"github.com/kalambet/finrag/internal/intent"
	"github.com/kalambet/finrag/internal/pipeline"
	"github.com/kalambet/finrag/internal/prices"
	"github.com/kalambet/finrag/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Scanner queues new and changed files from the data directory.
type Scanner interface {
	Scan(ctx context.Context) (ingest.ScanResult, error)
}

// HistoryStore reads the interaction log and corpus counters.
type HistoryStore interface {
	GetRecentInteractions(limit int) ([]storage.Interaction, error)
	GetInteraction(id string) (storage.Interaction, error)
	Stats() (storage.Stats, error)
}

// Deps holds what the HTTP handlers need. Scanner may be nil, in which case
// POST /ingest answers 503.
type Deps struct {
	Answerer pipeline.Answerer
	Prices   pipeline.PriceStatistics
	Scanner  Scanner
	Store    HistoryStore
	Token    string // bearer token; empty disables auth
}

// NewHandler returns the finrag REST API. /health is always open; every other
// route requires the bearer token when one is configured.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(RequireToken(deps.Token))
		r.Post("/v1/ask", handleAsk(deps))
		r.Get("/prices/stats", handlePriceStats(deps))
		r.Post("/ingest", handleIngest(deps))
		r.Get("/interactions", handleListInteractions(deps))
		r.Get("/interactions/{id}", handleGetInteraction(deps))
		r.Get("/stats", handleStats(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type askRequest struct {
	Question string `json:"question"`
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		question := strings.TrimSpace(req.Question)
		if question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		writeJSON(w, deps.Answerer.Answer(r.Context(), question))
	}
}

type statisticsJSON struct {
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	Highest     string `json:"highest"`
	Lowest      string `json:"lowest"`
	Average     string `json:"average"`
	SampleCount int    `json:"sample_count"`
}

type outcomeJSON struct {
	Kind           string          `json:"kind"`
	Text           string          `json:"text"`
	Stats          *statisticsJSON `json:"stats,omitempty"`
	AvailableYears []int           `json:"available_years,omitempty"`
}

// priceOutcome runs a statistics request for question against p, treating a
// nil p as an unloaded series.
func priceOutcome(p pipeline.PriceStatistics, question string) outcomeJSON {
	tokens := intent.ExtractTemporal(question)
	var out prices.Outcome
	if p == nil {
		out = (*prices.Series)(nil).Statistics(tokens, question)
	} else {
		out = p.Statistics(tokens, question)
	}

	res := outcomeJSON{Kind: out.Kind.String(), Text: out.Text, AvailableYears: out.AvailableYears}
	if st := out.Stats; st != nil {
		res.Stats = &statisticsJSON{
			PeriodStart: st.PeriodStart.Format(time.DateOnly),
			PeriodEnd:   st.PeriodEnd.Format(time.DateOnly),
			Highest:     st.Highest.StringFixed(2),
			Lowest:      st.Lowest.StringFixed(2),
			Average:     st.Average.StringFixed(2),
			SampleCount: st.SampleCount,
		}
	}
	return res
}

func handlePriceStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query parameter q is required")
			return
		}
		writeJSON(w, priceOutcome(deps.Prices, q))
	}
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Scanner == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "ingestion is not available")
			return
		}
		res, err := deps.Scanner.Scan(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "scan failed: %v", err)
			return
		}
		writeJSON(w, map[string]any{
			"status":    "queued",
			"queued":    res.Queued,
			"unchanged": res.Unchanged,
			"removed":   res.Removed,
			"skipped":   res.Skipped,
		})
	}
}

type interactionJSON struct {
	ID         string          `json:"id"`
	CreatedAt  string          `json:"created_at"`
	Question   string          `json:"question"`
	Strategy   string          `json:"strategy"`
	Answer     string          `json:"answer"`
	Citations  json.RawMessage `json:"citations"`
	DurationMS int64           `json:"duration_ms"`
	Status     string          `json:"status"`
}

func toInteractionJSON(i storage.Interaction) interactionJSON {
	cites := json.RawMessage(i.CitationsJSON)
	if !json.Valid(cites) {
		cites = json.RawMessage("[]")
	}
	return interactionJSON{
		ID:         i.ID,
		CreatedAt:  i.CreatedAt.Format(time.RFC3339),
		Question:   i.Question,
		Strategy:   i.Strategy,
		Answer:     i.Answer,
		Citations:  cites,
		DurationMS: i.DurationMS,
		Status:     i.Status,
	}
}

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		interactions, err := deps.Store.GetRecentInteractions(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}

		out := make([]interactionJSON, len(interactions))
		for i, ix := range interactions {
			out[i] = toInteractionJSON(ix)
		}
		writeJSON(w, out)
	}
}

func handleGetInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		interaction, err := deps.Store.GetInteraction(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get interaction: %v", err)
			return
		}
		writeJSON(w, toInteractionJSON(interaction))
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Store.Stats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read stats: %v", err)
			return
		}
		writeJSON(w, map[string]int{
			"documents":    st.Documents,
			"passages":     st.Passages,
			"interactions": st.Interactions,
			"pending_jobs": st.PendingJobs,
			"failed_jobs":  st.FailedJobs,
		})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
