package wizard

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/scrapewizard/internal/gate"
	"github.com/hazyhaar/scrapewizard/internal/store"
)

// Handler returns the studio HTTP API. metrics, when non-nil, is served
// on /metrics.
func (s *Studio) Handler(metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer, requestLogger(s.log), apiHeaders, maxJSONBody(maxAPIBody))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", s.handleList)
		r.Get("/sessions/{id}", s.handleGet)
		r.Get("/sessions/{id}/events", s.handleEvents)
		r.Post("/sessions/{id}/hints", s.handleHints)
		r.Get("/pending", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, s.Pending())
		})
		r.Post("/pending/answer", s.handleAnswer)
		r.Post("/pending/done", func(w http.ResponseWriter, _ *http.Request) {
			s.reply(w, s.Answer(string(gate.Resolved), ""))
		})
		r.Post("/pending/cancel", func(w http.ResponseWriter, _ *http.Request) {
			s.reply(w, s.Answer(string(gate.Cancelled), ""))
		})
	})
	return r
}

func queryLimit(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func (s *Studio) handleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := s.Sessions(r.Context(), limit)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	if list == nil {
		list = []store.Summary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Studio) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Studio) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 200)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	events, err := s.Events(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Studio) handleHints(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hints []string `json:"hints"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.AddHints(r.Context(), chi.URLParam(r, "id"), req.Hints); err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queued": req.Hints})
}

func (s *Studio) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
		Value  string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.reply(w, s.Answer(req.Status, req.Value))
}

func (s *Studio) reply(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gate.ErrNothingPending), errors.Is(err, ErrNoPrompter):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Studio) fail(w http.ResponseWriter, r *http.Request, code int, err error) {
	if code >= http.StatusInternalServerError {
		requestLog(r.Context()).Error("studio: request failed", "status", code, "error", err)
	}
	writeError(w, code, err)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
