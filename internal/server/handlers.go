package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"pulse/internal/core"
	"pulse/internal/feed"
	"pulse/internal/ingest"
	"pulse/internal/interactions"
)

// writeJSON renders a JSON response body.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders the structured {error, message} body.
func writeError(w http.ResponseWriter, status int, label, message string) {
	writeJSON(w, status, map[string]string{"error": label, "message": message})
}

// respondError maps service errors onto HTTP statuses.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidPageToken):
		writeError(w, http.StatusBadRequest, "Invalid page token", err.Error())
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err.Error())
	case core.IsValidation(err):
		var ve *core.ValidationError
		errors.As(err, &ve)
		label := "Validation failed"
		if ve.Field == "metadata.bundleState" {
			label = "Invalid bundle metadata"
		}
		writeError(w, http.StatusBadRequest, label, ve.Message)
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error", err.Error())
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	services := map[string]string{"store": "ok", "llm": "unconfigured"}
	status := "ok"
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		services["store"] = "error"
		status = "degraded"
	}
	if s.deps.LLMReady {
		services["llm"] = "configured"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"services":  services,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	query := feed.Query{UserID: r.URL.Query().Get("userId"), PageToken: r.URL.Query().Get("pageToken")}

	start, err := s.parseStart(r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", "start must be RFC3339 or YYYY-MM-DD")
		return
	}
	query.Start = start

	if query.Days, err = parseIntParam(r, "days"); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", "days must be an integer")
		return
	}
	if query.PageSize, err = parseIntParam(r, "pageSize"); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", "pageSize must be an integer")
		return
	}
	if raw := r.URL.Query().Get("tags"); raw != "" {
		query.Tags = strings.Split(raw, ",")
	}

	resp, err := s.deps.Feed.GetFeed(r.Context(), query)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	var in core.UserInteraction
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", "request body must be a single interaction object")
		return
	}

	ids, err := s.deps.Interactions.RecordInteractions(r.Context(), []core.UserInteraction{in})
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "interactionId": ids[0]})
}

func (s *Server) handleInteractionBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Interactions []core.UserInteraction `json:"interactions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", "request body must be {interactions: [...]}")
		return
	}

	ids, err := s.deps.Interactions.RecordInteractions(r.Context(), body.Interactions)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "count": len(ids), "interactionIds": ids})
}

func (s *Server) handleGetPinnedEvents(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	query := interactions.PinnedQuery{
		Mode:      r.URL.Query().Get("mode"),
		PageToken: r.URL.Query().Get("pageToken"),
	}

	var err error
	if query.PageSize, err = parseIntParam(r, "pageSize"); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", "pageSize must be an integer")
		return
	}
	if query.Start, err = parseTimeParam(r, "start"); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", "start must be RFC3339")
		return
	}
	if query.End, err = parseTimeParam(r, "end"); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", "end must be RFC3339")
		return
	}

	page, err := s.deps.Interactions.GetPinnedEvents(r.Context(), userID, query)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleSetPin(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	body := struct {
		EventID string `json:"eventId"`
		Pinned  *bool  `json:"pinned"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", "request body must be {eventId, pinned?}")
		return
	}
	pinned := body.Pinned == nil || *body.Pinned

	pin, err := s.deps.Interactions.SetPin(r.Context(), userID, body.EventID, pinned)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pinned": pinned, "event": pin})
}

func (s *Server) handleTagProposals(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", "limit must be an integer")
		return
	}
	if limit == 0 {
		limit = 20
	}
	if limit < 1 || limit > 100 {
		writeError(w, http.StatusBadRequest, "Validation failed", "limit must be between 1 and 100")
		return
	}

	proposals, err := s.deps.Store.TopProposals(r.Context(), limit)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": proposals, "count": len(proposals)})
}

// handleIngestTrigger kicks off a full ingest run across all configured
// sources. The scheduler hits this every 30 minutes; the run happens in
// the background so the trigger returns immediately.
func (s *Server) handleIngestTrigger(w http.ResponseWriter, r *http.Request) {
	runner := s.deps.Ingest
	if runner == nil {
		writeError(w, http.StatusServiceUnavailable, "Ingest unavailable", "ingestion is not configured on this server")
		return
	}
	force := r.URL.Query().Get("force") == "true"

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		runner.Run(ctx, runner.DefaultWindow(time.Now()), ingest.Options{ForceRefresh: force})
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "status": "started"})
}

// parseStart accepts RFC3339, a bare date resolved in the display zone,
// or the literal "today" (same as omitting start).
func (s *Server) parseStart(raw string) (*time.Time, error) {
	if raw == "" || raw == "today" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, s.deps.DisplayLoc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseIntParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
