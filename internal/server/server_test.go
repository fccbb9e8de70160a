package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pulse/internal/bundles"
	"pulse/internal/config"
	"pulse/internal/core"
	"pulse/internal/feed"
	"pulse/internal/interactions"
	"pulse/internal/profile"
	"pulse/internal/store"
)

const testAPIKey = "test-key"

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	deps := Deps{
		Store:        st,
		Feed:         feed.New(st, profile.New(st), bundles.New(st), time.UTC),
		Interactions: interactions.New(st, time.UTC),
		DisplayLoc:   time.UTC,
	}
	return New(deps, config.Server{APIKey: testAPIKey, CORS: config.CORS{Enabled: false}}), st
}

func doRequest(t *testing.T, srv *Server, method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("X-API-Key", testAPIKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body %q: %v", rec.Body.String(), err)
	}
	return body
}

func seedServerEvent(t *testing.T, st *store.Store, id string, start time.Time) {
	t.Helper()
	event := &core.CanonicalEvent{
		ID:        "s1:" + id,
		Title:     "Event " + id,
		StartTime: start,
		Source:    core.SourceRef{SourceID: "s1", SourceEventID: id},
	}
	if _, err := st.SaveEvent(context.Background(), event, nil, nil); err != nil {
		t.Fatalf("SaveEvent failed: %v", err)
	}
	if _, err := st.AttachEvent(context.Background(), event, store.AttachContext{
		HostID: "host:h1", HostName: "Host", SourceID: "s1",
	}, start.Add(-time.Hour)); err != nil {
		t.Fatalf("AttachEvent failed: %v", err)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("missing key status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("wrong key status = %d, want 403", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/status", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
	services := body["services"].(map[string]any)
	if services["store"] != "ok" || services["llm"] != "unconfigured" {
		t.Errorf("services = %v", services)
	}
}

func TestFeedEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	seedServerEvent(t, st, "e1", time.Now().UTC().Add(6*time.Hour))

	rec := doRequest(t, srv, http.MethodGet, "/feed?days=2", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["count"].(float64) != 1 || body["personalized"] != false {
		t.Errorf("body = %v", body)
	}
	if body["isCaughtUp"] != true {
		t.Errorf("isCaughtUp = %v", body["isCaughtUp"])
	}
}

func TestFeedInvalidPageToken(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/feed?pageToken=%21%21%21", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Invalid page token" {
		t.Errorf("body = %v", body)
	}
}

func TestInteractionEndpoints(t *testing.T) {
	srv, st := newTestServer(t)
	seedServerEvent(t, st, "e1", time.Now().UTC().Add(6*time.Hour))

	in := map[string]any{
		"userId":      "u1",
		"contentId":   "s1:e1",
		"contentType": "event",
		"action":      "liked",
	}
	rec := doRequest(t, srv, http.MethodPost, "/interactions", in, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["success"] != true || body["interactionId"] == "" {
		t.Errorf("body = %v", body)
	}

	batch := map[string]any{"interactions": []any{in, in}}
	rec = doRequest(t, srv, http.MethodPost, "/interactions/batch", batch, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("batch status = %d body = %s", rec.Code, rec.Body.String())
	}
	body = decodeBody(t, rec)
	if body["count"].(float64) != 2 {
		t.Errorf("batch body = %v", body)
	}
}

func TestBundleInteractionMetadataError(t *testing.T) {
	srv, _ := newTestServer(t)
	in := map[string]any{
		"userId":      "u1",
		"contentId":   "bundle:category:c1",
		"contentType": "event-category-bundle",
		"action":      "viewed",
	}
	rec := doRequest(t, srv, http.MethodPost, "/interactions", in, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "Invalid bundle metadata" {
		t.Errorf("body = %v", body)
	}
}

func TestPinnedEventEndpoints(t *testing.T) {
	srv, st := newTestServer(t)
	seedServerEvent(t, st, "e1", time.Now().UTC().Add(6*time.Hour))

	// user header mismatch
	rec := doRequest(t, srv, http.MethodGet, "/users/u1/pinned-events", nil, map[string]string{"x-user-id": "u2"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("mismatched header status = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/users/u1/pinned-events",
		map[string]any{"eventId": "s1:e1"}, map[string]string{"x-user-id": "u1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("pin status = %d body = %s", rec.Code, rec.Body.String())
	}
	if body := decodeBody(t, rec); body["pinned"] != true {
		t.Errorf("pin body = %v", body)
	}

	rec = doRequest(t, srv, http.MethodGet, "/users/u1/pinned-events", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if events := body["events"].([]any); len(events) != 1 {
		t.Errorf("events = %v", events)
	}

	// unpin
	pinned := false
	rec = doRequest(t, srv, http.MethodPost, "/users/u1/pinned-events",
		map[string]any{"eventId": "s1:e1", "pinned": pinned}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unpin status = %d", rec.Code)
	}

	// pinning a missing event is 404
	rec = doRequest(t, srv, http.MethodPost, "/users/u1/pinned-events",
		map[string]any{"eventId": "s1:ghost"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing event status = %d", rec.Code)
	}
}

func TestTagProposalsEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	now := time.Now().UTC()
	if err := st.RecordTagProposals(context.Background(), "s1:e1", "Event", "s1", []string{"crochet-circle"}, now); err != nil {
		t.Fatalf("RecordTagProposals failed: %v", err)
	}

	rec := doRequest(t, srv, http.MethodGet, "/tag-proposals", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["count"].(float64) != 1 {
		t.Errorf("body = %v", body)
	}

	rec = doRequest(t, srv, http.MethodGet, "/tag-proposals?limit=500", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("oversized limit status = %d", rec.Code)
	}
}

func TestIngestTriggerUnconfigured(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/admin/ingest", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
