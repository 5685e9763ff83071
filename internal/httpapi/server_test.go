package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/antoniostano/memvault/internal/config"
	"github.com/antoniostano/memvault/internal/embedding"
	"github.com/antoniostano/memvault/internal/extract"
	"github.com/antoniostano/memvault/internal/integrator"
	"github.com/antoniostano/memvault/internal/memory"
	"github.com/antoniostano/memvault/internal/notify"
	"github.com/antoniostano/memvault/internal/observability"
)

type testEnv struct {
	ts    *httptest.Server
	store *memory.InMemoryStore
	hub   *notify.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg, err := config.LoadFrom(map[string]string{})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test_httpapi", reg)
	store := memory.NewInMemoryStore()
	vault := memory.NewVault(store, embedding.NewHashProvider(0), memory.DefaultConfig(),
		memory.WithLogger(logger), memory.WithMetrics(metrics))
	hub := notify.NewHub(4, logger)
	ing := integrator.New(vault, extract.NewPassthroughExtractor(),
		integrator.WithNotifier(hub), integrator.WithMetrics(metrics), integrator.WithLogger(logger))

	srv := New(cfg, Deps{Vault: vault, Integrator: ing, Hub: hub, Metrics: metrics, Gatherer: reg, Logger: logger})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, store: store, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	var out map[string]any
	raw, _ := io.ReadAll(res.Body)
	if len(raw) > 0 && strings.HasPrefix(res.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, raw)
		}
	}
	return res, out
}

func TestIngestAndFetchMemory(t *testing.T) {
	env := newTestEnv(t)
	res, body := env.do(t, http.MethodPost, "/v1/owners/u1/memories", map[string]any{
		"raw_text":    "Sarah prefers formal emails",
		"source_type": "email",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d (%v)", res.StatusCode, http.StatusCreated, body)
	}
	if body["outcome"] != "created" {
		t.Fatalf("outcome = %v", body["outcome"])
	}
	rec, _ := body["record"].(map[string]any)
	id, _ := rec["id"].(string)
	if id == "" {
		t.Fatalf("missing record id: %v", body)
	}
	if _, ok := rec["embedding"]; ok {
		t.Fatal("embedding must not be exposed")
	}

	res, got := env.do(t, http.MethodGet, "/v1/owners/u1/memories/"+id, nil)
	if res.StatusCode != http.StatusOK || got["summary"] != "Sarah prefers formal emails" {
		t.Fatalf("get = %d %v", res.StatusCode, got)
	}

	res, _ = env.do(t, http.MethodGet, "/v1/owners/u2/memories/"+id, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-owner get status = %d, want 404", res.StatusCode)
	}
}

func TestIngestReplayReturnsMerged(t *testing.T) {
	env := newTestEnv(t)
	payload := map[string]any{
		"raw_text":    "Lunch with Marco on Tuesday",
		"source_type": "calendar",
		"timestamp":   time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
	if res, _ := env.do(t, http.MethodPost, "/v1/owners/u1/memories", payload); res.StatusCode != http.StatusCreated {
		t.Fatalf("first status = %d", res.StatusCode)
	}
	res, body := env.do(t, http.MethodPost, "/v1/owners/u1/memories", payload)
	if res.StatusCode != http.StatusOK || body["outcome"] != "merged" {
		t.Fatalf("replay = %d %v", res.StatusCode, body["outcome"])
	}
}

func TestIngestRejectsEmptyText(t *testing.T) {
	env := newTestEnv(t)
	res, body := env.do(t, http.MethodPost, "/v1/owners/u1/memories", map[string]any{"raw_text": "  "})
	if res.StatusCode != http.StatusBadRequest || body["code"] != "invalid_request" {
		t.Fatalf("status = %d body = %v", res.StatusCode, body)
	}
}

func TestQueryMemories(t *testing.T) {
	env := newTestEnv(t)
	for _, text := range []string{"Dentist appointment moved to Monday", "Sarah prefers formal emails"} {
		if res, _ := env.do(t, http.MethodPost, "/v1/owners/u1/memories", map[string]any{"raw_text": text}); res.StatusCode != http.StatusCreated {
			t.Fatalf("ingest %q status = %d", text, res.StatusCode)
		}
	}

	res, body := env.do(t, http.MethodGet, "/v1/owners/u1/memories?q=dentist&limit=1", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	memories, _ := body["memories"].([]any)
	if len(memories) != 1 {
		t.Fatalf("expected 1 memory, got %v", body)
	}
	first, _ := memories[0].(map[string]any)
	if !strings.Contains(first["summary"].(string), "Dentist") {
		t.Fatalf("unexpected top result %v", first)
	}

	res, body = env.do(t, http.MethodGet, "/v1/owners/u1/memories", nil)
	if res.StatusCode != http.StatusOK || body["count"] != float64(2) {
		t.Fatalf("recency query = %d %v", res.StatusCode, body)
	}

	res, _ = env.do(t, http.MethodGet, "/v1/owners/u1/memories?limit=-3", nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", res.StatusCode)
	}
}

func TestReconcileAndPreferences(t *testing.T) {
	env := newTestEnv(t)
	_, body := env.do(t, http.MethodPost, "/v1/owners/u1/memories", map[string]any{"raw_text": "Sarah likes email"})
	rec, _ := body["record"].(map[string]any)
	id, _ := rec["id"].(string)

	res, got := env.do(t, http.MethodPut, "/v1/owners/u1/memories/"+id, map[string]any{
		"summary":     "Sarah prefers phone calls",
		"preferences": map[string]any{"channel": "phone"},
	})
	if res.StatusCode != http.StatusOK || got["summary"] != "Sarah prefers phone calls" {
		t.Fatalf("reconcile = %d %v", res.StatusCode, got)
	}

	res, _ = env.do(t, http.MethodPatch, "/v1/owners/u1/preferences", map[string]any{"tone": "casual"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch preferences status = %d", res.StatusCode)
	}
	res, prefs := env.do(t, http.MethodGet, "/v1/owners/u1/preferences", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("preferences status = %d", res.StatusCode)
	}
	values, _ := prefs["preferences"].(map[string]any)
	if values["channel"] != "phone" || values["tone"] != "casual" {
		t.Fatalf("unexpected preferences %v", prefs)
	}
}

func TestPrune(t *testing.T) {
	env := newTestEnv(t)
	stale := memory.Record{
		ID: "old", OwnerID: "u1", Summary: "old note", Importance: 0.5,
		Preferences:  map[string]any{},
		CreatedAt:    time.Now().Add(-200 * 24 * time.Hour),
		UpdatedAt:    time.Now().Add(-200 * 24 * time.Hour),
		LastAccessed: time.Now().Add(-200 * 24 * time.Hour),
	}
	if err := env.store.Save(context.Background(), stale, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	res, body := env.do(t, http.MethodPost, "/v1/owners/u1/prune", nil)
	if res.StatusCode != http.StatusOK || body["pruned"] != float64(1) {
		t.Fatalf("prune = %d %v", res.StatusCode, body)
	}
	res, _ = env.do(t, http.MethodPost, "/v1/owners/u1/prune", map[string]any{"retention": "-1h"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("negative retention status = %d", res.StatusCode)
	}
}

func TestPruneRejectsTruncatedBody(t *testing.T) {
	env := newTestEnv(t)
	stale := memory.Record{
		ID: "old", OwnerID: "u1", Summary: "old note", Importance: 0.5,
		Preferences:  map[string]any{},
		CreatedAt:    time.Now().Add(-200 * 24 * time.Hour),
		UpdatedAt:    time.Now().Add(-200 * 24 * time.Hour),
		LastAccessed: time.Now().Add(-200 * 24 * time.Hour),
	}
	if err := env.store.Save(context.Background(), stale, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	res, err := http.Post(env.ts.URL+"/v1/owners/u1/prune", "application/json", strings.NewReader(`{"retention":`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("truncated body status = %d, want 400", res.StatusCode)
	}
	if _, err := env.store.Get(context.Background(), "u1", "old"); err != nil {
		t.Fatalf("record pruned on a malformed request: %v", err)
	}
}

func TestReconcileRejectsBlankSummary(t *testing.T) {
	env := newTestEnv(t)
	_, body := env.do(t, http.MethodPost, "/v1/owners/u1/memories", map[string]any{"raw_text": "Sarah likes email"})
	rec, _ := body["record"].(map[string]any)
	id, _ := rec["id"].(string)

	res, _ := env.do(t, http.MethodPut, "/v1/owners/u1/memories/"+id, map[string]any{"summary": "  "})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank summary status = %d, want 400", res.StatusCode)
	}
	stored, err := env.store.Get(context.Background(), "u1", id)
	if err != nil || stored.Summary == "" {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
}

func TestHealthMetricsAndPerf(t *testing.T) {
	env := newTestEnv(t)
	if res, body := env.do(t, http.MethodGet, "/healthz", nil); res.StatusCode != http.StatusOK || body["store_mode"] != "in-memory" {
		t.Fatalf("healthz = %d %v", res.StatusCode, body)
	}
	if res, _ := env.do(t, http.MethodGet, "/readyz", nil); res.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d", res.StatusCode)
	}
	env.do(t, http.MethodPost, "/v1/owners/u1/memories", map[string]any{"raw_text": "Quarterly review is due"})

	res, err := http.Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	raw, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if !strings.Contains(string(raw), "test_httpapi_ingestions_total") {
		t.Fatalf("metrics output missing ingestion counter")
	}

	res, body := env.do(t, http.MethodGet, "/v1/perf/ingest", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("perf status = %d", res.StatusCode)
	}
	if _, ok := body["stages"]; !ok {
		t.Fatalf("perf body missing stages: %v", body)
	}
}

func TestNotificationsWebsocket(t *testing.T) {
	env := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/owners/u1/notifications/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Subscribers("u1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.do(t, http.MethodPost, "/v1/owners/u1/memories", map[string]any{
		"raw_text": "Remind me to follow up with Sarah about the contract deadline on Friday",
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg["owner_id"] != "u1" {
		t.Fatalf("unexpected notification %v", msg)
	}
}

func TestNotificationsRejectForeignOrigin(t *testing.T) {
	env := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/owners/u1/notifications/ws"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, res, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if res == nil || res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", res)
	}
}
