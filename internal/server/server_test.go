// Copyright (C) 2026 EffortlessMetrics
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/config"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/contract"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/dialect"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/orchestrator"
	"github.com/EffortlessMetrics/agent-backplane-sub000/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	s := store.NewWithDB(db)
	require.NoError(t, s.AutoMigrate())
	return s
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()

	registry := orchestrator.NewRegistry()
	require.NoError(t, registry.Register(orchestrator.NewMockBackend("mock", dialect.Claude, 50)))

	st := newTestStore(t)
	orch := orchestrator.New(registry, orchestrator.WithStore(st))

	srv := New(&config.ServerConfig{Host: "127.0.0.1", Port: 0}, orch, st)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	var body map[string]interface{}
	resp := getJSON(t, ts.URL+"/api/v1/health", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, contract.Version, body["contract_version"])
	assert.Equal(t, float64(1), body["backends"])
}

func TestBackendsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	var body struct {
		Backends []struct {
			ID           string            `json:"id"`
			Dialect      string            `json:"dialect"`
			Priority     uint32            `json:"priority"`
			Capabilities map[string]any    `json:"capabilities"`
		} `json:"backends"`
	}
	resp := getJSON(t, ts.URL+"/api/v1/backends", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, body.Backends, 1)
	assert.Equal(t, "mock", body.Backends[0].ID)
	assert.Equal(t, "claude", body.Backends[0].Dialect)
	assert.Equal(t, uint32(50), body.Backends[0].Priority)
	assert.Contains(t, body.Backends[0].Capabilities, "streaming")
}

func TestStartRunReturnsSealedReceipt(t *testing.T) {
	ts, _ := newTestServer(t)

	body := bytes.NewBufferString(`{"task": "say hello"}`)
	resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result orchestrator.RunResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, "mock", result.BackendID)
	require.NotNil(t, result.Projection)
	assert.Equal(t, "mock", result.Projection.SelectedBackend)
	assert.Len(t, result.Events, 3)
	assert.Equal(t, contract.OutcomeComplete, result.Receipt.Outcome)
	ok, err := contract.VerifyHash(result.Receipt)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStartRunPersistsReceipt(t *testing.T) {
	ts, st := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json",
		strings.NewReader(`{"task": "persist me"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result orchestrator.RunResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))

	stored, err := st.Get(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, result.Receipt.ReceiptSHA256, stored.ReceiptSHA256)
}

func TestStartRunRejectsEmptyTask(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json",
		strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartRunRejectsInvalidJSON(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json",
		strings.NewReader(`{not json`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartRunUnsatisfiableRequirements(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json",
		strings.NewReader(`{"task": "x", "requirements": {"required": [{"capability": "mcp_server", "min_support": "native"}]}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestGetReceiptNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := getJSON(t, ts.URL+"/api/v1/receipts/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetReceiptAfterRun(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json",
		strings.NewReader(`{"task": "fetch later"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result orchestrator.RunResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))

	var receipt contract.Receipt
	getResp := getJSON(t, ts.URL+"/api/v1/receipts/"+result.RunID, &receipt)
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	assert.Equal(t, result.RunID, receipt.Meta.RunID)
	ok, err := contract.VerifyHash(receipt)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListReceipts(t *testing.T) {
	ts, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json",
			strings.NewReader(`{"task": "list me"}`))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	var body struct {
		Receipts []json.RawMessage `json:"receipts"`
	}
	resp := getJSON(t, ts.URL+"/api/v1/receipts?limit=2", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body.Receipts, 2)
}

func TestStatsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json",
		strings.NewReader(`{"task": "count me"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		ReceiptsByOutcome map[string]int64 `json:"receipts_by_outcome"`
	}
	statsResp := getJSON(t, ts.URL+"/api/v1/stats", &body)
	require.Equal(t, http.StatusOK, statsResp.StatusCode)
	assert.Equal(t, int64(1), body.ReceiptsByOutcome["complete"])
}

func TestRequestIDHeader(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := getJSON(t, ts.URL+"/api/v1/health", nil)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRequestIDEchoesValidClientID(t *testing.T) {
	ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "client-supplied-42")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "client-supplied-42", resp.Header.Get("X-Request-ID"))
}

func TestRequestIDReplacesMalformedClientID(t *testing.T) {
	ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "bad id\nwith newline")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	id := resp.Header.Get("X-Request-ID")
	assert.NotEmpty(t, id)
	assert.NotEqual(t, "bad id\nwith newline", id)
}

func TestRecoveryReturnsJSONError(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestCORSPreflightAllowsAll(t *testing.T) {
	ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebSocketStreamsRunEvents(t *testing.T) {
	ts, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// No filters: the client receives every event.
	done := make(chan []wsOutMessage, 1)
	go func() {
		var got []wsOutMessage
		for len(got) < 3 {
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			var msg wsOutMessage
			if err := conn.ReadJSON(&msg); err != nil {
				break
			}
			got = append(got, msg)
		}
		done <- got
	}()

	resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json",
		strings.NewReader(`{"task": "stream me"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case got := <-done:
		require.Len(t, got, 3)
		assert.Equal(t, "event", got[0].Type)
		assert.Equal(t, string(contract.EventRunStarted), got[0].EventType)
		assert.Equal(t, string(contract.EventRunCompleted), got[2].EventType)
		assert.NotEmpty(t, got[0].WorkOrderID)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for websocket events")
	}
}

func TestWebSocketFilterByEventType(t *testing.T) {
	ts, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(wsMessage{
		Type:    "subscribe",
		Filters: SubscriptionFilter{EventType: string(contract.EventRunCompleted)},
	}))
	// Give the server a moment to register the filter before running.
	time.Sleep(100 * time.Millisecond)

	resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json",
		strings.NewReader(`{"task": "filtered"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg wsOutMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(contract.EventRunCompleted), msg.EventType)
}

func TestRemoveFilter(t *testing.T) {
	filters := []SubscriptionFilter{
		{WorkOrderID: "a"},
		{WorkOrderID: "b"},
		{EventType: "error"},
	}
	out := removeFilter(filters, SubscriptionFilter{WorkOrderID: "b"})
	assert.Equal(t, []SubscriptionFilter{{WorkOrderID: "a"}, {EventType: "error"}}, out)
}

func TestMatchesAnyNoFilters(t *testing.T) {
	c := &wsClient{}
	assert.True(t, c.matchesAny("any", contract.NewRunStarted("x")))
}

func TestMatchesAnyWorkOrderFilter(t *testing.T) {
	c := &wsClient{filters: []SubscriptionFilter{{WorkOrderID: "wo-1"}}}
	assert.True(t, c.matchesAny("wo-1", contract.NewRunStarted("x")))
	assert.False(t, c.matchesAny("wo-2", contract.NewRunStarted("x")))
}
