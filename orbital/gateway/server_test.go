package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitalgrid/orbital-insight/orbital/config"
	"github.com/orbitalgrid/orbital-insight/orbital/coordination"
	"github.com/orbitalgrid/orbital-insight/orbital/orchestrator"
	"github.com/orbitalgrid/orbital-insight/orbital/ports"
)

type stubProvider struct{}

func (stubProvider) Generate(ctx context.Context, req ports.GenerateRequest) (ports.Completion, error) {
	return ports.Completion{Text: "hi there"}, nil
}

func (stubProvider) Stream(ctx context.Context, req ports.GenerateRequest) (<-chan ports.Chunk, error) {
	ch := make(chan ports.Chunk, 2)
	if req.JSONOutput {
		ch <- ports.Chunk{Text: `[{"task": "t", "description": "d"}]`}
	} else {
		ch <- ports.Chunk{Text: "var x = 1;"}
	}
	ch <- ports.Chunk{Done: true}
	close(ch)
	return ch, nil
}

func (stubProvider) CountTokens(ctx context.Context, model, prompt string) (int, error) {
	return 1, nil
}

type stubCatalog struct{}

func (stubCatalog) Browse(ctx context.Context, query string) ([]ports.Dataset, error) {
	return []ports.Dataset{{ID: "COPERNICUS/S2_SR_HARMONIZED", Name: "Sentinel-2 SR", Type: "image_collection"}}, nil
}

func (stubCatalog) BandSchema(ctx context.Context, id string) (ports.BandSchema, error) {
	return ports.BandSchema{Bands: 1, BandNames: []string{"B4"}}, nil
}

func (stubCatalog) AssetMetadata(ctx context.Context, id string) (map[string]any, error) {
	return map[string]any{"id": id}, nil
}

func (stubCatalog) Preview(ctx context.Context, id, start, end string, limit int) (map[string]any, error) {
	return map[string]any{"id": id}, nil
}

func (stubCatalog) DocsURL(id string) string { return "https://example.test/" + id }

func startTestServer(t *testing.T) (*Server, *coordination.Store, string) {
	t.Helper()
	logger := zerolog.Nop()
	b := coordination.NewBroadcaster(64, 0, logger)
	t.Cleanup(b.Close)
	store := coordination.NewStore(b, logger)

	cfg := &config.Config{
		Agents: config.AgentsConfig{
			ChatModel:        "chat-model",
			QuickModel:       "quick-model",
			DeepModel:        "deep-model",
			MaxResolveRounds: 3,
			ResolveBackoff:   time.Millisecond,
		},
		Classifier: config.ClassifierConfig{
			RefineKeywords:        []string{"fix", "update"},
			AnalysisKeywords:      []string{"show me", "ndvi", "detect"},
			InterrogativePrefixes: []string{"what", "which"},
		},
		Gateway: config.GatewayConfig{Addr: "127.0.0.1:0"},
	}
	orch := orchestrator.New(store, stubProvider{}, stubCatalog{}, ports.NopTracer{}, cfg, logger)
	srv := NewServer(cfg.Gateway, store, b, orch, logger)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, store, "http://" + srv.Addr()
}

func TestHealth(t *testing.T) {
	_, _, base := startTestServer(t)

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestChatEndpoint(t *testing.T) {
	_, _, base := startTestServer(t)

	resp, err := http.Post(base+"/chat", "application/json", bytes.NewBufferString(`{"message": "hello"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reply orchestrator.ChatReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	assert.Equal(t, "chat", reply.Type)
	assert.Equal(t, "hi there", reply.Content)
}

func TestChatValidation(t *testing.T) {
	_, _, base := startTestServer(t)

	resp, err := http.Post(base+"/chat", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(base + "/chat")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAnalyzeEndpoint(t *testing.T) {
	_, _, base := startTestServer(t)

	resp, err := http.Post(base+"/analyze", "application/json", bytes.NewBufferString(`{"mission": "ndvi over the amazon"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	for _, key := range []string{"tasks", "research", "code", "methodology", "context"} {
		assert.Contains(t, body, key)
	}
}

func TestLatestScriptLifecycle(t *testing.T) {
	_, store, base := startTestServer(t)

	resp, err := http.Get(base + "/latest-script")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	store.RecordScript("var x = 1;", "test script", []string{"COPERNICUS/S2_SR_HARMONIZED"})

	resp, err = http.Get(base + "/latest-script")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var script coordination.Script
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&script))
	assert.Equal(t, "var x = 1;", script.Code)
}

func TestClearEndpoint(t *testing.T) {
	_, store, base := startTestServer(t)
	store.RecordScript("var x = 1;", "d", nil)

	req, err := http.NewRequest(http.MethodDelete, base+"/clear", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, hasScript := store.LatestScript()
	assert.False(t, hasScript)
}

func TestContextEndpoint(t *testing.T) {
	_, store, base := startTestServer(t)
	store.SetContext("latest_research", "findings")

	resp, err := http.Get(base + "/context")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap coordination.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Contains(t, snap.Context, "latest_research")
}

func wsURL(base, path string) string {
	return "ws" + base[len("http"):] + path
}

func TestFirehoseRelaysEvents(t *testing.T) {
	_, store, base := startTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(base, "/ws"), nil)
	require.NoError(t, err)
	defer conn.Close()

	// give the server's subscription a moment to register
	require.Eventually(t, func() bool {
		store.RecordThought(coordination.RoleChat, "probe", nil)
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		var event coordination.StreamEvent
		return conn.ReadJSON(&event) == nil && event.Type == coordination.EventThought
	}, 2*time.Second, 50*time.Millisecond)
}

func TestChatSocketTurn(t *testing.T) {
	_, _, base := startTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(base, "/ws/chat"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "hello"}))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var frame struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type != "response" {
			continue
		}
		var reply orchestrator.ChatReply
		require.NoError(t, json.Unmarshal(frame.Data, &reply))
		assert.Equal(t, "hi there", reply.Content)
		return
	}
}

func TestChatSocketRejectsEmptyMessage(t *testing.T) {
	_, _, base := startTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(base, "/ws/chat"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame wsEnvelope
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "error", frame.Type)
}

func TestOriginCheck(t *testing.T) {
	logger := zerolog.Nop()
	srv := NewServer(config.GatewayConfig{AllowedOrigins: []string{"https://app.example.com"}}, nil, nil, nil, logger)

	req, _ := http.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, srv.checkOrigin(req))

	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, srv.checkOrigin(req))

	req.Header.Del("Origin")
	assert.True(t, srv.checkOrigin(req))
}
