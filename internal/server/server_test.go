package server

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"psycho/internal/agent"
	"psycho/internal/config"
	"psycho/internal/jsonx"
	"psycho/internal/knowledge"
	"psycho/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *agent.Agent) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := (&config.Config{
		LLMProvider:          config.ProviderMock,
		MaxShortTermMessages: 20,
		MaxContextMemories:   5,
		ProactiveInterval:    time.Minute,
		Tuning:               config.DefaultTuning(),
	}).Rebase(t.TempDir())

	a, err := agent.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background(), false) })

	return New(a, DefaultConfig(), nil), a
}

func doJSON(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	parsed := map[string]any{}
	if rec.Body.Len() > 0 {
		_ = jsonx.Unmarshal(rec.Body.Bytes(), &parsed)
	}
	return rec, parsed
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["status"])
}

func TestChatEndpoint(t *testing.T) {
	s, a := newTestServer(t)

	rec, body := doJSON(t, s, http.MethodPost, "/api/chat", `{"message":"hello there"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["response"])
	require.Equal(t, a.SessionID(), body["session_id"])

	rec, _ = doJSON(t, s, http.MethodPost, "/api/chat", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryReflectsChat(t *testing.T) {
	s, _ := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/api/chat", `{"message":"remember this"}`)

	rec, body := doJSON(t, s, http.MethodGet, "/api/history?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(1), body["count"])
}

func TestStatsEndpoint(t *testing.T) {
	s, a := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, a.SessionID(), body["session_id"])
	require.Equal(t, "mock", body["model"])
}

func TestPersonalityEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec, body := doJSON(t, s, http.MethodGet, "/api/personality", "")
	require.Equal(t, http.StatusOK, rec.Code)
	traits := body["traits"].(map[string]any)
	require.Contains(t, traits, "humor_level")

	rec, body = doJSON(t, s, http.MethodPatch, "/api/personality", `{"humor_level":0.9}`)
	require.Equal(t, http.StatusOK, rec.Code)
	traits = body["traits"].(map[string]any)
	require.InDelta(t, 0.9, traits["humor_level"].(float64), 0.001)

	rec, _ = doJSON(t, s, http.MethodPatch, "/api/personality", `{"humor_level":1.7}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, s, http.MethodPost, "/api/personality/trait", `{"trait":"nonsense","value":0.5}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReminderLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	due := storage.Timestamp(time.Now().Add(time.Hour))
	rec, created := doJSON(t, s, http.MethodPost, "/api/reminders",
		`{"title":"water the plants","due_timestamp":`+jsonNumber(due)+`}`)
	require.Equal(t, http.StatusOK, rec.Code)
	id := created["id"].(string)
	require.NotEmpty(t, id)

	rec, body := doJSON(t, s, http.MethodGet, "/api/reminders", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["reminders"], 1)

	rec, _ = doJSON(t, s, http.MethodPatch, "/api/reminders/"+id+"/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)

	_, body = doJSON(t, s, http.MethodGet, "/api/reminders", "")
	require.Empty(t, body["reminders"])
}

func TestTaskEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec, created := doJSON(t, s, http.MethodPost, "/api/tasks",
		`{"title":"write release notes","priority":"high"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	id := created["id"].(string)

	rec, body := doJSON(t, s, http.MethodGet, "/api/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(1), body["count"])

	rec, body = doJSON(t, s, http.MethodPatch, "/api/tasks/"+id+"/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, storage.TaskStatusDone, body["status"])
}

func TestCalendarEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	start := storage.Timestamp(time.Now().Add(2 * time.Hour))
	rec, created := doJSON(t, s, http.MethodPost, "/api/calendar",
		`{"title":"dentist","start_timestamp":`+jsonNumber(start)+`}`)
	require.Equal(t, http.StatusOK, rec.Code)
	id := created["id"].(string)

	rec, body := doJSON(t, s, http.MethodGet, "/api/calendar", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["events"], 1)

	rec, _ = doJSON(t, s, http.MethodDelete, "/api/calendar/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)

	_, body = doJSON(t, s, http.MethodGet, "/api/calendar", "")
	require.Empty(t, body["events"])
}

func TestHealthMetricEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec, body := doJSON(t, s, http.MethodPost, "/api/health-metrics",
		`{"metric_type":"sleep","value":7.5,"unit":"hours"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["logged"])

	rec, body = doJSON(t, s, http.MethodGet, "/api/health-metrics?days=7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := body["summary"].(map[string]any)
	require.Contains(t, summary, "sleep")
}

func TestGraphEndpoints(t *testing.T) {
	s, a := newTestServer(t)

	node := knowledge.NewNode(knowledge.NodeConcept, "Tailscale", "coding", nil, 0.8, "test")
	id := a.Graph().UpsertNode(context.Background(), node)

	rec, body := doJSON(t, s, http.MethodGet, "/api/graph", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["nodes"], 1)

	rec, body = doJSON(t, s, http.MethodGet, "/api/graph/node/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Tailscale", body["label"])

	rec, _ = doJSON(t, s, http.MethodDelete, "/api/graph/node/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, a.Graph().PeekNode(id).Deprecated)

	rec, _ = doJSON(t, s, http.MethodGet, "/api/graph/node/does-not-exist", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotificationEndpoints(t *testing.T) {
	s, a := newTestServer(t)
	a.Scheduler().AddManual("Reminder", "water the plants", "reminder", "normal")

	rec, body := doJSON(t, s, http.MethodGet, "/api/notifications?unread_only=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(1), body["unread_count"])

	rec, body = doJSON(t, s, http.MethodPost, "/api/notifications/read-all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(1), body["marked_read"])
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	s, _ := newTestServer(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "malware.exe")
	require.NoError(t, err)
	_, err = part.Write([]byte("MZ"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestTextEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodPost, "/api/ingest",
		`{"text":"Go modules resolve dependencies through the module graph, selecting the maximum required version of each module path.","source_name":"notes"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "notes", body["source_path"])
}

func TestVoiceConfigDefaultsToBrowser(t *testing.T) {
	s, _ := newTestServer(t)
	rec, body := doJSON(t, s, http.MethodGet, "/api/voice/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "browser", body["provider"])
}

func TestMetricsEndpointServes(t *testing.T) {
	s, _ := newTestServer(t)
	rec, _ := doJSON(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "psycho_turn_latency_seconds")
}

func TestWebSocketChat(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	var frame wsFrame
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, "pong", frame.Type)

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "hello over ws"}))

	var tokens []string
	for {
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == "token" {
			tokens = append(tokens, frame.Token)
			continue
		}
		require.Equal(t, "done", frame.Type)
		break
	}
	require.Equal(t, "ok", frame.Response)
	require.Equal(t, "ok", strings.Join(tokens, ""))
}

func TestWebSocketEmptyMessage(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "   "}))
	var frame wsFrame
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, "error", frame.Type)
}

func jsonNumber(f float64) string {
	raw, _ := jsonx.Marshal(f)
	return string(raw)
}
