package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/melissa/internal/books"
	"github.com/antoniostano/melissa/internal/brain"
	"github.com/antoniostano/melissa/internal/config"
	"github.com/antoniostano/melissa/internal/memory"
	"github.com/antoniostano/melissa/internal/observability"
	"github.com/antoniostano/melissa/internal/protocol"
	"github.com/antoniostano/melissa/internal/session"
	"github.com/antoniostano/melissa/internal/tools"
	"github.com/antoniostano/melissa/internal/voice"
)

var testMetricsSeq atomic.Int64

func newTestServer(t *testing.T, withOrchestrator bool) (*Server, *session.Manager, memory.Store) {
	t.Helper()
	cfg := config.Config{
		DefaultUserID:            "melissa_user",
		SessionInactivityTimeout: 2 * time.Minute,
	}
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	metrics := observability.NewMetrics(fmt.Sprintf("melissa_test_httpapi_%d_%d", time.Now().UnixNano(), testMetricsSeq.Add(1)))

	store, err := memory.NewLocalIndex(filepath.Join(t.TempDir(), "memory.json"), memory.NewHashEmbedder(64))
	if err != nil {
		t.Fatalf("open local index: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	var orch Orchestrator
	if withOrchestrator {
		mock := voice.NewMockProvider()
		orch = voice.NewOrchestrator(voice.OrchestratorConfig{
			Sessions:    sessions,
			Adapter:     brain.NewScriptedAdapter(),
			MemoryStore: store,
			NewTools: func(userID string) *tools.Registry {
				return tools.Builtin(tools.Deps{UserID: userID, Memory: store, Books: books.DefaultCatalog()})
			},
			STTProvider:  mock,
			TTSProvider:  mock,
			Metrics:      metrics,
			DefaultVoice: "test-voice",
		})
	}
	return New(cfg, sessions, orch, store, metrics), sessions, store
}

func TestCreateAndEndSession(t *testing.T) {
	srv, _, _ := newTestServer(t, false)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body, _ := json.Marshal(map[string]string{"user_id": "user-1"})
	res, err := http.Post(ts.URL+"/v1/session", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var created session.CreateResponse
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.SessionID == "" {
		t.Fatal("missing session_id in create response")
	}
	if created.Status != session.StatusInitializing {
		t.Fatalf("status = %s, want %s", created.Status, session.StatusInitializing)
	}

	getRes, err := http.Get(ts.URL + "/v1/session/" + created.SessionID)
	if err != nil {
		t.Fatalf("get session request error = %v", err)
	}
	defer getRes.Body.Close()
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want %d", getRes.StatusCode, http.StatusOK)
	}

	endRes, err := http.Post(ts.URL+"/v1/session/"+created.SessionID+"/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end session request error = %v", err)
	}
	defer endRes.Body.Close()
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}

	// Ending twice is a no-op, not an error.
	endAgain, err := http.Post(ts.URL+"/v1/session/"+created.SessionID+"/end", "application/json", nil)
	if err != nil {
		t.Fatalf("second end request error = %v", err)
	}
	defer endAgain.Body.Close()
	if endAgain.StatusCode != http.StatusOK {
		t.Fatalf("second end status = %d, want %d", endAgain.StatusCode, http.StatusOK)
	}
}

func TestCreateSessionDefaultsUser(t *testing.T) {
	srv, _, _ := newTestServer(t, false)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Post(ts.URL+"/v1/session", "application/json", nil)
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()

	var created session.CreateResponse
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.UserID != "melissa_user" {
		t.Fatalf("user_id = %q, want melissa_user", created.UserID)
	}
}

func TestEndUnknownSession(t *testing.T) {
	srv, _, _ := newTestServer(t, false)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Post(ts.URL+"/v1/session/nope/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestHealthAndReady(t *testing.T) {
	srv, _, _ := newTestServer(t, false)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}
}

func TestMemoriesEndpoints(t *testing.T) {
	srv, _, store := newTestServer(t, false)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	if _, err := store.Remember(t.Context(), "user-7", "likes hiking on weekends", "test"); err != nil {
		t.Fatalf("seed memory: %v", err)
	}

	res, err := http.Get(ts.URL + "/v1/memories?user_id=user-7")
	if err != nil {
		t.Fatalf("list memories error = %v", err)
	}
	defer res.Body.Close()
	var listed struct {
		UserID   string          `json:"user_id"`
		Memories []memory.Record `json:"memories"`
	}
	if err := json.NewDecoder(res.Body).Decode(&listed); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(listed.Memories) != 1 || listed.Memories[0].Fact != "likes hiking on weekends" {
		t.Fatalf("memories = %+v, want the seeded fact", listed.Memories)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/memories?user_id=user-7", nil)
	delRes, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("forget memories error = %v", err)
	}
	delRes.Body.Close()
	if delRes.StatusCode != http.StatusOK {
		t.Fatalf("forget status = %d, want %d", delRes.StatusCode, http.StatusOK)
	}

	records, err := store.All(t.Context(), "user-7")
	if err != nil {
		t.Fatalf("store.All: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty store after forget, got %d records", len(records))
	}
}

func TestSessionWSRequiresKnownSession(t *testing.T) {
	srv, _, _ := newTestServer(t, true)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/session/ws")
	if err != nil {
		t.Fatalf("ws without session_id error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	res, err = http.Get(ts.URL + "/v1/session/ws?session_id=unknown")
	if err != nil {
		t.Fatalf("ws with unknown session error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestSessionWSConversationFlow(t *testing.T) {
	srv, sessions, _ := newTestServer(t, true)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	sess := sessions.Create("ws-user", "")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/session/ws?session_id=" + sess.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	readUntil := func(want protocol.MessageType) map[string]any {
		t.Helper()
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			_ = conn.SetReadDeadline(deadline)
			var raw map[string]any
			if err := conn.ReadJSON(&raw); err != nil {
				t.Fatalf("read ws: %v", err)
			}
			if raw["type"] == string(want) {
				return raw
			}
		}
		t.Fatalf("timed out waiting for %s", want)
		return nil
	}

	// Greeting arrives once the orchestrator activates the session.
	greeting := readUntil(protocol.TypeAssistantText)
	if greeting["text"] == "" {
		t.Fatal("empty greeting")
	}

	payload, _ := json.Marshal(protocol.ClientTranscript{
		Type:      protocol.TypeClientTranscript,
		SessionID: sess.ID,
		Text:      "Hello there",
	})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write transcript: %v", err)
	}

	// Unscripted adapter echoes the utterance back.
	reply := readUntil(protocol.TypeAssistantText)
	text, _ := reply["text"].(string)
	if !strings.Contains(text, "Hello there") {
		t.Fatalf("reply = %q, want echo of the transcript", text)
	}

	// Malformed frames produce a gateway error event, not a disconnect.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("write bogus frame: %v", err)
	}
	errEvt := readUntil(protocol.TypeErrorEvent)
	if errEvt["code"] != "invalid_client_message" {
		t.Fatalf("error code = %v, want invalid_client_message", errEvt["code"])
	}
}
