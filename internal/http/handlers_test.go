package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docongo/internal/auth"
	"docongo/internal/core"
	"docongo/internal/llm"
	"docongo/pkg"
)

const chatReplyJSON = `{"message":"How can I help?","current_stage":"greeting","next_stage":false,"detected_symptoms":["headache"],"confidence_level":0.9,"suggested_followup":"ask onset"}`

const rxJSON = `{"description_of_issue":"Headache","ai_analysis":"Likely tension","medicines":[],"general_tips":["rest"]}`

type countingNotifier struct {
	calls []string
}

func (c *countingNotifier) Notify(_ context.Context, sessionID string) error {
	c.calls = append(c.calls, sessionID)
	return nil
}

// newTestServer wires a server around the in-memory store and a scripted
// gateway shared by all calls.
func newTestServer(client llm.Client) (*Server, *countingNotifier) {
	notifier := &countingNotifier{}
	server := &Server{
		Store: core.NewMemoryStore(),
		Resolver: &auth.StaticResolver{Tokens: map[string]auth.Account{
			"alice-token":   {ID: "alice", APIKey: "AIzaSyTestKeyForAliceAccount123456"},
			"mallory-token": {ID: "mallory", APIKey: "AIzaSyTestKeyForMalloryAccount1234"},
		}},
		Gateway: func(string, float32) (llm.Client, error) {
			return client, nil
		},
		Notifier:    notifier,
		FallbackKey: "AIzaSyServerWideFallbackKey1234567",
		ChatTemp:    0.7,
		RxTemp:      0.2,
		MinRxTurns:  4,
	}
	return server, notifier
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatMintsSessionID(t *testing.T) {
	server, _ := newTestServer(llm.NewMockClient(llm.MockResponse{Content: chatReplyJSON}))
	router := server.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/conversation/chat", "", pkg.ChatRequest{Message: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp pkg.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "How can I help?", resp.Message)
	assert.Contains(t, resp.Metadata.DetectedSymptoms, "headache")
}

func TestChatRequiresMessage(t *testing.T) {
	server, _ := newTestServer(llm.NewMockClient())
	router := server.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/conversation/chat", "", pkg.ChatRequest{SessionID: "s1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatOwnershipClaimAndRejection(t *testing.T) {
	server, _ := newTestServer(llm.NewMockClient(llm.MockResponse{Content: chatReplyJSON}))
	router := server.Router()

	// Alice starts a session; it becomes hers.
	rec := doJSON(t, router, http.MethodPost, "/api/conversation/chat", "alice-token",
		pkg.ChatRequest{SessionID: "s1", Message: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Mallory cannot continue it, and neither can an anonymous caller.
	rec = doJSON(t, router, http.MethodPost, "/api/conversation/chat", "mallory-token",
		pkg.ChatRequest{SessionID: "s1", Message: "hi"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/conversation/chat", "",
		pkg.ChatRequest{SessionID: "s1", Message: "hi"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUnknownTokenIsRejected(t *testing.T) {
	server, _ := newTestServer(llm.NewMockClient(llm.MockResponse{Content: chatReplyJSON}))
	router := server.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/conversation/chat", "bogus",
		pkg.ChatRequest{SessionID: "s1", Message: "hello"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	server, _ := newTestServer(llm.NewMockClient(llm.MockResponse{Content: chatReplyJSON}))
	router := server.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/conversation/status/none", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status pkg.SessionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Exists)

	doJSON(t, router, http.MethodPost, "/api/conversation/chat", "", pkg.ChatRequest{SessionID: "s1", Message: "hello"})

	rec = doJSON(t, router, http.MethodGet, "/api/conversation/status/s1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Exists)
	assert.Equal(t, 2, status.MessageCount)
}

func TestHistoryRequiresAuth(t *testing.T) {
	server, _ := newTestServer(llm.NewMockClient(llm.MockResponse{Content: chatReplyJSON}))
	router := server.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/conversation/history", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	doJSON(t, router, http.MethodPost, "/api/conversation/chat", "alice-token",
		pkg.ChatRequest{SessionID: "s1", Message: "hello"})

	rec = doJSON(t, router, http.MethodGet, "/api/conversation/history", "alice-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Sessions []pkg.SessionPreview `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, "s1", resp.Sessions[0].SessionID)
}

func TestPrescriptionMinimumTranscript(t *testing.T) {
	server, _ := newTestServer(llm.NewMockClient(llm.MockResponse{Content: chatReplyJSON}))
	router := server.Router()

	// One exchange = two messages, below the minimum of four.
	doJSON(t, router, http.MethodPost, "/api/conversation/chat", "", pkg.ChatRequest{SessionID: "s1", Message: "hello"})

	rec := doJSON(t, router, http.MethodPost, "/api/conversation/s1/prescription", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPrescriptionFlowAndNotify(t *testing.T) {
	client := llm.NewMockClient(
		llm.MockResponse{Content: chatReplyJSON},
		llm.MockResponse{Content: chatReplyJSON},
		llm.MockResponse{Content: rxJSON},
	)
	server, notifier := newTestServer(client)
	router := server.Router()

	for i := 0; i < 2; i++ {
		rec := doJSON(t, router, http.MethodPost, "/api/conversation/chat", "",
			pkg.ChatRequest{SessionID: "s1", Message: fmt.Sprintf("message %d", i)})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, router, http.MethodPost, "/api/conversation/s1/prescription", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		SessionID    string          `json:"session_id"`
		Cached       bool            `json:"cached"`
		Disclaimer   string          `json:"disclaimer"`
		Prescription json.RawMessage `json:"prescription"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Cached)
	assert.NotEmpty(t, resp.Disclaimer)
	assert.JSONEq(t, rxJSON, string(resp.Prescription))
	assert.Equal(t, []string{"s1"}, notifier.calls)

	// Second request is a cache hit: no new model call, no new notify.
	before := client.CallCount()
	rec = doJSON(t, router, http.MethodPost, "/api/conversation/s1/prescription", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Cached)
	assert.Equal(t, before, client.CallCount())
	assert.Equal(t, []string{"s1"}, notifier.calls)
}

func TestPrescriptionUnknownSession(t *testing.T) {
	server, _ := newTestServer(llm.NewMockClient())
	router := server.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/conversation/missing/prescription", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRenameAndDeleteAreOwnerGated(t *testing.T) {
	server, _ := newTestServer(llm.NewMockClient(llm.MockResponse{Content: chatReplyJSON}))
	router := server.Router()

	doJSON(t, router, http.MethodPost, "/api/conversation/chat", "alice-token",
		pkg.ChatRequest{SessionID: "s1", Message: "hello"})

	rec := doJSON(t, router, http.MethodPatch, "/api/conversation/s1/title", "mallory-token",
		map[string]string{"title": "stolen"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodPatch, "/api/conversation/s1/title", "alice-token",
		map[string]string{"title": "My headache chat"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/api/conversation/s1", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/api/conversation/s1", "alice-token", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/conversation/status/s1", "", nil)
	var status pkg.SessionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Exists)
}

func TestGetSessionVisibility(t *testing.T) {
	server, _ := newTestServer(llm.NewMockClient(llm.MockResponse{Content: chatReplyJSON}))
	router := server.Router()

	doJSON(t, router, http.MethodPost, "/api/conversation/chat", "alice-token",
		pkg.ChatRequest{SessionID: "owned", Message: "hello"})
	doJSON(t, router, http.MethodPost, "/api/conversation/chat", "",
		pkg.ChatRequest{SessionID: "anon", Message: "hello"})

	rec := doJSON(t, router, http.MethodGet, "/api/conversation/owned", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/conversation/owned", "alice-token", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/conversation/anon", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
