package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/veritas-maps/veritas/internal/auth"
	"github.com/veritas-maps/veritas/internal/coordination"
	"github.com/veritas-maps/veritas/internal/locks"
	"github.com/veritas-maps/veritas/internal/presence"
	"github.com/veritas-maps/veritas/internal/projects"
	"github.com/veritas-maps/veritas/internal/realtime"
	"github.com/veritas-maps/veritas/internal/sessions"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()

	dsn := fmt.Sprintf("file:veritas_server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&sessions.SessionRecord{}, &projects.Project{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "veritas-test",
		Audience:      "veritas-clients",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}

	sessionService, err := sessions.NewService(sessions.ServiceConfig{
		Database:   db,
		IDProvider: sessions.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct session service: %v", err)
	}
	projectService, err := projects.NewService(projects.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct project service: %v", err)
	}

	store := coordination.NewMemoryStore()
	lockManager, err := locks.NewManager(locks.ManagerConfig{Store: store})
	if err != nil {
		t.Fatalf("failed to construct lock manager: %v", err)
	}
	eventRouter, err := realtime.NewRouter(realtime.RouterConfig{
		Locks:    lockManager,
		Sessions: sessionService,
		Projects: projectService,
		Registry: presence.NewRegistry(),
		Hub:      realtime.NewHub(),
	})
	if err != nil {
		t.Fatalf("failed to construct event router: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager:   issuer,
		EventRouter:    eventRouter,
		SessionService: sessionService,
		ProjectService: projectService,
		Database:       db,
		Coordination:   store,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return handler
}

func issueTestToken(t *testing.T, handler http.Handler, userID string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"user_id": userID})
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 from token issuance, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var response struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode token response: %v", err)
	}
	if response.TokenType != "Bearer" || response.AccessToken == "" {
		t.Fatalf("unexpected token response %#v", response)
	}
	return response.AccessToken
}

func TestNewHTTPHandlerValidatesDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}

func TestIssueTokenRejectsBlankUser(t *testing.T) {
	handler := newTestHandler(t)
	body, _ := json.Marshal(map[string]string{"user_id": "   "})
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestHealthReportsOK(t *testing.T) {
	handler := newTestHandler(t)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var report map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &report); err != nil {
		t.Fatalf("failed to decode health report: %v", err)
	}
	if report["status"] != "ok" || report["database"] != "ok" || report["coordination"] != "ok" {
		t.Fatalf("unexpected health report %#v", report)
	}
}

func TestProtectedRoutesRequireBearerToken(t *testing.T) {
	handler := newTestHandler(t)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/projects", bytes.NewReader([]byte(`{"project_id":"p1"}`))))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/projects", bytes.NewReader([]byte(`{"project_id":"p1"}`)))
	request.Header.Set("Authorization", "Bearer not-a-token")
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", recorder.Code)
	}
}

func TestCreateProjectAndJoinSession(t *testing.T) {
	handler := newTestHandler(t)
	token := issueTestToken(t, handler, "user-1")

	body, _ := json.Marshal(createProjectPayload{ProjectID: "project-1", Title: "Claim map"})
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/projects", bytes.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodPost, "/projects/project-1/sessions/join", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var joined joinSessionResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &joined); err != nil {
		t.Fatalf("failed to decode join response: %v", err)
	}
	if joined.SessionID == "" || joined.Status != "active" {
		t.Fatalf("unexpected join response %#v", joined)
	}

	// Joining again reuses the active session.
	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodPost, "/projects/project-1/sessions/join", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(recorder, request)
	var rejoined joinSessionResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &rejoined); err != nil {
		t.Fatalf("failed to decode rejoin response: %v", err)
	}
	if rejoined.SessionID != joined.SessionID {
		t.Fatalf("expected stable session id, got %s then %s", joined.SessionID, rejoined.SessionID)
	}
}

func TestJoinSessionDeniedForStrangers(t *testing.T) {
	handler := newTestHandler(t)
	ownerToken := issueTestToken(t, handler, "owner-1")
	strangerToken := issueTestToken(t, handler, "stranger")

	body, _ := json.Marshal(createProjectPayload{ProjectID: "project-1", Title: "Private map"})
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/projects", bytes.NewReader(body))
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+ownerToken)
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodPost, "/projects/project-1/sessions/join", nil)
	request.Header.Set("Authorization", "Bearer "+strangerToken)
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for stranger, got %d", recorder.Code)
	}
}

func TestWebsocketRequiresValidToken(t *testing.T) {
	handler := newTestHandler(t)

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ws?token=garbage", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with invalid token, got %d", recorder.Code)
	}
}

func TestCORSAllowsBrowserPreflight(t *testing.T) {
	handler := newTestHandler(t)
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodOptions, "/auth/token", nil)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent && recorder.Code != http.StatusOK {
		t.Fatalf("expected preflight success, got %d", recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected CORS headers on preflight response")
	}
}
