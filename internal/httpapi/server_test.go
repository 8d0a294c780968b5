package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vtmuxd/vtmuxd/internal/auth"
	"github.com/vtmuxd/vtmuxd/internal/config"
	"github.com/vtmuxd/vtmuxd/internal/hub"
	"github.com/vtmuxd/vtmuxd/internal/ptyhost"
	"github.com/vtmuxd/vtmuxd/internal/registry"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	host := ptyhost.New(0, time.Second, nil)
	h := hub.New(0, 0, nil, nil)
	reg, err := registry.New(registry.Config{RecordingsDir: t.TempDir()}, host, h, nil)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	cfg := config.Defaults()
	cfg.AuthMode = config.AuthNone
	return New(reg, cfg, nil, nil, nil, "test", nil)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected status ok, got %q", resp.Status)
	}
}

func TestAuthConfigNoAuth(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/auth/config", nil)
	var resp authConfigResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.NoAuth {
		t.Fatalf("expected noAuth true when AUTH_MODE=none")
	}
}

func TestCreateGetDeleteSession(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/sessions", map[string]any{
		"command": "echo hi",
		"cols":    80,
		"rows":    24,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.SessionID == "" {
		t.Fatalf("expected sessionId in response")
	}
	id := created.SessionID

	getRec := doJSON(t, s, http.MethodGet, "/api/sessions/"+id, nil)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", getRec.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		g := doJSON(t, s, http.MethodGet, "/api/sessions/"+id, nil)
		var i registry.Info
		json.Unmarshal(g.Body.Bytes(), &i)
		if i.Status == registry.StatusExited {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	delRec := doJSON(t, s, http.MethodDelete, "/api/sessions/"+id, nil)
	if delRec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", delRec.Code, delRec.Body.String())
	}

	missingRec := doJSON(t, s, http.MethodGet, "/api/sessions/"+id, nil)
	if missingRec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", missingRec.Code)
	}
}

func TestCreateSessionRejectsEmptyCommand(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/sessions", map[string]any{"command": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "invalid_spec" {
		t.Fatalf("expected invalid_spec code, got %q", body.Code)
	}
}

func newPasswordTestServer(t *testing.T) *Server {
	t.Helper()
	host := ptyhost.New(0, time.Second, nil)
	h := hub.New(0, 0, nil, nil)
	reg, err := registry.New(registry.Config{RecordingsDir: t.TempDir()}, host, h, nil)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	hash, err := auth.HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	cfg := config.Defaults()
	cfg.AuthMode = config.AuthPassword
	cfg.AuthPasswordHash = hash
	key, _, err := auth.GenerateECKey()
	if err != nil {
		t.Fatalf("GenerateECKey: %v", err)
	}
	return New(reg, cfg, key, nil, nil, "test", nil)
}

func TestAuthRequiredWithoutToken(t *testing.T) {
	s := newPasswordTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/sessions", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAuthTokenIssuedAndAccepted(t *testing.T) {
	s := newPasswordTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/auth/token", map[string]any{"password": "correct horse"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var tok tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &tok); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tok.Token == "" {
		t.Fatalf("expected non-empty token")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	authedRec := httptest.NewRecorder()
	s.ServeHTTP(authedRec, req)
	if authedRec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d: %s", authedRec.Code, authedRec.Body.String())
	}
}

func TestAuthTokenRejectsWrongPassword(t *testing.T) {
	s := newPasswordTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/auth/token", map[string]any{"password": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}
