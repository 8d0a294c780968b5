package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/shlex"

	"github.com/vtmuxd/vtmuxd/internal/apierr"
	"github.com/vtmuxd/vtmuxd/internal/registry"
)

// handleListSessions handles GET /api/sessions (spec §6): a bare JSON array
// of session detail objects, not wrapped in an envelope.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.reg.List()
	if sessions == nil {
		sessions = []registry.Info{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// createSessionRequest accepts command either as a single shell-style
// string ("bash -lc foo") or as an argv array, matching the flexibility
// most terminal-session APIs in the wild offer callers.
type createSessionRequest struct {
	Command json.RawMessage   `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Name    string            `json:"name,omitempty"`
	Cols    uint16            `json:"cols,omitempty"`
	Rows    uint16            `json:"rows,omitempty"`
}

func parseCommand(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, apierr.New(apierr.InvalidSpec, "command is required")
	}
	var argv []string
	if err := json.Unmarshal(raw, &argv); err == nil {
		return argv, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return nil, apierr.New(apierr.InvalidSpec, "command must be a string or an array of strings")
	}
	fields, err := shlex.Split(str)
	if err != nil {
		return nil, apierr.New(apierr.InvalidSpec, "could not parse command string: %s", err)
	}
	return fields, nil
}

// handleCreateSession handles POST /api/sessions (spec §6).
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, apierr.New(apierr.InvalidSpec, "malformed request body"))
		return
	}
	command, err := parseCommand(req.Command)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	command = append(command, req.Args...)

	info, err := s.reg.Create(registry.CreateSpec{
		Command: command,
		Cwd:     req.Cwd,
		Env:     req.Env,
		Name:    req.Name,
		Cols:    req.Cols,
		Rows:    req.Rows,
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": info.ID})
}

// handleGetSession handles GET /api/sessions/{id} (spec §6).
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.reg.Get(r.PathValue("id"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleDeleteSession handles DELETE /api/sessions/{id} (spec §6): kills a
// running session's process first, then removes the session from the
// Registry, which also deletes its transcript and metadata files unless
// the Registry keeps recordings.
// Kill blocks until ptyhost has reaped the child, but the Registry's exit
// bookkeeping (awaitExit) finalizes status asynchronously right after —
// so this polls briefly rather than assuming Kill's return means Remove
// will already see StatusExited.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, err := s.reg.Get(id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if info.Status == registry.StatusRunning {
		if err := s.reg.Kill(id); err != nil {
			writeAPIError(w, err)
			return
		}
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			info, err = s.reg.Get(id)
			if err != nil {
				writeAPIError(w, err)
				return
			}
			if info.Status == registry.StatusExited {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	if err := s.reg.Remove(id); err != nil {
		writeAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type inputRequest struct {
	Text string `json:"text,omitempty"`
	Key  string `json:"key,omitempty"`
}

// handleInput handles POST /api/sessions/{id}/input (spec §6): key is used
// when present, otherwise text; a body with neither is rejected.
func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, apierr.New(apierr.InvalidSpec, "malformed request body"))
		return
	}
	switch {
	case req.Key != "":
		if err := s.reg.InputKey(id, req.Key); err != nil {
			writeAPIError(w, err)
			return
		}
	case req.Text != "":
		if err := s.reg.Input(id, []byte(req.Text)); err != nil {
			writeAPIError(w, err)
			return
		}
	default:
		writeAPIError(w, apierr.New(apierr.InvalidSpec, "one of text or key is required"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resizeRequest struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// handleResize handles POST /api/sessions/{id}/resize (spec §6).
func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req resizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, apierr.New(apierr.InvalidSpec, "malformed request body"))
		return
	}
	info, err := s.reg.Resize(id, req.Cols, req.Rows)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cols": info.Cols, "rows": info.Rows})
}

// handleText handles GET /api/sessions/{id}/text[?styles=true] (spec §6).
func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	styled := r.URL.Query().Get("styles") == "true"
	text, err := s.reg.Text(id, styled)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}
