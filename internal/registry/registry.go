package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/vtmuxd/vtmuxd/internal/apierr"
	"github.com/vtmuxd/vtmuxd/internal/hub"
	"github.com/vtmuxd/vtmuxd/internal/ptyhost"
	"github.com/vtmuxd/vtmuxd/internal/recorder"
	"github.com/vtmuxd/vtmuxd/internal/vt"
)

// Config bundles the tunables a Registry needs at construction (spec §6's
// RECORDINGS_DIR, RECORD_INPUT and the cols/rows ceilings).
type Config struct {
	RecordingsDir  string
	RecordInput    bool
	BufferCap      int
	ScrollbackCap  int
	MaxCols        uint16
	MaxRows        uint16
	KeepRecordings bool // if true, Remove() keeps the .cast/.meta.json on disk
	KillGrace      time.Duration
}

func (c Config) withDefaults() Config {
	if c.BufferCap <= 0 {
		c.BufferCap = recorder.DefaultMaxBuffer
	}
	if c.ScrollbackCap <= 0 {
		c.ScrollbackCap = vt.DefaultScrollback
	}
	if c.MaxCols == 0 {
		c.MaxCols = 1000
	}
	if c.MaxRows == 0 {
		c.MaxRows = 1000
	}
	if c.KillGrace <= 0 {
		c.KillGrace = 5 * time.Second
	}
	return c
}

// session is the Registry's internal bookkeeping for one id: the live PTY
// handle and components when running, or a nil handle/model for a
// reconciled entry recovered from a prior process's index.json.
type session struct {
	mu sync.Mutex // serializes mutating ops for this session (spec §4.4)

	info  Info
	handle *ptyhost.Handle
	rec    *recorder.Recorder
	model  *vt.Model

	drained chan struct{} // closed by pumpOutput once the PTY output stream is fully read (EOF)

	recordingDegraded bool
}

// Registry is the single mutable authority over the set of sessions
// (spec §4.4). It wires PTYHost, Recorder and Terminal Model together per
// session and notifies the Hub of lifecycle transitions.
type Registry struct {
	log  *slog.Logger
	cfg  Config
	host *ptyhost.Host
	hub  *hub.Hub

	mu       sync.RWMutex
	sessions map[string]*session
}

// New constructs an empty Registry. Call Reconcile afterward to pick up
// state left behind by a prior process (spec §6 "On restart...").
func New(cfg Config, host *ptyhost.Host, h *hub.Hub, log *slog.Logger) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	if cfg.RecordingsDir == "" {
		return nil, apierr.New(apierr.InvalidSpec, "recordings dir must not be empty")
	}
	if err := os.MkdirAll(cfg.RecordingsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}
	return &Registry{
		log:      log,
		cfg:      cfg,
		host:     host,
		hub:      h,
		sessions: make(map[string]*session),
	}, nil
}

func (r *Registry) castPath(id string) string { return filepath.Join(r.cfg.RecordingsDir, id+".cast") }
func (r *Registry) metaPath(id string) string {
	return filepath.Join(r.cfg.RecordingsDir, id+".meta.json")
}
func (r *Registry) indexPath() string { return filepath.Join(r.cfg.RecordingsDir, "index.json") }

// Create validates spec, spawns the PTY, opens the recorder, builds the
// terminal model and publishes the session (spec §4.4 Create).
func (r *Registry) Create(spec CreateSpec) (Info, error) {
	cols, rows := spec.Cols, spec.Rows
	if cols == 0 {
		cols = 80
	}
	if rows == 0 {
		rows = 24
	}
	if cols > r.cfg.MaxCols || rows > r.cfg.MaxRows {
		return Info{}, apierr.New(apierr.InvalidSpec, "cols/rows exceed configured maximum (%dx%d)", r.cfg.MaxCols, r.cfg.MaxRows)
	}
	if len(spec.Command) == 0 {
		return Info{}, apierr.New(apierr.InvalidSpec, "command must not be empty")
	}

	cwd := spec.Cwd
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Info{}, apierr.Wrap(apierr.InvalidSpec, err)
		}
		cwd = wd
	} else if st, err := os.Stat(cwd); err != nil || !st.IsDir() {
		return Info{}, apierr.New(apierr.InvalidSpec, "working directory %q does not exist", cwd)
	}

	id := uuid.NewString()
	handle, err := r.host.Spawn(id, ptyhost.Spec{
		Command: spec.Command,
		Cwd:     cwd,
		Env:     spec.Env,
		Cols:    cols,
		Rows:    rows,
	})
	if err != nil {
		return Info{}, err
	}

	rec, err := recorder.Open(r.castPath(id), int(cols), int(rows), r.cfg.RecordInput, spec.Env, r.cfg.BufferCap)
	if err != nil {
		_ = handle.Kill(context.Background())
		return Info{}, apierr.Wrap(apierr.IoError, err)
	}

	model := vt.New(int(cols), int(rows), r.cfg.ScrollbackCap)

	now := time.Now()
	info := Info{
		ID:           id,
		Name:         spec.Name,
		Status:       StatusRunning,
		Command:      spec.Command,
		WorkingDir:   cwd,
		Env:          spec.Env,
		PID:          handle.PID,
		StartedAt:    now,
		LastModified: now,
		InitialCols:  cols,
		InitialRows:  rows,
		Cols:         cols,
		Rows:         rows,
		Recording:    true,
	}

	sess := &session{info: info, handle: handle, rec: rec, model: model, drained: make(chan struct{})}

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	r.hub.RegisterSession(id, func() []byte { return model.Snapshot() })
	r.hub.PublishEvent(id, map[string]any{"kind": "start", "sessionId": id, "pid": handle.PID})

	go r.pumpOutput(sess)
	go r.awaitExit(sess)

	r.persistMeta(sess)
	r.persistIndex()

	return info, nil
}

// pumpOutput is the per-session PTY reader task (§5): it fans bytes out to
// the recorder, the terminal model and the hub, never blocking on any of
// the three downstream consumers beyond their own bounded work.
func (r *Registry) pumpOutput(sess *session) {
	buf := make([]byte, 32*1024)
	out := sess.handle.Output()
	for {
		n, err := out.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if rerr := sess.rec.AppendOutput(chunk); rerr != nil {
				sess.mu.Lock()
				degraded := !sess.recordingDegraded
				sess.recordingDegraded = true
				sess.mu.Unlock()
				if degraded {
					r.log.Warn("recording degraded", "session", sess.info.ID, "err", rerr)
					r.hub.PublishEvent(sess.info.ID, map[string]any{"kind": "recording-degraded", "sessionId": sess.info.ID})
				}
			}
			sess.model.Feed(chunk)
			r.hub.PublishStdout(sess.info.ID, chunk)
		}
		if err != nil {
			close(sess.drained)
			return
		}
	}
}

// awaitExit is the per-session reaper observer: once the PTY Host reaps the
// child, finalize session metadata and publish the exit EVENT after the
// last STDOUT frame (spec §4.5 ordering guarantee 4). It waits on
// sess.drained so the race between reap() closing the PTY and pumpOutput
// still delivering the final read can't publish the exit EVENT (or close
// the recording) ahead of that last STDOUT frame.
func (r *Registry) awaitExit(sess *session) {
	ev := <-sess.handle.ExitChannel()
	<-sess.drained

	sess.mu.Lock()
	sess.info.Status = StatusExited
	code := ev.Code
	sess.info.ExitCode = &code
	sess.info.LastModified = time.Now()
	sess.mu.Unlock()

	if err := sess.rec.Close(); err != nil {
		r.log.Warn("close recording", "session", sess.info.ID, "err", err)
	}

	r.hub.PublishEvent(sess.info.ID, map[string]any{
		"kind":      "exit",
		"sessionId": sess.info.ID,
		"exitCode":  ev.Code,
		"signal":    ev.Signal,
	})

	r.persistMeta(sess)
	r.persistIndex()
}

// ReapIdle releases the Terminal Model of every exited session that no
// longer has any hub subscribers — the "destroyed when the last subscriber
// leaves AND the session has exited" lifecycle rule from spec §3. Meant to
// be called periodically (e.g. every few seconds) from cmd/vt-server; it is
// a pure memory-release step and never removes the transcript or metadata.
func (r *Registry) ReapIdle() {
	r.mu.RLock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, sess := range sessions {
		sess.mu.Lock()
		exited := sess.info.Status == StatusExited
		model := sess.model
		id := sess.info.ID
		sess.mu.Unlock()
		if !exited || model == nil {
			continue
		}
		if r.hub.SubscriberCount(id) > 0 {
			continue
		}
		if err := model.Close(); err != nil {
			r.log.Warn("close terminal model", "session", id, "err", err)
		}
		sess.mu.Lock()
		sess.model = nil
		sess.mu.Unlock()
		r.hub.RemoveSession(id)
	}
}

// Get returns a read-only snapshot of a session's metadata.
func (r *Registry) Get(id string) (Info, error) {
	sess, err := r.getSession(id)
	if err != nil {
		return Info{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.info, nil
}

// List returns a consistent snapshot of every known session (spec §5: "a
// consistent snapshot" for iteration).
func (r *Registry) List() []Info {
	r.mu.RLock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		out = append(out, s.info)
		s.mu.Unlock()
	}
	return out
}

// Resize forwards to the PTY Host, updates metadata, and emits a resize
// event to both the recorder and the hub's subscribers.
func (r *Registry) Resize(id string, cols, rows uint16) (Info, error) {
	if cols == 0 || rows == 0 {
		return Info{}, apierr.New(apierr.InvalidSpec, "cols/rows must be >= 1")
	}
	if cols > r.cfg.MaxCols || rows > r.cfg.MaxRows {
		return Info{}, apierr.New(apierr.InvalidSpec, "cols/rows exceed configured maximum (%dx%d)", r.cfg.MaxCols, r.cfg.MaxRows)
	}
	sess, err := r.getSession(id)
	if err != nil {
		return Info{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.handle == nil {
		return Info{}, apierr.New(apierr.PtyClosed, "session %s has exited", id)
	}
	if err := sess.handle.Resize(cols, rows); err != nil {
		return Info{}, err
	}
	sess.model.Resize(int(cols), int(rows))
	_ = sess.rec.AppendResize(int(cols), int(rows))
	sess.info.Cols, sess.info.Rows = cols, rows
	sess.info.LastModified = time.Now()

	r.hub.PublishEvent(id, map[string]any{"kind": "resize", "sessionId": id, "cols": cols, "rows": rows})
	r.persistMeta(sess)
	return sess.info, nil
}

// Input forwards raw bytes to the PTY Host's write side and (if enabled)
// the recorder.
func (r *Registry) Input(id string, data []byte) error {
	sess, err := r.getSession(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	handle := sess.handle
	rec := sess.rec
	sess.mu.Unlock()
	if handle == nil {
		return apierr.New(apierr.PtyClosed, "session %s has exited", id)
	}
	if _, err := handle.Write(data); err != nil {
		return err
	}
	if rec != nil {
		_ = rec.AppendInput(data)
	}
	return nil
}

// InputKey maps a named key (spec §6) to its byte sequence and writes it.
func (r *Registry) InputKey(id, key string) error {
	seq, ok := KeySequence(key)
	if !ok {
		return apierr.New(apierr.InvalidSpec, "unknown key %q", key)
	}
	return r.Input(id, seq)
}

// Kill forwards to the PTY Host's Kill (SIGTERM, then SIGKILL after the
// configured grace window).
func (r *Registry) Kill(id string) error {
	sess, err := r.getSession(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	handle := sess.handle
	sess.mu.Unlock()
	if handle == nil {
		return nil // already a reconciled, exited entry
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.KillGrace*2)
	defer cancel()
	return handle.Kill(ctx)
}

// Remove deletes a session from the registry, allowed only once it has
// exited. It optionally deletes the transcript/meta files from disk.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return apierr.New(apierr.NotFound, "session %s not found", id)
	}

	sess.mu.Lock()
	status := sess.info.Status
	sess.mu.Unlock()
	if status != StatusExited {
		r.mu.Unlock()
		return apierr.New(apierr.Conflict, "session %s is still running", id)
	}

	delete(r.sessions, id)
	r.mu.Unlock()

	r.hub.RemoveSession(id)

	if !r.cfg.KeepRecordings {
		_ = os.Remove(r.castPath(id))
		_ = os.Remove(r.metaPath(id))
	}
	r.persistIndex()
	return nil
}

// Text returns the current screen as plain text, or with SGR escapes when
// styled is true (spec §6 GET .../text[?styles=true]).
func (r *Registry) Text(id string, styled bool) (string, error) {
	sess, err := r.getSession(id)
	if err != nil {
		return "", err
	}
	sess.mu.Lock()
	model := sess.model
	sess.mu.Unlock()
	if model == nil {
		return "", apierr.New(apierr.NotFound, "session %s has no live terminal model", id)
	}
	if styled {
		return model.StyledText(), nil
	}
	return model.PlainText(), nil
}

// RecordingPath returns the on-disk transcript path for id, for the HTTP
// surface's recording-download handler to stream with Range support. It
// does not check the file actually exists — IoError surfaces from the
// caller's os.Open instead, keeping this a pure lookup.
func (r *Registry) RecordingPath(id string) (string, error) {
	if _, err := r.getSession(id); err != nil {
		return "", err
	}
	return r.castPath(id), nil
}

// Snapshot returns the binary terminal snapshot for a live session, or
// NotFound if the session has no live Terminal Model (e.g. a reconciled
// entry from a prior process).
func (r *Registry) Snapshot(id string) ([]byte, error) {
	sess, err := r.getSession(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	model := sess.model
	sess.mu.Unlock()
	if model == nil {
		return nil, apierr.New(apierr.NotFound, "session %s has no live terminal model", id)
	}
	return model.Snapshot(), nil
}

func (r *Registry) getSession(id string) (*session, error) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, apierr.New(apierr.NotFound, "session %s not found", id)
	}
	return sess, nil
}

// persistMeta writes <id>.meta.json; failures are logged, not propagated —
// metadata persistence is best-effort recovery state, not the source of
// truth for a live session.
func (r *Registry) persistMeta(sess *session) {
	sess.mu.Lock()
	info := sess.info
	sess.mu.Unlock()

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		r.log.Warn("marshal session meta", "session", info.ID, "err", err)
		return
	}
	if err := os.WriteFile(r.metaPath(info.ID), data, 0o600); err != nil {
		r.log.Warn("write session meta", "session", info.ID, "err", err)
	}
}

// persistIndex rewrites index.json under a file lock so a concurrent
// process (or a second writer goroutine) can't interleave partial writes.
func (r *Registry) persistIndex() {
	lock := flock.New(r.indexPath() + ".lock")
	if err := lock.Lock(); err != nil {
		r.log.Warn("lock index.json", "err", err)
		return
	}
	defer lock.Unlock()

	r.mu.RLock()
	entries := make([]indexEntry, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sess.mu.Lock()
		entries = append(entries, indexEntry{ID: sess.info.ID, Status: sess.info.Status, PID: sess.info.PID})
		sess.mu.Unlock()
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		r.log.Warn("marshal index.json", "err", err)
		return
	}
	tmp := r.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		r.log.Warn("write index.json tmp", "err", err)
		return
	}
	if err := os.Rename(tmp, r.indexPath()); err != nil {
		r.log.Warn("rename index.json", "err", err)
	}
}

// Reconcile reads a prior process's index.json (if present) and
// <id>.meta.json files, marking any session that was "running" at last
// shutdown as "exited" — its OS process cannot have survived a server
// restart — while keeping its transcript available for replay (spec §6).
func (r *Registry) Reconcile() error {
	lock := flock.New(r.indexPath() + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock index.json: %w", err)
	}
	defer lock.Unlock()

	data, err := os.ReadFile(r.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read index.json: %w", err)
	}
	var entries []indexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parse index.json: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		metaData, err := os.ReadFile(r.metaPath(e.ID))
		if err != nil {
			r.log.Warn("reconcile: missing meta.json, dropping dangling index entry", "session", e.ID)
			continue
		}
		var info Info
		if err := json.Unmarshal(metaData, &info); err != nil {
			r.log.Warn("reconcile: corrupt meta.json", "session", e.ID, "err", err)
			continue
		}
		if info.Status == StatusRunning {
			info.Status = StatusExited
			if info.ExitCode == nil {
				code := -1
				info.ExitCode = &code
			}
			info.LastModified = time.Now()
		}
		if _, err := os.Stat(r.castPath(e.ID)); err != nil {
			info.Recording = false
		}
		r.sessions[e.ID] = &session{info: info}
	}

	// Rewrite meta files for any entries we just flipped to exited.
	// index.json is left as read; it is rewritten on the next persistIndex.
	for _, sess := range r.sessions {
		r.persistMeta(sess)
	}
	return nil
}
