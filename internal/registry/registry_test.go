package registry

import (
	"testing"
	"time"

	"github.com/vtmuxd/vtmuxd/internal/hub"
	"github.com/vtmuxd/vtmuxd/internal/ptyhost"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	host := ptyhost.New(0, time.Second, nil)
	h := hub.New(0, 0, nil, nil)
	reg, err := New(Config{RecordingsDir: t.TempDir()}, host, h, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return reg
}

func waitForExit(t *testing.T, reg *Registry, id string) Info {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		info, err := reg.Get(id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if info.Status == StatusExited {
			return info
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s did not exit in time", id)
	return Info{}
}

func TestCreateListKillRemove(t *testing.T) {
	reg := newTestRegistry(t)

	info, err := reg.Create(CreateSpec{Command: []string{"echo", "hi"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.Status != StatusRunning {
		t.Fatalf("expected running status immediately after create, got %s", info.Status)
	}

	list := reg.List()
	if len(list) != 1 || list[0].ID != info.ID {
		t.Fatalf("expected session in list, got %+v", list)
	}

	exited := waitForExit(t, reg, info.ID)
	if exited.ExitCode == nil || *exited.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %+v", exited.ExitCode)
	}

	if err := reg.Remove(info.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := reg.Get(info.ID); err == nil {
		t.Fatalf("expected NotFound after Remove")
	}
}

func TestRemoveBeforeExitConflicts(t *testing.T) {
	reg := newTestRegistry(t)
	info, err := reg.Create(CreateSpec{Command: []string{"sleep", "5"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer reg.Kill(info.ID)

	if err := reg.Remove(info.ID); err == nil {
		t.Fatalf("expected Remove to fail while session is running")
	}
}

func TestCreateRejectsEmptyCommand(t *testing.T) {
	reg := newTestRegistry(t)
	if _, err := reg.Create(CreateSpec{Cols: 80, Rows: 24}); err == nil {
		t.Fatalf("expected InvalidSpec for empty command")
	}
}

func TestCreateRejectsOversizeDimensions(t *testing.T) {
	reg := newTestRegistry(t)
	if _, err := reg.Create(CreateSpec{Command: []string{"true"}, Cols: 5000, Rows: 24}); err == nil {
		t.Fatalf("expected InvalidSpec for oversize cols")
	}
}

func TestInputKeyUnknownRejected(t *testing.T) {
	reg := newTestRegistry(t)
	info, err := reg.Create(CreateSpec{Command: []string{"cat"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer reg.Kill(info.ID)

	if err := reg.InputKey(info.ID, "not_a_real_key"); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

func TestResizeUpdatesInfo(t *testing.T) {
	reg := newTestRegistry(t)
	info, err := reg.Create(CreateSpec{Command: []string{"cat"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer reg.Kill(info.ID)

	updated, err := reg.Resize(info.ID, 120, 40)
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if updated.Cols != 120 || updated.Rows != 40 {
		t.Fatalf("expected resized dimensions, got %dx%d", updated.Cols, updated.Rows)
	}
}

func TestReconcileMarksRunningAsExited(t *testing.T) {
	dir := t.TempDir()
	host := ptyhost.New(0, time.Second, nil)
	h := hub.New(0, 0, nil, nil)

	reg, err := New(Config{RecordingsDir: dir}, host, h, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	info, err := reg.Create(CreateSpec{Command: []string{"sleep", "5"}, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	reg.persistMeta(reg.sessions[info.ID])
	reg.persistIndex()
	reg.Kill(info.ID)

	reg2, err := New(Config{RecordingsDir: dir}, host, h, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := reg2.Reconcile(); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	got, err := reg2.Get(info.ID)
	if err != nil {
		t.Fatalf("Get after reconcile: %v", err)
	}
	if got.Status != StatusExited {
		t.Fatalf("expected reconciled session to be exited, got %s", got.Status)
	}
}
