package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "herald/pkg/logx"
)

func openTestStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "herald")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st == nil {
		t.Fatal("Open returned nil store for file driver")
	}
	return st
}

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestDedupRoundtripAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st := openTestStore(t, dir)
	until := time.Now().Add(time.Hour)
	if err := st.PutDedup(ctx, "approval_request_created|k1", until); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	if _, ok, err := st.GetDedup(ctx, "approval_request_created|k1"); err != nil || !ok {
		t.Fatalf("GetDedup = %v, %v; want hit", ok, err)
	}
	if _, ok, _ := st.GetDedup(ctx, "missing"); ok {
		t.Fatal("missing key reported present")
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Keys survive a restart via the journal.
	st = openTestStore(t, dir)
	defer st.Close()
	got, ok, err := st.GetDedup(ctx, "approval_request_created|k1")
	if err != nil || !ok {
		t.Fatalf("GetDedup after reopen = %v, %v; want hit", ok, err)
	}
	if got.UnixMilli() != until.UnixMilli() {
		t.Fatalf("until = %v, want %v", got, until)
	}
}

func TestExpiredDedupDroppedOnReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st := openTestStore(t, dir)
	if err := st.PutDedup(ctx, "stale", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	st.Close()

	st = openTestStore(t, dir)
	defer st.Close()
	if _, ok, _ := st.GetDedup(ctx, "stale"); ok {
		t.Fatal("expired key survived reopen")
	}
}

func TestLastAlarmRoundtrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st := openTestStore(t, dir)
	if _, ok, err := st.LastAlarm(ctx); err != nil || ok {
		t.Fatalf("LastAlarm on empty store = %v, %v", ok, err)
	}
	if err := st.SetLastAlarm(ctx, 99); err != nil {
		t.Fatalf("SetLastAlarm: %v", err)
	}
	st.Close()

	st = openTestStore(t, dir)
	defer st.Close()
	id, ok, err := st.LastAlarm(ctx)
	if err != nil || !ok || id != 99 {
		t.Fatalf("LastAlarm = %d, %v, %v; want 99", id, ok, err)
	}
}

func TestAppendDispatchAndPrune(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st := openTestStore(t, dir)
	defer st.Close()

	err := st.AppendDispatch(ctx, DispatchEntry{
		At:             time.Now(),
		Kind:           "approval_request_created",
		DedupKey:       "k1",
		NotificationID: 42,
		Value:          "approval_request_created:42:T1",
		OK:             true,
		TookMS:         12,
	})
	if err != nil {
		t.Fatalf("AppendDispatch: %v", err)
	}

	if err := st.PutDedup(ctx, "gone", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}
	if err := st.PruneExpired(ctx); err != nil {
		t.Fatalf("PruneExpired: %v", err)
	}
	if _, ok, _ := st.GetDedup(ctx, "gone"); ok {
		t.Fatal("expired key survived prune")
	}
}
