package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) func() {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	if err := Open(path); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return func() {
		Close()
		os.Remove(path)
	}
}

func TestOpenClose(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	if DB() == nil {
		t.Fatal("DB() returned nil after Open")
	}
}

func TestNodeIDSeededOnOpen(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	id, err := GetNodeID()
	if err != nil {
		t.Fatalf("GetNodeID: %v", err)
	}
	if id == "" {
		t.Error("node_id empty after Open")
	}
}

func TestConfigGetSet(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	if err := SetConfig("test_key", "test_value"); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	val, err := GetConfig("test_key")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if val != "test_value" {
		t.Errorf("GetConfig = %q, want %q", val, "test_value")
	}

	// Overwrite
	SetConfig("test_key", "new_value")
	val, _ = GetConfig("test_key")
	if val != "new_value" {
		t.Errorf("after overwrite: %q, want %q", val, "new_value")
	}
}

func TestEventInsertAndList(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	payload := `{"page":"analytics"}`
	session := "sess-1"
	for i := 0; i < 3; i++ {
		if err := InsertEvent(&TrackedEvent{
			Event:     "page_view",
			Payload:   &payload,
			SessionID: &session,
		}); err != nil {
			t.Fatalf("InsertEvent: %v", err)
		}
	}

	events, err := GetRecentEvents(10)
	if err != nil {
		t.Fatalf("GetRecentEvents: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("event count = %d, want 3", len(events))
	}
	if events[0].Event != "page_view" {
		t.Errorf("event = %q", events[0].Event)
	}

	n, err := CountEvents()
	if err != nil || n != 3 {
		t.Errorf("CountEvents = %d, %v; want 3", n, err)
	}
}

func TestHandoffOverwrite(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	ctx1 := `{"from":"home"}`
	if err := SaveHandoff(&HandoffSlot{
		SessionID: "sess-a",
		Dashboard: "analytics",
		Context:   &ctx1,
	}); err != nil {
		t.Fatalf("SaveHandoff: %v", err)
	}

	ctx2 := `{"from":"analytics"}`
	if err := SaveHandoff(&HandoffSlot{
		SessionID: "sess-a",
		Dashboard: "governance",
		Context:   &ctx2,
	}); err != nil {
		t.Fatalf("SaveHandoff overwrite: %v", err)
	}

	got, err := GetHandoff("sess-a")
	if err != nil {
		t.Fatalf("GetHandoff: %v", err)
	}
	if got.Dashboard != "governance" {
		t.Errorf("dashboard = %q, want governance", got.Dashboard)
	}
	if got.Context == nil || *got.Context != ctx2 {
		t.Errorf("context = %v", got.Context)
	}
}

func TestPruneHandoffs(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	SaveHandoff(&HandoffSlot{SessionID: "old", Dashboard: "home"})

	// Backdate the slot past the prune horizon.
	if _, err := db.Exec(`UPDATE nav_handoff SET created_at = ? WHERE session_id = 'old'`,
		time.Now().Add(-2*time.Hour).Unix()); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	SaveHandoff(&HandoffSlot{SessionID: "fresh", Dashboard: "analytics"})

	n, err := PruneHandoffs(time.Hour)
	if err != nil {
		t.Fatalf("PruneHandoffs: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
	if _, err := GetHandoff("fresh"); err != nil {
		t.Errorf("fresh slot should survive: %v", err)
	}
}

func TestSyncJournal(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	InsertSyncRecord(false, "upstream unreachable")
	InsertSyncRecord(true, "")

	last, err := LastSyncRecord()
	if err != nil {
		t.Fatalf("LastSyncRecord: %v", err)
	}
	if !last.Success {
		t.Error("last sync should be the successful one")
	}
}

func TestChainEvents(t *testing.T) {
	cleanup := setupTestDB(t)
	defer cleanup()

	tx := "0xabc"
	blk := int64(1234)
	InsertChainEvent(&ChainEvent{Contract: "the-truth", Event: "Transfer", TxHash: &tx, BlockNumber: &blk})
	InsertChainEvent(&ChainEvent{Contract: "other", Event: "Transfer"})

	events, err := GetRecentChainEvents("the-truth", 10)
	if err != nil {
		t.Fatalf("GetRecentChainEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("count = %d, want 1", len(events))
	}
	if events[0].BlockNumber == nil || *events[0].BlockNumber != 1234 {
		t.Errorf("block = %v", events[0].BlockNumber)
	}
}
