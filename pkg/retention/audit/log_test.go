package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"permafrost-hq/permafrost/pkg/retention"
)

// logTester exercises a Log implementation against the append-only
// contract shared by both sinks.
func logTester(t *testing.T, log Log) {
	t.Helper()
	ctx := context.Background()

	events := []*retention.Event{
		{
			Action:          retention.ActionTierTransition,
			KBName:          "mind-kb",
			AffectedRecords: 250,
			PerformedBy:     "task:monthly-migration",
		},
		{
			Action:      retention.ActionVeto,
			KBName:      "mind-kb",
			PerformedBy: "operator:ada",
			Metadata:    map[string]string{"reason": "legal hold"},
		},
		{
			Action:          retention.ActionPurge,
			KBName:          "scratch-kb",
			AffectedRecords: 12,
			PerformedBy:     "task:daily-scratch-kb",
			Approved:        true,
			ApprovedBy:      "operator:lin",
		},
	}

	for _, event := range events {
		if err := log.Append(ctx, event); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
		if event.ID == "" {
			t.Error("Append() did not assign event ID")
		}
		if event.Timestamp.IsZero() {
			t.Error("Append() did not assign timestamp")
		}
	}

	// Full scan.
	count, err := log.Count(ctx, nil)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 events, got %d", count)
	}

	// Filter by KB.
	kbEvents, err := log.Query(ctx, &Query{KBName: "mind-kb"})
	if err != nil {
		t.Fatalf("Query(kb) failed: %v", err)
	}
	if len(kbEvents) != 2 {
		t.Fatalf("Expected 2 mind-kb events, got %d", len(kbEvents))
	}

	// Filter by action.
	purges, err := log.Query(ctx, &Query{Action: retention.ActionPurge})
	if err != nil {
		t.Fatalf("Query(action) failed: %v", err)
	}
	if len(purges) != 1 {
		t.Fatalf("Expected 1 purge event, got %d", len(purges))
	}
	if !purges[0].Approved || purges[0].ApprovedBy != "operator:lin" {
		t.Errorf("Purge event lost approval fields: %+v", purges[0])
	}

	// Metadata round-trips.
	vetoes, err := log.Query(ctx, &Query{Action: retention.ActionVeto})
	if err != nil {
		t.Fatalf("Query(veto) failed: %v", err)
	}
	if len(vetoes) != 1 || vetoes[0].Metadata["reason"] != "legal hold" {
		t.Errorf("Veto event lost metadata: %+v", vetoes)
	}

	// Time filter excludes everything before the epoch bound.
	future := time.Now().Add(time.Hour)
	none, err := log.Query(ctx, &Query{StartTime: &future})
	if err != nil {
		t.Fatalf("Query(start) failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no events after future bound, got %d", len(none))
	}

	// Limit caps results.
	limited, err := log.Query(ctx, &Query{Limit: 1})
	if err != nil {
		t.Fatalf("Query(limit) failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected 1 limited event, got %d", len(limited))
	}
}

// TestMemoryLog tests the in-memory sink against the shared contract.
func TestMemoryLog(t *testing.T) {
	log := NewMemoryLog()
	defer log.Close()
	logTester(t, log)
}

// TestSQLiteLog tests the durable sink against the shared contract.
func TestSQLiteLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	log, err := NewSQLiteLog(&SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("NewSQLiteLog() failed: %v", err)
	}
	defer log.Close()
	logTester(t, log)
}

// TestMemoryLog_CopiesEvents tests that caller mutation after append
// cannot rewrite history.
func TestMemoryLog_CopiesEvents(t *testing.T) {
	log := NewMemoryLog()
	defer log.Close()
	ctx := context.Background()

	event := &retention.Event{Action: retention.ActionArchive, KBName: "mind-kb"}
	if err := log.Append(ctx, event); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	event.KBName = "rewritten"

	stored, err := log.Query(ctx, nil)
	if err != nil {
		t.Fatalf("Query() failed: %v", err)
	}
	if len(stored) != 1 || stored[0].KBName != "mind-kb" {
		t.Errorf("Stored event was mutated: %+v", stored)
	}
}
