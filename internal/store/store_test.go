package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ryazanovegor/oliva-space/internal/domain"
	"github.com/ryazanovegor/oliva-space/internal/store"
)

func sampleSnapshot() domain.Snapshot {
	performer := "B"
	return domain.Snapshot{
		Accounts: map[string]domain.Account{
			"A": {Identity: "A", Balance: decimal.RequireFromString("300")},
			"B": {Identity: "B", Balance: decimal.RequireFromString("200.50")},
		},
		Tasks: []domain.Task{
			{ID: 1, CustomerID: "A", PerformerID: &performer, Text: "write a post", Price: decimal.RequireFromString("200"), Status: domain.StatusDone, CreatedAt: "2024-01-01T00:00:00Z"},
			{ID: 2, CustomerID: "A", Text: "another one", Price: decimal.RequireFromString("50"), Status: domain.StatusOpen, CreatedAt: "2024-01-02T00:00:00Z"},
		},
		NextTaskID: 3,
	}
}

func assertSnapshotEqual(t *testing.T, want, got domain.Snapshot) {
	t.Helper()
	if got.NextTaskID != want.NextTaskID {
		t.Fatalf("next_task_id: want %d, got %d", want.NextTaskID, got.NextTaskID)
	}
	if len(got.Accounts) != len(want.Accounts) {
		t.Fatalf("accounts: want %d, got %d", len(want.Accounts), len(got.Accounts))
	}
	for k, w := range want.Accounts {
		g, ok := got.Accounts[k]
		if !ok || !g.Balance.Equal(w.Balance) {
			t.Fatalf("account %s: want %+v, got %+v", k, w, g)
		}
	}
	if len(got.Tasks) != len(want.Tasks) {
		t.Fatalf("tasks: want %d, got %d", len(want.Tasks), len(got.Tasks))
	}
	for i, w := range want.Tasks {
		g := got.Tasks[i]
		if g.ID != w.ID || g.CustomerID != w.CustomerID || g.Text != w.Text ||
			g.Status != w.Status || g.CreatedAt != w.CreatedAt || !g.Price.Equal(w.Price) {
			t.Fatalf("task %d: want %+v, got %+v", i, w, g)
		}
		switch {
		case w.PerformerID == nil && g.PerformerID != nil:
			t.Fatalf("task %d: performer should be empty, got %s", i, *g.PerformerID)
		case w.PerformerID != nil && (g.PerformerID == nil || *g.PerformerID != *w.PerformerID):
			t.Fatalf("task %d: performer mismatch", i)
		}
	}
}

func TestFileStoreMissingFile(t *testing.T) {
	st := store.NewFileStore(filepath.Join(t.TempDir(), "missing.json"))
	snap, err := st.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.NextTaskID != 1 || len(snap.Tasks) != 0 || len(snap.Accounts) != 0 {
		t.Fatalf("want empty snapshot, got %+v", snap)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "oliva.json")
	st := store.NewFileStore(path)
	want := sampleSnapshot()
	if err := st.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("data file missing: %v", err)
	}
	got, err := st.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assertSnapshotEqual(t, want, got)
}

func TestFileStoreOverwrite(t *testing.T) {
	st := store.NewFileStore(filepath.Join(t.TempDir(), "oliva.json"))
	first := sampleSnapshot()
	if err := st.Save(first); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := sampleSnapshot()
	second.Tasks = second.Tasks[:1]
	second.NextTaskID = 5
	if err := st.Save(second); err != nil {
		t.Fatalf("save again: %v", err)
	}
	got, err := st.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assertSnapshotEqual(t, second, got)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	st, err := store.OpenSQLiteStore(filepath.Join(t.TempDir(), "oliva.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	defer st.Close()

	snap, err := st.Load()
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if snap.NextTaskID != 1 || len(snap.Tasks) != 0 {
		t.Fatalf("want empty snapshot, got %+v", snap)
	}

	want := sampleSnapshot()
	if err := st.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := st.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assertSnapshotEqual(t, want, got)
}

func TestOpenSelectsDriver(t *testing.T) {
	dir := t.TempDir()
	if _, err := store.Open("json", filepath.Join(dir, "x.json")); err != nil {
		t.Fatalf("json driver: %v", err)
	}
	if _, err := store.Open("", filepath.Join(dir, "y.json")); err != nil {
		t.Fatalf("default driver: %v", err)
	}
	if _, err := store.Open("sqlite", filepath.Join(dir, "x.db")); err != nil {
		t.Fatalf("sqlite driver: %v", err)
	}
	if _, err := store.Open("bolt", "z"); err == nil {
		t.Fatalf("unknown driver should fail")
	}
}
