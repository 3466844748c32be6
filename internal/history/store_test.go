package history

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nolight-dev/nolight/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newRecord(id string, started time.Time) *domain.RequestRecord {
	return &domain.RequestRecord{
		ID:        id,
		Prompt:    "add a double jump",
		Model:     "gpt-5-mini",
		Status:    domain.StatusWaiting,
		StartedAt: started,
	}
}

func TestSaveAndGet(t *testing.T) {
	store := newTestStore(t)

	rec := newRecord("req-1", time.Now())
	if err := store.Save(rec); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get("req-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Prompt != rec.Prompt {
		t.Errorf("Prompt = %q, want %q", got.Prompt, rec.Prompt)
	}
	if got.Status != domain.StatusWaiting {
		t.Errorf("Status = %s, want waiting", got.Status)
	}
	if got.ExitCode != nil {
		t.Errorf("ExitCode = %v, want nil", *got.ExitCode)
	}
	if got.FinishedAt != nil {
		t.Errorf("FinishedAt = %v, want nil", got.FinishedAt)
	}
}

func TestComplete(t *testing.T) {
	store := newTestStore(t)

	rec := newRecord("req-1", time.Now())
	if err := store.Save(rec); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	code := 0
	rec.Status = domain.StatusCommitted
	rec.CommitID = "a1b2c3d"
	rec.Description = "feat: add a double jump"
	rec.FilesChanged = 3
	rec.LinesChanged = 42
	rec.CostUSD = 0.0042
	rec.ExitCode = &code
	rec.FinishedAt = &now

	if err := store.Complete(rec); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get("req-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusCommitted {
		t.Errorf("Status = %s, want committed", got.Status)
	}
	if got.CommitID != "a1b2c3d" {
		t.Errorf("CommitID = %q, want a1b2c3d", got.CommitID)
	}
	if got.Description != "feat: add a double jump" {
		t.Errorf("Description = %q, want commit title", got.Description)
	}
	if got.FilesChanged != 3 || got.LinesChanged != 42 {
		t.Errorf("changes = %d files / %d lines, want 3 / 42", got.FilesChanged, got.LinesChanged)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("ExitCode = %v, want 0", got.ExitCode)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt = nil, want set")
	}
}

func TestTerminalRecordsAreImmutable(t *testing.T) {
	store := newTestStore(t)

	rec := newRecord("req-1", time.Now())
	if err := store.Save(rec); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	rec.Status = domain.StatusFailed
	rec.FailureReason = "exited with code 2: traceback"
	rec.FinishedAt = &now
	if err := store.Complete(rec); err != nil {
		t.Fatal(err)
	}

	if err := store.UpdateStatus("req-1", domain.StatusWaiting); err != ErrTerminal {
		t.Errorf("UpdateStatus on terminal record = %v, want ErrTerminal", err)
	}
	rec.Status = domain.StatusCommitted
	if err := store.Complete(rec); err != ErrTerminal {
		t.Errorf("Complete on terminal record = %v, want ErrTerminal", err)
	}
}

func TestList_NewestFirstWithFilter(t *testing.T) {
	store := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"req-1", "req-2", "req-3"} {
		rec := newRecord(id, base.Add(time.Duration(i)*time.Minute))
		if err := store.Save(rec); err != nil {
			t.Fatal(err)
		}
	}

	now := time.Now()
	failed, _ := store.Get("req-2")
	failed.Status = domain.StatusFailed
	failed.FailureReason = "timeout"
	failed.FinishedAt = &now
	if err := store.Complete(failed); err != nil {
		t.Fatal(err)
	}

	all, err := store.List(ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}
	if all[0].ID != "req-3" || all[2].ID != "req-1" {
		t.Errorf("order = [%s %s %s], want newest first", all[0].ID, all[1].ID, all[2].ID)
	}

	onlyFailed, err := store.List(ListOptions{Status: domain.StatusFailed})
	if err != nil {
		t.Fatal(err)
	}
	if len(onlyFailed) != 1 || onlyFailed[0].ID != "req-2" {
		t.Errorf("failed filter returned %d records, want req-2 only", len(onlyFailed))
	}

	limited, err := store.List(ListOptions{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("len(limited) = %d, want 2", len(limited))
	}
}

func TestSessionCost(t *testing.T) {
	store := newTestStore(t)

	sessionStart := time.Now()
	old := newRecord("req-old", sessionStart.Add(-2*time.Hour))
	old.CostUSD = 9.99
	if err := store.Save(old); err != nil {
		t.Fatal(err)
	}

	for i, cost := range []float64{0.01, 0.02} {
		rec := newRecord("req-"+string(rune('a'+i)), sessionStart.Add(time.Duration(i)*time.Minute))
		rec.CostUSD = cost
		if err := store.Save(rec); err != nil {
			t.Fatal(err)
		}
	}

	total, err := store.SessionCost(sessionStart)
	if err != nil {
		t.Fatal(err)
	}
	if total < 0.0299 || total > 0.0301 {
		t.Errorf("SessionCost = %f, want 0.03", total)
	}
}

func TestToTSV(t *testing.T) {
	code := 1
	records := []*domain.RequestRecord{
		{
			ID:           "0123456789abcdef",
			Prompt:       "add doors",
			CommitID:     "a1b2c3d4e5f6a7b8",
			Description:  "feat: add doors to the dungeon",
			LinesChanged: 12,
			FilesChanged: 2,
			CostUSD:      0.0042,
		},
		{
			ID:            "fedcba9876543210",
			Prompt:        "fix lighting",
			FailureReason: "exited with code 1: boom",
			ExitCode:      &code,
		},
	}

	tsv := ToTSV(records)
	lines := strings.Split(strings.TrimRight(tsv, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 rows", len(lines))
	}
	if !strings.HasPrefix(lines[1], "01234567\ta1b2c3d4\t12\t2\t0.0042") {
		t.Errorf("row 1 = %q", lines[1])
	}
	// The description column carries the commit title, not the prompt.
	if !strings.HasSuffix(lines[1], "\tfeat: add doors to the dungeon") {
		t.Errorf("row 1 = %q, want commit title in the description column", lines[1])
	}
	if strings.Contains(lines[1], "add doors\t") {
		t.Errorf("row 1 = %q, prompt leaked into the export", lines[1])
	}
	if !strings.Contains(lines[2], "exited with code 1: boom") {
		t.Errorf("row 2 = %q", lines[2])
	}
}
