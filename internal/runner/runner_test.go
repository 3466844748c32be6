package runner

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nolight-dev/nolight/internal/domain"
)

// fakeAssistant writes a shell script that stands in for the assistant CLI.
// The real CLI is invoked with fixed flags, which the script ignores.
func fakeAssistant(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "assistant.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// memStore records dispatcher persistence calls in arrival order.
type memStore struct {
	mu        sync.Mutex
	saved     []*domain.RequestRecord
	statuses  []domain.RequestStatus
	completed []*domain.RequestRecord
	order     []string
	saveErr   error
}

func (s *memStore) Save(rec *domain.RequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, rec)
	s.order = append(s.order, "save")
	return nil
}

func (s *memStore) UpdateStatus(id string, status domain.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	s.order = append(s.order, "update")
	return nil
}

func (s *memStore) Complete(rec *domain.RequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, rec)
	s.order = append(s.order, "complete")
	return nil
}

func (s *memStore) lastCompleted(t *testing.T) *domain.RequestRecord {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.completed) == 0 {
		t.Fatal("no completed records")
	}
	return s.completed[len(s.completed)-1]
}

func stubStats(lines, files int) StatsFunc {
	return func(repoPath, hash string) (*domain.CommitStats, error) {
		return &domain.CommitStats{
			LinesAdded:    lines,
			FilesModified: files,
			Description:   "feat: open the locked door",
		}, nil
	}
}

// statusCollector funnels status changes into a channel for tests to await.
type statusCollector struct {
	ch chan domain.RequestStatus
}

func newStatusCollector() *statusCollector {
	return &statusCollector{ch: make(chan domain.RequestStatus, 8)}
}

func (c *statusCollector) callback(req *Request, status domain.RequestStatus, reason string) {
	c.ch <- status
}

func (c *statusCollector) wait(t *testing.T, want domain.RequestStatus) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-c.ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %s", want)
		}
	}
}

func newTestDispatcher(t *testing.T, script string, timeout time.Duration, store *memStore) *Dispatcher {
	t.Helper()
	return New(Options{
		Command: script,
		WorkDir: t.TempDir(),
		Timeout: timeout,
		Store:   store,
		Stats:   stubStats(12, 3),
	})
}

func TestDispatch_CommitDetected(t *testing.T) {
	script := fakeAssistant(t, `
echo "Aider v0.86.1"
echo "Committed abc1234 feat: open the locked door"
echo "Cost: \$0.0421 message."`)
	store := &memStore{}
	d := newTestDispatcher(t, script, 5*time.Second, store)

	statuses := newStatusCollector()
	req, err := d.Dispatch(context.Background(), "open the locked door", "gpt-5", nil, statuses.callback)
	if err != nil {
		t.Fatal(err)
	}
	statuses.wait(t, domain.StatusCommitted)

	status, commitID, cost := req.Snapshot()
	if status != domain.StatusCommitted {
		t.Errorf("status = %s, want %s", status, domain.StatusCommitted)
	}
	if commitID != "abc1234" {
		t.Errorf("CommitID = %q, want abc1234", commitID)
	}
	if math.Abs(cost-0.0421) > 1e-9 {
		t.Errorf("CostUSD = %v, want 0.0421", cost)
	}

	rec := store.lastCompleted(t)
	if rec.CommitID != "abc1234" {
		t.Errorf("stored CommitID = %q, want abc1234", rec.CommitID)
	}
	if rec.LinesChanged != 12 || rec.FilesChanged != 3 {
		t.Errorf("stored stats = %d lines/%d files, want 12/3", rec.LinesChanged, rec.FilesChanged)
	}
	if rec.Description != "feat: open the locked door" {
		t.Errorf("stored Description = %q, want commit title", rec.Description)
	}
	if rec.FinishedAt == nil {
		t.Error("stored FinishedAt is nil")
	}

	// The record must be inserted before the subprocess can complete it.
	store.mu.Lock()
	order := append([]string(nil), store.order...)
	store.mu.Unlock()
	if len(order) < 2 || order[0] != "save" || order[len(order)-1] != "complete" {
		t.Errorf("store call order = %v, want save first and complete last", order)
	}
}

func TestDispatch_FailureKeepsLastLine(t *testing.T) {
	script := fakeAssistant(t, `
echo "Model gpt-5 not available" >&2
exit 2`)
	store := &memStore{}
	d := newTestDispatcher(t, script, 5*time.Second, store)

	statuses := newStatusCollector()
	_, err := d.Dispatch(context.Background(), "do a thing", "gpt-5", nil, statuses.callback)
	if err != nil {
		t.Fatal(err)
	}
	statuses.wait(t, domain.StatusFailed)

	rec := store.lastCompleted(t)
	if rec.Status != domain.StatusFailed {
		t.Errorf("status = %s, want %s", rec.Status, domain.StatusFailed)
	}
	if !strings.Contains(rec.FailureReason, "exited with code 2") {
		t.Errorf("FailureReason = %q, want exit code in it", rec.FailureReason)
	}
	if !strings.Contains(rec.FailureReason, "Model gpt-5 not available") {
		t.Errorf("FailureReason = %q, want last output line in it", rec.FailureReason)
	}
	if rec.ExitCode == nil || *rec.ExitCode != 2 {
		t.Errorf("ExitCode = %v, want 2", rec.ExitCode)
	}
}

func TestDispatch_TimeoutWithoutCommit(t *testing.T) {
	script := fakeAssistant(t, `
echo "Thinking..."
sleep 30`)
	store := &memStore{}
	d := newTestDispatcher(t, script, 200*time.Millisecond, store)

	statuses := newStatusCollector()
	_, err := d.Dispatch(context.Background(), "do a thing", "gpt-5", nil, statuses.callback)
	if err != nil {
		t.Fatal(err)
	}
	statuses.wait(t, domain.StatusTimedOut)

	rec := store.lastCompleted(t)
	if rec.Status != domain.StatusTimedOut {
		t.Errorf("status = %s, want %s", rec.Status, domain.StatusTimedOut)
	}
	if !strings.Contains(rec.FailureReason, "no commit id within") {
		t.Errorf("FailureReason = %q, want timeout explanation", rec.FailureReason)
	}
}

func TestDispatch_PausesOnUserInputAndReusesID(t *testing.T) {
	ask := fakeAssistant(t, `
echo "I need src/Door.cs, please add the files to the chat."
sleep 30`)
	answer := fakeAssistant(t, `
echo "Committed deadbee fix: door opens"`)
	store := &memStore{}
	d := newTestDispatcher(t, ask, 5*time.Second, store)

	statuses := newStatusCollector()
	first, err := d.Dispatch(context.Background(), "fix the door", "gpt-5", nil, statuses.callback)
	if err != nil {
		t.Fatal(err)
	}
	statuses.wait(t, domain.StatusWaitingOnUser)

	// A follow-up reply continues the same request under the same id.
	d.opts.Command = answer
	second, err := d.Dispatch(context.Background(), "the files are added now", "gpt-5", nil, statuses.callback)
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("follow-up id = %s, want %s", second.ID, first.ID)
	}
	statuses.wait(t, domain.StatusCommitted)

	store.mu.Lock()
	saves := len(store.saved)
	store.mu.Unlock()
	if saves != 1 {
		t.Errorf("Save called %d times, want 1 (follow-up must not create a new record)", saves)
	}
}

func TestDispatch_RejectsWhileInFlight(t *testing.T) {
	script := fakeAssistant(t, `sleep 30`)
	d := newTestDispatcher(t, script, 5*time.Second, &memStore{})

	statuses := newStatusCollector()
	req, err := d.Dispatch(context.Background(), "first", "gpt-5", nil, statuses.callback)
	if err != nil {
		t.Fatal(err)
	}
	defer req.Stop()

	if _, err := d.Dispatch(context.Background(), "second", "gpt-5", nil, nil); err == nil {
		t.Error("second Dispatch = nil, want in-flight error")
	}
}

func TestDispatch_EmptyPromptRejected(t *testing.T) {
	d := newTestDispatcher(t, "aider", time.Second, &memStore{})
	if _, err := d.Dispatch(context.Background(), "   \n  ", "gpt-5", nil, nil); err == nil {
		t.Error("Dispatch with blank prompt = nil, want error")
	}
}

func TestDispatch_MissingCommandMentionsPath(t *testing.T) {
	d := New(Options{
		Command: "definitely-not-installed-assistant",
		WorkDir: t.TempDir(),
		Store:   &memStore{},
		Stats:   stubStats(0, 0),
	})
	_, err := d.Dispatch(context.Background(), "hello", "gpt-5", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "PATH") {
		t.Errorf("Dispatch = %v, want PATH hint", err)
	}
	if d.Active() != nil {
		t.Error("Active() is set after failed start, want nil")
	}
}

func TestDispatch_SessionCostAccumulates(t *testing.T) {
	script := fakeAssistant(t, `
echo "Cost: \$0.10 message."
echo "Committed 1234567 chore: tweak"`)
	d := newTestDispatcher(t, script, 5*time.Second, &memStore{})

	statuses := newStatusCollector()
	if _, err := d.Dispatch(context.Background(), "one", "gpt-5", nil, statuses.callback); err != nil {
		t.Fatal(err)
	}
	statuses.wait(t, domain.StatusCommitted)

	if _, err := d.Dispatch(context.Background(), "two", "gpt-5", nil, statuses.callback); err != nil {
		t.Fatal(err)
	}
	statuses.wait(t, domain.StatusCommitted)

	if got := d.SessionCost(); math.Abs(got-0.20) > 1e-9 {
		t.Errorf("SessionCost = %v, want 0.20", got)
	}
}

func TestDispatch_SessionCostCountsBothRunsOfAContinuation(t *testing.T) {
	ask := fakeAssistant(t, `
echo "Cost: \$0.10 message."
echo "I need src/Door.cs, please add the files to the chat."
sleep 30`)
	answer := fakeAssistant(t, `
echo "Cost: \$0.05 message."
echo "Committed deadbee fix: door opens"`)
	d := newTestDispatcher(t, ask, 5*time.Second, &memStore{})

	statuses := newStatusCollector()
	if _, err := d.Dispatch(context.Background(), "fix the door", "gpt-5", nil, statuses.callback); err != nil {
		t.Fatal(err)
	}
	statuses.wait(t, domain.StatusWaitingOnUser)

	// The follow-up run starts a fresh subprocess whose cost restarts at
	// zero; its spend must still be added on top of the first run's.
	d.opts.Command = answer
	if _, err := d.Dispatch(context.Background(), "the files are added now", "gpt-5", nil, statuses.callback); err != nil {
		t.Fatal(err)
	}
	statuses.wait(t, domain.StatusCommitted)

	if got := d.SessionCost(); math.Abs(got-0.15) > 1e-9 {
		t.Errorf("SessionCost = %v, want 0.15", got)
	}
}

func TestDispatch_SaveFailureIsReturned(t *testing.T) {
	script := fakeAssistant(t, `echo "Committed abc1234"`)
	store := &memStore{saveErr: errors.New("disk full")}
	d := newTestDispatcher(t, script, 5*time.Second, store)

	_, err := d.Dispatch(context.Background(), "do a thing", "gpt-5", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Dispatch = %v, want save error surfaced", err)
	}
	if d.Active() != nil {
		t.Error("Active() is set after failed save, want nil")
	}
}

func TestRequest_OnLineReceivesCleanOutput(t *testing.T) {
	script := fakeAssistant(t, `
printf 'Can'"'"'t initialize prompt toolkit: No Windows console found\n'
printf '\033[1mCommitted abc1234\033[0m done\n'`)
	d := newTestDispatcher(t, script, 5*time.Second, &memStore{})

	var mu sync.Mutex
	var lines []string
	statuses := newStatusCollector()
	_, err := d.Dispatch(context.Background(), "go", "gpt-5", func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	}, statuses.callback)
	if err != nil {
		t.Fatal(err)
	}
	statuses.wait(t, domain.StatusCommitted)

	mu.Lock()
	defer mu.Unlock()
	for _, line := range lines {
		if strings.Contains(line, "prompt toolkit") {
			t.Errorf("suppressed warning leaked to OnLine: %q", line)
		}
		if strings.Contains(line, "\033") {
			t.Errorf("ANSI escapes leaked to OnLine: %q", line)
		}
	}
}
