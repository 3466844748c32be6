package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nolight-dev/nolight/internal/domain"
	"github.com/nolight-dev/nolight/internal/gitstats"
	"github.com/nolight-dev/nolight/internal/notify"
	"github.com/nolight-dev/nolight/internal/scanner"
)

// Store defines the persistence needed by the dispatcher.
type Store interface {
	Save(rec *domain.RequestRecord) error
	UpdateStatus(id string, status domain.RequestStatus) error
	Complete(rec *domain.RequestRecord) error
}

// StatsFunc looks up change statistics for a detected commit.
type StatsFunc func(repoPath, hash string) (*domain.CommitStats, error)

// Options configures a Dispatcher.
type Options struct {
	Command  string        // assistant executable, e.g. "aider"
	WorkDir  string        // project directory the assistant runs in
	Timeout  time.Duration // commit-detection timeout
	Store    Store
	Notifier notify.Notifier
	Stats    StatsFunc // defaults to gitstats.ForCommit
}

// Dispatcher runs one request at a time against the assistant CLI and
// records the outcome of each request in the history store.
type Dispatcher struct {
	opts Options

	mu          sync.Mutex
	active      *Request
	sessionCost float64
	costCounted map[string]float64 // per-request cost already added to sessionCost
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	if opts.Command == "" {
		opts.Command = "aider"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.Stats == nil {
		opts.Stats = gitstats.ForCommit
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NoopNotifier{}
	}
	return &Dispatcher{opts: opts, costCounted: make(map[string]float64)}
}

// Active returns the request currently in flight, or nil.
func (d *Dispatcher) Active() *Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// SessionCost returns the total dollar cost detected this session.
func (d *Dispatcher) SessionCost() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionCost
}

// Dispatch sends a prompt to the assistant. Only one request may be in
// flight; a request paused waiting on user input is continued under the
// same request id, otherwise a fresh id is generated.
func (d *Dispatcher) Dispatch(ctx context.Context, prompt, model string, onLine LineCallback, onStatus StatusChangeCallback) (*Request, error) {
	prompt = scanner.SanitizePrompt(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("empty prompt")
	}
	if d.opts.WorkDir == "" {
		return nil, fmt.Errorf("no working directory selected")
	}

	d.mu.Lock()
	id := ""
	if d.active != nil {
		status, _, _ := d.active.Snapshot()
		if status == domain.StatusWaiting {
			d.mu.Unlock()
			return nil, fmt.Errorf("a request is already in flight")
		}
		if status == domain.StatusWaitingOnUser {
			id = d.active.ID
		}
	}
	fresh := id == ""
	if fresh {
		id = uuid.NewString()
	}

	req := &Request{
		ID:      id,
		Prompt:  prompt,
		Model:   model,
		WorkDir: d.opts.WorkDir,
		Status:  domain.StatusWaiting,
		command: d.opts.Command,
		timeout: d.opts.Timeout,
		OnLine:  onLine,
	}
	req.OnStatusChange = func(r *Request, status domain.RequestStatus, reason string) {
		d.handleStatusChange(r, status, reason)
		if onStatus != nil {
			onStatus(r, status, reason)
		}
	}
	d.active = req
	// Each dispatch is a fresh subprocess whose cost counter starts at
	// zero, so the counted baseline resets even when the id is reused.
	d.costCounted[req.ID] = 0
	d.mu.Unlock()

	// Persist before the subprocess starts; an instantly-exiting process
	// must find its row already inserted when it completes.
	if d.opts.Store != nil {
		if fresh {
			if err := d.opts.Store.Save(d.record(req)); err != nil {
				d.clearActive()
				return nil, fmt.Errorf("saving request: %w", err)
			}
		} else {
			if err := d.opts.Store.UpdateStatus(req.ID, domain.StatusWaiting); err != nil {
				d.clearActive()
				return nil, fmt.Errorf("continuing request %s: %w", req.ID, err)
			}
		}
	}

	if err := req.Start(ctx); err != nil {
		d.clearActive()
		if d.opts.Store != nil {
			rec := d.record(req)
			rec.Status = domain.StatusFailed
			rec.FailureReason = err.Error()
			d.opts.Store.Complete(rec)
		}
		return nil, err
	}

	return req, nil
}

func (d *Dispatcher) clearActive() {
	d.mu.Lock()
	d.active = nil
	d.mu.Unlock()
}

// handleStatusChange persists outcomes and sends notifications. It runs on
// the request's streaming goroutine.
func (d *Dispatcher) handleStatusChange(req *Request, status domain.RequestStatus, reason string) {
	switch status {
	case domain.StatusCommitted:
		d.completeCommit(req)
	case domain.StatusFailed, domain.StatusTimedOut:
		d.completeFailure(req, status, reason)
	case domain.StatusWaitingOnUser:
		if d.opts.Store != nil {
			d.opts.Store.UpdateStatus(req.ID, status)
		}
	}

	// A request that pauses for user input and later completes reports its
	// cost more than once; only count the increase.
	_, _, cost := req.Snapshot()
	d.mu.Lock()
	if counted := d.costCounted[req.ID]; cost > counted {
		d.sessionCost += cost - counted
		d.costCounted[req.ID] = cost
	}
	d.mu.Unlock()
}

// completeCommit looks up git statistics for the detected commit and
// finalizes the record. A stats failure still counts as a commit.
func (d *Dispatcher) completeCommit(req *Request) {
	rec := d.record(req)
	rec.Status = domain.StatusCommitted

	stats, err := d.opts.Stats(req.WorkDir, req.CommitID)
	if err != nil {
		rec.FailureReason = fmt.Sprintf("stats error: %v", err)
	} else {
		rec.Description = stats.Description
		rec.FilesChanged = stats.FilesTouched()
		rec.LinesChanged = stats.LinesChanged()
	}

	if d.opts.Store != nil {
		d.opts.Store.Complete(rec)
	}
	d.opts.Notifier.Send(notify.Notification{
		Title:     "Changes committed",
		Message:   fmt.Sprintf("Request %s committed %s", rec.ShortID(), rec.ShortCommit()),
		Type:      notify.NotifySuccess,
		RequestID: rec.ID,
	})
}

func (d *Dispatcher) completeFailure(req *Request, status domain.RequestStatus, reason string) {
	rec := d.record(req)
	rec.Status = status
	rec.FailureReason = reason

	if d.opts.Store != nil {
		d.opts.Store.Complete(rec)
	}

	kind := notify.NotifyError
	title := "Request failed"
	if status == domain.StatusTimedOut {
		kind = notify.NotifyWarning
		title = "Request timed out"
	}
	d.opts.Notifier.Send(notify.Notification{
		Title:     title,
		Message:   reason,
		Type:      kind,
		RequestID: rec.ID,
	})
}

// record builds a RequestRecord from the request's current state.
func (d *Dispatcher) record(req *Request) *domain.RequestRecord {
	req.mu.Lock()
	defer req.mu.Unlock()
	return &domain.RequestRecord{
		ID:            req.ID,
		Prompt:        req.Prompt,
		Model:         req.Model,
		Status:        req.Status,
		CommitID:      req.CommitID,
		CostUSD:       req.CostUSD,
		FailureReason: req.FailureReason,
		ExitCode:      req.ExitCode,
		StartedAt:     req.StartedAt,
		FinishedAt:    req.FinishedAt,
	}
}
