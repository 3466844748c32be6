// Package runner dispatches prompt requests to the external coding
// assistant and tracks each request through its lifecycle: a request is
// waiting until the assistant commits, asks for more input, fails, or the
// commit-detection timeout expires.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nolight-dev/nolight/internal/domain"
	"github.com/nolight-dev/nolight/internal/scanner"
)

// LineCallback receives each cleaned output line as it streams in.
type LineCallback func(line string)

// StatusChangeCallback is called when a request's status changes.
type StatusChangeCallback func(req *Request, status domain.RequestStatus, reason string)

// Request represents one prompt sent to the assistant.
type Request struct {
	ID        string
	Prompt    string
	Model     string
	WorkDir   string
	Status    domain.RequestStatus
	StartedAt time.Time

	// Filled in while the subprocess streams output.
	CommitID      string
	CostUSD       float64
	FailureReason string
	ExitCode      *int
	FinishedAt    *time.Time

	OnLine         LineCallback
	OnStatusChange StatusChangeCallback

	command string
	timeout time.Duration

	cmd           *exec.Cmd
	cancel        context.CancelFunc
	waitingOnUser bool
	lastLine      string
	mu            sync.Mutex
}

// Start spawns the assistant subprocess and begins streaming its output.
// It returns once the process has started; the outcome is reported through
// OnStatusChange from a background goroutine.
func (r *Request) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Status != domain.StatusWaiting {
		return fmt.Errorf("request not in waiting state: %s", r.Status)
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("request has no prompt")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	r.cancel = cancel

	r.cmd = exec.CommandContext(ctx, r.command,
		"--yes-always", // auto-answer prompts so the UI never hangs
		"--model", r.Model,
		"--message", r.Prompt,
	)
	r.cmd.Dir = r.WorkDir

	stdout, err := r.cmd.StdoutPipe()
	if err != nil {
		cancel()
		return err
	}
	stderr, err := r.cmd.StderrPipe()
	if err != nil {
		cancel()
		return err
	}

	if err := r.cmd.Start(); err != nil {
		cancel()
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("could not find %q: make sure it is installed and on your PATH", r.command)
		}
		return fmt.Errorf("starting %s: %w", r.command, err)
	}

	r.StartedAt = time.Now()

	go r.stream(ctx, stdout, stderr)

	return nil
}

// Stop terminates the running subprocess, if any.
func (r *Request) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// stream reads subprocess output line by line, applies the output scanner
// to each line, and settles the request once the process exits.
func (r *Request) stream(ctx context.Context, stdout, stderr io.Reader) {
	var g errgroup.Group
	g.Go(func() error { r.readLines(stdout); return nil })
	g.Go(func() error { r.readLines(stderr); return nil })
	g.Wait()

	err := r.cmd.Wait()

	r.mu.Lock()
	now := time.Now()
	r.FinishedAt = &now

	exitCode := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	r.ExitCode = &exitCode

	var status domain.RequestStatus
	var reason string
	switch {
	case r.CommitID != "":
		status = domain.StatusCommitted
	case r.waitingOnUser:
		// Already transitioned while streaming; the process was killed on
		// purpose so the user can reply.
		r.mu.Unlock()
		return
	case ctx.Err() == context.DeadlineExceeded:
		status = domain.StatusTimedOut
		reason = fmt.Sprintf("no commit id within %s", r.timeout)
		r.FailureReason = reason
	default:
		status = domain.StatusFailed
		if err != nil && exitErr == nil {
			reason = fmt.Sprintf("%s failed: %v", r.command, err)
		} else {
			reason = fmt.Sprintf("%s exited with code %d: %s", r.command, exitCode, r.lastLine)
		}
		r.FailureReason = reason
	}
	r.mu.Unlock()

	r.setStatus(status, reason)
}

func (r *Request) readLines(src io.Reader) {
	sc := bufio.NewScanner(src)
	// Increase buffer size for long output lines
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 1024*1024)

	for sc.Scan() {
		line := scanner.Strip(sc.Text())
		if scanner.Suppress(line) {
			continue
		}

		r.mu.Lock()
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			r.lastLine = trimmed
		}
		if r.CommitID == "" {
			if cid := scanner.CommitID(line); cid != "" {
				r.CommitID = cid
			}
		}
		if cost, ok := scanner.Cost(line); ok {
			r.CostUSD += cost
		}
		onLine := r.OnLine
		alreadyWaiting := r.waitingOnUser
		needsInput := !alreadyWaiting && r.CommitID == "" && scanner.NeedsUserInput(line)
		if needsInput {
			r.waitingOnUser = true
		}
		r.mu.Unlock()

		if onLine != nil {
			onLine(line)
		}

		if needsInput {
			// Stop the assistant and let the user reply instead of
			// waiting for the timeout.
			r.setStatus(domain.StatusWaitingOnUser, "")
			r.Stop()
		}
	}
}

// setStatus applies a state-machine transition and fires the callback.
// Illegal transitions are ignored; the first terminal outcome wins.
func (r *Request) setStatus(status domain.RequestStatus, reason string) {
	r.mu.Lock()
	if !r.Status.CanTransition(status) {
		r.mu.Unlock()
		return
	}
	r.Status = status
	callback := r.OnStatusChange
	r.mu.Unlock()

	if callback != nil {
		callback(r, status, reason)
	}
}

// Snapshot returns a consistent copy of the request's mutable fields.
func (r *Request) Snapshot() (domain.RequestStatus, string, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Status, r.CommitID, r.CostUSD
}
