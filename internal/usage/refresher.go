package usage

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Fetcher retrieves a usage summary; it is what a Refresher polls.
type Fetcher interface {
	FetchUsage(ctx context.Context, days int) (*Summary, error)
}

// Refresher re-fetches usage figures on a cron schedule and hands each
// result (or error) to a callback.
type Refresher struct {
	fetcher  Fetcher
	schedule cron.Schedule
	days     int
	onResult func(*Summary, error)

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// ParseCron parses a standard five-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// NewRefresher creates a refresher from a cron expression like "0 * * * *".
func NewRefresher(fetcher Fetcher, cronExpr string, days int, onResult func(*Summary, error)) (*Refresher, error) {
	schedule, err := ParseCron(cronExpr)
	if err != nil {
		return nil, err
	}
	return &Refresher{
		fetcher:  fetcher,
		schedule: schedule,
		days:     days,
		onResult: onResult,
		done:     make(chan struct{}),
	}, nil
}

// Start begins the refresh loop in a background goroutine. The first fetch
// happens immediately, later ones follow the schedule.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	go r.loop(ctx)
}

// Stop halts the refresh loop and waits for it to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		<-r.done
	}
}

func (r *Refresher) loop(ctx context.Context) {
	defer close(r.done)

	r.fetch(ctx)

	for {
		next := r.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			r.fetch(ctx)
		}
	}
}

func (r *Refresher) fetch(ctx context.Context) {
	summary, err := r.fetcher.FetchUsage(ctx, r.days)
	if ctx.Err() != nil {
		return
	}
	if r.onResult != nil {
		r.onResult(summary, err)
	}
}
