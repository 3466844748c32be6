package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nolight-dev/nolight/internal/config"
	"github.com/nolight-dev/nolight/internal/domain"
	"github.com/nolight-dev/nolight/internal/history"
	"github.com/nolight-dev/nolight/internal/runner"
	"github.com/nolight-dev/nolight/internal/usage"
)

// Tab indexes the main views
const (
	TabPrompt = iota
	TabHistory
	TabUsage
	tabCount
)

// Sender dispatches prompts to the assistant
type Sender interface {
	Dispatch(ctx context.Context, prompt, model string, onLine runner.LineCallback, onStatus runner.StatusChangeCallback) (*runner.Request, error)
	Active() *runner.Request
	SessionCost() float64
}

// HistoryLister reads past requests for the history tab
type HistoryLister interface {
	List(opts history.ListOptions) ([]*domain.RequestRecord, error)
}

// BuildFunc runs a game build; line receives streamed build log output
type BuildFunc func(ctx context.Context, line func(string)) error

// UsageFunc fetches current billing figures
type UsageFunc func(ctx context.Context) (*usage.Summary, error)

// Model is the TUI application model
type Model struct {
	// Collaborators
	sender Sender
	store  HistoryLister
	build  BuildFunc
	usage  UsageFunc
	cfg    *config.Config

	// Prompt tab
	input       textarea.Model
	output      viewport.Model
	outputLines []string
	status      domain.RequestStatus
	statusNote  string
	level       string
	lastCommit  string

	// History tab
	records     []*domain.RequestRecord
	selectedRow int
	histScroll  int

	// Usage tab
	usageData *usage.Summary
	usageErr  error
	trend     *usage.TrendSummary
	costs     []float64

	// Build overlay
	building  bool
	buildLog  []string
	buildErr  error
	showBuild bool

	// UI state
	width     int
	height    int
	activeTab int
	statusMsg string

	// events carries callbacks from background goroutines into Update
	events chan tea.Msg
}

// ModelConfig holds the collaborators the TUI needs
type ModelConfig struct {
	Sender  Sender
	History HistoryLister
	Build   BuildFunc
	Usage   UsageFunc
	Config  *config.Config
}

// NewModel creates a new TUI model
func NewModel(mc ModelConfig) Model {
	cfg := mc.Config
	if cfg == nil {
		cfg = config.Default()
	}

	input := textarea.New()
	input.Placeholder = "Describe the change you want..."
	input.SetHeight(4)
	input.Focus()

	out := viewport.New(80, 12)

	return Model{
		sender: mc.Sender,
		store:  mc.History,
		build:  mc.Build,
		usage:  mc.Usage,
		cfg:    cfg,
		input:  input,
		output: out,
		status: domain.StatusIdle,
		level:  cfg.Assistant.DefaultLevel,
		events: make(chan tea.Msg, 64),
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.loadHistoryCmd(),
		m.listenCmd(),
		tickCmd(),
	)
}

// TickMsg drives the elapsed-time display while a request runs
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// OutputLineMsg is one cleaned line of assistant output
type OutputLineMsg string

// RequestStatusMsg reports a state change of the active request
type RequestStatusMsg struct {
	Status domain.RequestStatus
	Reason string
}

// HistoryLoadedMsg delivers the refreshed history rows
type HistoryLoadedMsg struct {
	Records []*domain.RequestRecord
	Err     error
}

// BuildLogMsg is one streamed build log line
type BuildLogMsg string

// BuildDoneMsg reports the build outcome
type BuildDoneMsg struct{ Err error }

// UsageResultMsg delivers fetched billing figures
type UsageResultMsg struct {
	Summary *usage.Summary
	Err     error
}

// StatusFlashMsg shows a transient message in the status bar
type StatusFlashMsg string

// listenCmd pumps one event from the background channel into Update.
// It is re-issued after every delivered event.
func (m Model) listenCmd() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

// Status returns the displayed request status
func (m Model) Status() domain.RequestStatus {
	return m.status
}
