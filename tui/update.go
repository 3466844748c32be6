package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nolight-dev/nolight/internal/domain"
	"github.com/nolight-dev/nolight/internal/history"
	"github.com/nolight-dev/nolight/internal/runner"
	"github.com/nolight-dev/nolight/internal/usage"
)

// maxOutputLines bounds the streamed output buffer
const maxOutputLines = 2000

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.SetWidth(msg.Width - 4)
		m.output.Width = msg.Width - 4
		m.output.Height = msg.Height - 14
		if m.output.Height < 3 {
			m.output.Height = 3
		}
		return m, nil

	case TickMsg:
		return m, tickCmd()

	case OutputLineMsg:
		m.outputLines = append(m.outputLines, string(msg))
		if len(m.outputLines) > maxOutputLines {
			m.outputLines = m.outputLines[len(m.outputLines)-maxOutputLines:]
		}
		m.output.SetContent(strings.Join(m.outputLines, "\n"))
		m.output.GotoBottom()
		return m, m.listenCmd()

	case RequestStatusMsg:
		m.status = msg.Status
		m.statusNote = msg.Reason
		var cmd tea.Cmd
		if msg.Status == domain.StatusCommitted {
			// The prompt landed; clear the editor for the next request.
			m.input.Reset()
			if active := m.sender.Active(); active != nil {
				_, m.lastCommit, _ = active.Snapshot()
			}
			cmd = m.loadHistoryCmd()
		}
		if msg.Status == domain.StatusFailed || msg.Status == domain.StatusTimedOut {
			cmd = m.loadHistoryCmd()
		}
		return m, tea.Batch(m.listenCmd(), cmd)

	case HistoryLoadedMsg:
		if msg.Err == nil {
			m.records = msg.Records
			if m.selectedRow >= len(m.records) {
				m.selectedRow = 0
			}
		}
		return m, nil

	case BuildLogMsg:
		m.buildLog = append(m.buildLog, string(msg))
		if n := m.cfg.Build.LogTailLines; n > 0 && len(m.buildLog) > n {
			m.buildLog = m.buildLog[len(m.buildLog)-n:]
		}
		return m, m.listenCmd()

	case BuildDoneMsg:
		m.building = false
		m.buildErr = msg.Err
		if msg.Err == nil {
			m.statusMsg = "Build succeeded"
			m.showBuild = false
		}
		return m, nil

	case UsageResultMsg:
		m.usageData = msg.Summary
		m.usageErr = msg.Err
		if msg.Err == nil {
			m.trend = m.summarizeCosts()
		}
		return m, nil

	case StatusFlashMsg:
		m.statusMsg = string(msg)
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "tab":
		m.activeTab = (m.activeTab + 1) % tabCount
		m.statusMsg = ""
		if m.activeTab == TabPrompt {
			m.input.Focus()
		} else {
			m.input.Blur()
		}
		var cmd tea.Cmd
		switch m.activeTab {
		case TabHistory:
			cmd = m.loadHistoryCmd()
		case TabUsage:
			cmd = m.fetchUsageCmd()
		}
		return m, cmd
	case "esc":
		if m.showBuild && !m.building {
			m.showBuild = false
			m.buildErr = nil
			return m, nil
		}
	case "ctrl+s":
		return m.sendPrompt()
	case "ctrl+b":
		return m.startBuild()
	case "ctrl+l":
		m.level = nextLevel(m.level)
		return m, nil
	}

	// Plain letter keys only act outside the prompt editor.
	if m.activeTab != TabPrompt {
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "j", "down":
			if m.selectedRow < len(m.records)-1 {
				m.selectedRow++
			}
			if m.selectedRow >= m.histScroll+historyPageSize {
				m.histScroll = m.selectedRow - historyPageSize + 1
			}
			return m, nil
		case "k", "up":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
			if m.selectedRow < m.histScroll {
				m.histScroll = m.selectedRow
			}
			return m, nil
		case "c":
			if m.activeTab == TabHistory {
				return m, m.copyHistoryCmd()
			}
		case "r":
			switch m.activeTab {
			case TabHistory:
				return m, m.loadHistoryCmd()
			case TabUsage:
				return m, m.fetchUsageCmd()
			}
		case "b":
			return m.startBuild()
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// sendPrompt dispatches the editor contents to the assistant.
func (m Model) sendPrompt() (tea.Model, tea.Cmd) {
	prompt := strings.TrimSpace(m.input.Value())
	if prompt == "" {
		m.statusMsg = "Nothing to send"
		return m, nil
	}

	events := m.events
	model := m.cfg.Model(m.level)
	_, err := m.sender.Dispatch(context.Background(), prompt, model,
		func(line string) { events <- OutputLineMsg(line) },
		func(req *runner.Request, status domain.RequestStatus, reason string) {
			events <- RequestStatusMsg{Status: status, Reason: reason}
		})
	if err != nil {
		m.status = domain.StatusFailed
		m.statusNote = err.Error()
		return m, nil
	}

	// Keep the conversation on screen for a waiting-on-user follow-up or a
	// retry after a failure; start fresh only once the last request landed.
	if m.status == domain.StatusCommitted {
		m.outputLines = nil
		m.output.SetContent("")
	}
	m.status = domain.StatusWaiting
	m.statusNote = ""
	m.statusMsg = ""
	return m, nil
}

// startBuild kicks off a game build with streamed log lines.
func (m Model) startBuild() (tea.Model, tea.Cmd) {
	if m.build == nil || m.building {
		return m, nil
	}
	m.building = true
	m.showBuild = true
	m.buildErr = nil
	m.buildLog = nil

	events := m.events
	build := m.build
	return m, func() tea.Msg {
		err := build(context.Background(), func(line string) {
			events <- BuildLogMsg(line)
		})
		return BuildDoneMsg{Err: err}
	}
}

func (m Model) loadHistoryCmd() tea.Cmd {
	if m.store == nil {
		return nil
	}
	store := m.store
	return func() tea.Msg {
		records, err := store.List(history.ListOptions{Limit: 200})
		return HistoryLoadedMsg{Records: records, Err: err}
	}
}

func (m Model) fetchUsageCmd() tea.Cmd {
	if m.usage == nil {
		return nil
	}
	fetch := m.usage
	return func() tea.Msg {
		summary, err := fetch(context.Background())
		return UsageResultMsg{Summary: summary, Err: err}
	}
}

// copyHistoryCmd puts the history table on the clipboard as TSV.
func (m Model) copyHistoryCmd() tea.Cmd {
	records := m.records
	return func() tea.Msg {
		if len(records) == 0 {
			return StatusFlashMsg("History is empty")
		}
		if err := clipboard.WriteAll(history.ToTSV(records)); err != nil {
			return StatusFlashMsg("Copy failed: " + err.Error())
		}
		return StatusFlashMsg(fmt.Sprintf("Copied %d rows", len(records)))
	}
}

// summarizeCosts fits a trend over per-request costs, oldest first.
func (m Model) summarizeCosts() *usage.TrendSummary {
	var costs []float64
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].CostUSD > 0 {
			costs = append(costs, m.records[i].CostUSD)
		}
	}
	trend, err := usage.SummarizeTrend(costs, usage.DefaultHorizon, usage.DefaultConfidence)
	if err != nil {
		return nil
	}
	return trend
}

func nextLevel(level string) string {
	switch level {
	case "Low":
		return "Medium"
	case "Medium":
		return "High"
	default:
		return "Low"
	}
}
