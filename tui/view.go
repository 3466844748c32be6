package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/nolight-dev/nolight/internal/domain"
)

// historyPageSize is how many history rows fit on screen at once
const historyPageSize = 15

var (
	headerStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255"))

	tabActiveStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	idleStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	normalStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("255"))

	waitingStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	committedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	failedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	selectedStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("237")).
		Foreground(lipgloss.Color("255"))

	dimmedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))
)

// statusStyle picks the color for a request status
func statusStyle(status domain.RequestStatus) lipgloss.Style {
	switch status {
	case domain.StatusWaiting:
		return normalStyle
	case domain.StatusWaitingOnUser:
		return waitingStyle
	case domain.StatusCommitted:
		return committedStyle
	case domain.StatusFailed, domain.StatusTimedOut:
		return failedStyle
	default:
		return idleStyle
	}
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	header := fmt.Sprintf(" NoLight │ %s │ Level: %s │ Session: $%.4f ",
		workdirLabel(m.cfg.General.WorkingDir), m.level, m.sender.SessionCost())
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	if m.showBuild {
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderBuild()))
		b.WriteString("\n")
	} else {
		switch m.activeTab {
		case TabPrompt:
			b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderPrompt()))
			b.WriteString("\n")
		case TabHistory:
			b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderHistory()))
			b.WriteString("\n")
		case TabUsage:
			b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderUsage()))
			b.WriteString("\n")
		}
	}

	if m.statusMsg != "" {
		b.WriteString(fmt.Sprintf(" %s \n", m.statusMsg))
	}

	b.WriteString(m.renderStatusBar())

	return b.String()
}

func (m Model) renderTabs() string {
	names := []string{"Prompt", "History", "Usage"}
	var tabs []string
	for i, name := range names {
		if i == m.activeTab {
			tabs = append(tabs, tabActiveStyle.Render(name))
		} else {
			tabs = append(tabs, tabInactiveStyle.Render(name))
		}
	}
	return " " + strings.Join(tabs, " │ ")
}

func (m Model) renderPrompt() string {
	var b strings.Builder

	if m.usage == nil {
		b.WriteString(waitingStyle.Render("OPENAI_API_KEY not set; usage reporting disabled"))
		b.WriteString("\n")
	}

	style := statusStyle(m.status)
	b.WriteString(fmt.Sprintf("Status: %s", style.Render(string(m.status))))
	if m.statusNote != "" {
		b.WriteString("  " + dimmedStyle.Render(m.statusNote))
	}
	if m.lastCommit != "" {
		b.WriteString("  " + committedStyle.Render("last commit "+domain.Abbreviate(m.lastCommit, 8)))
	}
	b.WriteString("\n\n")

	b.WriteString(m.input.View())
	b.WriteString("\n\n")

	if len(m.outputLines) > 0 {
		b.WriteString(m.output.View())
	} else {
		b.WriteString(dimmedStyle.Render("Assistant output appears here."))
	}

	return b.String()
}

func (m Model) renderHistory() string {
	if len(m.records) == 0 {
		return dimmedStyle.Render("No requests yet.")
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-10s %-10s %-12s %6s %6s %8s  %-28s %s\n",
		"REQUEST", "COMMIT", "STATUS", "LINES", "FILES", "COST", "DESCRIPTION", "WHEN"))

	end := m.histScroll + historyPageSize
	if end > len(m.records) {
		end = len(m.records)
	}
	for i := m.histScroll; i < end; i++ {
		rec := m.records[i]
		commit := rec.ShortCommit()
		if commit == "" {
			commit = "-"
		}
		row := fmt.Sprintf("%-10s %-10s %-12s %6d %6d %8.4f  %-28s %s",
			rec.ShortID(), commit, string(rec.Status),
			rec.LinesChanged, rec.FilesChanged, rec.CostUSD,
			domain.Abbreviate(rec.Description, 28),
			humanize.Time(rec.StartedAt))
		if i == m.selectedRow {
			b.WriteString(selectedStyle.Render(row))
		} else {
			b.WriteString(statusStyle(rec.Status).Render(row))
		}
		b.WriteString("\n")
	}

	if sel := m.selectedRecord(); sel != nil {
		b.WriteString("\n")
		b.WriteString(dimmedStyle.Render(domain.Abbreviate(sel.Prompt, 120)))
		if sel.FailureReason != "" {
			b.WriteString("\n")
			b.WriteString(failedStyle.Render(domain.Abbreviate(sel.FailureReason, 120)))
		}
	}

	return b.String()
}

func (m Model) selectedRecord() *domain.RequestRecord {
	if m.selectedRow < 0 || m.selectedRow >= len(m.records) {
		return nil
	}
	return m.records[m.selectedRow]
}

func (m Model) renderUsage() string {
	if m.usage == nil {
		return waitingStyle.Render("OPENAI_API_KEY not set; usage reporting disabled")
	}
	if m.usageErr != nil {
		return failedStyle.Render("Usage unavailable: " + m.usageErr.Error())
	}
	if m.usageData == nil {
		return dimmedStyle.Render("Fetching usage...")
	}

	var b strings.Builder
	u := m.usageData
	b.WriteString(fmt.Sprintf("Spent (last %d days):  $%.2f\n", m.cfg.Usage.UsageDays, u.TotalSpent))
	b.WriteString(fmt.Sprintf("Credits:               $%.2f of $%.2f remaining (%.1f%% used)\n",
		u.CreditsRemaining, u.CreditsTotal, u.PctCreditsUsed))

	if m.trend != nil {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("Cost per request:      $%.4f  [$%.4f, $%.4f]\n",
			m.trend.Current, m.trend.CurrentLow, m.trend.CurrentHigh))
		b.WriteString(fmt.Sprintf("Chance costs rising:   %.0f%%\n", m.trend.PSlopePositive*100))
	}

	return b.String()
}

func (m Model) renderBuild() string {
	var b strings.Builder
	if m.building {
		b.WriteString(waitingStyle.Render("Building..."))
	} else if m.buildErr != nil {
		b.WriteString(failedStyle.Render("Build failed"))
	} else {
		b.WriteString(committedStyle.Render("Build succeeded"))
	}
	b.WriteString("\n\n")

	if len(m.buildLog) > 0 {
		start := 0
		if len(m.buildLog) > historyPageSize {
			start = len(m.buildLog) - historyPageSize
		}
		b.WriteString(strings.Join(m.buildLog[start:], "\n"))
		b.WriteString("\n")
	}

	if m.buildErr != nil {
		b.WriteString("\n")
		b.WriteString(failedStyle.Render(m.buildErr.Error()))
		b.WriteString("\n\n")
		b.WriteString(dimmedStyle.Render("esc to close"))
	}

	return b.String()
}

func (m Model) renderStatusBar() string {
	var help string
	switch {
	case m.showBuild:
		help = " esc close │ ctrl+c quit "
	case m.activeTab == TabPrompt:
		help = " ctrl+s send │ ctrl+b build │ ctrl+l level │ tab switch │ ctrl+c quit "
	case m.activeTab == TabHistory:
		help = " j/k move │ c copy tsv │ r refresh │ b build │ tab switch │ q quit "
	default:
		help = " r refresh │ b build │ tab switch │ q quit "
	}
	return statusBarStyle.Width(m.width).Render(help)
}

func workdirLabel(dir string) string {
	if dir == "" {
		return "no project"
	}
	return dir
}
