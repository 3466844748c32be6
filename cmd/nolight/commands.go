package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nolight-dev/nolight/internal/build"
	"github.com/nolight-dev/nolight/internal/config"
	"github.com/nolight-dev/nolight/internal/domain"
	"github.com/nolight-dev/nolight/internal/history"
	"github.com/nolight-dev/nolight/internal/notify"
	"github.com/nolight-dev/nolight/internal/runner"
	"github.com/nolight-dev/nolight/internal/usage"
	"github.com/nolight-dev/nolight/tui"
)

var (
	sendLevel  string
	sendDir    string
	histStatus string
	histLimit  int
	histTSV    bool
	usageDays  int
	buildNoRun bool
)

func init() {
	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch the interactive UI",
		RunE:  runTUI,
	}
	rootCmd.AddCommand(tuiCmd)

	sendCmd := &cobra.Command{
		Use:   "send PROMPT",
		Short: "Send one prompt and wait for the outcome",
		Args:  cobra.ExactArgs(1),
		RunE:  runSend,
	}
	sendCmd.Flags().StringVar(&sendLevel, "level", "", "quality level (Low, Medium, High)")
	sendCmd.Flags().StringVar(&sendDir, "dir", "", "project directory the assistant runs in")
	rootCmd.AddCommand(sendCmd)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List past requests",
		RunE:  runHistory,
	}
	historyCmd.Flags().StringVar(&histStatus, "status", "", "filter by status")
	historyCmd.Flags().IntVar(&histLimit, "limit", 50, "maximum rows")
	historyCmd.Flags().BoolVar(&histTSV, "tsv", false, "output tab-separated values")
	rootCmd.AddCommand(historyCmd)

	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Run a Unity batch build",
		RunE:  runBuild,
	}
	buildCmd.Flags().BoolVar(&buildNoRun, "no-run", false, "do not launch the game after a successful build")
	rootCmd.AddCommand(buildCmd)

	usageCmd := &cobra.Command{
		Use:   "usage",
		Short: "Show API spend, credits and cost trend",
		RunE:  runUsage,
	}
	usageCmd.Flags().IntVar(&usageDays, "days", 0, "spending window in days")
	rootCmd.AddCommand(usageCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration and the most recent request",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func openStore(cfg *config.Config) (*history.Store, error) {
	return history.New(cfg.General.DatabasePath)
}

func newNotifier(cfg *config.Config) notify.Notifier {
	return notify.NewMultiNotifier(
		notify.NewDesktopNotifier(cfg.Notifications.Desktop),
		notify.NewWebhookNotifier(cfg.Notifications.WebhookURL),
	)
}

func newDispatcher(cfg *config.Config, store *history.Store, workDir string) *runner.Dispatcher {
	if workDir == "" {
		workDir = cfg.General.WorkingDir
	}
	return runner.New(runner.Options{
		Command:  cfg.Assistant.Command,
		WorkDir:  workDir,
		Timeout:  cfg.Assistant.CommitTimeout(),
		Store:    store,
		Notifier: newNotifier(cfg),
	})
}

func newBuilder(cfg *config.Config, runAfter bool) *build.Builder {
	return &build.Builder{
		UnityPath:    cfg.Build.UnityPath,
		Method:       cfg.Build.BuildMethod,
		ProjectPath:  cfg.General.WorkingDir,
		LogTailLines: cfg.Build.LogTailLines,
		RunAfter:     runAfter,
	}
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	dispatcher := newDispatcher(cfg, store, "")
	notifier := newNotifier(cfg)

	buildFn := func(ctx context.Context, line func(string)) error {
		b := newBuilder(cfg, cfg.Build.RunAfter)
		b.OnLogLine = line
		err := b.Run(ctx)
		notifyBuild(notifier, err)
		return err
	}

	var client *usage.Client
	var usageFn tui.UsageFunc
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		client = usage.NewClient(key)
		usageFn = func(ctx context.Context) (*usage.Summary, error) {
			return client.FetchUsage(ctx, cfg.Usage.UsageDays)
		}
	}

	model := tui.NewModel(tui.ModelConfig{
		Sender:  dispatcher,
		History: store,
		Build:   buildFn,
		Usage:   usageFn,
		Config:  cfg,
	})

	p := tea.NewProgram(model, tea.WithAltScreen())

	// Background usage refresh keeps the panel current while the UI runs.
	if client != nil {
		refresher, err := usage.NewRefresher(client, cfg.Usage.RefreshCron, cfg.Usage.UsageDays,
			func(s *usage.Summary, err error) {
				p.Send(tui.UsageResultMsg{Summary: s, Err: err})
			})
		if err == nil {
			refresher.Start(context.Background())
			defer refresher.Stop()
		}
	}

	_, err = p.Run()
	return err
}

func runSend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	dispatcher := newDispatcher(cfg, store, sendDir)

	level := sendLevel
	if level == "" {
		level = cfg.Assistant.DefaultLevel
	}

	done := make(chan domain.RequestStatus, 1)
	req, err := dispatcher.Dispatch(cmd.Context(), args[0], cfg.Model(level),
		func(line string) { fmt.Println(line) },
		func(r *runner.Request, status domain.RequestStatus, reason string) {
			if status.Terminal() || status == domain.StatusWaitingOnUser {
				done <- status
			}
		})
	if err != nil {
		return err
	}

	status := <-done
	switch status {
	case domain.StatusCommitted:
		_, commit, cost := req.Snapshot()
		fmt.Printf("Committed %s ($%.4f)\n", domain.Abbreviate(commit, 8), cost)
		return nil
	case domain.StatusWaitingOnUser:
		return fmt.Errorf("the assistant is waiting for more input; re-run send with your answer")
	default:
		req.Stop()
		return fmt.Errorf("request %s: %s", status, req.FailureReason)
	}
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(history.ListOptions{
		Status: domain.RequestStatus(histStatus),
		Limit:  histLimit,
	})
	if err != nil {
		return err
	}

	if histTSV {
		fmt.Print(history.ToTSV(records))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REQUEST\tCOMMIT\tSTATUS\tLINES\tFILES\tCOST\tDESCRIPTION\tSTARTED")
	for _, rec := range records {
		commit := rec.ShortCommit()
		if commit == "" {
			commit = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.4f\t%s\t%s\n",
			rec.ShortID(), commit, rec.Status,
			rec.LinesChanged, rec.FilesChanged, rec.CostUSD,
			domain.Abbreviate(rec.Description, 40),
			rec.StartedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.General.WorkingDir == "" {
		return fmt.Errorf("no working directory configured; set working_dir in %s", config.DefaultConfigPath())
	}

	b := newBuilder(cfg, cfg.Build.RunAfter && !buildNoRun)
	b.OnLogLine = func(line string) { fmt.Println(line) }

	err = b.Run(cmd.Context())
	notifyBuild(newNotifier(cfg), err)
	if err != nil {
		return err
	}
	fmt.Println("Build succeeded")
	return nil
}

// notifyBuild reports the build outcome through the configured notifiers.
func notifyBuild(notifier notify.Notifier, err error) {
	if err != nil {
		notifier.Send(notify.Notification{
			Title:   "Build failed",
			Message: err.Error(),
			Type:    notify.NotifyError,
		})
		return
	}
	notifier.Send(notify.Notification{
		Title: "Build succeeded",
		Type:  notify.NotifySuccess,
	})
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return fmt.Errorf("OPENAI_API_KEY not set")
	}
	client := usage.NewClient(key)

	if err := client.VerifyKey(cmd.Context()); err != nil {
		return err
	}

	days := usageDays
	if days == 0 {
		days = cfg.Usage.UsageDays
	}
	summary, err := client.FetchUsage(cmd.Context(), days)
	if err != nil {
		return err
	}

	fmt.Printf("Spent (last %d days): $%.2f\n", days, summary.TotalSpent)
	fmt.Printf("Credits: $%.2f of $%.2f remaining (%.1f%% used)\n",
		summary.CreditsRemaining, summary.CreditsTotal, summary.PctCreditsUsed)

	store, err := openStore(cfg)
	if err != nil {
		return nil
	}
	defer store.Close()

	records, err := store.List(history.ListOptions{Limit: 200})
	if err != nil {
		return nil
	}
	var costs []float64
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].CostUSD > 0 {
			costs = append(costs, records[i].CostUSD)
		}
	}
	if trend, err := usage.SummarizeTrend(costs, usage.DefaultHorizon, usage.DefaultConfidence); err == nil {
		fmt.Printf("Cost per request: $%.4f [$%.4f, $%.4f]\n",
			trend.Current, trend.CurrentLow, trend.CurrentHigh)
		fmt.Printf("Chance costs rising: %.0f%%\n", trend.PSlopePositive*100)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Printf("Assistant: %s (default level %s)\n", cfg.Assistant.Command, cfg.Assistant.DefaultLevel)
	fmt.Printf("Project:   %s\n", cfg.General.WorkingDir)
	fmt.Printf("Timeout:   %s\n", cfg.Assistant.CommitTimeout())

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(history.ListOptions{Limit: 1})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No requests yet")
		return nil
	}

	rec := records[0]
	fmt.Printf("Last request: %s %s", rec.ShortID(), rec.Status)
	if rec.CommitID != "" {
		fmt.Printf(" commit %s (+%d lines, %d files)", rec.ShortCommit(), rec.LinesChanged, rec.FilesChanged)
	}
	if rec.FailureReason != "" {
		fmt.Printf(" (%s)", rec.FailureReason)
	}
	fmt.Println()
	return nil
}
