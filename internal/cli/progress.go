package cli

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/rsommer/numiscrawl/internal/db"
	"github.com/rsommer/numiscrawl/internal/models"
	"github.com/rsommer/numiscrawl/internal/service"
)

const pollInterval = time.Second

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the job status
type tickMsg time.Time

// jobUpdateMsg carries the freshly polled job row and counters
type jobUpdateMsg struct {
	job   models.CrawlJob
	stats models.JobStats
	err   error
}

// crawlResult is the crawler goroutine's final word.
type crawlResult struct {
	outcome service.CrawlOutcome
	err     error
}

// crawlDoneMsg wraps the crawler's result for the UI.
type crawlDoneMsg crawlResult

// progressModel is the bubbletea model for the crawl progress display.
// The crawl itself runs in a goroutine; the model only reads the job row
// and writes status flips (pause, resume, stop) that the crawler honors at
// its next boundary.
type progressModel struct {
	client   *db.Client
	jobID    int64
	results  <-chan crawlResult
	job      models.CrawlJob
	stats    models.JobStats
	progress progress.Model
	theme    Theme
	done     bool
	result   crawlResult
	err      error
}

func newProgressModel(client *db.Client, jobID int64, results <-chan crawlResult) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		client:   client,
		jobID:    jobID,
		results:  results,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial commands: poll loop plus the crawler waiter.
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.waitForCrawl(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "p":
			return m, m.setStatus(models.JobStatusPaused)
		case "r":
			return m, m.setStatus(models.JobStatusRunning)
		case "s", "q", "ctrl+c":
			return m, m.setStatus(models.JobStatusStopped)
		}

	case tickMsg:
		return m, m.fetchJob()

	case jobUpdateMsg:
		if msg.err == nil {
			m.job = msg.job
			m.stats = msg.stats
		}
		if m.done {
			return m, nil
		}
		return m, tickCmd()

	case crawlDoneMsg:
		m.done = true
		m.result = crawlResult(msg)
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.job.ID == 0 {
		return "Loading job status...\n"
	}

	var pct float64
	if m.stats.TotalAuctions > 0 {
		pct = float64(m.stats.ProcessedAuctions) / float64(m.stats.TotalAuctions)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.job.Status))
	progressBar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d auctions, %d lots",
		m.stats.ProcessedAuctions, m.stats.TotalAuctions, m.stats.ProcessedLots)

	position := ""
	if m.job.CurrentAuctionID != "" {
		position = fmt.Sprintf("auction %s", m.job.CurrentAuctionID)
		if m.job.CurrentLotNumber != "" {
			position += fmt.Sprintf(" lot %s", m.job.CurrentLotNumber)
		}
	}

	hint := m.theme.hintStyle().Render("p pause · r resume · s stop")

	return fmt.Sprintf("%s %s %s\n%s\n%s\n", status, progressBar, counts, position, hint)
}

func (m progressModel) finalView() string {
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Crawl failed: %s\n", m.err))
	}

	switch m.result.outcome.Kind {
	case service.OutcomePaused:
		return m.theme.hintStyle().Render(fmt.Sprintf("\nPaused at a safe boundary. Resume with --job-id %d.\n", m.jobID))
	case service.OutcomeStopped:
		return m.theme.hintStyle().Render("\nStopped at a safe boundary.\n")
	}
	return m.theme.completedStyle().Render("✓ Completed") + "\n"
}

// fetchJob polls the job row and counters. Runs as a command so Update()
// never blocks on the database.
func (m progressModel) fetchJob() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		job, err := m.client.GetJob(ctx, m.jobID)
		if err != nil {
			return jobUpdateMsg{err: err}
		}
		stats, err := m.client.GetJobStatistics(ctx, m.jobID)
		return jobUpdateMsg{job: job, stats: stats, err: err}
	}
}

// setStatus flips the shared job row; the crawler reacts at its next
// auction, page, or lot boundary.
func (m progressModel) setStatus(status models.JobStatus) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := m.client.UpdateJobStatus(ctx, m.jobID, status, ""); err != nil {
			return jobUpdateMsg{err: err}
		}
		job, err := m.client.GetJob(ctx, m.jobID)
		return jobUpdateMsg{job: job, err: err}
	}
}

// waitForCrawl blocks on the crawler goroutine's result channel.
func (m progressModel) waitForCrawl() tea.Cmd {
	return func() tea.Msg {
		return crawlDoneMsg(<-m.results)
	}
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// runCrawlProgress runs the interactive progress UI until the crawler
// goroutine finishes. Key presses translate into job status flips, so
// "stop" still waits for the crawler to reach a safe boundary.
func runCrawlProgress(client *db.Client, jobID int64, results <-chan crawlResult) (service.CrawlOutcome, error) {
	model := newProgressModel(client, jobID, results)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		// UI failure must not orphan the crawler goroutine.
		res := <-results
		if res.err != nil {
			return res.outcome, res.err
		}
		return res.outcome, fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok && m.done {
		return m.result.outcome, m.result.err
	}
	res := <-results
	return res.outcome, res.err
}
