// Package tui is the live dashboard shown while a run is in progress.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"orderload/internal/config"
	"orderload/internal/runner"
	"orderload/internal/tui/components"
	"orderload/internal/tui/styles"
)

const sparkWidth = 40

type snapshotMsg runner.StatsSnapshot

type doneMsg struct{}

type Model struct {
	Cfg      config.Config
	Progress progress.Model
	Spark    components.Sparkline
	Last     runner.StatsSnapshot
	Duration time.Duration

	// Aborted is set when the user quit before the run finished.
	Aborted  bool
	Finished bool
	Width    int

	updates <-chan runner.StatsSnapshot
	done    <-chan struct{}
	cancel  context.CancelFunc
}

// NewModel renders snapshots from updates until done is closed. cancel is
// called when the user quits early.
func NewModel(cfg config.Config, updates <-chan runner.StatsSnapshot, done <-chan struct{}, cancel context.CancelFunc) Model {
	return Model{
		Cfg:      cfg,
		Progress: progress.New(progress.WithDefaultGradient()),
		Spark:    components.NewSparkline(sparkWidth, "req/s", styles.Value),
		Duration: cfg.Duration(),
		updates:  updates,
		done:     done,
		cancel:   cancel,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForSnapshot(m.updates), waitForDone(m.done))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Progress.Width = max(msg.Width-4, 10)
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.Aborted = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}

	case snapshotMsg:
		snap := runner.StatsSnapshot(msg)
		if dt := (snap.Elapsed - m.Last.Elapsed).Seconds(); dt > 0 && snap.Requests >= m.Last.Requests {
			m.Spark.Add(float64(snap.Requests-m.Last.Requests) / dt)
		}
		m.Last = snap

		pct := 0.0
		if m.Duration > 0 {
			pct = min(float64(snap.Elapsed)/float64(m.Duration), 1)
		}
		return m, tea.Batch(m.Progress.SetPercent(pct), waitForSnapshot(m.updates))

	case doneMsg:
		m.Finished = true
		return m, tea.Quit

	case progress.FrameMsg:
		progressModel, cmd := m.Progress.Update(msg)
		m.Progress = progressModel.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	if m.Finished || m.Aborted {
		return ""
	}

	s := strings.Builder{}
	s.WriteString(styles.Title.Render("orderload | POST " + m.Cfg.OrdersURL()))
	s.WriteString("\n\n")

	snap := m.Last
	s.WriteString(styles.Subtle.Render(fmt.Sprintf("VUs: %d/%d | Duration: %s | Elapsed: %s",
		snap.VUs, m.Cfg.VirtualUserCount, m.Duration, snap.Elapsed.Round(time.Second))))
	s.WriteString("\n\n")

	leftCol := fmt.Sprintf(
		"Requests:   %d\nIterations: %d\nInflight:   %d\nFailed:     %s",
		snap.Requests, snap.Iterations, snap.Inflight,
		styles.FailureRate(snap.FailureRate).Render(fmt.Sprintf("%.2f%%", snap.FailureRate*100)),
	)
	rightCol := fmt.Sprintf(
		"http_req_duration\n  p(50): %.1f ms\n  p(90): %.1f ms\n  p(95): %.1f ms\n  p(99): %.1f ms\n  max:   %.1f ms",
		snap.P50Ms, snap.P90Ms, snap.P95Ms, snap.P99Ms, snap.MaxMs,
	)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		styles.Box.Width(30).Render(leftCol),
		styles.Box.Width(30).Render(rightCol),
	))
	s.WriteString("\n\n")
	s.WriteString(m.Spark.View())
	s.WriteString("\n\n")
	s.WriteString(m.Progress.View())
	s.WriteString("\n")
	s.WriteString(styles.RenderKey("q", "stop the run"))

	return s.String()
}

func waitForSnapshot(updates <-chan runner.StatsSnapshot) tea.Cmd {
	if updates == nil {
		return nil
	}
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return nil
		}
		return snapshotMsg(snap)
	}
}

func waitForDone(done <-chan struct{}) tea.Cmd {
	if done == nil {
		return nil
	}
	return func() tea.Msg {
		<-done
		return doneMsg{}
	}
}
