// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/fwlift/pkg/fwupgrade"
)

// TUI model
type model struct {
	image    string
	firmware fwupgrade.FirmwareType
	connInfo string
	total    int64
	sent     int64
	started  time.Time
	now      time.Time
	bar      progress.Model
	width    int
	finished bool
	quitting bool
	err      error
}

// Messages
type tickMsg time.Time
type progressMsg struct {
	remaining int64
}
type resultMsg struct {
	err error
}

// formatElapsed formats a duration as a human-friendly string
func formatElapsed(d time.Duration) string {
	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60

	seconds %= 60
	minutes %= 60

	parts := []string{}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	if len(parts) == 1 {
		return parts[0]
	}
	last := parts[len(parts)-1]
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + last
}

func plural(n int64, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func initialModel(image string, firmware fwupgrade.FirmwareType, total int64, connInfo string) model {
	now := time.Now()
	return model{
		image:    image,
		firmware: firmware,
		connInfo: connInfo,
		total:    total,
		started:  now,
		now:      now,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(60)),
		width:    80,
	}
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if !m.finished {
				m.err = errInterrupted
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = min(msg.Width-4, 60)

	case tickMsg:
		m.now = time.Time(msg)
		if m.finished {
			return m, nil
		}
		return m, tickCmd()

	case progressMsg:
		m.sent = m.total - msg.remaining

	case resultMsg:
		m.finished = true
		m.now = time.Now()
		m.err = msg.err
		if msg.err == nil {
			m.sent = m.total
		}
		return m, tea.Quit
	}

	return m, nil
}

func (m model) percent() float64 {
	if m.total <= 0 {
		if m.finished && m.err == nil {
			return 1
		}
		return 0
	}
	return float64(m.sent) / float64(m.total)
}

func (m model) View() string {
	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("FWLIFT - FIRMWARE UPLOAD"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("Image: %s (%s) | %s | Press 'q' to abort",
		m.image, m.firmware, m.connInfo)))
	s.WriteString("\n\n")

	var body strings.Builder
	body.WriteString(m.bar.ViewAs(m.percent()))
	body.WriteString("\n\n")
	body.WriteString(fmt.Sprintf("%s %s   %s %s",
		labelStyle.Render("Sent:"), valueStyle.Render(fmt.Sprintf("%d / %d bytes", m.sent, m.total)),
		labelStyle.Render("Elapsed:"), valueStyle.Render(formatElapsed(m.now.Sub(m.started))),
	))
	s.WriteString(boxStyle.Render(body.String()))
	s.WriteString("\n\n")

	switch {
	case m.finished && m.err == nil:
		s.WriteString(valueStyle.Render("✓ Upload complete"))
	case m.err != nil:
		s.WriteString(errorStyle.Render(fmt.Sprintf("✗ %v", m.err)))
	case m.quitting:
		s.WriteString("Shutting down...")
	default:
		s.WriteString(headerStyle.Render("Uploading..."))
	}
	s.WriteString("\n")
	return s.String()
}

// tuiReporter drives the TUI from upload callbacks.
type tuiReporter struct {
	p    *tea.Program
	exit chan error
}

func newTUIReporter(image string, firmware fwupgrade.FirmwareType, total int64, connInfo string) *tuiReporter {
	return &tuiReporter{
		p:    tea.NewProgram(initialModel(image, firmware, total, connInfo)),
		exit: make(chan error, 1),
	}
}

func (r *tuiReporter) Start() {
	go func() {
		final, err := r.p.Run()
		if err != nil {
			r.exit <- fmt.Errorf("TUI error: %w", err)
			return
		}
		r.exit <- final.(model).err
	}()
}

func (r *tuiReporter) OnVersionRead(fwupgrade.FirmwareType, *fwupgrade.Version) {}

func (r *tuiReporter) OnUploadProgress(_ fwupgrade.Image, remaining int64) {
	r.p.Send(progressMsg{remaining: remaining})
}

func (r *tuiReporter) OnUploadComplete(fwupgrade.Image) {
	r.p.Send(resultMsg{})
}

func (r *tuiReporter) OnUploadError(_ fwupgrade.Image, err error) {
	r.p.Send(resultMsg{err: err})
}

func (r *tuiReporter) Wait(ctx context.Context) error {
	select {
	case err := <-r.exit:
		return err
	case <-ctx.Done():
		r.p.Quit()
		<-r.exit
		return errInterrupted
	}
}
