// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/tcscope/pkg/tclink"
	"github.com/Thermoquad/tcscope/pkg/tcproto"
	"github.com/Thermoquad/tcscope/pkg/tcsim"
)

const maxLogEntries = 200

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// statusData is the content of the latest OK STATUS response
type statusData struct {
	timestamp  time.Time
	positions  []float32
	velocities []float32
	axisState  int32
	errorCode  int32
}

// TUI model
type model struct {
	ctx           context.Context
	client        *tclink.Client
	connInfo      string
	statsInterval int
	showAll       bool
	started       time.Time
	stats         *tcproto.Statistics
	eventLog      []eventLogEntry
	synchronized  bool
	skippedFrames int
	linkClosed    bool
	width         int
	height        int
	quitting      bool
	lastStatus    *statusData
	logView       viewport.Model
	input         textinput.Model
}

// Messages
type tickMsg time.Time
type frameMsg frameEvent
type syncMsg struct {
	skippedFrames int
}
type linkClosedMsg struct {
	err error
}
type verbResultMsg struct {
	command string
	output  string
	err     error
}

// formatUptime formats a duration in milliseconds to a human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	plural := func(n uint64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}

	parts := []string{}
	if days > 0 {
		parts = append(parts, plural(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, plural(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, plural(minutes, "minute"))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, plural(seconds, "second"))
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

// axisStateName names the axis states the drive reports
func axisStateName(state int32) string {
	switch state {
	case tcsim.AxisIdle:
		return "IDLE"
	case tcsim.AxisClosedLoop:
		return "CLOSED_LOOP"
	default:
		return fmt.Sprintf("STATE(%d)", state)
	}
}

// parseStatus splits a STATUS response into per-axis positions and
// velocities. ok is false when the layout does not match.
func parseStatus(v tcproto.View, at time.Time) (*statusData, bool) {
	floats := v.Floats()
	ints := v.Ints()
	if len(floats)%2 != 0 || len(ints) < 2 {
		return nil, false
	}
	axes := len(floats) / 2
	return &statusData{
		timestamp:  at,
		positions:  floats[:axes],
		velocities: floats[axes:],
		axisState:  ints[0],
		errorCode:  ints[1],
	}, true
}

func initialModel(ctx context.Context, client *tclink.Client, connInfo string, statsInterval int, showAll bool) model {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "status, getfprop vel_limit, position 1.5 -2 ..."
	input.CharLimit = 256
	input.Focus()

	logView := viewport.New(76, 10)
	// Only page keys scroll; letters belong to the prompt
	logView.KeyMap = viewport.KeyMap{
		PageUp:   key.NewBinding(key.WithKeys("pgup")),
		PageDown: key.NewBinding(key.WithKeys("pgdown")),
	}

	return model{
		ctx:           ctx,
		client:        client,
		connInfo:      connInfo,
		statsInterval: statsInterval,
		showAll:       showAll,
		started:       time.Now(),
		stats:         tcproto.NewStatistics(),
		eventLog:      make([]eventLogEntry, 0),
		width:         80,
		height:        24,
		logView:       logView,
		input:         input,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		textinput.Blink,
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// verbCmd runs a typed request off the UI goroutine
func (m model) verbCmd(line string) tea.Cmd {
	ctx, client := m.ctx, m.client
	return func() tea.Msg {
		var out bytes.Buffer
		err := runVerb(ctx, client, &out, strings.Fields(line))
		return verbResultMsg{command: line, output: out.String(), err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "q":
			if m.input.Value() == "" {
				m.quitting = true
				return m, tea.Quit
			}
		case "enter":
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" {
				return m, nil
			}
			if m.linkClosed {
				m.addLogEntry("link closed, request not sent", true)
				return m, nil
			}
			m.addLogEntry("> "+line, false)
			return m, m.verbCmd(line)
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.logView, cmd = m.logView.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeLog()

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case syncMsg:
		m.synchronized = true
		m.skippedFrames = msg.skippedFrames
		if msg.skippedFrames > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after dropping %d bad frames", msg.skippedFrames), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}

	case linkClosedMsg:
		m.linkClosed = true
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Link closed: %v", msg.err), true)
		} else {
			m.addLogEntry("Link closed", true)
		}

	case verbResultMsg:
		for _, line := range strings.Split(strings.TrimRight(msg.output, "\n"), "\n") {
			if line != "" {
				m.addLogEntry(line, false)
			}
		}
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s: %v", msg.command, msg.err), true)
		}

	case frameMsg:
		m.handleFrame(frameEvent(msg))
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *model) handleFrame(ev frameEvent) {
	if ev.err != nil {
		m.stats.Update(tcproto.View{}, ev.err, nil)
		m.addLogEntry(fmt.Sprintf("DECODE ERROR: %v", ev.err), true)
		return
	}

	v := *ev.view
	m.stats.Update(v, nil, ev.validationErrors)
	cmdName := tcproto.FormatCommand(v.Opcode())

	if v.IsResponse() && v.Opcode() == tcproto.CmdStatus && v.Status() == tcproto.StsOK {
		if st, ok := parseStatus(v, ev.at); ok {
			m.lastStatus = st
		}
	}

	switch {
	case len(ev.validationErrors) > 0:
		for _, err := range ev.validationErrors {
			m.addLogEntry(fmt.Sprintf("%s: %s", cmdName, err.Message), true)
		}
	case v.IsResponse() && v.Status() != tcproto.StsOK:
		m.addLogEntry(fmt.Sprintf("%s seq=%d: %s", cmdName, v.Seq(), tcproto.FormatStatus(v.Status())), true)
	case m.showAll:
		dir := "REQ"
		if v.IsResponse() {
			dir = "RSP"
		}
		m.addLogEntry(fmt.Sprintf("%s %s seq=%d %s", dir, cmdName, v.Seq(), strings.TrimSpace(tcproto.FormatParams(v))), false)
	}
}

func (m *model) addLogEntry(message string, isError bool) {
	entry := eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-maxLogEntries:]
	}

	follow := m.logView.AtBottom()
	m.logView.SetContent(m.renderLog())
	if follow {
		m.logView.GotoBottom()
	}
}

func (m *model) resizeLog() {
	width := m.width - 6
	if width < 20 {
		width = 20
	}
	// Reserve space for header, stats, status and prompt
	height := m.height - 18
	if height < 5 {
		height = 5
	}
	m.logView.Width = width
	m.logView.Height = height
	m.input.Width = width - 4
	m.logView.SetContent(m.renderLog())
	m.logView.GotoBottom()
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statsLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	statsValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func (m model) renderLog() string {
	if len(m.eventLog) == 0 {
		return headerStyle.Render("  (no events yet)")
	}

	var b strings.Builder
	for i, entry := range m.eventLog {
		if i > 0 {
			b.WriteString("\n")
		}
		timestamp := entry.timestamp.Format("15:04:05.000")
		if entry.isError {
			b.WriteString(fmt.Sprintf("%s %s", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
		} else {
			b.WriteString(fmt.Sprintf("%s %s", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
		}
	}
	return b.String()
}

func (m model) renderStats() string {
	m.stats.CalculateRates()
	frameErrors := m.stats.FrameErrors()
	totalErrors := frameErrors + m.stats.Anomalies + m.stats.StatusErrors

	var validPercent, errorPercent float64
	if m.stats.TotalPackets > 0 {
		validPercent = float64(m.stats.ValidPackets) * 100.0 / float64(m.stats.TotalPackets)
		errorPercent = float64(totalErrors) * 100.0 / float64(m.stats.TotalPackets)
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", m.stats.TotalPackets)),
		statsLabelStyle.Render("Valid:"), statsValueStyle.Render(fmt.Sprintf("%d (%.1f%%)", m.stats.ValidPackets, validPercent)),
		statsLabelStyle.Render("Errors:"), errorStyle.Render(fmt.Sprintf("%d (%.1f%%)", totalErrors, errorPercent)),
	))
	b.WriteString(fmt.Sprintf("%s %d   %s %d\n",
		statsLabelStyle.Render("Requests:"), m.stats.Requests,
		statsLabelStyle.Render("Responses:"), m.stats.Responses,
	))

	if frameErrors > 0 {
		b.WriteString(fmt.Sprintf("%s %s (%s: %d, %s: %d, %s: %d, %s: %d)\n",
			statsLabelStyle.Render("Frame Errors:"), errorStyle.Render(fmt.Sprintf("%d", frameErrors)),
			headerStyle.Render("crc"), m.stats.CRCErrors,
			headerStyle.Render("seal"), m.stats.SealErrors,
			headerStyle.Render("length"), m.stats.LengthErrors,
			headerStyle.Render("string"), m.stats.StringErrors,
		))
	}

	if m.stats.Anomalies > 0 || m.stats.StatusErrors > 0 {
		b.WriteString(fmt.Sprintf("%s %s   %s %s\n",
			statsLabelStyle.Render("Anomalies:"), warningStyle.Render(fmt.Sprintf("%d", m.stats.Anomalies)),
			statsLabelStyle.Render("Status Errors:"), warningStyle.Render(fmt.Sprintf("%d", m.stats.StatusErrors)),
		))
	}

	errorRate := statsValueStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
	if m.stats.ErrorRate > 0 {
		errorRate = errorStyle.Render(fmt.Sprintf("%.1f err/s", m.stats.ErrorRate))
	}
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		statsLabelStyle.Render("Frame Rate:"), statsValueStyle.Render(fmt.Sprintf("%.1f frames/s", m.stats.PacketRate)),
		statsLabelStyle.Render("Error Rate:"), errorRate,
		statsLabelStyle.Render("Up:"), statsValueStyle.Render(formatUptime(uint64(time.Since(m.started).Milliseconds()))),
	))
	return b.String()
}

func (m model) renderStatus() string {
	st := m.lastStatus
	var b strings.Builder
	errText := statsValueStyle.Render("0")
	if st.errorCode != 0 {
		errText = errorStyle.Render(fmt.Sprintf("%d", st.errorCode))
	}
	b.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s",
		statsLabelStyle.Render("Axis State:"), statsValueStyle.Render(axisStateName(st.axisState)),
		statsLabelStyle.Render("Error:"), errText,
		headerStyle.Render("at"), headerStyle.Render(st.timestamp.Format("15:04:05.000")),
	))
	for i := range st.positions {
		b.WriteString(fmt.Sprintf("\n%s %s  %s",
			statsLabelStyle.Render(fmt.Sprintf("Axis %d:", i)),
			statsValueStyle.Render(fmt.Sprintf("pos %10.4f", st.positions[i])),
			statsValueStyle.Render(fmt.Sprintf("vel %10.4f", st.velocities[i])),
		))
	}
	return b.String()
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("TCSCOPE - MONITOR"))
	s.WriteString("\n")
	mode := "Errors only"
	if m.showAll {
		mode = "All frames"
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Mode: %s | Enter sends, PgUp/PgDn scroll, Esc quits", m.connInfo, mode)))
	s.WriteString("\n\n")

	switch {
	case m.linkClosed:
		s.WriteString(errorStyle.Render("✗ Link closed"))
	case !m.synchronized:
		s.WriteString(warningStyle.Render("⏳ Waiting for synchronization..."))
	default:
		s.WriteString(statsValueStyle.Render("✓ Synchronized"))
		if m.skippedFrames > 0 {
			s.WriteString(headerStyle.Render(fmt.Sprintf(" (dropped %d bad frames)", m.skippedFrames)))
		}
	}
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Render(m.renderStats()))
	s.WriteString("\n")

	if m.lastStatus != nil {
		s.WriteString(statsLabelStyle.Render("Latest Status:"))
		s.WriteString("\n")
		s.WriteString(boxStyle.Render(m.renderStatus()))
		s.WriteString("\n")
	}

	s.WriteString(statsLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(boxStyle.Render(m.logView.View()))
	s.WriteString("\n")
	s.WriteString(m.input.View())

	return s.String()
}
