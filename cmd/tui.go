// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Petrolink

package cmd

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/petrolink/forecourt/pkg/controller"
	"github.com/petrolink/forecourt/pkg/nvram"
	"github.com/petrolink/forecourt/pkg/pump"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Interactive operator console",
	Long: `Operator console for one forecourt post.

Shows the pump display panel, the live session (state, fuel mode, unit price,
delivered liters and revenue) and an event log, while forwarding keypad input
to the transaction state machine. Digits and E/K/G/C/A work as on the
physical panel; Enter doubles as K, Esc as E; q or Ctrl+C quits.

Supports both serial and WebSocket connections.`,
	RunE: runTui,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

//////////////////////////////////////////////////////////////
// Controller runner
//////////////////////////////////////////////////////////////

// controllerRunner owns the control loop goroutine. The controller itself is
// single-threaded; the runner is the only caller of Tick and HandleKey, keys
// arrive over a channel, and the TUI reads session snapshots under a lock.
type controllerRunner struct {
	ctrl *controller.Controller
	keys chan byte
	done chan struct{}

	mu   sync.Mutex
	snap controller.Session
}

func newControllerRunner(ctrl *controller.Controller) *controllerRunner {
	return &controllerRunner{
		ctrl: ctrl,
		keys: make(chan byte, 16),
		done: make(chan struct{}),
	}
}

func (r *controllerRunner) Snapshot() controller.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

func (r *controllerRunner) Key(key byte) {
	select {
	case r.keys <- key:
	default:
		// A full queue means the operator is mashing keys mid-exchange;
		// the debounce would drop them anyway.
	}
}

func (r *controllerRunner) Stop() {
	close(r.done)
}

func (r *controllerRunner) loop() {
	r.ctrl.Start()
	for {
		select {
		case <-r.done:
			return
		case k := <-r.keys:
			r.ctrl.HandleKey(k)
		default:
			r.ctrl.Tick()
			time.Sleep(tickInterval)
		}
		r.mu.Lock()
		r.snap = r.ctrl.Session()
		r.mu.Unlock()
	}
}

// programDisplay forwards controller display output into the TUI event loop.
type programDisplay struct {
	p *tea.Program
}

func (d *programDisplay) DisplayMessage(text string) bool {
	if d.p != nil {
		d.p.Send(displayMsg(text))
	}
	return true
}

//////////////////////////////////////////////////////////////
// Model
//////////////////////////////////////////////////////////////

type displayMsg string

type sessionTickMsg time.Time

type tuiEvent struct {
	timestamp time.Time
	message   string
}

type tuiModel struct {
	runner   *controllerRunner
	connInfo string

	displayText string
	events      []tuiEvent
	maxEvents   int
	eventLog    viewport.Model
	session     controller.Session

	width    int
	height   int
	quitting bool
}

func initialTuiModel(runner *controllerRunner, connInfo string) tuiModel {
	vp := viewport.New(76, 8)
	return tuiModel{
		runner:      runner,
		connInfo:    connInfo,
		displayText: "(starting)",
		maxEvents:   200,
		eventLog:    vp,
		width:       80,
		height:      24,
	}
}

func (m *tuiModel) refreshEventLog() {
	var b strings.Builder
	for _, e := range m.events {
		fmt.Fprintf(&b, "%s  %s\n", e.timestamp.Format("15:04:05.000"), e.message)
	}
	m.eventLog.SetContent(b.String())
	m.eventLog.GotoBottom()
}

func sessionTickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return sessionTickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return sessionTickCmd()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.runner.Stop()
			return m, tea.Quit
		case "enter":
			m.runner.Key('K')
		case "esc":
			m.runner.Key('E')
		default:
			if len(msg.String()) == 1 {
				if key, ok := mapTerminalKey(msg.String()[0]); ok {
					m.runner.Key(key)
				}
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.eventLog.Width = msg.Width - 8
		m.refreshEventLog()

	case displayMsg:
		m.displayText = string(msg)
		m.events = append(m.events, tuiEvent{timestamp: time.Now(), message: strings.ReplaceAll(string(msg), "\n", " / ")})
		if len(m.events) > m.maxEvents {
			m.events = m.events[len(m.events)-m.maxEvents:]
		}
		m.refreshEventLog()

	case sessionTickMsg:
		m.session = m.runner.Snapshot()
		return m, sessionTickCmd()
	}

	return m, nil
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m tuiModel) View() string {
	if m.quitting {
		return "Shutting down controller...\n"
	}

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("25")).Padding(0, 1)
	labelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
	warnStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	boxStyle := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1)
	displayStyle := lipgloss.NewStyle().Border(lipgloss.DoubleBorder()).BorderForeground(lipgloss.Color("33")).Padding(0, 2)

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("FORECOURT POST %d", postAddress)))
	b.WriteString("  " + labelStyle.Render(m.connInfo) + "\n\n")

	// The pump display panel, rendered verbatim.
	b.WriteString(displayStyle.Render(m.displayText))
	b.WriteString("\n\n")

	// Session panel.
	s := m.session
	var sess strings.Builder
	fmt.Fprintf(&sess, "%s %s   ", labelStyle.Render("State:"), valueStyle.Render(s.State.String()))
	mode := s.FuelMode.String()
	if !s.ModeSelected {
		mode = "(none)"
	}
	fmt.Fprintf(&sess, "%s %s   ", labelStyle.Render("Mode:"), valueStyle.Render(mode))
	fmt.Fprintf(&sess, "%s %s\n", labelStyle.Render("Price:"), valueStyle.Render(fmt.Sprintf("%d", s.UnitPrice)))
	fmt.Fprintf(&sess, "%s %s   ", labelStyle.Render("Liters:"), valueStyle.Render(litersText(s.CurrentLitersDL)))
	fmt.Fprintf(&sess, "%s %s   ", labelStyle.Render("Revenue:"), valueStyle.Render(fmt.Sprintf("%d", s.CurrentPriceTotal)))
	fmt.Fprintf(&sess, "%s %s", labelStyle.Render("Errors:"), valueStyle.Render(fmt.Sprintf("%d", s.ErrorCount)))
	if s.NozzleUpWarning {
		sess.WriteString("   " + warnStyle.Render("NOZZLE UP"))
	}
	b.WriteString(boxStyle.Width(m.width - 4).Render(sess.String()))
	b.WriteString("\n")

	// Event log.
	var log strings.Builder
	log.WriteString(labelStyle.Render("EVENTS") + "\n")
	if len(m.events) == 0 {
		log.WriteString(labelStyle.Render("  (no events yet)"))
	} else {
		log.WriteString(m.eventLog.View())
	}
	b.WriteString(boxStyle.Width(m.width - 4).Render(log.String()))
	b.WriteString("\n")

	b.WriteString(labelStyle.Render("0-9 digits  E cancel/pause  K/Enter confirm  G price  C mode  A total  q quit"))
	return b.String()
}

func litersText(dl uint32) string {
	return fmt.Sprintf("%d.%02d L", dl/100, dl%100)
}

//////////////////////////////////////////////////////////////
// Entry point
//////////////////////////////////////////////////////////////

func runTui(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	display := &programDisplay{}
	transport := pump.New(conn, postAddress, display)
	store := nvram.Open(stateFile)
	ctrl := controller.New(controller.DefaultConfig(), transport, display, store)
	runner := newControllerRunner(ctrl)

	m := initialTuiModel(runner, connInfo)
	p := tea.NewProgram(m, tea.WithAltScreen())
	display.p = p

	go runner.loop()

	if _, err := p.Run(); err != nil {
		runner.Stop()
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
