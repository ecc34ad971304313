package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/dexhand/pkg/robot"
	"github.com/gwillem/dexhand/pkg/teleop"
)

type MirrorCommand struct {
	Input string `short:"i" long:"input" description:"Landmark stream, one JSON frame per line (default: stdin)"`
	Hz    int    `long:"hz" description:"Push rate (default from config)"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Charted channels, one flexion joint per finger plus the wrist.
var chartChannels = []struct {
	id    int
	color string
}{
	{3, "196"},  // thumb_mcp, red
	{6, "208"},  // index_mcp, orange
	{9, "226"},  // middle_mcp, yellow
	{12, "46"},  // ring_mcp, green
	{15, "51"},  // pinky_mcp, cyan
	{17, "201"}, // wrist, magenta
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type mirrorModel struct {
	ctrl     *teleop.Controller
	model    *robot.Model
	chart    *streamlinechart.Model
	width    int      // terminal width
	height   int      // terminal height
	logs     []string // last N log messages
	state    teleop.State
	quitting bool
	err      error
}

func (m *mirrorModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// Messages from the controller
type stateMsg teleop.State
type logMsg string
type doneMsg struct{ err error }

func waitForState(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func waitForLog(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *mirrorModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	width = max(40, m.width-borderSize-2)
	height = max(10, m.height-headerHeight-legendHeight-footerHeight-borderSize)
	return width, height
}

func (m *mirrorModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialMirrorModel(ctrl *teleop.Controller, model *robot.Model) mirrorModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-100, 100),
	)
	for _, c := range chartChannels {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(c.color))
		chart.SetDataSetStyles(string(robot.Name(c.id)), runes.ThinLineStyle, style)
	}
	return mirrorModel{
		ctrl:  ctrl,
		model: model,
		chart: &chart,
	}
}

func (m mirrorModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.ctrl),
		waitForLog(m.ctrl),
	)
}

func (m mirrorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case stateMsg:
		m.state = teleop.State(msg)
		if m.state.Targets != nil {
			for _, c := range chartChannels {
				pos, ok := m.state.Targets[c.id]
				lim, calibrated := m.model.Limits(c.id)
				if !ok || !calibrated {
					continue
				}
				m.chart.PushDataSet(string(robot.Name(c.id)), lim.Normalize(pos))
			}
			m.chart.DrawAll()
		}
		return m, waitForState(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)

	case doneMsg:
		m.err = msg.err
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m mirrorModel) View() string {
	if m.quitting {
		return "Mirroring stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("DexHand Mirror"))
	sb.WriteString(fmt.Sprintf(" - %d Hz - %d frames", m.ctrl.Hz(), m.state.Frames))
	if n := len(m.state.Skipped); n > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  %d skipped", n)))
	}
	if n := len(m.state.Errors); n > 0 {
		sb.WriteString(errorStyle.Render(fmt.Sprintf("  %d uncalibrated", n)))
	}
	sb.WriteString("\n\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	// Legend
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(20, m.width-4)).
		Foreground(lipgloss.Color("9"))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press 'q' to quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func renderLegend() string {
	var items []string
	for _, c := range chartChannels {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(c.color)).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+string(robot.Name(c.id)))
	}
	return strings.Join(items, "  ")
}

func (c *MirrorCommand) Execute(args []string) error {
	var src io.Reader = os.Stdin
	if c.Input != "" && c.Input != "-" {
		f, err := os.Open(c.Input)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	}

	e, cfg, log, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()
	log.SetLevel(logrus.ErrorLevel)

	hz := c.Hz
	if hz == 0 {
		hz = cfg.Gesture.RateHz
	}
	if len(e.Model().Calibration()) == 0 {
		return errors.New("no channel is calibrated, run 'dexhand calibrate' first")
	}

	ctrl := teleop.NewController(e, src, teleop.Config{Hz: hz})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var teaOpts []tea.ProgramOption
	teaOpts = append(teaOpts, tea.WithAltScreen())
	if src == os.Stdin {
		// Landmarks arrive on stdin; keys cannot.
		teaOpts = append(teaOpts, tea.WithInput(nil))
	}
	p := tea.NewProgram(initialMirrorModel(ctrl, e.Model()), teaOpts...)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		err := ctrl.Start(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		p.Send(doneMsg{err: err})
	}()

	final, err := p.Run()
	cancel()
	<-stopped
	if err != nil {
		return fmt.Errorf("mirror view: %w", err)
	}
	return final.(mirrorModel).err
}
