package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/dexhand/pkg/calibrate"
	"github.com/gwillem/dexhand/pkg/engine"
	"github.com/gwillem/dexhand/pkg/robot"
)

type CalibrateCommand struct {
	Channels []int `short:"n" long:"channel" description:"Channel to calibrate, repeatable (default: all)"`
}

func (c *CalibrateCommand) Execute(args []string) error {
	e, cfg, _, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	if !confirmCalibration() {
		return nil
	}
	statuses, err := runCalibration(e, c.Channels)
	if err != nil {
		return err
	}
	printCalibrationSummary(statuses, cfg.Calibration.File)

	for _, s := range statuses {
		if s.State != calibrate.Completed {
			return fmt.Errorf("calibration incomplete")
		}
	}
	return nil
}

// runCalibration calibrates ids in the background while showing progress.
// Quitting the view cancels the run.
func runCalibration(e *engine.Engine, ids []int) ([]calibrate.Status, error) {
	if len(ids) == 0 {
		ids = robot.AllChannels()
	}
	if err := e.StartCalibration(ids...); err != nil {
		return nil, err
	}

	p := tea.NewProgram(newCalibrationModel(e, ids))
	if _, err := p.Run(); err != nil {
		e.StopCalibration()
		return nil, fmt.Errorf("calibration view: %w", err)
	}
	if e.Mode() == engine.Calibrating {
		e.StopCalibration()
	}
	<-e.CalibrationDone()
	return e.Snapshot().Calibration, nil
}

func printCalibrationSummary(statuses []calibrate.Status, file string) {
	var ok, failed int
	for _, s := range statuses {
		if s.State == calibrate.Completed {
			ok++
			continue
		}
		failed++
		msg := s.Error
		if msg == "" {
			msg = s.State.String()
		}
		fmt.Println(errorStyle.Render(fmt.Sprintf("  %s: %s", robot.Name(s.Channel), msg)))
	}
	fmt.Println()
	fmt.Printf("%d channel(s) calibrated, %d failed.\n", ok, failed)
	if ok > 0 {
		fmt.Printf("Calibration saved to %s\n", file)
	}
}

// Calibration TUI model
type calibrationModel struct {
	engine   *engine.Engine
	ids      []int
	statuses map[int]calibrate.Status
	started  time.Time
	quitting bool
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func newCalibrationModel(e *engine.Engine, ids []int) calibrationModel {
	return calibrationModel{
		engine:   e,
		ids:      ids,
		statuses: make(map[int]calibrate.Status, len(ids)),
		started:  time.Now(),
	}
}

func (m calibrationModel) Init() tea.Cmd {
	return tick()
}

func (m calibrationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.engine.StopCalibration()
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		for _, s := range m.engine.Snapshot().Calibration {
			m.statuses[s.Channel] = s
		}
		select {
		case <-m.engine.CalibrationDone():
			m.quitting = true
			return m, tea.Quit
		default:
		}
		return m, tick()
	}

	return m, nil
}

func (m calibrationModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder

	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableChannelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableActiveStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	tableDoneStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	tableFailedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	states := make([]calibrate.State, 0, len(m.ids))
	rows := make([][]string, 0, len(m.ids))
	for _, id := range m.ids {
		s, seen := m.statuses[id]
		state, lo, hi, span := "pending", "", "", ""
		if seen {
			state = s.State.String()
			if s.Profile != nil {
				lo = fmt.Sprintf("%d", s.Profile.Min)
				hi = fmt.Sprintf("%d", s.Profile.Max)
				span = fmt.Sprintf("%d", s.Profile.Max-s.Profile.Min)
			}
			if s.Error != "" {
				state = s.Error
			}
		}
		states = append(states, s.State)
		rows = append(rows, []string{
			fmt.Sprintf("%d", id),
			string(robot.Name(id)),
			state,
			lo,
			hi,
			span,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("ID", "Channel", "State", "Min", "Max", "Range").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 1:
				return tableChannelStyle
			case 2:
				if row < 0 || row >= len(states) {
					return tableCellStyle
				}
				switch states[row] {
				case calibrate.Completed:
					return tableDoneStyle
				case calibrate.Failed:
					return tableFailedStyle
				case calibrate.ProbingMin, calibrate.ProbingMax, calibrate.Computing:
					return tableActiveStyle
				}
				return tableCellStyle
			default:
				return tableCellStyle
			}
		})

	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	sb.WriteString(dimStyle.Render(fmt.Sprintf("Elapsed %s. Press q to abort.", time.Since(m.started).Round(time.Second))))

	return sb.String()
}
