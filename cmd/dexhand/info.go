package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/dexhand/pkg/bus"
	"github.com/gwillem/dexhand/pkg/robot"
)

type InfoCommand struct {
	Scan bool `long:"scan" description:"Scan the serial port directly and read raw positions"`
}

func (c *InfoCommand) Execute(args []string) error {
	if c.Scan {
		return c.scan()
	}

	e, cfg, _, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alive := e.Ping(ctx)
	var be *bus.BroadcastError
	if err := e.PollFeedback(ctx); err != nil && !errors.As(err, &be) {
		return err
	}

	source := cfg.Serial.Port
	if cfg.Simulate {
		source = "simulator"
	}
	fmt.Println(headerStyle.Render("DexHand") + dimStyle.Render(" on "+source))
	fmt.Println()

	snap := e.Snapshot()
	rows := make([][]string, 0, len(snap.Channels))
	for _, ch := range snap.Channels {
		status := "ok"
		if !slices.Contains(alive, ch.ID) {
			status = "no reply"
		}
		lo, hi := "", ""
		if ch.Calibration != nil {
			lo = fmt.Sprintf("%d", ch.Calibration.Min)
			hi = fmt.Sprintf("%d", ch.Calibration.Max)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", ch.ID),
			string(ch.Name),
			status,
			fmt.Sprintf("%d", ch.Feedback.Position),
			fmt.Sprintf("%d", ch.Feedback.Load),
			lo,
			hi,
			onOff(ch.Enabled),
		})
	}
	fmt.Println(channelTable([]string{"ID", "Channel", "Bus", "Position", "Load", "Min", "Max", "Torque"}, rows, 2, "ok").Render())
	fmt.Println()
	fmt.Printf("%d of %d channel(s) answering, %d calibrated, mode %s\n",
		len(alive), robot.NumChannels, len(e.Model().Calibration()), snap.Mode)
	return nil
}

// scan bypasses the engine and reads the servos with a group read.
func (c *InfoCommand) scan() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	t, _, err := robot.OpenTransport(cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer t.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	servos, err := robot.ScanServos(ctx, t)
	if err != nil {
		return err
	}
	ids := make([]int, 0, len(servos))
	models := make(map[int]string, len(servos))
	for _, s := range servos {
		ids = append(ids, s.ID)
		models[s.ID] = s.Model
	}
	positions, err := robot.ReadPositions(ctx, t, ids)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, robot.NumChannels)
	for _, id := range robot.AllChannels() {
		status, model, pos := "missing", "", ""
		if slices.Contains(ids, id) {
			status, model = "found", models[id]
			pos = fmt.Sprintf("%d", positions[id])
		}
		rows = append(rows, []string{fmt.Sprintf("%d", id), string(robot.Name(id)), status, model, pos})
	}
	source := cfg.Serial.Port
	if cfg.Simulate {
		source = "simulator"
	}
	fmt.Println(headerStyle.Render("Scan of " + source))
	fmt.Println()
	fmt.Println(channelTable([]string{"ID", "Channel", "Status", "Model", "Position"}, rows, 2, "found").Render())
	if !robot.IsHand(servos) {
		fmt.Println(errorStyle.Render(fmt.Sprintf("Only %d of %d servos answered.", len(servos), robot.NumChannels)))
	}
	return nil
}

// channelTable renders rows with column statusCol green when it equals
// good and red otherwise.
func channelTable(headers []string, rows [][]string, statusCol int, good string) *table.Table {
	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableChannelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableGoodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	tableBadStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 1:
				return tableChannelStyle
			case statusCol:
				if row >= 0 && row < len(rows) && rows[row][statusCol] == good {
					return tableGoodStyle
				}
				return tableBadStyle
			default:
				return tableCellStyle
			}
		})
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
