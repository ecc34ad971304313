package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/gwillem/dexhand/pkg/bus"
	"github.com/gwillem/dexhand/pkg/engine"
	"github.com/gwillem/dexhand/pkg/robot"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type SetupCommand struct{}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("DexHand Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━"))
	fmt.Println()

	cfg, err := robot.LoadConfigFrom(opts.Config)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			fmt.Println(dimStyle.Render(fmt.Sprintf("Ignoring existing configuration: %v", err)))
		}
		cfg = robot.DefaultConfig()
	}
	cfg.Simulate = opts.Sim

	// Step 1: find the hand
	if !cfg.Simulate {
		port, err := selectHandPort(cfg)
		if err != nil {
			return err
		}
		cfg.Serial.Port = port
	} else {
		fmt.Println("Using the built-in simulator.")
	}

	if err := cfg.SaveTo(opts.Config); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Printf("Configuration saved to %s\n\n", opts.Config)

	// Step 2: calibrate
	fmt.Println(subHeaderStyle.Render("━━━ Calibrating Channels ━━━"))
	fmt.Println()
	if !confirmCalibration() {
		fmt.Println("Skipping calibration. Run " + headerStyle.Render("dexhand calibrate") + " later.")
		return nil
	}

	e, err := engine.Open(cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer e.Close()

	statuses, err := runCalibration(e, nil)
	if err != nil {
		return err
	}
	printCalibrationSummary(statuses, cfg.Calibration.File)

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Println()
	fmt.Println("Record a motion with: " + headerStyle.Render("dexhand record"))
	fmt.Println("Serve the API with:   " + headerStyle.Render("dexhand serve"))
	return nil
}

type handPort struct {
	port   string
	servos []robot.FoundServo
}

// findHands scans every serial port for a bus answering on all channel IDs.
func findHands(cfg *robot.Config) []handPort {
	fmt.Println("Scanning for the hand...")
	fmt.Println()

	ports, err := bus.ListPorts()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return nil
	}

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	var hands []handPort
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}

		probe := *cfg
		probe.Serial.Port = port
		t, _, err := robot.OpenTransport(&probe, quiet)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		servos, err := robot.ScanServos(ctx, t)
		cancel()
		t.Close()
		if err != nil {
			continue
		}

		if robot.IsHand(servos) {
			fmt.Printf("  Found hand on %s\n", port)
			hands = append(hands, handPort{port: port, servos: servos})
		} else if len(servos) > 0 {
			fmt.Println(dimStyle.Render(fmt.Sprintf("  %s: %d servo(s), not a complete hand", port, len(servos))))
		}
	}
	return hands
}

func selectHandPort(cfg *robot.Config) (string, error) {
	hands := findHands(cfg)
	switch len(hands) {
	case 0:
		return "", errors.New("no hand found, make sure it is connected and powered on")
	case 1:
		return hands[0].port, nil
	}

	options := make([]huh.Option[string], 0, len(hands))
	for _, h := range hands {
		options = append(options, huh.NewOption(fmt.Sprintf("%s (%d servos)", h.port, len(h.servos)), h.port))
	}
	var port string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which port should be used?").
				Options(options...).
				Value(&port),
		),
	)
	if err := form.Run(); err != nil {
		return "", err
	}
	return port, nil
}

func confirmCalibration() bool {
	fmt.Println("Each channel is driven slowly into both mechanical stops at reduced torque.")
	fmt.Println("Keep the fingers clear of obstacles.")
	fmt.Println()

	ok := true
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Calibrate now?").
				Affirmative("Start").
				Negative("Skip").
				Value(&ok),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	return ok
}

// waitForUser blocks until the user confirms.
func waitForUser(prompt, button string) {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(prompt).
				Affirmative(button).
				Negative("").
				Value(new(bool)),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
	}
}
