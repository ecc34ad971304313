package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/gwillem/dexhand/pkg/engine"
	"github.com/gwillem/dexhand/pkg/robot"
)

type Options struct {
	Config  string `short:"c" long:"config" default:"dexhand.yaml" description:"Configuration file"`
	Sim     bool   `long:"sim" description:"Use the built-in servo simulator instead of a serial port"`
	Verbose bool   `short:"v" long:"verbose" description:"Enable debug logging"`

	Setup     SetupCommand     `command:"setup" description:"Find the hand and calibrate every channel"`
	Calibrate CalibrateCommand `command:"calibrate" description:"Probe the mechanical limits of channels"`
	Record    RecordCommand    `command:"record" description:"Record a motion sequence"`
	Play      PlayCommand      `command:"play" description:"Play back a recording"`
	Mirror    MirrorCommand    `command:"mirror" description:"Mirror a landmark stream onto the hand"`
	Serve     ServeCommand     `command:"serve" description:"Serve the HTTP API"`
	Info      InfoCommand      `command:"info" description:"Show channel state and calibration"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "dexhand - motion engine for a 17-channel robotic hand"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file. With --sim a missing file is
// not an error.
func loadConfig() (*robot.Config, error) {
	var overrides []func(*robot.Config)
	if opts.Sim {
		overrides = append(overrides, func(c *robot.Config) { c.Simulate = true })
	}
	cfg, err := robot.LoadConfigFrom(opts.Config, overrides...)
	if errors.Is(err, fs.ErrNotExist) {
		if opts.Sim {
			cfg = robot.DefaultConfig()
			cfg.Simulate = true
			return cfg, nil
		}
		return nil, fmt.Errorf("no configuration found at %s, run 'dexhand setup' first", opts.Config)
	}
	return cfg, err
}

func newLogger(cfg *robot.Config) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if opts.Verbose {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)
	return log
}

// openEngine loads the configuration and connects to the hand.
func openEngine() (*engine.Engine, *robot.Config, *logrus.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	log := newLogger(cfg)
	e, err := engine.Open(cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return e, cfg, log, nil
}
