package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/sirupsen/logrus"

	"github.com/gwillem/dexhand/pkg/engine"
	"github.com/gwillem/dexhand/pkg/motion"
)

type RecordCommand struct {
	Mode     string        `long:"mode" choice:"frame" choice:"realtime" description:"Recording mode (default from config)"`
	Rate     int           `long:"rate" description:"Sample rate in Hz for realtime mode (default from config)"`
	Duration time.Duration `long:"duration" description:"Stop a realtime recording after this long"`
	Output   string        `short:"o" long:"output" description:"Output file (default: generated name in the recordings directory)"`
	Hold     bool          `long:"hold" description:"Keep torque enabled while recording instead of letting the hand be posed by hand"`
}

func (c *RecordCommand) Execute(args []string) error {
	e, cfg, log, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	modeName := c.Mode
	if modeName == "" {
		modeName = cfg.Recording.Mode
	}
	mode, err := motion.ParseMode(modeName)
	if err != nil {
		return err
	}
	rate := c.Rate
	if rate == 0 {
		rate = cfg.Recording.RateHz
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if !c.Hold {
		if err := e.SetAllEnabled(ctx, false); err != nil {
			log.Warnf("release torque: %v", err)
		}
	}

	if err := e.StartRecording(mode, rate); err != nil {
		return err
	}
	fmt.Println(headerStyle.Render("Recording") + dimStyle.Render(fmt.Sprintf(" (%s)", mode)))
	fmt.Println()

	if mode == motion.FrameBased {
		captureFrames(ctx, e, log)
	} else {
		waitRealtime(ctx, c.Duration)
	}

	rec, err := e.StopRecording()
	if err != nil {
		return err
	}

	path := c.Output
	if path == "" {
		path = filepath.Join(cfg.Recording.Dir, motion.FileName(rec))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := motion.Save(path, rec); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(successStyle.Render(fmt.Sprintf("Saved %d frame(s), %s, to %s",
		len(rec.Frames), rec.Duration().Round(time.Millisecond), path)))
	fmt.Println("Play it back with: " + headerStyle.Render("dexhand play "+path))
	return nil
}

// captureFrames appends a keyframe each time the user asks for one.
func captureFrames(ctx context.Context, e *engine.Engine, log logrus.FieldLogger) {
	for ctx.Err() == nil {
		action := "capture"
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Pose the hand, then capture a frame").
					Options(
						huh.NewOption("Capture frame", "capture"),
						huh.NewOption("Finish recording", "finish"),
					).
					Value(&action),
			),
		)
		if err := form.Run(); err != nil || action == "finish" {
			return
		}

		if err := e.PollFeedback(ctx); err != nil {
			log.Warnf("feedback: %v", err)
		}
		f, err := e.AppendFrame(nil)
		if err != nil {
			fmt.Println(errorStyle.Render(err.Error()))
			continue
		}
		fmt.Println(dimStyle.Render(fmt.Sprintf("  frame at %d ms", f.OffsetMS)))
	}
}

func waitRealtime(ctx context.Context, d time.Duration) {
	if d > 0 {
		fmt.Printf("Recording for %s, press Ctrl+C to stop early.\n", d)
		select {
		case <-ctx.Done():
		case <-time.After(d):
		}
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		waitForUser("Move the hand. Recording...", "Stop")
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}
}
