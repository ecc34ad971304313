package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/gwillem/dexhand/pkg/engine"
	"github.com/gwillem/dexhand/pkg/motion"
)

type PlayCommand struct {
	Speed  float64 `long:"speed" default:"1" description:"Playback speed factor (0.1-5)"`
	Repeat int     `long:"repeat" default:"1" description:"Number of passes"`
	Args   struct {
		File string `positional-arg-name:"file" required:"yes"`
	} `positional-args:"yes"`
}

func (c *PlayCommand) Execute(args []string) error {
	rec, err := motion.Load(c.Args.File)
	if err != nil {
		return err
	}
	if err := motion.CheckSpeed(c.Speed); err != nil {
		return err
	}

	e, _, log, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	// Keep engine logs from tearing the progress view.
	log.SetLevel(logrus.ErrorLevel)

	sess, err := e.Play(context.Background(), rec, c.Speed, c.Repeat)
	if err != nil {
		return err
	}

	p := tea.NewProgram(newPlaybackModel(e, sess, c.Args.File))
	final, err := p.Run()
	if err != nil {
		e.StopPlayback()
		return fmt.Errorf("playback view: %w", err)
	}
	<-sess.Done()

	st := final.(playbackModel).status
	fmt.Printf("Playback %s after %d of %d pass(es).\n", sess.Status().State, st.Pass, st.Repeat)
	if st.Errors > 0 {
		fmt.Println(errorStyle.Render(fmt.Sprintf("%d frame(s) had channel errors, see the log.", st.Errors)))
	}
	return nil
}

// Playback TUI model
type playbackModel struct {
	engine   *engine.Engine
	session  *motion.Session
	name     string
	bar      progress.Model
	status   motion.SessionStatus
	quitting bool
}

func newPlaybackModel(e *engine.Engine, s *motion.Session, name string) playbackModel {
	return playbackModel{
		engine:  e,
		session: s,
		name:    name,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(50)),
		status:  s.Status(),
	}
}

func (m playbackModel) Init() tea.Cmd {
	return tick()
}

func (m playbackModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.engine.StopPlayback()
			m.quitting = true
			return m, tea.Quit
		case " ":
			if m.status.State == motion.Paused {
				m.engine.Resume()
			} else {
				m.engine.Pause()
			}
		case "left":
			m.engine.SeekTo(max(0, m.status.CursorMS-1000))
		case "right":
			m.engine.SeekTo(min(m.status.DurationMS, m.status.CursorMS+1000))
		case "+", "=":
			m.engine.SetPlaybackSpeed(min(motion.MaxSpeed, m.status.Speed*1.25))
		case "-":
			m.engine.SetPlaybackSpeed(max(motion.MinSpeed, m.status.Speed/1.25))
		}
		m.status = m.session.Status()
		return m, nil

	case tea.WindowSizeMsg:
		m.bar.Width = min(80, max(20, msg.Width-10))
		return m, nil

	case tickMsg:
		m.status = m.session.Status()
		if m.status.State.Terminal() {
			m.quitting = true
			return m, tea.Quit
		}
		return m, tick()
	}

	return m, nil
}

func (m playbackModel) View() string {
	if m.quitting {
		return ""
	}

	st := m.status
	var sb strings.Builder
	sb.WriteString(headerStyle.Render("Playing " + m.name))
	sb.WriteString("\n\n")

	frac := 1.0
	if st.DurationMS > 0 {
		frac = float64(st.CursorMS) / float64(st.DurationMS)
	}
	sb.WriteString(m.bar.ViewAs(min(1, max(0, frac))))
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "%s  %s / %s  speed %.2fx  pass %d/%d  frame %d/%d\n",
		subHeaderStyle.Render(st.State.String()),
		time.Duration(st.CursorMS)*time.Millisecond,
		time.Duration(st.DurationMS)*time.Millisecond,
		st.Speed, st.Pass, st.Repeat, st.NextFrame, st.Frames)
	if st.Errors > 0 {
		sb.WriteString(errorStyle.Render(fmt.Sprintf("%d frame(s) with channel errors", st.Errors)))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render("space pause/resume  ←/→ seek 1s  +/- speed  q stop"))
	return sb.String()
}
