package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gwillem/lerobot-rlds/pkg/record"
	"github.com/gwillem/lerobot-rlds/pkg/robot"
	"github.com/gwillem/lerobot-rlds/pkg/schema"
	"github.com/gwillem/lerobot-rlds/pkg/teleop"
)

type RecordCommand struct {
	RobotConfig string `long:"robot-config" default:"lerobot.json" description:"Arm ports and calibration, as written by setup"`
	Variant     string `long:"variant" default:"so101" description:"Dataset variant the episodes are recorded for"`
	Dir         string `long:"dir" default:"recordings" description:"Directory for episode files"`
	Hz          int    `long:"hz" default:"30" description:"Control loop and recording frequency"`
	Mirror      bool   `long:"mirror" description:"Mirror mode: invert shoulder_pan and wrist_roll positions"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

var motorColors = map[robot.MotorName]string{
	robot.ShoulderPan:  "196",
	robot.ShoulderLift: "208",
	robot.ElbowFlex:    "226",
	robot.WristFlex:    "46",
	robot.WristRoll:    "51",
	robot.Gripper:      "201",
}

var (
	recordingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	chartStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
)

type recordModel struct {
	ctx      context.Context
	ctrl     *teleop.Controller
	rec      *record.Recorder
	chart    *streamlinechart.Model
	width    int
	height   int
	logs     []string
	quitting bool
	last     robot.Positions
	saved    int
}

type stateMsg teleop.State
type logMsg string

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

func newRecordModel(ctx context.Context, ctrl *teleop.Controller, rec *record.Recorder) recordModel {
	chart := streamlinechart.New(80, 20, streamlinechart.WithYRange(-100, 100))
	for _, name := range robot.AllMotors() {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(motorColors[name]))
		chart.SetDataSetStyles(string(name), runes.ThinLineStyle, style)
	}
	return recordModel{ctx: ctx, ctrl: ctrl, rec: rec, chart: &chart}
}

func (m *recordModel) addLog(format string, args ...any) {
	m.logs = append(m.logs, fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...)))
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

func (m *recordModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20
	}
	width = max(m.width-borderSize-2, 40)
	height = max(m.height-headerHeight-legendHeight-footerHeight-borderSize, 10)
	return width, height
}

func (m *recordModel) stop() {
	path, steps, err := m.rec.Stop()
	switch {
	case err != nil:
		m.addLog("Save failed: %v", err)
	case path == "":
		m.addLog("Episode had no steps, nothing saved")
	default:
		m.saved++
		m.addLog("Saved %s (%d steps)", path, steps)
	}
}

func (m recordModel) Init() tea.Cmd {
	return tea.Batch(waitForState(m.ctrl), waitForLog(m.ctrl))
}

func (m recordModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.chart.Resize(m.chartSize())
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.rec.Recording() {
				m.stop()
			}
			m.quitting = true
			return m, tea.Quit
		case " ":
			if m.rec.Recording() {
				m.stop()
			} else {
				m.rec.Start()
				m.addLog("Recording %s", m.rec.NextPath())
			}
		case "d":
			if m.rec.Recording() {
				m.rec.Discard()
				m.addLog("Episode discarded")
			}
		}

	case stateMsg:
		state := teleop.State(msg)
		if m.rec.Recording() {
			if err := m.rec.Add(m.ctx, state); err != nil && !errors.Is(err, record.ErrNotRecording) {
				m.addLog("Record error: %v", err)
			}
		}
		if state.Leader != nil && state.Leader.Changed(m.last) {
			for name, pos := range state.Leader {
				m.chart.PushDataSet(string(name), pos)
			}
			m.chart.DrawAll()
			m.last = state.Leader
		}
		return m, waitForState(m.ctrl)

	case logMsg:
		m.logs = append(m.logs, string(msg))
		if len(m.logs) > maxLogs {
			m.logs = m.logs[len(m.logs)-maxLogs:]
		}
		return m, waitForLog(m.ctrl)
	}

	return m, nil
}

func (m recordModel) View() string {
	if m.quitting {
		return fmt.Sprintf("Recording stopped, %d episode(s) saved.\n", m.saved)
	}

	var sb strings.Builder
	sb.WriteString(headerStyle.Render("Record"))
	sb.WriteString(fmt.Sprintf(" - %d Hz", m.ctrl.Hz()))
	if m.rec.Recording() {
		sb.WriteString("  " + recordingStyle.Render(fmt.Sprintf("● REC %d steps", m.rec.Len())))
	} else {
		sb.WriteString("  " + dimStyle.Render(fmt.Sprintf("idle, %d saved", m.saved)))
	}
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20))

	logLines := dimStyle.Render("space start/stop episode, d discard, q quit")
	if len(m.logs) > 0 {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")
	return sb.String()
}

func renderLegend() string {
	var items []string
	for _, name := range robot.AllMotors() {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(motorColors[name])).Bold(true)
		items = append(items, style.Render("━━")+" "+string(name))
	}
	return strings.Join(items, "  ")
}

func (c *RecordCommand) Execute(args []string) error {
	cfg, err := robot.LoadConfig(c.RobotConfig)
	if err != nil {
		return fmt.Errorf("load %s (run 'rlds setup' first): %w", c.RobotConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.CheckPorts(); err != nil {
		return err
	}

	v, err := schema.Lookup(c.Variant)
	if err != nil {
		return err
	}
	rec, err := record.New(v, c.Dir, nil)
	if err != nil {
		return err
	}

	ctrl, err := teleop.NewController(teleop.Config{
		Leader:   cfg.Leader,
		Follower: cfg.Follower,
		Hz:       c.Hz,
		Mirror:   c.Mirror,
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- ctrl.Start(ctx) }()

	p := tea.NewProgram(newRecordModel(ctx, ctrl, rec), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return err
	}

	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
