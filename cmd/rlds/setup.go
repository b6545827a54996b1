package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/lerobot-rlds/pkg/robot"
)

type SetupCommand struct {
	RobotConfig string `long:"robot-config" default:"lerobot.json" description:"File to write arm ports and calibration to"`
}

var subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))

func (c *SetupCommand) Execute(args []string) error {
	ctx := context.Background()
	fmt.Println(headerStyle.Render("Arm setup"))
	fmt.Println("Scanning for SO-101 arms...")

	ports, err := robot.FindArms(ctx)
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		return errors.New("no SO-101 arms found; make sure the arms are connected and powered on")
	}

	cfg := &robot.Config{}
	for _, port := range ports {
		if cfg.Leader.Port != "" && cfg.Follower.Port != "" {
			break
		}
		role, err := identify(ctx, port, cfg.Leader.Port == "", cfg.Follower.Port == "")
		if err != nil {
			return err
		}
		switch role {
		case "leader":
			cfg.Leader.Port = port
		case "follower":
			cfg.Follower.Port = port
		}
	}
	if cfg.Leader.Port == "" || cfg.Follower.Port == "" {
		return errors.New("both a leader and a follower arm are required")
	}

	for _, arm := range []struct {
		role string
		cfg  *robot.ArmConfig
	}{{"leader", &cfg.Leader}, {"follower", &cfg.Follower}} {
		fmt.Println()
		fmt.Println(subHeaderStyle.Render(fmt.Sprintf("━━━ Calibrating %s arm on %s ━━━", arm.role, arm.cfg.Port)))
		cal, err := calibrate(ctx, arm.cfg.Port)
		if err != nil {
			return fmt.Errorf("calibrate %s: %w", arm.role, err)
		}
		arm.cfg.Calibration = cal
		// Save after each arm so a finished leader survives an aborted follower.
		if err := cfg.Save(c.RobotConfig); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(successStyle.Render("Setup complete, saved to " + c.RobotConfig))
	fmt.Println("Record episodes with: " + headerStyle.Render("rlds record"))
	return nil
}

func identify(ctx context.Context, port string, needLeader, needFollower bool) (string, error) {
	fmt.Printf("\n  Wiggling arm on %s...\n", port)
	if err := robot.Wiggle(ctx, port); err != nil {
		return "", err
	}

	var options []huh.Option[string]
	if needLeader {
		options = append(options, huh.NewOption("Leader (the one you move by hand)", "leader"))
	}
	if needFollower {
		options = append(options, huh.NewOption("Follower (the one that follows)", "follower"))
	}
	options = append(options, huh.NewOption("Skip this arm", "skip"))

	var role string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(fmt.Sprintf("Which arm is on %s?", port)).
			Description("The arm that just wiggled").
			Options(options...).
			Value(&role),
	))
	if err := form.Run(); err != nil {
		return "", err
	}
	return role, nil
}

func calibrate(ctx context.Context, port string) (robot.Calibration, error) {
	arm, err := robot.OpenRaw(ctx, port)
	if err != nil {
		return nil, err
	}
	defer arm.Close()

	tracker := robot.NewRangeTracker()
	positions, err := arm.Positions(ctx)
	if err != nil {
		return nil, err
	}
	tracker.Observe(positions)

	fmt.Println("Move every joint to its minimum and maximum position, then press Enter.")
	final, err := tea.NewProgram(calibrationModel{ctx: ctx, arm: arm, tracker: tracker}).Run()
	if err != nil {
		return nil, err
	}
	if final.(calibrationModel).aborted {
		return nil, errors.New("calibration aborted")
	}

	cal := tracker.Calibration()
	return cal, cal.Validate()
}

const minGoodSpan = 500

type calibrationModel struct {
	ctx     context.Context
	arm     *robot.RawArm
	tracker *robot.RangeTracker
	aborted bool
	done    bool
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m calibrationModel) Init() tea.Cmd {
	return tick()
}

func (m calibrationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			m.done = true
			return m, tea.Quit
		case "q", "ctrl+c":
			m.aborted = true
			return m, tea.Quit
		}
	case tickMsg:
		if positions, err := m.arm.Positions(m.ctx); err == nil {
			m.tracker.Observe(positions)
		}
		return m, tick()
	}
	return m, nil
}

func (m calibrationModel) View() string {
	if m.done || m.aborted {
		return ""
	}
	goodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	lowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	motors := robot.AllMotors()
	t := newTable("Motor", "Current", "Min", "Max", "Range")
	for _, name := range motors {
		t.Row(string(name),
			fmt.Sprint(m.tracker.Current[name]),
			fmt.Sprint(m.tracker.Min[name]),
			fmt.Sprint(m.tracker.Max[name]),
			fmt.Sprint(m.tracker.Span(name)))
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return tableHeaderStyle
		case col == 0:
			return tableKeyStyle
		case col == 4 && row >= 0 && row < len(motors):
			if m.tracker.Span(motors[row]) > minGoodSpan {
				return goodStyle
			}
			return lowStyle
		default:
			return tableCellStyle
		}
	})
	return t.Render() + "\n\n" + dimStyle.Render("Press Enter when done, q to abort")
}
