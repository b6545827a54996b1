package main

import (
	"fmt"
	"strings"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gwillem/lerobot-rlds/pkg/dataset"
	"github.com/gwillem/lerobot-rlds/pkg/rlds"
)

type InspectCommand struct {
	Plain bool `long:"plain" description:"Print the summary table only"`

	Args struct {
		Shard string `positional-arg-name:"SHARD" description:"TFRecord shard file"`
	} `positional-args:"yes" required:"yes"`
}

// Series colors, cycled when the state has more dimensions.
var seriesColors = []string{"196", "208", "226", "46", "51", "201", "33", "250", "141", "214"}

func (c *InspectCommand) Execute(args []string) error {
	features, err := dataset.ReadShard(c.Args.Shard)
	if err != nil {
		return err
	}

	episodes := make([]*rlds.Episode, 0, len(features))
	t := newTable("#", "File", "Steps", "Return", "Instruction", "Valid")
	for i, fs := range features {
		ep, err := fs.Episode()
		if err != nil {
			return fmt.Errorf("episode %d: %w", i, err)
		}
		episodes = append(episodes, ep)

		var ret float32
		for _, s := range ep.Steps {
			ret += s.Reward
		}
		valid := successStyle.Render("ok")
		if err := ep.Validate(); err != nil {
			valid = err.Error()
		}
		t.Row(fmt.Sprint(i), ep.Metadata.FilePath, fmt.Sprint(ep.Len()), fmt.Sprint(ret),
			ep.Steps[0].LanguageInstruction, valid)
	}

	if c.Plain || len(episodes) == 0 {
		fmt.Println(t.Render())
		return nil
	}

	p := tea.NewProgram(newInspectModel(c.Args.Shard, episodes), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}
	fmt.Println(t.Render())
	return nil
}

type inspectModel struct {
	shard    string
	episodes []*rlds.Episode
	current  int
	chart    *streamlinechart.Model
	width    int
	height   int
}

func newInspectModel(shard string, episodes []*rlds.Episode) inspectModel {
	m := inspectModel{shard: shard, episodes: episodes}
	m.plot()
	return m
}

func (m *inspectModel) chartSize() (int, int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20
	}
	return max(m.width-4, 40), max(m.height-8, 10)
}

// plot redraws the chart with the state trajectory of the current episode.
func (m *inspectModel) plot() {
	ep := m.episodes[m.current]
	lo, hi := float64(0), float64(0)
	for _, s := range ep.Steps {
		for _, x := range s.Observation.State {
			lo, hi = min(lo, float64(x)), max(hi, float64(x))
		}
	}
	if lo == hi {
		hi = lo + 1
	}

	w, h := m.chartSize()
	chart := streamlinechart.New(w, h, streamlinechart.WithYRange(lo, hi))
	dims := len(ep.Steps[0].Observation.State)
	for d := range dims {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(seriesColors[d%len(seriesColors)]))
		chart.SetDataSetStyles(seriesName(d), runes.ThinLineStyle, style)
	}
	for _, s := range ep.Steps {
		for d, x := range s.Observation.State {
			chart.PushDataSet(seriesName(d), float64(x))
		}
	}
	chart.DrawAll()
	m.chart = &chart
}

func seriesName(d int) string {
	return fmt.Sprintf("state[%d]", d)
}

func (m inspectModel) Init() tea.Cmd {
	return nil
}

func (m inspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.plot()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "right", "l", "n":
			if m.current < len(m.episodes)-1 {
				m.current++
				m.plot()
			}
		case "left", "h", "p":
			if m.current > 0 {
				m.current--
				m.plot()
			}
		}
	}
	return m, nil
}

func (m inspectModel) View() string {
	ep := m.episodes[m.current]
	chartStyle := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))

	var sb strings.Builder
	sb.WriteString(headerStyle.Render(m.shard))
	sb.WriteString(dimStyle.Render(fmt.Sprintf("  episode %d/%d  %s  %d steps",
		m.current+1, len(m.episodes), ep.Metadata.FilePath, ep.Len())))
	sb.WriteString("\n\n")
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	var legend []string
	for d := range ep.Steps[0].Observation.State {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(seriesColors[d%len(seriesColors)])).Bold(true)
		legend = append(legend, style.Render("━━")+" "+fmt.Sprint(d))
	}
	sb.WriteString(strings.Join(legend, "  "))
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render("←/→ switch episode, q quit"))
	return sb.String()
}
