package viz

import (
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/san-kum/octgrav/internal/metrics"
)

const (
	canvasWidth     = 60
	canvasHeight    = 20
	historyCapacity = 600
)

// StepMsg carries one completed step. Positions is nil on steps without a
// particle sample.
type StepMsg struct {
	Diag      metrics.Diagnostics
	Positions []r3.Vec
}

// DoneMsg ends the run; Err is nil on success.
type DoneMsg struct {
	Err error
}

var (
	statsStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(lipgloss.Color("240")).Padding(0, 2).Width(46)
	graphStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("49"))
)

// Progress follows a run from a channel of StepMsg and DoneMsg.
type Progress struct {
	title   string
	end     float64
	updates <-chan tea.Msg
	stop    func()

	diag     metrics.Diagnostics
	initial  float64
	energy   []float64
	frame    int
	canvas   *Canvas
	camera   *Camera
	fitted   bool
	done     bool
	err      error
	showHelp bool
}

func NewProgress(title string, end float64, updates <-chan tea.Msg, stop func()) Progress {
	if stop == nil {
		stop = func() {}
	}
	return Progress{
		title:   title,
		end:     end,
		updates: updates,
		stop:    stop,
		energy:  make([]float64, 0, historyCapacity),
		canvas:  NewCanvas(canvasWidth, canvasHeight),
		camera:  NewCamera(),
	}
}

func (m Progress) Err() error { return m.err }

func (m Progress) wait() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-m.updates
		if !ok {
			return DoneMsg{}
		}
		return msg
	}
}

func (m Progress) Init() tea.Cmd { return m.wait() }

func (m Progress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.stop()
			return m, tea.Quit
		case "x":
			m.camera.RotateX(0.1)
		case "X":
			m.camera.RotateX(-0.1)
		case "y":
			m.camera.RotateY(0.1)
		case "Y":
			m.camera.RotateY(-0.1)
		case "z":
			m.camera.RotateZ(0.1)
		case "Z":
			m.camera.RotateZ(-0.1)
		case "+", "=":
			m.camera.ZoomIn()
		case "-", "_":
			m.camera.ZoomOut()
		case "?":
			m.showHelp = !m.showHelp
		}
		return m, nil
	case StepMsg:
		if len(m.energy) == 0 {
			m.initial = msg.Diag.Total()
		}
		m.diag = msg.Diag
		m.frame++
		m.energy = append(m.energy, msg.Diag.Total())
		if len(m.energy) > historyCapacity {
			m.energy = m.energy[1:]
		}
		if msg.Positions != nil {
			if !m.fitted {
				m.camera.Fit(msg.Positions, 0.9)
				m.fitted = true
			}
			m.canvas.Plot(msg.Positions, m.camera)
		}
		return m, m.wait()
	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit
	}
	return m, nil
}

func (m Progress) drift() float64 {
	if m.initial == 0 {
		return 0
	}
	return math.Abs(m.diag.Total()-m.initial) / math.Abs(m.initial)
}

func (m Progress) View() string {
	var s strings.Builder
	s.WriteString(Title.Render(strings.ToUpper(m.title)) + "\n")
	switch {
	case m.err != nil:
		s.WriteString(StatusFailed.Render("FAILED: "+m.err.Error()) + "\n\n")
	case m.done:
		s.WriteString(StatusDone.Render("DONE") + "\n\n")
	default:
		s.WriteString(StatusRunning.Render(Spinner(m.frame)+" RUNNING") + "\n\n")
	}

	fraction := 0.0
	if m.end > 0 {
		fraction = m.diag.Time / m.end
	}
	s.WriteString(ProgressBar(fraction, 30) + fmt.Sprintf(" %3.0f%%\n\n", 100*fraction))

	if len(m.energy) > 1 {
		chart := asciigraph.Plot(m.energy, asciigraph.Height(4), asciigraph.Width(30), asciigraph.Caption("Total energy"))
		s.WriteString(graphStyle.Render(chart) + "\n\n")
	}

	rows := [][2]string{
		{"Step", fmt.Sprintf("%d", m.diag.Step)},
		{"Time", fmt.Sprintf("%.4f / %.4f", m.diag.Time, m.end)},
		{"Particles", fmt.Sprintf("%d", m.diag.Count)},
		{"Escaped", fmt.Sprintf("%d", m.diag.Escaped)},
		{"Removed", fmt.Sprintf("%d", m.diag.Removed)},
		{"Energy", Sci(m.diag.Total())},
		{"Drift", Sci(m.drift())},
		{"Virial", fmt.Sprintf("%.4f", m.diag.Virial())},
		{"Imbalance", fmt.Sprintf("%.3f", m.diag.Imbalance)},
		{"Interactions", fmt.Sprintf("%d", m.diag.Interactions)},
	}
	for _, r := range rows {
		s.WriteString(MetricLabel.Render(r[0]) + MetricValue.Render(r[1]) + "\n")
	}
	s.WriteString(KeyHint.Render("\nQ:Quit  X/Y/Z:Rotate  +/-:Zoom  ?:Help"))

	mainView := lipgloss.JoinHorizontal(lipgloss.Top, m.canvas.String(), statsStyle.Render(s.String()))
	if m.showHelp {
		help := Panel.Render(strings.Join([]string{
			"Q        - Stop the run and quit",
			"X, Y, Z  - Rotate about an axis",
			"Shift    - Reverse the rotation",
			"+ / -    - Zoom in / out",
			"?        - Toggle this help",
		}, "\n"))
		return help + "\n\n" + mainView
	}
	return mainView
}
