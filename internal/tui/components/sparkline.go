package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var levels = []string{" ", "▁", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

// Sparkline is a one line scrolling chart of the last Width samples,
// scaled to the largest visible sample.
type Sparkline struct {
	Data  []float64
	Width int
	Max   float64
	Style lipgloss.Style
	Label string
}

func NewSparkline(width int, label string, style lipgloss.Style) Sparkline {
	return Sparkline{
		Width: width,
		Label: label,
		Style: style,
		Data:  make([]float64, 0, width),
	}
}

func (s *Sparkline) Add(val float64) {
	if val < 0 {
		val = 0
	}
	s.Data = append(s.Data, val)
	if len(s.Data) > s.Width {
		s.Data = s.Data[len(s.Data)-s.Width:]
	}

	peak := 0.0
	for _, v := range s.Data {
		peak = max(peak, v)
	}
	s.Max = peak
}

// Last is the newest sample, 0 when empty.
func (s Sparkline) Last() float64 {
	if len(s.Data) == 0 {
		return 0
	}
	return s.Data[len(s.Data)-1]
}

func (s Sparkline) View() string {
	if s.Width <= 0 {
		return ""
	}

	var graph strings.Builder
	for _, v := range s.Data {
		graph.WriteString(level(v, s.Max))
	}
	if pad := s.Width - len(s.Data); pad > 0 {
		graph.WriteString(strings.Repeat(" ", pad))
	}

	header := fmt.Sprintf("%s %.1f (peak %.1f)", s.Label, s.Last(), s.Max)
	return s.Style.Render(header) + "\n" + s.Style.Render(graph.String())
}

func level(v, peak float64) string {
	if peak <= 0 {
		return levels[0]
	}
	idx := int(v / peak * float64(len(levels)-1))
	idx = min(max(idx, 0), len(levels)-1)
	return levels[idx]
}
