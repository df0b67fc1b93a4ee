package components

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestSparkline_Window(t *testing.T) {
	s := NewSparkline(3, "req/s", lipgloss.NewStyle())

	for _, v := range []float64{1, 8, 2, 4} {
		s.Add(v)
	}

	assert.Equal(t, []float64{8, 2, 4}, s.Data)
	assert.Equal(t, 8.0, s.Max)
	assert.Equal(t, 4.0, s.Last())

	s.Add(-3)
	assert.Equal(t, 0.0, s.Last())
}

func TestSparkline_View(t *testing.T) {
	s := NewSparkline(4, "req/s", lipgloss.NewStyle())
	s.Add(0)
	s.Add(8)

	lines := strings.Split(s.View(), "\n")
	assert.Len(t, lines, 2)
	assert.Equal(t, "req/s 8.0 (peak 8.0)", lines[0])
	assert.Equal(t, " █", strings.TrimRight(lines[1], " "))
}

func TestSparkline_ZeroWidth(t *testing.T) {
	s := NewSparkline(0, "x", lipgloss.NewStyle())
	assert.Empty(t, s.View())
}

func TestLevel(t *testing.T) {
	assert.Equal(t, " ", level(5, 0))
	assert.Equal(t, "█", level(10, 10))
	assert.Equal(t, "▄", level(5, 10))
}
