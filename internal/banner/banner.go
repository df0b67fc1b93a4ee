package banner

import (
	"github.com/charmbracelet/lipgloss"

	"orderload/internal/tui/styles"
)

const ascii = `
                 __          __                __
  ____  _________/ /__  _____/ /___  ____ _____/ /
 / __ \/ ___/ __  / _ \/ ___/ / __ \/ __ '/ __  / 
/ /_/ / /  / /_/ /  __/ /  / / /_/ / /_/ / /_/ /  
\____/_/   \__,_/\___/_/  /_/\____/\__,_/\__,_/   `

// Tagline is printed under the logo.
const Tagline = "closed-loop order load generator"

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	logo := renderer.NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)
	sub := renderer.NewStyle().Foreground(styles.ColorSubtle)

	return "\n" + logo.Render(ascii) + "\n" + sub.Render("  "+Tagline) + "\n"
}
