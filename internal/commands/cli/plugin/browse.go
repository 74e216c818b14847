package plugin

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewBrowseCommand creates the browse command.
func NewBrowseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Browse plugin bundles interactively",
		Long:  `Open an interactive browser over the bundles in the plugin directory.`,
		RunE:  runBrowse,
	}
}

func runBrowse(_ *cobra.Command, _ []string) error {
	log.Logger = log.Logger.Level(zerolog.Disabled)

	bundles, err := scanBundles(pluginDir())
	if err != nil {
		return fmt.Errorf("failed to scan plugins: %w", err)
	}

	p := tea.NewProgram(newBrowseModel(bundles))
	_, err = p.Run()

	return err
}

type browseModel struct {
	bundles  []bundleInfo
	cursor   int
	expanded bool
	quit     bool
}

// newBrowseModel creates a new TUI model over the scanned bundles.
func newBrowseModel(bundles []bundleInfo) browseModel {
	return browseModel{bundles: bundles}
}

// Init initializes the model.
func (m browseModel) Init() tea.Cmd {
	return nil
}

// Update handles messages and updates the model state.
func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "ctrl+c", "q":
		m.quit = true

		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.bundles)-1 {
			m.cursor++
		}
	case "enter", " ":
		m.expanded = !m.expanded
	case "esc":
		m.expanded = false
	}

	return m, nil
}

// View renders the current state of the model.
func (m browseModel) View() string {
	if m.quit {
		return ""
	}

	var s strings.Builder
	s.WriteString("Plugin Bundles\n")
	s.WriteString(strings.Repeat("=", 50) + "\n\n")

	if len(m.bundles) == 0 {
		s.WriteString("No bundles found.\n\n  q or Ctrl+C: Quit\n")
		return s.String()
	}

	for i, b := range m.bundles {
		selector := "  "
		if i == m.cursor {
			selector = "▶ "
		}
		title := b.Manifest.Title
		if b.Err != nil {
			title = "(invalid bundle)"
		}
		fmt.Fprintf(&s, "%s%s  %s\n", selector, title, b.Path)
	}

	if m.expanded {
		s.WriteString("\n" + m.details(m.bundles[m.cursor]))
	}

	s.WriteString("\nNavigation:\n")
	s.WriteString("  ↑/↓ or j/k: Select bundle\n")
	s.WriteString("  Enter: Toggle details\n")
	s.WriteString("  q or Ctrl+C: Quit\n")

	return s.String()
}

func (m browseModel) details(b bundleInfo) string {
	if b.Err != nil {
		return fmt.Sprintf("Error: %v\n", b.Err)
	}

	mf := b.Manifest
	var s strings.Builder
	fmt.Fprintf(&s, "ID:      %s\n", mf.PluginID())
	fmt.Fprintf(&s, "Entry:   %s\n", mf.Entry)
	fmt.Fprintf(&s, "Runtime: %s\n", mf.Runtime)
	fmt.Fprintf(&s, "Version: %s\n", mf.Version)
	fmt.Fprintf(&s, "System:  %t\n", mf.System)
	fmt.Fprintf(&s, "Hooks:   %s\n", strings.Join(mf.Hooks, ", "))
	fmt.Fprintf(&s, "Routes:  %s\n", strings.Join(mf.Routes, ", "))

	return s.String()
}
