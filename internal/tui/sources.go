package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/networkbuster/compositor/internal/model"
)

// SourcesPageID identifies the sources page.
const SourcesPageID = "sources"

// SourcesPage lists registered source adapters and their counts.
type SourcesPage struct {
	sources []model.SourceSummary
	counts  map[string]int64
}

// NewSourcesPage creates the sources page. It is fed by the dashboard's
// refreshes.
func NewSourcesPage() *SourcesPage { return &SourcesPage{} }

func (p *SourcesPage) ID() string    { return SourcesPageID }
func (p *SourcesPage) Init() tea.Cmd { return nil }

func (p *SourcesPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	if msg, ok := msg.(dataLoadedMsg); ok && msg.err == nil {
		p.sources = msg.sources
		p.counts = msg.snapshot.Sources
	}
	return nil, nil
}

func (p *SourcesPage) View(width, height int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Sources"))
	b.WriteString("\n")
	if len(p.sources) == 0 {
		b.WriteString(helpStyle.Render("No sources registered"))
	}
	for _, s := range p.sources {
		state := lipgloss.NewStyle().Foreground(ColorGreen).Render("enabled ")
		if !s.Enabled {
			state = lipgloss.NewStyle().Foreground(ColorRed).Render("disabled")
		}
		fmt.Fprintf(&b, "%-20s %s  emitted %s  accepted %s\n",
			s.Name,
			state,
			valueStyle.Render(fmt.Sprintf("%d", s.EventCount)),
			valueStyle.Render(fmt.Sprintf("%d", p.counts[s.Name])),
		)
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("tab: back to dashboard · q: quit"))
	return panelStyle.Render(b.String())
}
