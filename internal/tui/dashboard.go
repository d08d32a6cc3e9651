package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/networkbuster/compositor/internal/model"
)

const (
	// DashboardPageID identifies the dashboard page.
	DashboardPageID = "dashboard"

	recentLimit = 50
	barWidth    = 24
)

var availableIntervals = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
}

// DashboardPage shows totals, rate, the type distribution and recent events.
type DashboardPage struct {
	src  DataSource
	keys KeyMap

	intervalIdx  int
	paused       bool
	tickInFlight bool

	snapshot     model.Snapshot
	distribution map[string]float64
	typeFilter   string
	table        table.Model

	lastError string
	lastOK    time.Time
}

// NewDashboardPage creates the dashboard polling src every interval.
func NewDashboardPage(src DataSource, interval time.Duration) *DashboardPage {
	idx := 1
	for i, d := range availableIntervals {
		if d == interval {
			idx = i
			break
		}
	}

	t := table.New(
		table.WithColumns(eventColumns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ColorNavy).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(ColorWhite).
		Background(ColorNavy)
	t.SetStyles(styles)

	return &DashboardPage{
		src:         src,
		keys:        DefaultKeyMap(),
		intervalIdx: idx,
		table:       t,
	}
}

func (d *DashboardPage) ID() string { return DashboardPageID }

func (d *DashboardPage) interval() time.Duration { return availableIntervals[d.intervalIdx] }

func (d *DashboardPage) Init() tea.Cmd {
	d.tickInFlight = true
	return tea.Batch(fetchCmd(d.src, recentLimit, d.typeFilter), tickCmd(d.interval()))
}

func (d *DashboardPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.resize(msg.Width, msg.Height)

	case TickMsg:
		if d.paused || d.tickInFlight {
			return tickCmd(d.interval()), nil
		}
		d.tickInFlight = true
		return tea.Batch(fetchCmd(d.src, recentLimit, d.typeFilter), tickCmd(d.interval())), nil

	case dataLoadedMsg:
		d.tickInFlight = false
		d.apply(msg)

	case tea.KeyMsg:
		switch {
		case keyMatches(msg, d.keys.Pause):
			d.paused = !d.paused
		case keyMatches(msg, d.keys.CycleType):
			d.typeFilter = nextType(d.snapshot.EventTypes, d.typeFilter)
		case keyMatches(msg, d.keys.IntervalUp):
			d.intervalIdx = min(d.intervalIdx+1, len(availableIntervals)-1)
		case keyMatches(msg, d.keys.IntervalDown):
			d.intervalIdx = max(d.intervalIdx-1, 0)
		default:
			var cmd tea.Cmd
			d.table, cmd = d.table.Update(msg)
			return cmd, nil
		}
	}
	return nil, nil
}

func (d *DashboardPage) apply(msg dataLoadedMsg) {
	if msg.err != nil {
		d.lastError = msg.err.Error()
		return
	}
	d.lastError = ""
	d.lastOK = msg.at
	d.snapshot = msg.snapshot
	d.distribution = msg.distribution
	d.table.SetRows(eventRows(msg.recent))
	if n := len(msg.recent); n > 0 {
		d.table.SetCursor(n - 1)
	}
}

func (d *DashboardPage) resize(width, height int) {
	d.table.SetColumns(eventColumns(width - 4))
	// Header, totals, distribution and status take about 14 lines.
	d.table.SetHeight(max(height-14-len(d.distribution), 3))
}

func eventColumns(width int) []table.Column {
	summary := max(width-8-16-12-6, 20)
	return []table.Column{
		{Title: "Time", Width: 8},
		{Title: "Source", Width: 16},
		{Title: "Type", Width: 12},
		{Title: "Summary", Width: summary},
	}
}

func eventRows(events []model.Event) []table.Row {
	rows := make([]table.Row, 0, len(events))
	for _, ev := range events {
		rows = append(rows, table.Row{
			ev.Timestamp.Local().Format("15:04:05"),
			ev.Source,
			ev.Kind,
			eventSummary(ev),
		})
	}
	return rows
}

// eventSummary picks the most readable payload field of an event.
func eventSummary(ev model.Event) string {
	if content, ok := ev.Data["content"].(string); ok && content != "" {
		if file, ok := ev.Data["file"].(string); ok && file != "" {
			return fmt.Sprintf("%s: %s", shortPath(file), content)
		}
		return content
	}
	if msg, ok := ev.Data["message"].(string); ok && msg != "" {
		return msg
	}
	if len(ev.Data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(ev.Data))
	for k := range ev.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, ev.Data[k]))
	}
	return strings.Join(parts, " ")
}

func shortPath(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// nextType cycles the type filter through "" and the known types in order.
func nextType(types map[string]int64, current string) string {
	kinds := make([]string, 0, len(types))
	for k := range types {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	if current == "" {
		if len(kinds) == 0 {
			return ""
		}
		return kinds[0]
	}
	for i, k := range kinds {
		if k == current && i+1 < len(kinds) {
			return kinds[i+1]
		}
	}
	return ""
}

func (d *DashboardPage) View(width, height int) string {
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		renderBranding(),
		statusStyle.Render(" compositor dashboard "),
	)

	totals := d.renderTotals()
	dist := panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Event types"),
		renderDistribution(d.distribution, d.snapshot.EventTypes),
	))

	filter := "all types"
	if d.typeFilter != "" {
		filter = d.typeFilter
	}
	events := panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Recent events")+labelStyle.Render(" ("+filter+")"),
		d.table.View(),
	))

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		totals,
		dist,
		events,
		d.renderStatusLine(width),
	)
}

func (d *DashboardPage) renderTotals() string {
	item := func(label, value string) string {
		return labelStyle.Render(label+" ") + valueStyle.Render(value)
	}
	return panelStyle.Render(strings.Join([]string{
		item("Total", fmt.Sprintf("%d", d.snapshot.TotalEvents)),
		item("Rate", fmt.Sprintf("%.2f/s", d.snapshot.EventsPerSecond)),
		item("Sources", fmt.Sprintf("%d", len(d.snapshot.Sources))),
		item("Types", fmt.Sprintf("%d", len(d.snapshot.EventTypes))),
	}, "   "))
}

// renderDistribution draws one bar per type, largest share first.
func renderDistribution(dist map[string]float64, counts map[string]int64) string {
	if len(dist) == 0 {
		return helpStyle.Render("No events yet")
	}
	kinds := make([]string, 0, len(dist))
	for k := range dist {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool {
		if dist[kinds[i]] != dist[kinds[j]] {
			return dist[kinds[i]] > dist[kinds[j]]
		}
		return kinds[i] < kinds[j]
	})

	lines := make([]string, 0, len(kinds))
	for _, k := range kinds {
		pct := dist[k]
		fill := int(pct / 100 * barWidth)
		if fill == 0 && pct > 0 {
			fill = 1
		}
		bar := strings.Repeat("█", fill) + strings.Repeat("░", barWidth-fill)
		lines = append(lines, fmt.Sprintf("%-14s %s %s %s",
			k,
			lipgloss.NewStyle().Foreground(kindColor(k)).Render(bar),
			labelStyle.Render(fmt.Sprintf("%5.1f%%", pct)),
			labelStyle.Render(fmt.Sprintf("(%d)", counts[k])),
		))
	}
	return strings.Join(lines, "\n")
}

func (d *DashboardPage) renderStatusLine(width int) string {
	var left string
	switch {
	case d.lastError != "":
		left = errorStyle.Render("● " + d.lastError)
	case d.paused:
		left = lipgloss.NewStyle().Foreground(ColorAmber).Render("● paused")
	default:
		left = lipgloss.NewStyle().Foreground(ColorGreen).Render("● live")
	}

	var help []string
	for _, b := range d.keys.ShortHelp() {
		h := b.Help()
		help = append(help, h.Key+" "+h.Desc)
	}
	right := fmt.Sprintf("every %s  %s", d.interval(), strings.Join(help, " · "))
	line := left + "  " + right
	if width > 0 {
		return statusStyle.Width(width).Render(line)
	}
	return statusStyle.Render(line)
}
