// Package tui renders a live terminal dashboard for a running compositor.
package tui

import tea "github.com/charmbracelet/bubbletea"

// Page is a top-level screen of the dashboard.
type Page interface {
	ID() string
	Init() tea.Cmd
	Update(msg tea.Msg) (tea.Cmd, *PageNav)
	View(width, height int) string
}

// PageNav is returned from Update to request a page switch.
type PageNav struct {
	PageID string
}

// App is the top-level Bubble Tea model that routes between pages.
type App struct {
	pages      map[string]Page
	order      []string
	activePage string
	width      int
	height     int
	keys       KeyMap
}

// NewApp creates a new App with the given pages. The first page is the default.
func NewApp(pages ...Page) *App {
	pageMap := make(map[string]Page, len(pages))
	order := make([]string, 0, len(pages))
	for _, p := range pages {
		pageMap[p.ID()] = p
		order = append(order, p.ID())
	}
	a := &App{pages: pageMap, order: order, keys: DefaultKeyMap()}
	if len(order) > 0 {
		a.activePage = order[0]
	}
	return a
}

// ActivePage returns the ID of the page being shown.
func (a *App) ActivePage() string { return a.activePage }

func (a *App) Init() tea.Cmd {
	var cmds []tea.Cmd
	for _, id := range a.order {
		cmds = append(cmds, a.pages[id].Init())
	}
	return tea.Batch(cmds...)
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
	case tea.KeyMsg:
		switch {
		case keyMatches(msg, a.keys.Quit), keyMatches(msg, a.keys.ForceQuit):
			return a, tea.Quit
		case keyMatches(msg, a.keys.NextPage):
			a.activePage = a.nextPage()
			return a, nil
		}
	}

	// Data messages reach every page so hidden pages stay current.
	if _, isKey := msg.(tea.KeyMsg); !isKey {
		var cmds []tea.Cmd
		for _, id := range a.order {
			cmd, _ := a.pages[id].Update(msg)
			cmds = append(cmds, cmd)
		}
		return a, tea.Batch(cmds...)
	}

	p, ok := a.pages[a.activePage]
	if !ok {
		return a, nil
	}
	cmd, nav := p.Update(msg)
	if nav != nil {
		if _, exists := a.pages[nav.PageID]; exists {
			a.activePage = nav.PageID
		}
	}
	return a, cmd
}

func (a *App) nextPage() string {
	for i, id := range a.order {
		if id == a.activePage {
			return a.order[(i+1)%len(a.order)]
		}
	}
	return a.activePage
}

func (a *App) View() string {
	if p, ok := a.pages[a.activePage]; ok {
		return p.View(a.width, a.height)
	}
	return "No active page"
}
