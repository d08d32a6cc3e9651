package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/networkbuster/compositor/internal/model"
)

// DataSource is the read side the dashboard polls. socketrpc.Client
// satisfies it.
type DataSource interface {
	Snapshot(recent int) (model.Snapshot, error)
	RecentEvents(count int, source, kind string) ([]model.Event, error)
	TypeDistribution() (map[string]float64, error)
	Sources() ([]model.SourceSummary, error)
}

// TickMsg triggers a refresh.
type TickMsg time.Time

type dataLoadedMsg struct {
	snapshot     model.Snapshot
	recent       []model.Event
	distribution map[string]float64
	sources      []model.SourceSummary
	err          error
	at           time.Time
}

func tickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchCmd reads everything one refresh needs. The first error aborts the
// refresh so the previous data stays on screen.
func fetchCmd(src DataSource, recent int, kind string) tea.Cmd {
	return func() tea.Msg {
		msg := dataLoadedMsg{at: time.Now()}

		snap, err := src.Snapshot(recent)
		if err != nil {
			msg.err = err
			return msg
		}
		msg.snapshot = snap
		msg.recent = snap.RecentEvents

		if kind != "" {
			if msg.recent, err = src.RecentEvents(recent, "", kind); err != nil {
				msg.err = err
				return msg
			}
		}
		if msg.distribution, err = src.TypeDistribution(); err != nil {
			msg.err = err
			return msg
		}
		if msg.sources, err = src.Sources(); err != nil {
			msg.err = err
			return msg
		}
		return msg
	}
}
