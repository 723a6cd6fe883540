package tui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handiism/offline-regions/internal/catalog"
	"github.com/handiism/offline-regions/internal/config"
	"github.com/handiism/offline-regions/internal/download"
	"github.com/handiism/offline-regions/internal/metadata"
	"github.com/handiism/offline-regions/internal/model"
	"github.com/handiism/offline-regions/internal/store/storetest"
)

type fixture struct {
	store *storetest.Fake
	orch  *download.Orchestrator
	deps  Deps
}

func newFixture() *fixture {
	st := storetest.New()
	orch := download.NewOrchestrator(st, download.Options{Logger: zerolog.Nop()})
	settings := config.DefaultSettings()
	settings.TileURL = "https://tiles.example.com/{z}/{x}/{y}.png"
	return &fixture{
		store: st,
		orch:  orch,
		deps: Deps{
			Orchestrator: orch,
			Catalog:      catalog.NewReader(st, zerolog.Nop()),
			Deleter:      download.NewDeleter(st, zerolog.Nop()),
			Settings:     settings,
		},
	}
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// drain runs cmd and returns the messages it produced, flattening batches.
func drain(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, drain(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}

func waitActive(t *testing.T, f *fixture) *model.Region {
	t.Helper()
	select {
	case region := <-f.store.Activated():
		return region
	case <-time.After(2 * time.Second):
		t.Fatal("region was never activated")
		return nil
	}
}

func TestStartDownloadAndFollow(t *testing.T) {
	f := newFixture()
	m := NewModel(f.deps)
	require.Equal(t, StateInput, m.State())

	m.textInput.SetValue("Home")
	m = update(t, m, key("enter"))
	assert.Equal(t, StateDownloading, m.State())

	waitActive(t, f)

	m = update(t, m, EventMsg{Event: model.Downloading{RegionName: "Home", Percent: 40}})
	assert.Equal(t, 40, m.percent)
	assert.Contains(t, m.View(), "Downloading Home")

	m = update(t, m, EventMsg{Event: model.TileCountLimitExceeded{Limit: 6000}})
	assert.Contains(t, m.View(), "6000")

	m = update(t, m, EventMsg{Event: model.Done{RegionName: "Home", CompletedAt: time.Now()}})
	assert.Equal(t, StateComplete, m.State())
	assert.Contains(t, m.View(), "Download Complete")
}

func TestFailureShowsCause(t *testing.T) {
	f := newFixture()
	m := NewModel(f.deps)

	m.textInput.SetValue("Home")
	m = update(t, m, key("enter"))

	cause := &model.RegionError{Reason: model.ReasonServer, Message: "HTTP 503"}
	m = update(t, m, EventMsg{Event: model.Failed{RegionName: "Home", Cause: cause}})
	assert.Equal(t, StateError, m.State())
	assert.Contains(t, m.View(), "HTTP 503")

	m = update(t, m, key("r"))
	assert.Equal(t, StateInput, m.State())
}

func TestReplayedTerminalEventIgnoredOnInput(t *testing.T) {
	f := newFixture()
	m := NewModel(f.deps)

	m = update(t, m, EventMsg{Event: model.Done{RegionName: "Earlier"}})
	assert.Equal(t, StateInput, m.State())
}

func TestAttachesToRunningDownload(t *testing.T) {
	f := newFixture()
	f.orch.Execute(context.Background(), "Running", f.deps.Settings.DefaultDefinition())
	waitActive(t, f)

	m := NewModel(f.deps)
	assert.Equal(t, StateDownloading, m.State())
}

func TestRegionsViewDeletes(t *testing.T) {
	f := newFixture()
	meta, err := metadata.Encode("Home")
	require.NoError(t, err)
	f.store.Seed(f.deps.Settings.DefaultDefinition(), meta)

	m := NewModel(f.deps)
	next, cmd := m.Update(key("tab"))
	m = next.(Model)
	require.Equal(t, StateRegions, m.State())
	require.NotNil(t, cmd)

	for _, msg := range drain(cmd) {
		m = update(t, m, msg)
	}
	require.Len(t, m.entries, 1)
	assert.Contains(t, m.View(), "Home")

	next, cmd = m.Update(key("x"))
	m = next.(Model)
	msgs := drain(cmd)
	require.Len(t, msgs, 1)
	deleted, ok := msgs[0].(DeletedMsg)
	require.True(t, ok)
	require.NoError(t, deleted.Err)
	assert.Equal(t, "Home", deleted.Name)

	next, cmd = m.Update(deleted)
	m = next.(Model)
	for _, msg := range drain(cmd) {
		m = update(t, m, msg)
	}
	assert.Empty(t, m.entries)
	assert.Contains(t, m.View(), "Deleted Home")
}
