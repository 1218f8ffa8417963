package ui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

type fakeSource struct {
	mu        sync.Mutex
	jobs      []*models.Job
	listErr   error
	cancelErr error
	cancelled []string
	filters   []models.JobFilter
}

func (f *fakeSource) List(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	return f.jobs, f.listErr
}

func (f *fakeSource) Cancel(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return f.cancelErr
}

func sampleJobs() []*models.Job {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []*models.Job{
		{ID: "aaaaaaaa-0001", Type: models.JobMetadataMatchAll, Status: models.JobRunning, Processed: 5, Total: 20, CreatedAt: started, StartedAt: &started},
		{ID: "bbbbbbbb-0002", Type: models.JobLibrarySync, Status: models.JobFailed, Error: "spotify returned 401", CreatedAt: started},
	}
}

func newTestModel(src *fakeSource) *Model {
	m := NewModel(context.Background(), src, models.JobFilter{Status: models.JobRunning})
	m.now = func() time.Time { return time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC) }
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return m
}

func press(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// load runs the fetch command and feeds its message back into the model.
func load(t *testing.T, m *Model) {
	t.Helper()
	msg := m.fetchJobs()()
	if _, ok := msg.(Msg); !ok {
		t.Fatalf("fetch returned %T, want Msg", msg)
	}
	m.Update(msg)
}

func TestModel(t *testing.T) {
	t.Run("lists jobs with the filter", func(t *testing.T) {
		src := &fakeSource{jobs: sampleJobs()}
		m := newTestModel(src)
		load(t, m)

		if len(m.jobList.Items()) != 2 {
			t.Fatalf("expected 2 items, got %d", len(m.jobList.Items()))
		}
		if src.filters[0].Status != models.JobRunning || src.filters[0].Limit != 50 {
			t.Errorf("unexpected filter %+v", src.filters[0])
		}
		out := m.View()
		for _, want := range []string{"aaaaaaaa", "metadata-match-all", "5/20", "spotify returned 401"} {
			if !strings.Contains(out, want) {
				t.Errorf("view missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("details and back", func(t *testing.T) {
		m := newTestModel(&fakeSource{jobs: sampleJobs()})
		load(t, m)

		m.Update(press("enter"))
		if m.view != DetailView || m.selected != "aaaaaaaa-0001" {
			t.Fatalf("expected detail of first job, got view %d selected %q", m.view, m.selected)
		}
		if out := m.View(); !strings.Contains(out, "Progress:  5/20 (25%)") {
			t.Errorf("detail missing progress:\n%s", out)
		}

		m.Update(press("esc"))
		if m.view != ListView || m.selected != "" {
			t.Errorf("expected list view after esc, got %d", m.view)
		}
	})

	t.Run("cancel selected job", func(t *testing.T) {
		src := &fakeSource{jobs: sampleJobs()}
		m := newTestModel(src)
		load(t, m)

		_, cmd := m.Update(press("c"))
		if cmd == nil {
			t.Fatal("expected cancel command")
		}
		m.Update(cmd())
		if len(src.cancelled) != 1 || src.cancelled[0] != "aaaaaaaa-0001" {
			t.Errorf("expected first job cancelled, got %v", src.cancelled)
		}
		if !strings.Contains(m.status, "cancelled aaaaaaaa") {
			t.Errorf("unexpected status %q", m.status)
		}
	})

	t.Run("cancel failure is shown", func(t *testing.T) {
		src := &fakeSource{jobs: sampleJobs(), cancelErr: shared.ErrInvalidTransition}
		m := newTestModel(src)
		load(t, m)

		_, cmd := m.Update(press("c"))
		m.Update(cmd())
		if !strings.Contains(m.status, "invalid") {
			t.Errorf("expected error status, got %q", m.status)
		}
	})

	t.Run("fetch error", func(t *testing.T) {
		m := newTestModel(&fakeSource{listErr: errors.New("database is locked")})
		load(t, m)
		if out := m.View(); !strings.Contains(out, "database is locked") {
			t.Errorf("expected error in view, got %q", out)
		}
	})

	t.Run("tick refreshes", func(t *testing.T) {
		m := newTestModel(&fakeSource{})
		if _, cmd := m.Update(tickMsg(time.Now())); cmd == nil {
			t.Error("tick should schedule a fetch and the next tick")
		}
	})

	t.Run("quit", func(t *testing.T) {
		m := newTestModel(&fakeSource{})
		_, cmd := m.Update(press("q"))
		if cmd == nil {
			t.Fatal("expected quit command")
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Error("expected tea.QuitMsg")
		}
	})
}
