package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/crate/internal/formatter"
	"github.com/desertthunder/crate/internal/models"
)

// RefreshInterval is how often the monitor re-reads jobs.
const RefreshInterval = time.Second

// ViewState represents the current view in the TUI.
type ViewState int

const (
	ListView ViewState = iota
	DetailView
)

// JobSource reads and cancels jobs.
type JobSource interface {
	List(ctx context.Context, filter models.JobFilter) ([]*models.Job, error)
	Cancel(ctx context.Context, id string) error
}

// Model represents the monitor state.
type Model struct {
	ctx      context.Context
	source   JobSource
	filter   models.JobFilter
	interval time.Duration
	now      func() time.Time

	view     ViewState
	width    int
	height   int
	jobList  list.Model
	jobs     []*models.Job
	selected string
	bar      progress.Model
	status   string
	err      error
	help     help.Model
	keys     keyMap
}

// NewModel creates a monitor that lists jobs matching filter.
func NewModel(ctx context.Context, source JobSource, filter models.JobFilter) *Model {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(24), progress.WithoutPercentage())
	jobList := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	jobList.Title = "crate jobs"
	jobList.SetShowHelp(false)

	return &Model{
		ctx:      ctx,
		source:   source,
		filter:   filter,
		interval: RefreshInterval,
		now:      time.Now,
		view:     ListView,
		jobList:  jobList,
		bar:      bar,
		help:     help.New(),
		keys:     newKeyMap(),
	}
}

// Init fetches jobs and starts the refresh tick.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.fetchJobs(), m.tick())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.jobList.SetSize(msg.Width-4, msg.Height-6)
		return m, nil

	case tea.KeyMsg:
		if m.jobList.FilterState() == list.Filtering {
			break
		}
		switch m.view {
		case ListView:
			return m.handleListKeys(msg)
		case DetailView:
			return m.handleDetailKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	var cmd tea.Cmd
	m.jobList, cmd = m.jobList.Update(msg)
	return m, cmd
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgTick:
		return m, tea.Batch(m.fetchJobs(), m.tick())

	case MsgJobsFetched:
		data := msg.data.(jobsFetched)
		if data.err != nil {
			m.err = data.err
			return m, nil
		}
		m.err = nil
		m.jobs = data.jobs
		return m, m.jobList.SetItems(m.items())

	case MsgJobCancelled:
		data := msg.data.(jobCancelled)
		if data.err != nil {
			m.status = styles.err.Render(fmt.Sprintf("cancel %s: %v", formatter.ShortID(data.id), data.err))
			return m, nil
		}
		m.status = styles.ok.Render(fmt.Sprintf("cancelled %s", formatter.ShortID(data.id)))
		return m, m.fetchJobs()
	}
	return m, nil
}

func (m *Model) handleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.refresh):
		return m, m.fetchJobs()
	case key.Matches(msg, m.keys.enter):
		if job := m.selectedJob(); job != nil {
			m.selected = job.ID
			m.view = DetailView
		}
		return m, nil
	case key.Matches(msg, m.keys.cancel):
		if job := m.selectedJob(); job != nil {
			return m, m.cancelJob(job.ID)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.jobList, cmd = m.jobList.Update(msg)
	return m, cmd
}

func (m *Model) handleDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = ListView
		m.selected = ""
		return m, nil
	case key.Matches(msg, m.keys.cancel):
		if m.selected != "" {
			return m, m.cancelJob(m.selected)
		}
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil && len(m.jobs) == 0 {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress q to quit", m.err))
	}

	switch m.view {
	case DetailView:
		return m.renderDetail()
	default:
		return m.renderList()
	}
}

func (m *Model) renderList() string {
	out := m.jobList.View()
	if m.status != "" {
		out += "\n" + m.status
	}
	return fmt.Sprintf("%s\n\n%s", out, m.help.ShortHelpView(m.keys.ShortHelp()))
}

func (m *Model) renderDetail() string {
	job := m.find(m.selected)
	if job == nil {
		return styles.warn.Render("Job is no longer listed\n\nPress esc to go back")
	}

	title := styles.title.Render(fmt.Sprintf("%s %s", job.Type, styles.Status(job.Status)))
	body := formatter.JobDetail(job, m.now())
	if job.Total > 0 {
		body = fmt.Sprintf("%s\n%s", m.bar.ViewAs(job.Percent()/100), body)
	}
	out := fmt.Sprintf("%s\n%s", title, body)
	if m.status != "" {
		out += "\n" + m.status
	}
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.back, m.keys.cancel, m.keys.quit})
	return fmt.Sprintf("%s\n%s", out, helpView)
}

func (m *Model) items() []list.Item {
	items := make([]list.Item, len(m.jobs))
	for i, j := range m.jobs {
		items[i] = jobItem{job: j, bar: &m.bar}
	}
	return items
}

func (m *Model) selectedJob() *models.Job {
	if item, ok := m.jobList.SelectedItem().(jobItem); ok {
		return item.job
	}
	return nil
}

func (m *Model) find(id string) *models.Job {
	for _, j := range m.jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) fetchJobs() tea.Cmd {
	return func() tea.Msg {
		jobs, err := m.source.List(m.ctx, m.filter)
		return jobsFetchedMsg(jobs, err)
	}
}

func (m *Model) cancelJob(id string) tea.Cmd {
	return func() tea.Msg {
		return jobCancelledMsg(id, m.source.Cancel(m.ctx, id))
	}
}
