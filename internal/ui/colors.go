package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/crate/internal/models"
)

var styles = NewPalette(Colors{
	Title:   "#7D56F4",
	OK:      "#04B575",
	Err:     "#FF0000",
	Warn:    "#FFA500",
	Muted:   "#626262",
	Running: "#00B7EB",
})

// Colors are the hex colors of the job monitor.
type Colors struct {
	Title, OK, Err, Warn, Muted, Running string
}

// Palette holds the monitor's named styles and one style per job status.
type Palette struct {
	title  lipgloss.Style
	ok     lipgloss.Style
	err    lipgloss.Style
	warn   lipgloss.Style
	muted  lipgloss.Style
	status map[models.JobStatus]lipgloss.Style
}

func NewPalette(c Colors) *Palette {
	return &Palette{
		title: NewBold(c.Title).MarginBottom(1),
		ok:    NewBold(c.OK),
		err:   NewBold(c.Err),
		warn:  NewStyle(c.Warn),
		muted: NewEm(c.Muted),
		status: map[models.JobStatus]lipgloss.Style{
			models.JobPending:   NewEm(c.Muted),
			models.JobRunning:   NewBold(c.Running),
			models.JobCompleted: NewStyle(c.OK),
			models.JobFailed:    NewBold(c.Err),
		},
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

// Status renders a job status in its color; unknown values are muted.
func (p *Palette) Status(s models.JobStatus) string {
	style, ok := p.status[s]
	if !ok {
		style = p.muted
	}
	return style.Render(string(s))
}
