package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/desertthunder/crate/internal/formatter"
	"github.com/desertthunder/crate/internal/models"
)

var _ list.Item = jobItem{}

// jobItem wraps [models.Job] to implement [list.Item].
type jobItem struct {
	job *models.Job
	bar *progress.Model
}

func (i jobItem) FilterValue() string { return string(i.job.Type) + " " + string(i.job.Status) }
func (i jobItem) Title() string {
	return fmt.Sprintf("%s  %s", formatter.ShortID(i.job.ID), i.job.Type)
}

func (i jobItem) Description() string {
	desc := string(i.job.Status)
	if i.job.Total > 0 && i.bar != nil {
		desc = fmt.Sprintf("%s  %s %d/%d", desc, i.bar.ViewAs(i.job.Percent()/100), i.job.Processed, i.job.Total)
	}
	if i.job.Error != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.job.Error)
	}
	return desc
}
