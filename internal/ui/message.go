package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/crate/internal/models"
)

// MsgKind enumerates all message types in the monitor.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgJobsFetched MsgKind = iota
	MsgJobCancelled
	MsgTick
)

type jobsFetched struct {
	jobs []*models.Job
	err  error
}

type jobCancelled struct {
	id  string
	err error
}

// jobsFetchedMsg is the constructor for [MsgJobsFetched]
func jobsFetchedMsg(jobs []*models.Job, err error) Msg {
	return Msg{kind: MsgJobsFetched, data: jobsFetched{jobs, err}}
}

// jobCancelledMsg is the constructor for [MsgJobCancelled]
func jobCancelledMsg(id string, err error) Msg {
	return Msg{kind: MsgJobCancelled, data: jobCancelled{id, err}}
}

// tickMsg is the constructor for [MsgTick]
func tickMsg(t time.Time) Msg {
	return Msg{kind: MsgTick, data: t}
}
