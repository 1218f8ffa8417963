// Package ui implements the `crate jobs watch` monitor using bubbletea's Elm architecture.
//
// The monitor has two views:
//  1. [ListView] : recent jobs, newest first, with a progress bar for jobs that report a total
//  2. [DetailView] : one job with its attempts, error and batch summary
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Jobs are re-read from the [JobSource] on every tick, so progress written by the daemon shows up without
// a connection to it.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, c, r, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
