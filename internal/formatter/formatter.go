// package formatter renders catalog and job data as terminal tables and exports albums as CSV or JSON
package formatter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))

	statusColors = map[string]lipgloss.Color{
		string(models.JobCompleted): "#04B575",
		string(models.JobFailed):    "#FF0000",
		string(models.JobRunning):   "#FFA500",
		string(models.Owned):        "#04B575",
		string(models.Downloading):  "#FFA500",
		string(models.Matched):      "#04B575",
		string(models.NeedsReview):  "#FFA500",
		string(models.NoMatch):      "#FF0000",
	}
)

var albumColumns = []string{
	"ID", "Artist", "Title", "Ownership", "Source", "Match", "Score", "MusicBrainz ID", "Local Path", "Cover", "Last Synced",
}

func albumRecord(a *models.Album) []string {
	score := ""
	if a.MatchScore != nil {
		score = strconv.Itoa(*a.MatchScore)
	}
	synced := ""
	if a.LastSyncedAt != nil {
		synced = a.LastSyncedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		a.ID, a.ArtistName, a.Title,
		string(a.OwnershipStatus), string(a.AcquisitionSource),
		string(a.MatchStatus), score, a.MusicBrainzID,
		deref(a.LocalPath), deref(a.CoverArtRef), synced,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// AlbumsCSV writes albums with a header row.
func AlbumsCSV(w io.Writer, albums []*models.Album) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(albumColumns); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, a := range albums {
		if err := writer.Write(albumRecord(a)); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	return nil
}

// AlbumsJSON writes albums as an indented JSON array.
func AlbumsJSON(w io.Writer, albums []*models.Album) error {
	if albums == nil {
		albums = []*models.Album{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(albums); err != nil {
		return fmt.Errorf("failed to encode albums: %w", err)
	}
	return nil
}

// Export writes albums in format.
func Export(w io.Writer, format string, albums []*models.Album) error {
	switch strings.ToLower(format) {
	case FormatCSV:
		return AlbumsCSV(w, albums)
	case FormatJSON:
		return AlbumsJSON(w, albums)
	default:
		return fmt.Errorf("%w: unsupported export format %q (want csv or json)", shared.ErrInvalidArgument, format)
	}
}

// WriteExport writes albums to path, defaulting to albums.<format>, and returns the path written.
func WriteExport(path, format string, albums []*models.Album) (string, error) {
	if path == "" {
		path = "albums." + strings.ToLower(format)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := Export(f, format, albums); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// newTable returns a bordered table whose status-like columns are colored.
func newTable(headers []string, rows [][]string, colored ...int) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			for _, c := range colored {
				if c == col && row >= 0 && row < len(rows) {
					if color, ok := statusColors[rows[row][col]]; ok {
						return cellStyle.Foreground(color)
					}
				}
			}
			return cellStyle
		})
	return t.String()
}

// AlbumsTable renders albums for the terminal.
func AlbumsTable(albums []*models.Album) string {
	rows := make([][]string, 0, len(albums))
	for _, a := range albums {
		score := "-"
		if a.MatchScore != nil {
			score = strconv.Itoa(*a.MatchScore)
		}
		rows = append(rows, []string{
			ShortID(a.ID), shared.Truncate(a.ArtistName, 28), shared.Truncate(a.Title, 36),
			string(a.OwnershipStatus), string(a.MatchStatus), score,
		})
	}
	return newTable([]string{"ID", "Artist", "Title", "Ownership", "Match", "Score"}, rows, 3, 4)
}

// PlaylistsTable renders playlists with their owned-track counts for the terminal.
func PlaylistsTable(playlists []*models.Playlist, stats map[string]models.PlaylistStats) string {
	rows := make([][]string, 0, len(playlists))
	for _, p := range playlists {
		synced, owned := "never", "-"
		if p.LastSyncedAt != nil {
			synced = p.LastSyncedAt.Format(time.DateTime)
		}
		if s := stats[p.ID]; s.Total > 0 {
			owned = fmt.Sprintf("%d/%d", s.Owned, s.Total)
		}
		enabled := "no"
		if p.Enabled {
			enabled = "yes"
		}
		rows = append(rows, []string{
			ShortID(p.ID), shared.Truncate(p.Name, 36), strconv.Itoa(p.TotalTracks), owned, enabled, synced,
		})
	}
	return newTable([]string{"ID", "Name", "Tracks", "Owned", "Enabled", "Synced"}, rows)
}

// JobsTable renders jobs for the terminal.
func JobsTable(jobs []*models.Job, now time.Time) string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			ShortID(j.ID), string(j.Type), string(j.Status), ShortID(j.EntityID),
			Progress(j), strconv.Itoa(j.Attempts), Age(j, now), shared.Truncate(j.Error, 40),
		})
	}
	return newTable([]string{"ID", "Type", "Status", "Entity", "Progress", "Attempts", "Age", "Error"}, rows, 2)
}

// JobDetail renders one job as aligned key/value lines.
func JobDetail(j *models.Job, now time.Time) string {
	var b strings.Builder
	line := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%-10s %s\n", k+":", v)
		}
	}
	line("ID", j.ID)
	line("Type", string(j.Type))
	line("Status", string(j.Status))
	line("Entity", j.EntityID)
	line("Progress", Progress(j))
	line("Attempts", strconv.Itoa(j.Attempts))
	line("Created", j.CreatedAt.Local().Format(time.DateTime))
	if j.StartedAt != nil {
		line("Started", j.StartedAt.Local().Format(time.DateTime))
		line("Duration", j.Duration(now).Round(time.Second).String())
	}
	line("Error", j.Error)
	if j.Summary != "" {
		b.WriteString("Summary:\n")
		b.WriteString(indentJSON(j.Summary))
		b.WriteString("\n")
	}
	return b.String()
}

func indentJSON(raw string) string {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return "  " + raw
	}
	out, err := json.MarshalIndent(v, "  ", "  ")
	if err != nil {
		return "  " + raw
	}
	return "  " + string(out)
}

// SettingsTable renders the settings singleton. Secrets are only shown as set or unset.
func SettingsTable(s *models.SyncSettings) string {
	set := func(v string) string {
		if v == "" {
			return "unset"
		}
		return "set"
	}
	expiry := "-"
	if s.SpotifyTokenExpiry != nil {
		expiry = s.SpotifyTokenExpiry.Local().Format(time.DateTime)
	}
	rows := [][]string{
		{"auto_sync_enabled", strconv.FormatBool(s.AutoSyncEnabled)},
		{"sync_interval_hours", strconv.Itoa(s.SyncIntervalHours)},
		{"music_dir", s.MusicDir},
		{"lidarr_url", s.LidarrURL},
		{"lidarr_api_key", set(s.LidarrAPIKey)},
		{"spotify_token", set(s.SpotifyRefreshToken + s.SpotifyAccessToken)},
		{"spotify_token_expiry", expiry},
	}
	return newTable([]string{"Setting", "Value"}, rows)
}

// ShortID abbreviates a UUID to its first block.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Progress renders processed/total with a percentage when the total is known.
func Progress(j *models.Job) string {
	if j.Total == 0 {
		if j.Processed == 0 {
			return "-"
		}
		return strconv.Itoa(j.Processed)
	}
	return fmt.Sprintf("%d/%d (%.0f%%)", j.Processed, j.Total, j.Percent())
}

// Age is the run time of started jobs and the wait time of pending ones.
func Age(j *models.Job, now time.Time) string {
	if j.StartedAt != nil {
		return j.Duration(now).Round(time.Second).String()
	}
	return now.Sub(j.CreatedAt).Round(time.Second).String()
}
