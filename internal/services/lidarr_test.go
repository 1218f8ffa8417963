package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

func TestLidarrService(t *testing.T) {
	ctx := context.Background()

	t.Run("requires api key", func(t *testing.T) {
		if _, err := NewLidarrService("", ""); !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})

	t.Run("Status sends api key", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Api-Key") != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"version":"2.5.3"}`))
		}))
		defer server.Close()

		svc, _ := NewLidarrService(server.URL, "secret")
		version, err := svc.Status(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if version != "2.5.3" {
			t.Errorf("expected version 2.5.3, got %s", version)
		}

		bad, _ := NewLidarrService(server.URL, "wrong")
		if _, err := bad.Status(ctx); !errors.Is(err, shared.ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", err)
		}
	})

	t.Run("Queue pages through records", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/v1/queue" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			page := r.URL.Query().Get("page")
			resp := lidarrQueuePage{TotalRecords: 2}
			switch page {
			case "1":
				resp.Records = []lidarrQueueRecord{{ID: 1, AlbumID: 10, DownloadID: "dl-1", Status: "downloading", Size: 100, SizeLeft: 40}}
			case "2":
				resp.Records = []lidarrQueueRecord{{ID: 2, AlbumID: 11, DownloadID: "dl-2", Status: "queued"}}
			}
			json.NewEncoder(w).Encode(resp)
		}))
		defer server.Close()

		svc, _ := NewLidarrService(server.URL, "secret")
		items, err := svc.Queue(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(items) != 2 {
			t.Fatalf("expected 2 items, got %d", len(items))
		}
		if items[0].DownloadID != "dl-1" || items[0].SizeLeft != 40 || items[1].AlbumID != 11 {
			t.Errorf("unexpected items: %+v", items)
		}
	})

	t.Run("LookupAlbum", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Query().Get("term") {
			case "lidarr:mbid-1":
				w.Write([]byte(`[{"id":42,"title":"Abbey Road","foreignAlbumId":"mbid-1","monitored":true,
					"artist":{"artistName":"The Beatles","foreignArtistId":"b10bbbfc"}}]`))
			default:
				w.Write([]byte(`[]`))
			}
		}))
		defer server.Close()

		svc, _ := NewLidarrService(server.URL, "secret")
		album, err := svc.LookupAlbum(ctx, "mbid-1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if album.ID != 42 || album.ArtistName != "The Beatles" || album.ArtistForeignID != "b10bbbfc" {
			t.Errorf("unexpected album: %+v", album)
		}

		if _, err := svc.LookupAlbum(ctx, "mbid-unknown"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SearchAlbum posts command", func(t *testing.T) {
		var got lidarrCommand
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/api/v1/command" {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("failed to decode body: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":1,"name":"AlbumSearch","status":"queued"}`))
		}))
		defer server.Close()

		svc, _ := NewLidarrService(server.URL, "secret")
		if err := svc.SearchAlbum(ctx, 42, 43); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.Name != "AlbumSearch" || len(got.AlbumIDs) != 2 || got.AlbumIDs[0] != 42 {
			t.Errorf("unexpected command: %+v", got)
		}

		if err := svc.SearchAlbum(ctx); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("AddAlbum", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body lidarrAlbum
			json.NewDecoder(r.Body).Decode(&body)
			if !body.Monitored || body.AddOptions == nil || body.Artist == nil {
				t.Errorf("unexpected add body: %+v", body)
			}
			body.ID = 77
			json.NewEncoder(w).Encode(body)
		}))
		defer server.Close()

		svc, _ := NewLidarrService(server.URL, "secret")
		added, err := svc.AddAlbum(ctx, &models.LidarrAlbum{
			Title:           "Abbey Road",
			ForeignAlbumID:  "mbid-1",
			ArtistName:      "The Beatles",
			ArtistForeignID: "b10bbbfc",
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if added.ID != 77 {
			t.Errorf("expected assigned id 77, got %d", added.ID)
		}
	})
}
