// Package api exposes read-only views over the digest stores: an HTTP API
// (chi) and an MCP server for agent clients. All write paths stay on the CLI;
// the server never mutates either store.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chatdigest/chatdigest/internal/mirror"
	"github.com/chatdigest/chatdigest/internal/store"
)

// Deps holds what the read handlers need.
type Deps struct {
	Store  *store.Store
	Mirror *mirror.Store
	Token  string
}

// NewHandler builds the HTTP router. /health is unauthenticated; everything
// under /v1 requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(requireToken(deps.Token))
		r.Get("/rooms", handleListRooms(deps))
		r.Get("/rooms/{id}", handleGetRoom(deps))
		r.Get("/rooms/{id}/summaries", handleListSummaries(deps))
		r.Get("/rooms/{id}/urls", handleURLView(deps))
		r.Get("/rooms/{id}/pending", handlePending(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

type roomView struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	TotalMessages int    `json:"total_messages"`
	UniqueSenders int    `json:"unique_senders"`
	FirstDate     string `json:"first_date,omitempty"`
	LastDate      string `json:"last_date,omitempty"`
	LastSyncAt    string `json:"last_sync_at,omitempty"`
	SummaryCount  int    `json:"summary_count"`
	URLCount      int    `json:"url_count"`
}

func handleListRooms(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := deps.Store.ListRooms()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing rooms: %v", err)
			return
		}

		views := make([]roomView, 0, len(rooms))
		for _, room := range rooms {
			stats, err := deps.Store.RoomStats(room.ID)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "room stats: %v", err)
				return
			}
			views = append(views, toRoomView(room, stats))
		}
		writeJSON(w, views)
	}
}

func handleGetRoom(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, ok := resolveRoom(deps, w, r)
		if !ok {
			return
		}
		stats, err := deps.Store.RoomStats(room.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "room stats: %v", err)
			return
		}
		writeJSON(w, toRoomView(room, stats))
	}
}

type summaryView struct {
	Date       string `json:"date"`
	Kind       string `json:"kind"`
	Content    string `json:"content"`
	Provider   string `json:"provider"`
	TokenCount int    `json:"token_count"`
	CreatedAt  string `json:"created_at"`
}

func handleListSummaries(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, ok := resolveRoom(deps, w, r)
		if !ok {
			return
		}
		kind := r.URL.Query().Get("kind")
		if kind == "" {
			kind = store.KindDaily
		}
		summaries, err := deps.Store.SummariesByRoom(room.ID, kind)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing summaries: %v", err)
			return
		}

		views := make([]summaryView, 0, len(summaries))
		for _, s := range summaries {
			views = append(views, summaryView{
				Date:       s.SummaryDate.Format(time.DateOnly),
				Kind:       s.Kind,
				Content:    s.Content,
				Provider:   s.Provider,
				TokenCount: s.TokenCount,
				CreatedAt:  s.CreatedAt.Format(time.RFC3339),
			})
		}
		writeJSON(w, views)
	}
}

func handleURLView(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, ok := resolveRoom(deps, w, r)
		if !ok {
			return
		}
		view := r.URL.Query().Get("view")
		if view == "" {
			view = mirror.ViewAll
		}
		switch view {
		case mirror.ViewRecent, mirror.ViewWeekly, mirror.ViewAll:
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown view %q", view)
			return
		}

		lines, err := deps.Mirror.LoadURLView(room.Name, view)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading url view: %v", err)
			return
		}
		if lines == nil {
			lines = []string{}
		}
		writeJSON(w, map[string]any{"view": view, "lines": lines})
	}
}

func handlePending(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, ok := resolveRoom(deps, w, r)
		if !ok {
			return
		}
		dates, err := deps.Mirror.DatesNeedingSummary(room.Name)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing pending dates: %v", err)
			return
		}
		if dates == nil {
			dates = []string{}
		}
		writeJSON(w, map[string]any{"pending": dates})
	}
}

// resolveRoom loads the room from the {id} path parameter, accepting either a
// numeric id or a room name.
func resolveRoom(deps Deps, w http.ResponseWriter, r *http.Request) (store.Room, bool) {
	param := chi.URLParam(r, "id")
	if unescaped, err := url.PathUnescape(param); err == nil {
		param = unescaped
	}

	var room store.Room
	var err error
	if id, convErr := strconv.ParseInt(param, 10, 64); convErr == nil {
		room, err = deps.Store.GetRoom(id)
	} else {
		room, err = deps.Store.GetRoomByName(param)
	}
	if errors.Is(err, store.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "room not found")
		return store.Room{}, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "resolving room: %v", err)
		return store.Room{}, false
	}
	return room, true
}

func toRoomView(room store.Room, stats store.RoomStats) roomView {
	v := roomView{
		ID:            room.ID,
		Name:          room.Name,
		TotalMessages: stats.TotalMessages,
		UniqueSenders: stats.UniqueSenders,
		SummaryCount:  stats.SummaryCount,
		URLCount:      stats.URLCount,
	}
	if !stats.FirstDate.IsZero() {
		v.FirstDate = stats.FirstDate.Format(time.DateOnly)
	}
	if !stats.LastDate.IsZero() {
		v.LastDate = stats.LastDate.Format(time.DateOnly)
	}
	if !room.LastSyncAt.IsZero() {
		v.LastSyncAt = room.LastSyncAt.Format(time.RFC3339)
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func httpError(w http.ResponseWriter, status int, errType, format string, args ...any) {
	var body apiError
	body.Error.Type = errType
	body.Error.Message = fmt.Sprintf(format, args...)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
