// Package httpapi serves the media directories and a small JSON/websocket
// API over the active session.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/austinkregel/local-media/grooved/internal/errs"
	"github.com/austinkregel/local-media/grooved/internal/library"
	"github.com/austinkregel/local-media/grooved/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	// Local player; the page is served from the same origin or a file
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server exposes the app over HTTP
type Server struct {
	app       *session.App
	lib       *library.Library
	mediaRoot string
	logger    *zap.Logger
}

// NewServer creates a server. mediaRoot may be empty to disable file
// serving and lib may be nil to disable the playlist routes.
func NewServer(app *session.App, lib *library.Library, mediaRoot string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{app: app, lib: lib, mediaRoot: mediaRoot, logger: logger}
}

// Router builds the route table
func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/pages", s.handlePages)
		r.Post("/pages/{name}", s.handleNavigate)
		r.Get("/events", s.handleEvents)

		if s.lib != nil {
			r.Route("/playlists", func(r chi.Router) {
				r.Get("/", s.handleListPlaylists)
				r.Post("/", s.handleCreatePlaylist)
				r.Get("/{id}", s.handleGetPlaylist)
				r.Delete("/{id}", s.handleDeletePlaylist)
				r.Post("/{id}/songs", s.handleAddSong)
				r.Delete("/{id}/songs/{song}", s.handleRemoveSong)
			})
		}
	})

	if s.mediaRoot != "" {
		// Directory listings double as the playlist endpoint
		r.Handle("/*", http.FileServer(http.Dir(s.mediaRoot)))
	}
	return r
}

// Serve accepts connections on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http listening", zap.Stringer("addr", ln.Addr()), zap.String("mediaRoot", s.mediaRoot))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess := s.app.Session()
	if sess == nil {
		writeError(w, http.StatusServiceUnavailable, "no page loaded")
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

type pageInfo struct {
	Name     string `json:"name"`
	MediaDir string `json:"mediaDir"`
	Active   bool   `json:"active"`
}

func (s *Server) handlePages(w http.ResponseWriter, r *http.Request) {
	active := s.app.Page().Name
	pages := make([]pageInfo, 0, len(s.app.Pages()))
	for _, p := range s.app.Pages() {
		pages = append(pages, pageInfo{Name: p.Name, MediaDir: p.MediaDir, Active: p.Name == active})
	}
	writeJSON(w, http.StatusOK, pages)
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := s.app.Navigate(r.Context(), name)
	if errors.Is(err, errs.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	sess := s.app.Session()
	if sess == nil {
		writeError(w, http.StatusInternalServerError, "navigation failed")
		return
	}
	if err != nil {
		// The page loaded; only resuming playback failed
		s.logger.Warn("navigate", zap.String("page", name), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

func (s *Server) handleListPlaylists(w http.ResponseWriter, r *http.Request) {
	playlists, err := s.lib.Playlists(r.Context())
	if err != nil {
		s.libraryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, playlists)
}

type createPlaylistBody struct {
	Name string `json:"name"`
}

func (s *Server) handleCreatePlaylist(w http.ResponseWriter, r *http.Request) {
	var body createPlaylistBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	p, err := s.lib.CreatePlaylist(r.Context(), body.Name)
	if err != nil {
		s.libraryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	p, err := s.lib.Playlist(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.libraryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePlaylist(w http.ResponseWriter, r *http.Request) {
	if err := s.lib.DeletePlaylist(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.libraryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type songBody struct {
	Song string `json:"song"`
}

func (s *Server) handleAddSong(w http.ResponseWriter, r *http.Request) {
	var body songBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Song == "" {
		writeError(w, http.StatusBadRequest, "song is required")
		return
	}
	s.editPlaylist(w, r, body.Song, s.lib.AddSong)
}

func (s *Server) handleRemoveSong(w http.ResponseWriter, r *http.Request) {
	s.editPlaylist(w, r, chi.URLParam(r, "song"), s.lib.RemoveSong)
}

func (s *Server) editPlaylist(w http.ResponseWriter, r *http.Request, song string, edit func(context.Context, string, string) (bool, error)) {
	id := chi.URLParam(r, "id")
	if _, err := edit(r.Context(), id, song); err != nil {
		s.libraryError(w, err)
		return
	}
	p, err := s.lib.Playlist(r.Context(), id)
	if err != nil {
		s.libraryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) libraryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, library.ErrEmptyName):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("library", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "library unavailable")
	}
}

type eventMessage struct {
	Type    string          `json:"type"`
	Status  *session.Status `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
	Time    int64           `json:"time"`
}

// handleEvents streams session events, starting with the current status
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	bus := s.app.Bus()
	events := bus.Subscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		bus.Unsubscribe(events)
		s.logger.Debug("ws upgrade failed", zap.Error(err))
		return
	}

	hello := eventMessage{Type: "status", Time: time.Now().UnixMilli()}
	if sess := s.app.Session(); sess != nil {
		st := sess.Status()
		hello.Status = &st
	}

	done := make(chan struct{})
	go s.readPump(conn, done)
	s.writePump(conn, hello, events, done)
	bus.Unsubscribe(events)
}

// readPump discards client messages and notices the close
func (s *Server) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, hello eventMessage, events <-chan session.Event, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	send := func(msg eventMessage) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(msg) == nil
	}

	if !send(hello) {
		return
	}
	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if !send(eventMessage{
				Type:    string(ev.Type),
				Status:  ev.Status,
				Message: ev.Message,
				Time:    ev.Time.UnixMilli(),
			}) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
