package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/austinkregel/local-media/grooved/internal/library"
	"github.com/austinkregel/local-media/grooved/internal/session"
	"github.com/austinkregel/local-media/grooved/internal/types"
)

// errNoPage is returned for transport commands before any page is loaded
var errNoPage = errors.New("no page loaded")

// client serializes writes; responses and pushed events share the conn
type client struct {
	conn       net.Conn
	mu         sync.Mutex
	subscribed bool
}

func (c *client) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Write(append(msg, '\n'))
	return err
}

// Server handles IPC communication with clients
type Server struct {
	socketPath string
	app        *session.App
	lib        *library.Library
	logger     *zap.Logger
	handlers   map[CommandType]handlerFunc

	listener net.Listener
	mu       sync.Mutex
	clients  map[net.Conn]*client
}

// NewServer creates a new IPC server. lib may be nil, which disables the
// like and playlists commands.
func NewServer(socketPath string, app *session.App, lib *library.Library, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		socketPath: socketPath,
		app:        app,
		lib:        lib,
		logger:     logger,
		clients:    make(map[net.Conn]*client),
	}
	s.handlers = s.routes()
	return s
}

// Start listens on the socket and serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	s.listener = listener

	// Set socket permissions (user-only)
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.logger.Info("listening", zap.String("socket", s.socketPath))

	events := s.app.Bus().Subscribe()
	go s.pushEvents(ctx, events)
	go s.acceptLoop(ctx)

	<-ctx.Done()

	s.mu.Lock()
	clientCount := len(s.clients)
	for conn := range s.clients {
		conn.Close()
	}
	s.mu.Unlock()

	listener.Close()
	os.RemoveAll(s.socketPath)

	s.logger.Info("server stopped", zap.Int("clients", clientCount))
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		go s.Serve(ctx, conn)
	}
}

// Serve reads newline-delimited requests from conn until it closes
func (s *Server) Serve(ctx context.Context, conn net.Conn) {
	c := &client{conn: conn}

	s.mu.Lock()
	s.clients[conn] = c
	clientCount := len(s.clients)
	s.mu.Unlock()
	s.logger.Debug("client connected", zap.Int("clients", clientCount))

	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		s.logger.Debug("client disconnected")
	}()

	reader := bufio.NewReader(conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("read failed", zap.Error(err))
			}
			return
		}

		var resp *Response
		req, err := DecodeRequest(line)
		if err != nil {
			resp = NewErrorResponse("invalid request format")
		} else {
			resp = s.handleRequest(ctx, c, req)
		}

		msg, err := EncodeResponse(resp)
		if err != nil {
			s.logger.Error("failed to encode response", zap.Error(err))
			return
		}
		if err := c.write(msg); err != nil {
			s.logger.Debug("send failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, c *client, req *Request) *Response {
	h, ok := s.handlers[req.Cmd]
	if !ok {
		return NewErrorResponse("unknown command")
	}

	data, err := h(ctx, c, req)
	if !quiet(req.Cmd) {
		s.logger.Debug("command", zap.String("cmd", string(req.Cmd)), zap.Error(err))
	}
	if err != nil {
		return NewErrorResponse(err.Error())
	}

	resp, err := NewSuccessResponse(data)
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}

// pushEvents forwards session events to subscribed clients
func (s *Server) pushEvents(ctx context.Context, events <-chan session.Event) {
	defer s.app.Bus().Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.broadcast(ev)
		}
	}
}

func (s *Server) broadcast(ev session.Event) {
	msg, err := EventMessage(ev)
	if err != nil {
		s.logger.Warn("failed to encode event", zap.Error(err))
		return
	}

	s.mu.Lock()
	subs := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		if c.subscribed {
			subs = append(subs, c)
		}
	}
	s.mu.Unlock()

	for _, c := range subs {
		if err := c.write(msg); err != nil {
			c.conn.Close()
		}
	}
}

func (s *Server) session() (*session.Session, error) {
	sess := s.app.Session()
	if sess == nil {
		return nil, errNoPage
	}
	return sess, nil
}

func decode(req *Request, v interface{}) error {
	if len(req.Data) == 0 {
		return fmt.Errorf("%s: missing data", req.Cmd)
	}
	if err := json.Unmarshal(req.Data, v); err != nil {
		return fmt.Errorf("invalid %s request", req.Cmd)
	}
	return nil
}

func (s *Server) handleStatus(_ context.Context, _ *client, _ *Request) (interface{}, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	return sess.Status(), nil
}

func (s *Server) handlePlay(ctx context.Context, _ *client, req *Request) (interface{}, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}

	var playReq PlayRequest
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &playReq); err != nil {
			return nil, fmt.Errorf("invalid play request")
		}
	}

	switch {
	case playReq.Locator != "":
		err = sess.LoadLocator(ctx, playReq.Locator, playReq.Name, true)
	case playReq.Index != nil:
		err = sess.PlayIndex(ctx, *playReq.Index)
	default:
		err = sess.Play(ctx)
	}
	if err != nil {
		return nil, err
	}
	return sess.Status(), nil
}

func (s *Server) handleToggle(ctx context.Context, _ *client, _ *Request) (interface{}, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	if err := sess.TogglePlayPause(ctx); err != nil {
		return nil, err
	}
	return sess.Status(), nil
}

func (s *Server) handlePause(_ context.Context, _ *client, _ *Request) (interface{}, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	sess.Pause()
	return sess.Status(), nil
}

func (s *Server) handleResume(ctx context.Context, _ *client, _ *Request) (interface{}, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	if err := sess.Play(ctx); err != nil {
		return nil, err
	}
	return sess.Status(), nil
}

func (s *Server) handleNext(ctx context.Context, _ *client, _ *Request) (interface{}, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	if err := sess.Next(ctx); err != nil {
		return nil, err
	}
	return sess.Status(), nil
}

func (s *Server) handlePrev(ctx context.Context, _ *client, _ *Request) (interface{}, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	if err := sess.Previous(ctx); err != nil {
		return nil, err
	}
	return sess.Status(), nil
}

func (s *Server) handleSeek(ctx context.Context, _ *client, req *Request) (interface{}, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	var seekReq SeekRequest
	if err := decode(req, &seekReq); err != nil {
		return nil, err
	}
	if err := sess.Seek(ctx, seekReq.Fraction); err != nil {
		return nil, err
	}
	return sess.Status(), nil
}

func (s *Server) handleSeekBy(ctx context.Context, _ *client, req *Request) (interface{}, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	var seekReq SeekByRequest
	if err := decode(req, &seekReq); err != nil {
		return nil, err
	}
	if err := sess.SeekBy(ctx, seekReq.Delta); err != nil {
		return nil, err
	}
	return sess.Status(), nil
}

func (s *Server) handleVolume(_ context.Context, _ *client, req *Request) (interface{}, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	var volReq VolumeRequest
	if err := decode(req, &volReq); err != nil {
		return nil, err
	}
	return VolumeResponse{Level: sess.SetVolume(volReq.Level)}, nil
}

func (s *Server) handleKey(ctx context.Context, _ *client, req *Request) (interface{}, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	var keyReq KeyRequest
	if err := decode(req, &keyReq); err != nil {
		return nil, err
	}
	ev, err := session.ParseKey(keyReq.Key)
	if err != nil {
		return nil, err
	}
	if err := sess.HandleKey(ctx, ev); err != nil {
		return nil, err
	}
	return sess.Status(), nil
}

func (s *Server) handleSetPolicy(_ context.Context, _ *client, req *Request) (interface{}, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	var policyReq PolicyRequest
	if err := decode(req, &policyReq); err != nil {
		return nil, err
	}

	if policyReq.Policy != "" {
		sess.SetPolicy(types.ParseAdvancePolicy(policyReq.Policy))
	} else {
		if policyReq.Repeat != nil {
			sess.SetRepeat(*policyReq.Repeat)
		}
		if policyReq.Shuffle != nil {
			sess.SetShuffle(*policyReq.Shuffle)
		}
	}
	return sess.Status(), nil
}

func (s *Server) handleToggleEffects(_ context.Context, _ *client, _ *Request) (interface{}, error) {
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	engaged, err := sess.ToggleEffects()
	if err != nil {
		return nil, err
	}
	return EffectsResponse{Engaged: engaged}, nil
}

func (s *Server) handleSearch(ctx context.Context, _ *client, req *Request) (interface{}, error) {
	var searchReq SearchRequest
	if err := decode(req, &searchReq); err != nil {
		return nil, err
	}
	tracks, err := s.app.Search(ctx, searchReq.Query)
	if err != nil {
		return nil, err
	}
	if tracks == nil {
		tracks = []types.Track{}
	}
	return tracks, nil
}

func (s *Server) handleLike(ctx context.Context, _ *client, req *Request) (interface{}, error) {
	lib, err := s.requireLibrary()
	if err != nil {
		return nil, err
	}
	var likeReq LikeRequest
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &likeReq); err != nil {
			return nil, fmt.Errorf("invalid like request")
		}
	}

	song, err := s.songOrCurrent(likeReq.Song)
	if err != nil {
		return nil, err
	}

	liked, err := lib.ToggleLike(ctx, song)
	if err != nil {
		return nil, err
	}
	return LikeResponse{Song: song, Liked: liked}, nil
}

func (s *Server) handlePlaylists(ctx context.Context, _ *client, _ *Request) (interface{}, error) {
	resp := PlaylistsResponse{
		Pages:     []string{},
		Liked:     []string{},
		Playlists: []library.Playlist{},
	}
	for _, p := range s.app.Pages() {
		resp.Pages = append(resp.Pages, p.Name)
	}
	resp.Page = s.app.Page().Name

	if s.lib == nil {
		return resp, nil
	}
	liked, err := s.lib.Liked(ctx)
	if err != nil {
		return nil, err
	}
	playlists, err := s.lib.Playlists(ctx)
	if err != nil {
		return nil, err
	}
	if liked != nil {
		resp.Liked = liked
	}
	if playlists != nil {
		resp.Playlists = playlists
	}
	return resp, nil
}

// songOrCurrent returns song, or the current track's ID (its locator for
// tracks outside the playlist) when song is empty.
func (s *Server) songOrCurrent(song string) (string, error) {
	if song != "" {
		return song, nil
	}
	sess, err := s.session()
	if err != nil {
		return "", err
	}
	current, ok := sess.Current()
	if !ok {
		return "", fmt.Errorf("nothing is playing")
	}
	if current.ID != "" {
		return current.ID, nil
	}
	return current.Locator, nil
}

func (s *Server) requireLibrary() (*library.Library, error) {
	if s.lib == nil {
		return nil, fmt.Errorf("library is disabled")
	}
	return s.lib, nil
}

func (s *Server) handleLiked(ctx context.Context, _ *client, req *Request) (interface{}, error) {
	lib, err := s.requireLibrary()
	if err != nil {
		return nil, err
	}
	var likeReq LikeRequest
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &likeReq); err != nil {
			return nil, fmt.Errorf("invalid liked request")
		}
	}
	song, err := s.songOrCurrent(likeReq.Song)
	if err != nil {
		return nil, err
	}
	liked, err := lib.IsLiked(ctx, song)
	if err != nil {
		return nil, err
	}
	return LikeResponse{Song: song, Liked: liked}, nil
}

func (s *Server) handlePlaylist(ctx context.Context, _ *client, req *Request) (interface{}, error) {
	lib, err := s.requireLibrary()
	if err != nil {
		return nil, err
	}
	var plReq PlaylistRequest
	if err := decode(req, &plReq); err != nil {
		return nil, err
	}
	return lib.Playlist(ctx, plReq.ID)
}

func (s *Server) handleCreatePlaylist(ctx context.Context, _ *client, req *Request) (interface{}, error) {
	lib, err := s.requireLibrary()
	if err != nil {
		return nil, err
	}
	var createReq CreatePlaylistRequest
	if err := decode(req, &createReq); err != nil {
		return nil, err
	}
	return lib.CreatePlaylist(ctx, createReq.Name)
}

func (s *Server) handleDeletePlaylist(ctx context.Context, _ *client, req *Request) (interface{}, error) {
	lib, err := s.requireLibrary()
	if err != nil {
		return nil, err
	}
	var plReq PlaylistRequest
	if err := decode(req, &plReq); err != nil {
		return nil, err
	}
	if err := lib.DeletePlaylist(ctx, plReq.ID); err != nil {
		return nil, err
	}
	return plReq, nil
}

func (s *Server) handleAddToPlaylist(ctx context.Context, _ *client, req *Request) (interface{}, error) {
	return s.editPlaylist(ctx, req, (*library.Library).AddSong)
}

func (s *Server) handleRemoveFromPlaylist(ctx context.Context, _ *client, req *Request) (interface{}, error) {
	return s.editPlaylist(ctx, req, (*library.Library).RemoveSong)
}

func (s *Server) editPlaylist(ctx context.Context, req *Request, edit func(*library.Library, context.Context, string, string) (bool, error)) (interface{}, error) {
	lib, err := s.requireLibrary()
	if err != nil {
		return nil, err
	}
	var songReq PlaylistSongRequest
	if err := decode(req, &songReq); err != nil {
		return nil, err
	}
	song, err := s.songOrCurrent(songReq.Song)
	if err != nil {
		return nil, err
	}
	changed, err := edit(lib, ctx, songReq.ID, song)
	if err != nil {
		return nil, err
	}
	p, err := lib.Playlist(ctx, songReq.ID)
	if err != nil {
		return nil, err
	}
	return PlaylistSongResponse{Playlist: p, Song: song, Changed: changed}, nil
}

func (s *Server) handleNavigate(ctx context.Context, _ *client, req *Request) (interface{}, error) {
	var navReq NavigateRequest
	if err := decode(req, &navReq); err != nil {
		return nil, err
	}
	if err := s.app.Navigate(ctx, navReq.Page); err != nil {
		return nil, err
	}
	sess, err := s.session()
	if err != nil {
		return nil, err
	}
	return sess.Status(), nil
}

func (s *Server) handleSubscribe(_ context.Context, c *client, _ *Request) (interface{}, error) {
	s.mu.Lock()
	c.subscribed = true
	s.mu.Unlock()
	return nil, nil
}

func (s *Server) handleUnsubscribe(_ context.Context, c *client, _ *Request) (interface{}, error) {
	s.mu.Lock()
	c.subscribed = false
	s.mu.Unlock()
	return nil, nil
}
