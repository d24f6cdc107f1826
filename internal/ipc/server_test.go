package ipc

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austinkregel/local-media/grooved/internal/kv"
	"github.com/austinkregel/local-media/grooved/internal/library"
	"github.com/austinkregel/local-media/grooved/internal/session"
	"github.com/austinkregel/local-media/grooved/internal/session/sessiontest"
)

type testRig struct {
	server *Server
	client *Client
	app    *session.App
	el     *sessiontest.Element
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	el := sessiontest.NewElement(200)
	store := kv.NewMemoryStore()
	pages := []session.Page{
		{Name: "songs", MediaDir: "songs", Source: sessiontest.Source{Dir: "songs", Names: []string{"a.mp3", "b.mp3", "c.mp3"}}},
		{Name: "other", MediaDir: "other", Source: sessiontest.Source{Dir: "other", Names: []string{"x.mp3"}}},
	}
	app := session.NewApp(el, store, nil, nil, pages, session.AppOptions{DefaultVolume: 0.5}, nil)
	srv := NewServer("", app, library.New(store, "grooved:", nil), nil)

	serverConn, clientConn := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, serverConn)
	c := NewClient(clientConn)

	t.Cleanup(func() {
		c.Close()
		cancel()
		app.Close(context.Background())
	})
	return &testRig{server: srv, client: c, app: app, el: el}
}

func (r *testRig) call(t *testing.T, cmd CommandType, data interface{}, out interface{}) {
	t.Helper()
	resp, err := r.client.Call(context.Background(), cmd, data)
	require.NoError(t, err)
	require.True(t, resp.Success, "%s failed: %s", cmd, resp.Error)
	if out != nil {
		require.NoError(t, json.Unmarshal(resp.Data, out))
	}
}

func TestStatusBeforeNavigate(t *testing.T) {
	r := newRig(t)

	resp, err := r.client.Call(context.Background(), CmdStatus, nil)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "no page loaded", resp.Error)
}

func TestUnknownCommand(t *testing.T) {
	r := newRig(t)

	resp, err := r.client.Call(context.Background(), "rewind", nil)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "unknown command", resp.Error)
}

func TestTransportCommands(t *testing.T) {
	r := newRig(t)

	var st session.Status
	r.call(t, CmdNavigate, NavigateRequest{Page: "songs"}, &st)
	assert.Equal(t, "songs", st.Page)
	assert.Equal(t, 3, st.Count)
	assert.False(t, st.Playing)

	index := 1
	r.call(t, CmdPlay, PlayRequest{Index: &index}, &st)
	assert.True(t, st.Playing)
	assert.Equal(t, 1, st.Index)
	assert.Equal(t, "http://media.test/songs/b.mp3", r.el.Locator())

	r.call(t, CmdToggle, nil, &st)
	assert.False(t, st.Playing)

	r.call(t, CmdKey, KeyRequest{Key: "ctrl+right"}, &st)
	assert.Equal(t, 10.0, st.Position)

	r.call(t, CmdSeek, SeekRequest{Fraction: 0.5}, &st)
	assert.Equal(t, 100.0, st.Position)

	r.call(t, CmdNext, nil, &st)
	assert.Equal(t, 2, st.Index)
	assert.True(t, st.Playing)

	var vol VolumeResponse
	r.call(t, CmdVolume, VolumeRequest{Level: 1.5}, &vol)
	assert.Equal(t, 1.0, vol.Level, "capped without an effects pipeline")

	r.call(t, CmdSetPolicy, PolicyRequest{Policy: "shuffle"}, &st)
	assert.Equal(t, "shuffle", st.Policy)
	assert.True(t, st.Shuffle)

	repeat := true
	r.call(t, CmdSetPolicy, PolicyRequest{Repeat: &repeat}, &st)
	assert.Equal(t, "repeat-one", st.Policy)
}

func TestPlayLocator(t *testing.T) {
	r := newRig(t)
	r.call(t, CmdNavigate, NavigateRequest{Page: "songs"}, nil)

	var st session.Status
	r.call(t, CmdPlay, PlayRequest{Locator: "http://elsewhere.test/preview.m4a", Name: "Preview"}, &st)
	require.NotNil(t, st.Track)
	assert.Equal(t, "Preview", st.Track.Name)
	assert.Equal(t, -1, st.Index)
	assert.True(t, st.Playing)
}

func TestToggleEffectsWithoutPipeline(t *testing.T) {
	r := newRig(t)
	r.call(t, CmdNavigate, NavigateRequest{Page: "songs"}, nil)

	resp, err := r.client.Call(context.Background(), CmdToggleEffects, nil)
	require.NoError(t, err)
	assert.False(t, resp.Success)
}

func TestLikeCurrentTrack(t *testing.T) {
	r := newRig(t)
	r.call(t, CmdNavigate, NavigateRequest{Page: "songs"}, nil)

	var like LikeResponse
	r.call(t, CmdLike, nil, &like)
	assert.Equal(t, "a.mp3", like.Song)
	assert.True(t, like.Liked)

	var lists PlaylistsResponse
	r.call(t, CmdPlaylists, nil, &lists)
	assert.Equal(t, []string{"songs", "other"}, lists.Pages)
	assert.Equal(t, "songs", lists.Page)
	assert.Equal(t, []string{"a.mp3"}, lists.Liked)
	assert.Empty(t, lists.Playlists)

	r.call(t, CmdLike, LikeRequest{Song: "a.mp3"}, &like)
	assert.False(t, like.Liked)
}

func TestSearchFiltersPlaylist(t *testing.T) {
	r := newRig(t)
	r.call(t, CmdNavigate, NavigateRequest{Page: "songs"}, nil)

	var tracks []map[string]interface{}
	r.call(t, CmdSearch, SearchRequest{Query: "B.MP"}, &tracks)
	require.Len(t, tracks, 1)
	assert.Equal(t, "b.mp3", tracks[0]["id"])
}

func TestSubscribedClientReceivesEvents(t *testing.T) {
	r := newRig(t)
	r.call(t, CmdSubscribe, nil, nil)

	go r.server.broadcast(session.Event{Type: session.EventError, Message: "No songs found"})

	msg, err := r.client.Next()
	require.NoError(t, err)
	assert.Equal(t, "error", msg.Type)

	var payload EventPayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, "No songs found", payload.Message)
}

func TestPlaylistCommands(t *testing.T) {
	r := newRig(t)
	r.call(t, CmdNavigate, NavigateRequest{Page: "songs"}, nil)

	var created library.Playlist
	r.call(t, CmdCreatePlaylist, CreatePlaylistRequest{Name: "Road trip"}, &created)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "Road trip", created.Name)
	assert.Empty(t, created.Songs)

	var edit PlaylistSongResponse
	r.call(t, CmdAddToPlaylist, PlaylistSongRequest{ID: created.ID}, &edit)
	assert.Equal(t, "a.mp3", edit.Song, "defaults to the current track")
	assert.True(t, edit.Changed)

	r.call(t, CmdAddToPlaylist, PlaylistSongRequest{ID: created.ID, Song: "c.mp3"}, &edit)
	r.call(t, CmdAddToPlaylist, PlaylistSongRequest{ID: created.ID, Song: "c.mp3"}, &edit)
	assert.False(t, edit.Changed, "no duplicates")
	assert.Equal(t, []string{"a.mp3", "c.mp3"}, edit.Playlist.Songs)

	r.call(t, CmdRemoveFromPlaylist, PlaylistSongRequest{ID: created.ID, Song: "a.mp3"}, &edit)
	assert.True(t, edit.Changed)

	var got library.Playlist
	r.call(t, CmdPlaylist, PlaylistRequest{ID: created.ID}, &got)
	assert.Equal(t, []string{"c.mp3"}, got.Songs)

	var lists PlaylistsResponse
	r.call(t, CmdPlaylists, nil, &lists)
	require.Len(t, lists.Playlists, 1)

	r.call(t, CmdDeletePlaylist, PlaylistRequest{ID: created.ID}, nil)
	resp, err := r.client.Call(context.Background(), CmdPlaylist, PlaylistRequest{ID: created.ID})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "not found")
}

func TestCreatePlaylistNeedsName(t *testing.T) {
	r := newRig(t)

	resp, err := r.client.Call(context.Background(), CmdCreatePlaylist, CreatePlaylistRequest{Name: "  "})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, library.ErrEmptyName.Error(), resp.Error)
}

func TestLikedQueryDoesNotToggle(t *testing.T) {
	r := newRig(t)
	r.call(t, CmdNavigate, NavigateRequest{Page: "songs"}, nil)

	var like LikeResponse
	r.call(t, CmdLiked, nil, &like)
	assert.Equal(t, "a.mp3", like.Song)
	assert.False(t, like.Liked)

	r.call(t, CmdLike, LikeRequest{Song: "b.mp3"}, nil)
	r.call(t, CmdLiked, LikeRequest{Song: "b.mp3"}, &like)
	assert.True(t, like.Liked)
	r.call(t, CmdLiked, LikeRequest{Song: "b.mp3"}, &like)
	assert.True(t, like.Liked)
}
