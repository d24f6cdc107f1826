package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austinkregel/local-media/grooved/internal/kv"
	"github.com/austinkregel/local-media/grooved/internal/library"
	"github.com/austinkregel/local-media/grooved/internal/playlist"
	"github.com/austinkregel/local-media/grooved/internal/session"
	"github.com/austinkregel/local-media/grooved/internal/session/sessiontest"
)

func newTestServer(t *testing.T) (*httptest.Server, *session.App) {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "songs"), 0o755))
	for _, name := range []string{"a.mp3", "b.mp3", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, "songs", name), []byte("x"), 0o644))
	}

	pages := []session.Page{
		{Name: "songs", MediaDir: "songs", Source: sessiontest.Source{Dir: "songs", Names: []string{"a.mp3", "b.mp3"}}},
	}
	store := kv.NewMemoryStore()
	app := session.NewApp(sessiontest.NewElement(120), store, nil, nil, pages, session.AppOptions{DefaultVolume: 0.5}, nil)

	ts := httptest.NewServer(NewServer(app, library.New(store, "grooved:", nil), root, nil).Router())
	t.Cleanup(func() {
		ts.Close()
		app.Close(context.Background())
	})
	return ts, app
}

func TestStatusWithoutPage(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestNavigateAndStatus(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/pages/songs", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st session.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "songs", st.Page)
	assert.Equal(t, 2, st.Count)
	assert.Equal(t, 0.5, st.Volume)
}

func TestNavigateUnknownPage(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/pages/nope", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPages(t *testing.T) {
	ts, app := newTestServer(t)
	require.NoError(t, app.Navigate(context.Background(), "songs"))

	resp, err := http.Get(ts.URL + "/api/pages")
	require.NoError(t, err)
	defer resp.Body.Close()

	var pages []pageInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pages))
	assert.Equal(t, []pageInfo{{Name: "songs", MediaDir: "songs", Active: true}}, pages)
}

func TestMediaListingFeedsHTTPSource(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/songs/a.mp3")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "x", string(body))

	tracks, err := playlist.NewHTTPSource(ts.URL, "songs", ".mp3").Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "a.mp3", tracks[0].ID)
	assert.Equal(t, ts.URL+"/songs/a.mp3", tracks[0].Locator)
	assert.Equal(t, "b.mp3", tracks[1].ID)
}

func TestEventsWebsocket(t *testing.T) {
	ts, app := newTestServer(t)
	require.NoError(t, app.Navigate(context.Background(), "songs"))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello eventMessage
	require.NoError(t, ws.ReadJSON(&hello))
	assert.Equal(t, "status", hello.Type)
	require.NotNil(t, hello.Status)
	assert.Equal(t, "songs", hello.Status.Page)

	app.Session().SetVolume(0.3)

	for {
		var msg eventMessage
		require.NoError(t, ws.ReadJSON(&msg))
		if msg.Type != string(session.EventVolumeChange) {
			continue
		}
		require.NotNil(t, msg.Status)
		assert.Equal(t, 0.3, msg.Status.Volume)
		return
	}
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestPlaylistRoutes(t *testing.T) {
	ts, _ := newTestServer(t)
	api := ts.URL + "/api/playlists"

	var created library.Playlist
	require.Equal(t, http.StatusCreated, doJSON(t, http.MethodPost, api+"/", `{"name":"Chill"}`, &created))
	require.NotEmpty(t, created.ID)

	var p library.Playlist
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, api+"/"+created.ID+"/songs", `{"song":"Good%20Day.mp3"}`, &p))
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, api+"/"+created.ID+"/songs", `{"song":"b.mp3"}`, &p))
	assert.Equal(t, []string{"Good%20Day.mp3", "b.mp3"}, p.Songs)

	require.Equal(t, http.StatusOK, doJSON(t, http.MethodDelete, api+"/"+created.ID+"/songs/b.mp3", "", &p))
	assert.Equal(t, []string{"Good%20Day.mp3"}, p.Songs)

	var all []library.Playlist
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, api+"/", "", &all))
	require.Len(t, all, 1)
	assert.Equal(t, "Chill", all[0].Name)

	assert.Equal(t, http.StatusNoContent, doJSON(t, http.MethodDelete, api+"/"+created.ID, "", nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodGet, api+"/"+created.ID, "", nil))
}

func TestPlaylistRouteErrors(t *testing.T) {
	ts, _ := newTestServer(t)
	api := ts.URL + "/api/playlists"

	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, api+"/", `{"name":" "}`, nil))
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, api+"/", `not json`, nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, http.MethodPost, api+"/missing/songs", `{"song":"a.mp3"}`, nil))
	assert.Equal(t, http.StatusBadRequest, doJSON(t, http.MethodPost, api+"/missing/songs", `{}`, nil))
}
