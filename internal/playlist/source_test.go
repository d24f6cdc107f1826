package playlist

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austinkregel/local-media/grooved/internal/types"
)

const listing = `<!DOCTYPE html>
<html><body>
<ul>
  <li><a href="/">~</a></li>
  <li><a href="/songs/b.mp3">b.mp3</a></li>
  <li><a href="a%20song.mp3">a song.mp3</a></li>
  <li><a href="/songs/cover.jpg">cover.jpg</a></li>
  <li><a href="/songs/b.mp3">b.mp3 again</a></li>
  <li><a href="/other/c.mp3">elsewhere</a></li>
  <li><a href="/songs/Loud.MP3">Loud.MP3</a></li>
</ul>
</body></html>`

func TestHTTPSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/songs/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, listing)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL+"/", "songs", ".mp3")
	tracks, err := src.Fetch(context.Background())
	require.NoError(t, err)

	ids := make([]string, len(tracks))
	for i, tr := range tracks {
		ids[i] = tr.ID
	}
	assert.Equal(t, []string{"b.mp3", "a%20song.mp3", "Loud.MP3"}, ids, "order kept, duplicates and foreign dirs dropped")

	assert.Equal(t, srv.URL+"/songs/b.mp3", tracks[0].Locator)
	assert.Equal(t, srv.URL+"/songs/a%20song.mp3", tracks[1].Locator)
	assert.Equal(t, "a song", tracks[1].Name)
}

func TestHTTPSourceFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL, "songs", ".mp3").Fetch(context.Background())
	assert.Error(t, err)

	srv.Close()
	_, err = NewHTTPSource(srv.URL, "songs", ".mp3").Fetch(context.Background())
	assert.Error(t, err)
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0600))
	}
}

func TestDirSourceFetch(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "play2")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested.mp3"), 0700))
	writeFiles(t, dir, "b.mp3", "a.mp3", "notes.txt")

	tracks, err := NewDirSource(root, "play2", ".mp3").Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, tracks, 2)

	assert.Equal(t, "a.mp3", tracks[0].ID)
	assert.Equal(t, "a", tracks[0].Name)
	assert.True(t, filepath.IsAbs(tracks[0].Locator))
	assert.Equal(t, "play2", filepath.Base(filepath.Dir(tracks[1].Locator)))
}

func TestDirSourceMissing(t *testing.T) {
	_, err := NewDirSource(t.TempDir(), "absent", ".mp3").Fetch(context.Background())
	assert.Error(t, err)
}

func TestDirSourceWatch(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "songs")
	require.NoError(t, os.MkdirAll(dir, 0700))
	writeFiles(t, dir, "a.mp3")

	src := NewDirSource(root, "songs", ".mp3")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan []types.Track, 4)
	done := make(chan error, 1)
	go func() {
		done <- src.Watch(ctx, 20*time.Millisecond, nil, func(tr []types.Track) { changes <- tr })
	}()

	// Give the watcher a moment to register
	time.Sleep(100 * time.Millisecond)
	writeFiles(t, dir, "b.mp3")

	select {
	case tracks := <-changes:
		assert.Len(t, tracks, 2)
	case <-time.After(3 * time.Second):
		t.Fatal("no change notification")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}

const bucketListing = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>media</Name>
  <Prefix>songs/</Prefix>
  <KeyCount>3</KeyCount>
  <MaxKeys>1000</MaxKeys>
  <IsTruncated>false</IsTruncated>
  <Contents><Key>songs/b.mp3</Key><LastModified>2024-01-01T00:00:00.000Z</LastModified><ETag>"1"</ETag><Size>3</Size><StorageClass>STANDARD</StorageClass></Contents>
  <Contents><Key>songs/a.mp3</Key><LastModified>2024-01-01T00:00:00.000Z</LastModified><ETag>"2"</ETag><Size>3</Size><StorageClass>STANDARD</StorageClass></Contents>
  <Contents><Key>songs/readme.txt</Key><LastModified>2024-01-01T00:00:00.000Z</LastModified><ETag>"3"</ETag><Size>3</Size><StorageClass>STANDARD</StorageClass></Contents>
</ListBucketResult>`

func TestBucketSourceFetch(t *testing.T) {
	var gotPrefix string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/media") {
			http.NotFound(w, r)
			return
		}
		gotPrefix = r.URL.Query().Get("prefix")
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, bucketListing)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	src, err := NewBucketSource(BucketOptions{
		Endpoint:  u.Host,
		Bucket:    "media",
		AccessKey: "key",
		SecretKey: "secret",
	}, "songs", ".mp3")
	require.NoError(t, err)

	tracks, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "songs/", gotPrefix)
	require.Len(t, tracks, 2)
	assert.Equal(t, "a.mp3", tracks[0].ID)
	assert.Equal(t, srv.URL+"/media/songs/a.mp3", tracks[0].Locator)
}

func TestBucketSourcePresigned(t *testing.T) {
	src, err := NewBucketSource(BucketOptions{
		Endpoint:  "127.0.0.1:9000",
		Bucket:    "media",
		AccessKey: "key",
		SecretKey: "secret",
		Presign:   time.Hour,
	}, "songs", ".mp3")
	require.NoError(t, err)

	loc, err := src.locator(context.Background(), "songs/a.mp3")
	require.NoError(t, err)
	assert.Contains(t, loc, "/media/songs/a.mp3")
	assert.Contains(t, loc, "X-Amz-Signature")
}

func TestBucketSourceNeedsConfig(t *testing.T) {
	_, err := NewBucketSource(BucketOptions{}, "songs", ".mp3")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	src, err := New("", Options{BaseURL: "http://x", MediaDir: "songs"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPSource{}, src)

	src, err = New(KindDir, Options{Root: "/tmp", MediaDir: "songs"})
	require.NoError(t, err)
	assert.IsType(t, &DirSource{}, src)

	_, err = New("ftp", Options{})
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	tracks := []types.Track{
		types.NewTrack("Happy%20Days.mp3", "/songs/Happy%20Days.mp3"),
		types.NewTrack("sad.mp3", "/songs/sad.mp3"),
		{Name: "Remote Happiness", External: true},
	}

	got := Filter(tracks, "  HAPPY ")
	require.Len(t, got, 2)
	assert.Equal(t, "Happy Days", got[0].Name)

	assert.Len(t, Filter(tracks, ""), 3)
	assert.Empty(t, Filter(tracks, "jazz"))
}
