package library

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austinkregel/local-media/grooved/internal/errs"
	"github.com/austinkregel/local-media/grooved/internal/kv"
)

func TestToggleLike(t *testing.T) {
	ctx := context.Background()
	lib := New(kv.NewMemoryStore(), "u:", nil)

	liked, err := lib.ToggleLike(ctx, "a.mp3")
	require.NoError(t, err)
	assert.True(t, liked)

	_, err = lib.ToggleLike(ctx, "b.mp3")
	require.NoError(t, err)

	songs, err := lib.Liked(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.mp3", "b.mp3"}, songs)

	liked, err = lib.ToggleLike(ctx, "a.mp3")
	require.NoError(t, err)
	assert.False(t, liked)

	ok, err := lib.IsLiked(ctx, "a.mp3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPlaylists(t *testing.T) {
	ctx := context.Background()
	lib := New(kv.NewMemoryStore(), "", nil)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	lib.now = func() time.Time { return fixed }

	_, err := lib.CreatePlaylist(ctx, "   ")
	assert.ErrorIs(t, err, ErrEmptyName)

	p, err := lib.CreatePlaylist(ctx, "Road trip")
	require.NoError(t, err)
	_, err = uuid.Parse(p.ID)
	assert.NoError(t, err)
	assert.Equal(t, fixed, p.CreatedAt)

	added, err := lib.AddSong(ctx, p.ID, "a.mp3")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = lib.AddSong(ctx, p.ID, "a.mp3")
	require.NoError(t, err)
	assert.False(t, added, "duplicates are refused")

	_, err = lib.AddSong(ctx, p.ID, "b.mp3")
	require.NoError(t, err)

	got, err := lib.Playlist(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.mp3", "b.mp3"}, got.Songs)

	removed, err := lib.RemoveSong(ctx, p.ID, "a.mp3")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = lib.RemoveSong(ctx, p.ID, "zzz.mp3")
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, lib.DeletePlaylist(ctx, p.ID))
	all, err := lib.Playlists(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = lib.Playlist(ctx, p.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = lib.AddSong(ctx, p.ID, "a.mp3")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCorruptEntryTreatedAsEmpty(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	require.NoError(t, store.Set(ctx, KeyLiked, "{broken"))

	lib := New(store, "", nil)
	songs, err := lib.Liked(ctx)
	require.NoError(t, err)
	assert.Empty(t, songs)

	liked, err := lib.ToggleLike(ctx, "a.mp3")
	require.NoError(t, err)
	assert.True(t, liked)
}

func TestSharedRedisStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	open := func() *Library {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		return New(kv.NewRedisStoreFromClient(client), "grooved:", nil)
	}

	first, second := open(), open()
	_, err := first.ToggleLike(ctx, "shared.mp3")
	require.NoError(t, err)

	ok, err := second.IsLiked(ctx, "shared.mp3")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, mr.Exists("grooved:"+KeyLiked))
}
