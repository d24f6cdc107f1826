// Package library keeps liked songs and user playlists in key-value storage.
package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/austinkregel/local-media/grooved/internal/errs"
	"github.com/austinkregel/local-media/grooved/internal/kv"
)

// Storage key suffixes
const (
	KeyLiked     = "likedSongs"
	KeyPlaylists = "playlists"
)

// ErrEmptyName is returned when creating a playlist without a name
var ErrEmptyName = errors.New("playlist name is empty")

// Playlist is a user-created list of song names
type Playlist struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Songs     []string  `json:"songs"`
	CreatedAt time.Time `json:"createdAt"`
}

// Library reads through to the store on every call so that several daemons
// sharing a store see each other's writes.
type Library struct {
	mu     sync.Mutex
	store  kv.Store
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// New creates a library over store
func New(store kv.Store, prefix string, logger *zap.Logger) *Library {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Library{store: store, prefix: prefix, logger: logger, now: time.Now}
}

// load decodes key into v. A missing key leaves v untouched; a corrupt value
// is logged and treated as missing.
func (l *Library) load(ctx context.Context, key string, v any) error {
	raw, ok, err := l.store.Get(ctx, l.prefix+key)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !ok {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		l.logger.Warn("discarding corrupt library entry", zap.String("key", key), zap.Error(err))
	}
	return nil
}

func (l *Library) save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := l.store.Set(ctx, l.prefix+key, string(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Liked returns liked song names in the order they were liked
func (l *Library) Liked(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	liked := []string{}
	if err := l.load(ctx, KeyLiked, &liked); err != nil {
		return nil, err
	}
	return liked, nil
}

// IsLiked reports whether song is liked
func (l *Library) IsLiked(ctx context.Context, song string) (bool, error) {
	liked, err := l.Liked(ctx)
	if err != nil {
		return false, err
	}
	return indexOf(liked, song) >= 0, nil
}

// ToggleLike likes or unlikes song and returns the new state
func (l *Library) ToggleLike(ctx context.Context, song string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	liked := []string{}
	if err := l.load(ctx, KeyLiked, &liked); err != nil {
		return false, err
	}

	now := true
	if i := indexOf(liked, song); i >= 0 {
		liked = append(liked[:i], liked[i+1:]...)
		now = false
	} else {
		liked = append(liked, song)
	}

	if err := l.save(ctx, KeyLiked, liked); err != nil {
		return false, err
	}
	l.logger.Debug("like toggled", zap.String("song", song), zap.Bool("liked", now))
	return now, nil
}

// Playlists returns every user playlist
func (l *Library) Playlists(ctx context.Context) ([]Playlist, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	playlists := []Playlist{}
	if err := l.load(ctx, KeyPlaylists, &playlists); err != nil {
		return nil, err
	}
	return playlists, nil
}

// Playlist returns the playlist with id
func (l *Library) Playlist(ctx context.Context, id string) (Playlist, error) {
	playlists, err := l.Playlists(ctx)
	if err != nil {
		return Playlist{}, err
	}
	for _, p := range playlists {
		if p.ID == id {
			return p, nil
		}
	}
	return Playlist{}, fmt.Errorf("playlist %s: %w", id, errs.ErrNotFound)
}

// CreatePlaylist adds an empty playlist
func (l *Library) CreatePlaylist(ctx context.Context, name string) (Playlist, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Playlist{}, ErrEmptyName
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	playlists := []Playlist{}
	if err := l.load(ctx, KeyPlaylists, &playlists); err != nil {
		return Playlist{}, err
	}

	p := Playlist{
		ID:        uuid.NewString(),
		Name:      name,
		Songs:     []string{},
		CreatedAt: l.now().UTC(),
	}
	playlists = append(playlists, p)

	if err := l.save(ctx, KeyPlaylists, playlists); err != nil {
		return Playlist{}, err
	}
	return p, nil
}

// DeletePlaylist removes the playlist with id
func (l *Library) DeletePlaylist(ctx context.Context, id string) error {
	return l.mutate(ctx, id, func(playlists []Playlist, i int) ([]Playlist, bool) {
		return append(playlists[:i], playlists[i+1:]...), true
	})
}

// AddSong appends song to a playlist. It returns false when the song was
// already present.
func (l *Library) AddSong(ctx context.Context, id, song string) (bool, error) {
	added := false
	err := l.mutate(ctx, id, func(playlists []Playlist, i int) ([]Playlist, bool) {
		if indexOf(playlists[i].Songs, song) >= 0 {
			return playlists, false
		}
		playlists[i].Songs = append(playlists[i].Songs, song)
		added = true
		return playlists, true
	})
	return added, err
}

// RemoveSong removes song from a playlist. It returns false when the song
// was not present.
func (l *Library) RemoveSong(ctx context.Context, id, song string) (bool, error) {
	removed := false
	err := l.mutate(ctx, id, func(playlists []Playlist, i int) ([]Playlist, bool) {
		j := indexOf(playlists[i].Songs, song)
		if j < 0 {
			return playlists, false
		}
		playlists[i].Songs = append(playlists[i].Songs[:j], playlists[i].Songs[j+1:]...)
		removed = true
		return playlists, true
	})
	return removed, err
}

// mutate applies fn to the playlist with id and saves when fn reports a change
func (l *Library) mutate(ctx context.Context, id string, fn func([]Playlist, int) ([]Playlist, bool)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	playlists := []Playlist{}
	if err := l.load(ctx, KeyPlaylists, &playlists); err != nil {
		return err
	}

	for i, p := range playlists {
		if p.ID != id {
			continue
		}
		updated, changed := fn(playlists, i)
		if !changed {
			return nil
		}
		return l.save(ctx, KeyPlaylists, updated)
	}
	return fmt.Errorf("playlist %s: %w", id, errs.ErrNotFound)
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
