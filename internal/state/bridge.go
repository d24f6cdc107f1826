// Package state round-trips playback snapshots through key-value storage so
// playback resumes after switching pages.
package state

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"path"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/austinkregel/local-media/grooved/internal/kv"
	"github.com/austinkregel/local-media/grooved/internal/types"
)

// Storage key suffixes. The configured prefix is prepended.
const (
	KeySource   = "currentSongSrc"
	KeyPosition = "currentSongTime"
	KeyPlaying  = "isPlaying"
	KeyVolume   = "currentVolume"
)

// Snapshot is the minimal state needed to resume one track
type Snapshot struct {
	Locator  string  `json:"locator"`
	Position float64 `json:"position"`
	Playing  bool    `json:"playing"`
	Volume   float64 `json:"volume"`
}

// Controller is the read side of a playback session
type Controller interface {
	CurrentLocator() string
	CurrentPosition() float64
	IsPlaying() bool
	CurrentVolume() float64
}

// Capture reads the controller's current state
func Capture(c Controller) Snapshot {
	return Snapshot{
		Locator:  c.CurrentLocator(),
		Position: c.CurrentPosition(),
		Playing:  c.IsPlaying(),
		Volume:   c.CurrentVolume(),
	}
}

// ResolvedStartState is what a freshly loaded page should play
type ResolvedStartState struct {
	Track types.Track
	// Index into the playlist, -1 for pass-through or empty playlists
	Index    int
	Position float64
	Playing  bool
	Volume   float64
	// PassThrough is set when the track came from another page
	PassThrough bool
}

// Options configures a Bridge
type Options struct {
	KeyPrefix     string
	MediaDir      string
	DefaultVolume float64
}

// Bridge saves and restores snapshots for one page
type Bridge struct {
	store  kv.Store
	opts   Options
	logger *zap.Logger
}

// NewBridge creates a bridge over store
func NewBridge(store kv.Store, opts Options, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{store: store, opts: opts, logger: logger}
}

func (b *Bridge) key(suffix string) string {
	return b.opts.KeyPrefix + suffix
}

// Save writes all four keys. It performs no asynchronous work so it is safe
// to call from a teardown path.
func (b *Bridge) Save(ctx context.Context, snap Snapshot) error {
	if snap.Locator == "" {
		return nil
	}

	pos := snap.Position
	if math.IsNaN(pos) || pos < 0 {
		pos = 0
	}
	vol := snap.Volume
	if math.IsNaN(vol) || vol < 0 {
		vol = 0
	}

	writes := []struct{ k, v string }{
		{KeySource, snap.Locator},
		{KeyPosition, strconv.FormatFloat(pos, 'f', -1, 64)},
		{KeyPlaying, strconv.FormatBool(snap.Playing)},
		{KeyVolume, strconv.FormatFloat(vol, 'f', -1, 64)},
	}
	for _, w := range writes {
		if err := b.store.Set(ctx, b.key(w.k), w.v); err != nil {
			return fmt.Errorf("failed to save %s: %w", w.k, err)
		}
	}

	b.logger.Debug("snapshot saved",
		zap.String("locator", snap.Locator),
		zap.Float64("position", pos),
		zap.Bool("playing", snap.Playing))
	return nil
}

// Load reads the stored snapshot. Any missing or unparsable field other than
// volume yields ok=false; the failure is logged, never returned.
func (b *Bridge) Load(ctx context.Context) (Snapshot, bool) {
	get := func(suffix string) (string, bool) {
		v, ok, err := b.store.Get(ctx, b.key(suffix))
		if err != nil {
			b.logger.Warn("failed to read snapshot key", zap.String("key", suffix), zap.Error(err))
			return "", false
		}
		return v, ok
	}

	locator, ok := get(KeySource)
	if !ok || locator == "" {
		return Snapshot{}, false
	}

	snap := Snapshot{Locator: locator, Volume: b.opts.DefaultVolume}

	rawPos, ok := get(KeyPosition)
	if !ok {
		b.logger.Warn("snapshot has no position, ignoring")
		return Snapshot{}, false
	}
	pos, err := strconv.ParseFloat(rawPos, 64)
	if err != nil || math.IsNaN(pos) || math.IsInf(pos, 0) {
		b.logger.Warn("snapshot position unparsable, ignoring", zap.String("value", rawPos))
		return Snapshot{}, false
	}
	snap.Position = math.Max(0, pos)

	rawPlaying, ok := get(KeyPlaying)
	if !ok {
		b.logger.Warn("snapshot has no playing flag, ignoring")
		return Snapshot{}, false
	}
	playing, err := strconv.ParseBool(rawPlaying)
	if err != nil {
		b.logger.Warn("snapshot playing flag unparsable, ignoring", zap.String("value", rawPlaying))
		return Snapshot{}, false
	}
	snap.Playing = playing

	if rawVol, ok := get(KeyVolume); ok {
		vol, err := strconv.ParseFloat(rawVol, 64)
		if err != nil || math.IsNaN(vol) || math.IsInf(vol, 0) {
			b.logger.Warn("snapshot volume unparsable, ignoring", zap.String("value", rawVol))
			return Snapshot{}, false
		}
		snap.Volume = math.Max(0, vol)
	}

	return snap, true
}

// Clear removes the stored snapshot
func (b *Bridge) Clear(ctx context.Context) error {
	for _, k := range []string{KeySource, KeyPosition, KeyPlaying, KeyVolume} {
		if err := b.store.Delete(ctx, b.key(k)); err != nil {
			return err
		}
	}
	return nil
}

// Restore decides where a page starts given the stored snapshot (ok=false
// when none) and the page's freshly fetched playlist.
func (b *Bridge) Restore(snap Snapshot, ok bool, playlist []types.Track) ResolvedStartState {
	if !ok {
		if len(playlist) == 0 {
			return ResolvedStartState{Index: -1, Volume: b.opts.DefaultVolume}
		}
		return ResolvedStartState{
			Track:  playlist[0],
			Index:  0,
			Volume: b.opts.DefaultVolume,
		}
	}

	name := splitLocator(snap.Locator)
	if id, ok := b.pageRelative(snap.Locator); ok {
		for i, t := range playlist {
			if types.DecodeSegment(t.ID) == id {
				return ResolvedStartState{
					Track:    t,
					Index:    i,
					Position: snap.Position,
					Playing:  snap.Playing,
					Volume:   snap.Volume,
				}
			}
		}
		b.logger.Info("snapshot track no longer listed, passing through", zap.String("name", id))
	}

	return ResolvedStartState{
		Track: types.Track{
			Locator: snap.Locator,
			Name:    name,
		},
		Index:       -1,
		Position:    snap.Position,
		Playing:     snap.Playing,
		Volume:      snap.Volume,
		PassThrough: true,
	}
}

// locatorPath returns the decoded path of a URL or filesystem locator
func locatorPath(locator string) string {
	p := locator
	if u, err := url.Parse(locator); err == nil && u.Path != "" {
		p = u.EscapedPath()
	}
	return types.DecodeSegment(strings.TrimSuffix(p, "/"))
}

// splitLocator returns the decoded final segment of a locator
func splitLocator(locator string) string {
	return path.Base(locatorPath(locator))
}

// pageRelative returns the part of locator after "/<mediaDir>/", the same
// rule the listing sources use to derive track IDs.
func (b *Bridge) pageRelative(locator string) (string, bool) {
	dir := strings.Trim(b.opts.MediaDir, "/")
	if dir == "" {
		return "", false
	}
	p := locatorPath(locator)
	marker := "/" + dir + "/"
	i := strings.Index(p, marker)
	if i < 0 && strings.HasPrefix(p, dir+"/") {
		// Relative filesystem locator
		return p[len(dir)+1:], true
	}
	if i < 0 {
		return "", false
	}
	id := p[i+len(marker):]
	return id, id != ""
}
