// Package session is the playback controller: it owns the audio element,
// the current page's playlist and the transport commands that drive them.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/austinkregel/local-media/grooved/internal/audio"
	"github.com/austinkregel/local-media/grooved/internal/effects"
	"github.com/austinkregel/local-media/grooved/internal/errs"
	"github.com/austinkregel/local-media/grooved/internal/queue"
	"github.com/austinkregel/local-media/grooved/internal/state"
	"github.com/austinkregel/local-media/grooved/internal/types"
)

const (
	defaultTickInterval   = 250 * time.Millisecond
	defaultErrorSkipDelay = 2 * time.Second
	// Previous restarts the track instead once this far in
	restartThreshold = 3.0
	fallbackVolume   = 0.5
)

// Element is the playback object a session drives. audio.Element
// implements it.
type Element interface {
	SetSource(locator string)
	Play(ctx context.Context) error
	Pause()
	Paused() bool
	Seek(ctx context.Context, seconds float64) error
	Position() float64
	Duration() float64
	SetVolume(v float64)
	Volume() float64
	Locator() string
	SetOnEnded(fn func())
	SetOnError(fn func(error))
	SetRouter(r audio.Router)
	Preload(ctx context.Context, locator string)
}

// Options configures a Session
type Options struct {
	Page           string
	Repeat         bool
	Shuffle        bool
	Wrap           bool
	ErrorSkipDelay time.Duration
	TickInterval   time.Duration
}

// Status is a point-in-time view of a session
type Status struct {
	Page             string       `json:"page"`
	Track            *types.Track `json:"track,omitempty"`
	Index            int          `json:"index"`
	Count            int          `json:"count"`
	Position         float64      `json:"position"`
	Duration         float64      `json:"duration"`
	DurationKnown    bool         `json:"durationKnown"`
	Playing          bool         `json:"playing"`
	Volume           float64      `json:"volume"`
	MaxVolume        float64      `json:"maxVolume"`
	Policy           string       `json:"policy"`
	Repeat           bool         `json:"repeat"`
	Shuffle          bool         `json:"shuffle"`
	Wrap             bool         `json:"wrap"`
	Effects          string       `json:"effects"`
	EffectsAvailable bool         `json:"effectsAvailable"`
}

type stopper interface {
	Stop() bool
}

// Session controls playback of one page
type Session struct {
	// transportMu is held while a transport command settles
	transportMu sync.Mutex

	mu      sync.Mutex
	element Element
	queue   *queue.Manager
	bridge  *state.Bridge
	fx      *effects.Pipeline
	bus     *Bus
	logger  *zap.Logger
	opts    Options

	repeat        bool
	shuffle       bool
	current       types.Track
	hasTrack      bool
	prevVolume    float64
	preloadedNext bool
	skip          stopper

	afterFunc func(time.Duration, func()) stopper

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a session around element. fx may be nil when effects are
// turned off.
func New(element Element, bridge *state.Bridge, fx *effects.Pipeline, bus *Bus, logger *zap.Logger, opts Options) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = NewBus()
	}
	if opts.ErrorSkipDelay <= 0 {
		opts.ErrorSkipDelay = defaultErrorSkipDelay
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}

	q := queue.NewManager()
	q.SetWrap(opts.Wrap)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		element: element,
		queue:   q,
		bridge:  bridge,
		fx:      fx,
		bus:     bus,
		logger:  logger.With(zap.String("page", opts.Page)),
		opts:    opts,
		repeat:  opts.Repeat,
		shuffle: opts.Shuffle,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		ctx:    ctx,
		cancel: cancel,
	}

	element.SetOnEnded(s.onEnded)
	element.SetOnError(s.onStreamError)
	if fx != nil {
		element.SetRouter(fx)
	}
	return s
}

// Start begins publishing position updates until Close
func (s *Session) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.opts.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// Close stops the session's timers. The element keeps its state so the
// next session can take it over.
func (s *Session) Close() {
	s.cancel()
	s.mu.Lock()
	s.cancelSkipLocked()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Session) tick() {
	if s.element.Paused() {
		return
	}
	s.publish(EventPositionUpdate, "")
	s.maybePreload()
}

// maybePreload warms the next sequential track once the current one is
// halfway through.
func (s *Session) maybePreload() {
	d := s.element.Duration()
	if math.IsNaN(d) || d <= 0 || s.element.Position() <= d/2 {
		return
	}

	s.mu.Lock()
	if s.preloadedNext {
		s.mu.Unlock()
		return
	}
	s.preloadedNext = true
	s.mu.Unlock()

	index, n := s.queue.Position()
	if n <= 1 {
		return
	}
	next, ok := s.queue.At((index + 1) % n)
	if !ok {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.element.Preload(s.ctx, next.Locator)
	}()
}

// SetPlaylist replaces the playlist, keeping the current track selected
// when it is still listed.
func (s *Session) SetPlaylist(tracks []types.Track) {
	s.queue.Set(tracks)

	s.mu.Lock()
	locator, has := s.current.Locator, s.hasTrack
	s.mu.Unlock()
	if has {
		s.queue.SetIndex(s.queue.IndexOf(locator))
	}
	s.publish(EventPlaylistChange, "")
}

// Playlist returns the page's tracks
func (s *Session) Playlist() []types.Track {
	return s.queue.Items()
}

// Page returns the page name
func (s *Session) Page() string {
	return s.opts.Page
}

// Bus returns the event bus
func (s *Session) Bus() *Bus {
	return s.bus
}

// Restore applies a resolved start state: volume, track, position, and
// playback when the snapshot was playing.
func (s *Session) Restore(ctx context.Context, rs state.ResolvedStartState) error {
	s.SetVolume(rs.Volume)
	if rs.Track.Locator == "" {
		return nil
	}

	s.transportMu.Lock()
	defer s.transportMu.Unlock()

	s.loadLocked(rs.Track)
	if rs.Position > 0 {
		if err := s.element.Seek(ctx, rs.Position); err != nil {
			s.logger.Warn("failed to restore position", zap.Float64("position", rs.Position), zap.Error(err))
		}
	}
	s.logger.Info("restored",
		zap.String("track", rs.Track.Name),
		zap.Int("index", rs.Index),
		zap.Float64("position", rs.Position),
		zap.Bool("playing", rs.Playing),
		zap.Bool("passThrough", rs.PassThrough))

	if !rs.Playing {
		return nil
	}
	return s.playLocked(ctx)
}

// Load makes track current at position 0 with the volume unchanged, and
// starts it when autoplay is set.
func (s *Session) Load(ctx context.Context, track types.Track, autoplay bool) error {
	s.transportMu.Lock()
	defer s.transportMu.Unlock()

	s.loadLocked(track)
	if !autoplay {
		return nil
	}
	return s.playLocked(ctx)
}

// LoadLocator loads an arbitrary source that need not be in the playlist
func (s *Session) LoadLocator(ctx context.Context, locator, name string, autoplay bool) error {
	if name == "" {
		name = types.DisplayName(locator)
	}
	return s.Load(ctx, types.Track{Locator: locator, Name: name}, autoplay)
}

// PlayIndex loads and starts the playlist entry at index
func (s *Session) PlayIndex(ctx context.Context, index int) error {
	track, ok := s.queue.At(index)
	if !ok {
		return fmt.Errorf("playlist index %d: %w", index, errs.ErrNotFound)
	}
	return s.Load(ctx, track, true)
}

// loadLocked must be called with transportMu held
func (s *Session) loadLocked(track types.Track) {
	s.queue.SetIndex(s.queue.IndexOf(track.Locator))

	s.mu.Lock()
	s.cancelSkipLocked()
	s.current = track
	s.hasTrack = true
	s.preloadedNext = false
	s.mu.Unlock()

	s.element.SetSource(track.Locator)
	s.logger.Debug("loaded", zap.String("locator", track.Locator))
	s.publish(EventStateChange, "")
}

// playLocked must be called with transportMu held
func (s *Session) playLocked(ctx context.Context) error {
	if err := s.element.Play(ctx); err != nil {
		s.rejected(err)
		return err
	}
	s.publish(EventTrackStarted, "")
	return nil
}

// rejected reports a failed start. The element is already paused.
func (s *Session) rejected(err error) {
	s.logger.Warn("playback rejected", zap.Error(err))
	s.publish(EventError, userMessage(err))
	if audio.IsRecoverable(err) {
		s.scheduleSkip()
	}
}

func (s *Session) onStreamError(err error) {
	s.rejected(err)
}

// scheduleSkip advances past a track that failed to load
func (s *Session) scheduleSkip() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	s.cancelSkipLocked()
	s.skip = s.afterFunc(s.opts.ErrorSkipDelay, func() {
		if s.ctx.Err() != nil {
			return
		}
		// Repeating a broken track would retry it forever
		policy := s.Policy()
		if policy == types.RepeatOne {
			policy = types.Sequential
		}
		if err := s.Advance(s.ctx, types.Next, policy); err != nil {
			s.logger.Debug("skip after error failed", zap.Error(err))
		}
	})
}

func (s *Session) cancelSkipLocked() {
	if s.skip != nil {
		s.skip.Stop()
		s.skip = nil
	}
}

func (s *Session) onEnded() {
	s.publish(EventTrackEnded, "")
	if s.ctx.Err() != nil {
		return
	}
	if err := s.Advance(s.ctx, types.Next, s.Policy()); err != nil {
		s.logger.Debug("advance after end failed", zap.Error(err))
	}
}

// Play starts or resumes playback
func (s *Session) Play(ctx context.Context) error {
	s.transportMu.Lock()
	defer s.transportMu.Unlock()
	if !s.element.Paused() {
		return nil
	}
	return s.playLocked(ctx)
}

// Pause pauses playback
func (s *Session) Pause() {
	s.transportMu.Lock()
	defer s.transportMu.Unlock()
	s.pauseLocked()
}

func (s *Session) pauseLocked() {
	if s.element.Paused() {
		return
	}
	s.element.Pause()
	s.publish(EventStateChange, "")
}

// TogglePlayPause issues the complement of the current paused state. A
// toggle that arrives while another transport command is still settling
// is dropped.
func (s *Session) TogglePlayPause(ctx context.Context) error {
	if !s.transportMu.TryLock() {
		s.logger.Debug("toggle coalesced")
		return nil
	}
	defer s.transportMu.Unlock()

	if s.element.Paused() {
		return s.playLocked(ctx)
	}
	s.pauseLocked()
	return nil
}

// Seek moves to fraction of the duration, clamped to [0, 1]. It does
// nothing while the duration is unknown or zero.
func (s *Session) Seek(ctx context.Context, fraction float64) error {
	d := s.element.Duration()
	if math.IsNaN(d) || d <= 0 || math.IsNaN(fraction) {
		return nil
	}
	return s.seekTo(ctx, clamp(fraction, 0, 1)*d)
}

// SeekBy moves by delta seconds, clamped to [0, duration]
func (s *Session) SeekBy(ctx context.Context, delta float64) error {
	d := s.element.Duration()
	if math.IsNaN(d) || d <= 0 || math.IsNaN(delta) {
		return nil
	}
	return s.seekTo(ctx, clamp(s.element.Position()+delta, 0, d))
}

// SeekTo moves to an absolute position in seconds, clamped to the duration
func (s *Session) SeekTo(ctx context.Context, seconds float64) error {
	d := s.element.Duration()
	if math.IsNaN(d) || d <= 0 || math.IsNaN(seconds) {
		return nil
	}
	return s.seekTo(ctx, clamp(seconds, 0, d))
}

func (s *Session) seekTo(ctx context.Context, seconds float64) error {
	s.transportMu.Lock()
	defer s.transportMu.Unlock()

	if err := s.element.Seek(ctx, seconds); err != nil {
		s.rejected(err)
		return err
	}
	s.publish(EventPositionUpdate, "")
	return nil
}

// Next advances with the current policy
func (s *Session) Next(ctx context.Context) error {
	return s.Advance(ctx, types.Next, s.Policy())
}

// Previous restarts the current track once it is past the first few
// seconds, otherwise steps back one entry.
func (s *Session) Previous(ctx context.Context) error {
	if s.element.Position() > restartThreshold {
		return s.seekTo(ctx, 0)
	}
	return s.Advance(ctx, types.Previous, types.Sequential)
}

// Advance moves through the playlist and plays the result. A clamped
// boundary leaves playback as it is.
func (s *Session) Advance(ctx context.Context, dir types.Direction, policy types.AdvancePolicy) error {
	s.transportMu.Lock()
	defer s.transportMu.Unlock()

	s.mu.Lock()
	has := s.hasTrack
	s.mu.Unlock()

	if policy == types.RepeatOne && has {
		if err := s.element.Seek(ctx, 0); err != nil {
			s.rejected(err)
			return err
		}
		if !s.element.Paused() {
			s.publish(EventTrackStarted, "")
			return nil
		}
		return s.playLocked(ctx)
	}

	track, moved, ok := s.queue.Advance(dir, policy)
	if !ok {
		return errs.ErrEmptyPlaylist
	}
	if !moved {
		s.logger.Debug("playlist boundary", zap.Stringer("direction", dir))
		return nil
	}

	s.loadLocked(track)
	return s.playLocked(ctx)
}

// SetVolume clamps v to [0, MaxVolume] and returns the applied value
func (s *Session) SetVolume(v float64) float64 {
	if math.IsNaN(v) {
		return s.element.Volume()
	}
	v = clamp(v, 0, s.MaxVolume())
	s.element.SetVolume(v)
	s.publish(EventVolumeChange, "")
	return v
}

// NudgeVolume changes the volume by delta
func (s *Session) NudgeVolume(delta float64) float64 {
	v := s.element.Volume() + delta
	return s.SetVolume(math.Round(v*100) / 100)
}

// ToggleMute silences playback, or restores the level from before muting
func (s *Session) ToggleMute() float64 {
	s.mu.Lock()
	current := s.element.Volume()
	if current > 0 {
		s.prevVolume = current
		s.mu.Unlock()
		return s.SetVolume(0)
	}
	restore := s.prevVolume
	s.mu.Unlock()

	if restore <= 0 {
		restore = fallbackVolume
	}
	return s.SetVolume(restore)
}

// MaxVolume is 1, or effects.MaxOutputGain when the effects pipeline can
// carry the output gain.
func (s *Session) MaxVolume() float64 {
	if s.fx != nil && s.fx.Available() {
		return effects.MaxOutputGain
	}
	return 1
}

// ToggleEffects flips the effects chain in or out of the signal path
func (s *Session) ToggleEffects() (bool, error) {
	if s.fx == nil {
		return false, errs.ErrEffectsUnavailable
	}
	engaged, err := s.fx.Toggle()
	if err != nil {
		s.publish(EventError, "Audio effects are unavailable")
		return false, err
	}
	s.publish(EventEffectsChange, "")
	return engaged, nil
}

// SetRepeat toggles repeat-one
func (s *Session) SetRepeat(on bool) {
	s.mu.Lock()
	s.repeat = on
	s.mu.Unlock()
	s.publish(EventStateChange, "")
}

// SetShuffle toggles shuffle
func (s *Session) SetShuffle(on bool) {
	s.mu.Lock()
	s.shuffle = on
	s.mu.Unlock()
	s.publish(EventStateChange, "")
}

// SetPolicy sets repeat and shuffle from a single policy
func (s *Session) SetPolicy(p types.AdvancePolicy) {
	s.mu.Lock()
	s.repeat = p == types.RepeatOne
	s.shuffle = p == types.ShuffleNoRepeat
	s.mu.Unlock()
	s.publish(EventStateChange, "")
}

// Policy resolves the repeat and shuffle flags; repeat wins
func (s *Session) Policy() types.AdvancePolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.PolicyFromFlags(s.repeat, s.shuffle)
}

// Current returns the loaded track
func (s *Session) Current() (types.Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.hasTrack
}

// Status returns a snapshot of the session
func (s *Session) Status() Status {
	s.mu.Lock()
	st := Status{
		Page:    s.opts.Page,
		Repeat:  s.repeat,
		Shuffle: s.shuffle,
		Policy:  types.PolicyFromFlags(s.repeat, s.shuffle).String(),
	}
	if s.hasTrack {
		t := s.current
		st.Track = &t
	}
	s.mu.Unlock()

	st.Index, st.Count = s.queue.Position()
	st.Wrap = s.queue.Wrap()
	st.Position = s.element.Position()
	if d := s.element.Duration(); !math.IsNaN(d) {
		st.Duration = d
		st.DurationKnown = true
	}
	st.Playing = !s.element.Paused()
	st.Volume = s.element.Volume()
	st.MaxVolume = s.MaxVolume()

	st.Effects = "off"
	if s.fx != nil {
		st.Effects = s.fx.State().String()
		st.EffectsAvailable = s.fx.Available()
	}
	return st
}

// CurrentLocator implements state.Controller
func (s *Session) CurrentLocator() string { return s.element.Locator() }

// CurrentPosition implements state.Controller
func (s *Session) CurrentPosition() float64 { return s.element.Position() }

// IsPlaying implements state.Controller
func (s *Session) IsPlaying() bool { return !s.element.Paused() }

// CurrentVolume implements state.Controller
func (s *Session) CurrentVolume() float64 { return s.element.Volume() }

// Unload snapshots playback synchronously before the page goes away.
// External search results are not persisted; the previous snapshot stays.
func (s *Session) Unload(ctx context.Context) error {
	s.mu.Lock()
	current, has := s.current, s.hasTrack
	s.mu.Unlock()

	if !has {
		return nil
	}
	if current.External {
		s.logger.Debug("not persisting external track", zap.String("locator", current.Locator))
		return nil
	}
	if s.bridge == nil {
		return nil
	}

	snap := state.Capture(s)
	if err := s.bridge.Save(ctx, snap); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (s *Session) publish(t EventType, message string) {
	st := s.Status()
	s.bus.Publish(Event{Type: t, Status: &st, Message: message})
}

// userMessage turns a play rejection into something a listener can act on
func userMessage(err error) string {
	switch {
	case errors.Is(err, audio.ErrAutoplayBlocked):
		return "Playback was blocked. Press play to start."
	case errors.Is(err, audio.ErrNetwork):
		return "Could not reach this track. Skipping..."
	case errors.Is(err, audio.ErrDecode):
		return "Error playing this track. Skipping..."
	case errors.Is(err, audio.ErrNoSource):
		return "No songs found"
	default:
		return "Playback failed"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var _ state.Controller = (*Session)(nil)
