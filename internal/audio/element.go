// Package audio decodes media with FFmpeg and plays it through Oto. An
// Element is the single playback object a session drives.
package audio

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"
	"go.uber.org/zap"

	"github.com/austinkregel/local-media/grooved/internal/errs"
)

const probeTimeout = 10 * time.Second

// Router is where decoded audio goes before the output. Connect returns
// the node the output should pull from.
type Router interface {
	Connect(src beep.Streamer) (beep.Streamer, error)
	SetVolume(v float64) float64
}

// Element plays one source at a time. Position and duration are in
// seconds; duration is NaN until the source has been probed.
type Element struct {
	// playbackMu serializes Play and Seek, which may block on ffmpeg startup
	playbackMu sync.Mutex

	mu     sync.Mutex
	opener Opener
	output Output
	router Router
	routed bool
	logger *zap.Logger

	locator  string
	info     *TrackInfo
	duration float64
	offset   time.Duration
	frames   atomic.Int64
	stream   Stream
	playing  bool
	volume   float64

	// sourceID changes with every SetSource; streamID with every stream
	sourceID uint64
	streamID uint64

	preloaded map[string]*TrackInfo

	onEnded func()
	onError func(error)
}

// NewElement creates an element with nothing loaded
func NewElement(opener Opener, output Output, logger *zap.Logger) *Element {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Element{
		opener:    opener,
		output:    output,
		logger:    logger,
		duration:  math.NaN(),
		volume:    1,
		preloaded: make(map[string]*TrackInfo),
	}
}

// SetRouter sends audio through r from the next stream on
func (e *Element) SetRouter(r Router) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.router = r
}

// SetOnEnded registers the natural end-of-track callback
func (e *Element) SetOnEnded(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnded = fn
}

// SetOnError registers the callback for failures after playback started
func (e *Element) SetOnError(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = fn
}

// SetSource replaces the source. The element is left paused at 0 with its
// volume unchanged.
func (e *Element) SetSource(locator string) {
	e.mu.Lock()
	e.closeStreamLocked()
	e.sourceID++
	id := e.sourceID
	e.locator = locator
	e.offset = 0
	e.frames.Store(0)
	e.playing = false
	e.duration = math.NaN()
	e.info = nil

	if info, ok := e.preloaded[locator]; ok {
		e.setInfoLocked(info)
		delete(e.preloaded, locator)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if locator != "" {
		go e.probe(id, locator)
	}
}

func (e *Element) probe(id uint64, locator string) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	info, err := e.opener.Probe(ctx, locator)
	if err != nil {
		e.logger.Warn("failed to probe source", zap.String("locator", locator), zap.Error(err))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if id != e.sourceID {
		return
	}
	e.setInfoLocked(info)
}

func (e *Element) setInfoLocked(info *TrackInfo) {
	e.info = info
	if info != nil && info.Duration > 0 {
		e.duration = info.Duration.Seconds()
	}
}

// Preload probes locator ahead of time so a later SetSource knows its
// duration immediately. Only the most recent preload is kept.
func (e *Element) Preload(ctx context.Context, locator string) {
	info, err := e.opener.Probe(ctx, locator)
	if err != nil {
		e.logger.Debug("preload failed", zap.String("locator", locator), zap.Error(err))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.preloaded)
	e.preloaded[locator] = info
}

// Play starts or resumes playback and returns once the output is running.
// Errors wrap ErrDecode, ErrNetwork or ErrAutoplayBlocked; the element is
// left paused.
func (e *Element) Play(ctx context.Context) error {
	e.playbackMu.Lock()
	defer e.playbackMu.Unlock()

	e.mu.Lock()
	locator := e.locator
	if locator == "" {
		e.mu.Unlock()
		return ErrNoSource
	}
	if e.playing {
		e.mu.Unlock()
		return nil
	}

	if e.stream == nil {
		id, offset := e.sourceID, e.offset
		e.mu.Unlock()

		stream, err := e.opener.Open(ctx, locator, offset, e.output.SampleRate())
		if err != nil {
			e.logger.Warn("play rejected", zap.String("locator", locator), zap.Error(err))
			return rejected(locator, err)
		}

		e.mu.Lock()
		if id != e.sourceID {
			// Source changed while ffmpeg was starting
			e.mu.Unlock()
			stream.Close()
			return nil
		}
		e.attachLocked(stream)
	}
	e.playing = true
	e.mu.Unlock()

	if err := e.output.Resume(); err != nil {
		e.mu.Lock()
		e.playing = false
		e.mu.Unlock()
		e.logger.Warn("output refused to start", zap.Error(err))
		return rejected(locator, err)
	}

	e.logger.Debug("playing", zap.String("locator", locator), zap.Float64("position", e.Position()))
	return nil
}

// attachLocked routes stream to the output. Must be called with mu held.
func (e *Element) attachLocked(stream Stream) {
	e.streamID++
	id := e.streamID
	e.stream = stream
	e.frames.Store(0)

	var src beep.Streamer = &counter{s: stream, frames: &e.frames}
	e.routed = false
	if e.router != nil {
		out, err := e.router.Connect(src)
		if err != nil {
			e.logger.Warn("routing bypassed", zap.Error(err))
		} else {
			e.routed = true
		}
		src = out
	}
	e.applyVolumeLocked()
	e.output.Play(src, func(err error) { e.ended(id, err) })
}

func (e *Element) ended(id uint64, err error) {
	e.mu.Lock()
	if id != e.streamID || e.stream == nil {
		e.mu.Unlock()
		return
	}
	e.offset += e.framesToDuration(e.frames.Load())
	e.frames.Store(0)
	e.stream.Close()
	e.stream = nil
	e.playing = false
	e.output.Pause()
	onEnded, onError := e.onEnded, e.onError
	locator := e.locator
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn("stream failed", zap.String("locator", locator), zap.Error(err))
		if onError != nil {
			onError(errs.NewPlayerError("stream", locator, err))
		}
		return
	}

	e.logger.Debug("track ended", zap.String("locator", locator))
	if onEnded != nil {
		onEnded()
	}
}

// closeStreamLocked stops the output before killing the decoder so the
// kill is never reported as an end of track.
func (e *Element) closeStreamLocked() {
	e.output.Stop()
	if e.stream != nil {
		e.offset += e.framesToDuration(e.frames.Load())
		e.frames.Store(0)
		e.stream.Close()
		e.stream = nil
	}
}

// Pause pauses playback (idempotent)
func (e *Element) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.playing {
		return
	}
	e.playing = false
	e.output.Pause()
}

// Paused reports whether the element is not playing
func (e *Element) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.playing
}

// Seek moves to seconds, clamped to [0, duration]. A playing element
// restarts the decoder there; a paused one starts there on the next Play.
func (e *Element) Seek(ctx context.Context, seconds float64) error {
	e.playbackMu.Lock()
	defer e.playbackMu.Unlock()

	e.mu.Lock()
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	if !math.IsNaN(e.duration) && seconds > e.duration {
		seconds = e.duration
	}

	wasPlaying := e.playing
	e.closeStreamLocked()
	e.offset = time.Duration(seconds * float64(time.Second))
	e.playing = false
	locator, id, offset := e.locator, e.sourceID, e.offset
	e.mu.Unlock()

	if !wasPlaying || locator == "" {
		return nil
	}

	stream, err := e.opener.Open(ctx, locator, offset, e.output.SampleRate())
	if err != nil {
		return errs.NewPlayerError("seek", locator, err)
	}

	e.mu.Lock()
	if id != e.sourceID {
		e.mu.Unlock()
		stream.Close()
		return nil
	}
	e.attachLocked(stream)
	e.playing = true
	e.mu.Unlock()

	if err := e.output.Resume(); err != nil {
		e.mu.Lock()
		e.playing = false
		e.mu.Unlock()
		return errs.NewPlayerError("seek", locator, err)
	}
	return nil
}

// Position returns the playback position in seconds
func (e *Element) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos := (e.offset + e.framesToDuration(e.frames.Load())).Seconds()
	if !math.IsNaN(e.duration) && pos > e.duration {
		pos = e.duration
	}
	return pos
}

// Duration returns the source duration in seconds, NaN when unknown
func (e *Element) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

// Locator returns the current source
func (e *Element) Locator() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.locator
}

// Info returns probed metadata, nil until known
func (e *Element) Info() *TrackInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info
}

// SetVolume sets the level. Values above 1 only take effect when routed.
func (e *Element) SetVolume(v float64) {
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
	e.applyVolumeLocked()
}

// Volume returns the level last set
func (e *Element) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

func (e *Element) applyVolumeLocked() {
	if e.routed {
		e.router.SetVolume(e.volume)
		e.output.SetVolume(1)
		return
	}
	e.output.SetVolume(math.Min(e.volume, 1))
}

// Close stops playback and releases the decoder
func (e *Element) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeStreamLocked()
	e.playing = false
	return nil
}

func (e *Element) framesToDuration(frames int64) time.Duration {
	rate := e.output.SampleRate()
	if rate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(rate)
}

// counter tracks how many frames have been pulled from the decoder
type counter struct {
	s      beep.Streamer
	frames *atomic.Int64
}

func (c *counter) Stream(samples [][2]float64) (int, bool) {
	n, ok := c.s.Stream(samples)
	c.frames.Add(int64(n))
	return n, ok
}

func (c *counter) Err() error {
	return c.s.Err()
}

// rejected wraps a failed start; the cause stays matchable with errors.Is
func rejected(locator string, err error) error {
	return errs.NewPlayerError("play", locator, fmt.Errorf("%w: %w", errs.ErrPlaybackRejected, err))
}
