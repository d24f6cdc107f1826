package audio

import (
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/gopxl/beep/v2"
	"github.com/hajimehoshi/oto/v2"
)

// Output plays one source at a time. done is called once, off the caller's
// goroutine, when src runs out; it is not called for a source replaced by
// Play or Stop.
type Output interface {
	Play(src beep.Streamer, done func(error))
	Pause()
	Resume() error
	Stop()
	SetVolume(v float64)
	SampleRate() int
	Close() error
}

// OtoOutput is an audio output using the Oto library. The oto player pulls
// through Read, which pulls from the current source.
type OtoOutput struct {
	context    *oto.Context
	player     oto.Player // oto.Player is an interface, not a pointer
	sampleRate int

	mu     sync.Mutex
	cond   *sync.Cond // Condition variable for pause/resume synchronization
	source beep.Streamer
	done   func(error)
	gen    uint64
	volume float64 // 0.0 - 1.0
	paused bool
	closed bool // True when output is closed - unblocks waiting goroutines

	// only touched by the oto goroutine
	scratch [][2]float64
}

// NewOtoOutput creates a new Oto-based audio output
func NewOtoOutput(sampleRate int) (*OtoOutput, error) {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}

	ctx, ready, err := oto.NewContext(sampleRate, channels, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	output := &OtoOutput{
		context:    ctx,
		sampleRate: sampleRate,
		volume:     1.0,
		paused:     true,
	}
	output.cond = sync.NewCond(&output.mu)
	output.player = ctx.NewPlayer(output)

	return output, nil
}

// Read implements io.Reader for the oto player
func (o *OtoOutput) Read(p []byte) (int, error) {
	o.mu.Lock()
	// Block while paused and not closed, waiting for Resume() or Close()
	for o.paused && !o.closed {
		o.cond.Wait()
	}
	if o.closed {
		o.mu.Unlock()
		return 0, io.EOF
	}
	src, gen, vol := o.source, o.gen, o.volume
	o.mu.Unlock()

	frames := len(p) / frameBytes
	if src == nil || frames == 0 {
		clear(p)
		return len(p), nil
	}

	if cap(o.scratch) < frames {
		o.scratch = make([][2]float64, frames)
	}
	buf := o.scratch[:frames]

	n, ok := src.Stream(buf)
	encodeFrames(p, buf[:n], vol)
	clear(p[n*frameBytes:])

	if !ok {
		o.finish(gen, src.Err())
	}
	return len(p), nil
}

func (o *OtoOutput) finish(gen uint64, err error) {
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	done := o.done
	o.source, o.done = nil, nil
	o.mu.Unlock()

	if done != nil {
		go done(err)
	}
}

// encodeFrames writes samples as s16le, scaled by vol and clipped
func encodeFrames(dst []byte, frames [][2]float64, vol float64) {
	for i, f := range frames {
		for c := 0; c < channels; c++ {
			v := f[c] * vol
			if math.IsNaN(v) {
				v = 0
			}
			v = math.Max(-1, math.Min(1, v))
			s := int16(v * 32767)
			j := i*frameBytes + c*2
			dst[j] = byte(s)
			dst[j+1] = byte(s >> 8)
		}
	}
}

// Play replaces the current source. Playback starts on Resume.
func (o *OtoOutput) Play(src beep.Streamer, done func(error)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gen++
	o.source, o.done = src, done
}

// SetVolume sets the playback volume (0.0 - 1.0)
func (o *OtoOutput) SetVolume(v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	o.volume = v
}

// GetVolume returns the current volume
func (o *OtoOutput) GetVolume() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume
}

// Pause pauses audio playback
func (o *OtoOutput) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.paused = true
	if o.player != nil && o.player.IsPlaying() {
		o.player.Pause()
	}
}

// Resume resumes audio playback. A closed or failed device refuses.
func (o *OtoOutput) Resume() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("%w: output closed", ErrAutoplayBlocked)
	}
	if o.player != nil {
		if err := o.player.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrAutoplayBlocked, err)
		}
	}

	o.paused = false
	o.cond.Broadcast() // Wake up any blocked Read() goroutines
	if o.player != nil && !o.player.IsPlaying() {
		o.player.Play()
	}
	return nil
}

// Stop detaches the source and pauses
func (o *OtoOutput) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.gen++
	o.source, o.done = nil, nil
	o.paused = true
	if o.player != nil && o.player.IsPlaying() {
		o.player.Pause()
	}
}

// IsPlaying returns whether audio is currently playing
func (o *OtoOutput) IsPlaying() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.player != nil && o.player.IsPlaying()
}

// Close releases the audio output resources
func (o *OtoOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	o.cond.Broadcast() // Wake up any blocked Read() goroutines so they can exit

	if o.player != nil {
		if err := o.player.Close(); err != nil {
			return err
		}
	}
	return nil
}

// SampleRate returns the sample rate
func (o *OtoOutput) SampleRate() int {
	return o.sampleRate
}

var (
	_ io.Reader = (*OtoOutput)(nil)
	_ Output    = (*OtoOutput)(nil)
)
