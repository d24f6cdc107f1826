// Package sessiontest provides an in-memory audio element for tests of
// packages that drive a session.
package sessiontest

import (
	"context"
	"math"
	"sync"

	"github.com/austinkregel/local-media/grooved/internal/audio"
	"github.com/austinkregel/local-media/grooved/internal/types"
)

// Element satisfies session.Element without decoding anything. Play
// succeeds for any source unless PlayErr is set.
type Element struct {
	mu       sync.Mutex
	locator  string
	playing  bool
	position float64
	duration float64
	volume   float64
	onEnded  func()
	onError  func(error)

	PlayErr error
}

// NewElement returns an element whose tracks last duration seconds. A NaN
// duration models a track still being probed.
func NewElement(duration float64) *Element {
	return &Element{duration: duration, volume: 1}
}

func (e *Element) SetSource(locator string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.locator = locator
	e.position = 0
	e.playing = false
}

func (e *Element) Play(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locator == "" {
		return audio.ErrNoSource
	}
	if e.PlayErr != nil {
		return e.PlayErr
	}
	e.playing = true
	return nil
}

func (e *Element) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = false
}

func (e *Element) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.playing
}

func (e *Element) Seek(_ context.Context, seconds float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !math.IsNaN(e.duration) {
		seconds = math.Max(0, math.Min(seconds, e.duration))
	}
	e.position = seconds
	return nil
}

func (e *Element) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

func (e *Element) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locator == "" {
		return math.NaN()
	}
	return e.duration
}

func (e *Element) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
}

func (e *Element) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

func (e *Element) Locator() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.locator
}

func (e *Element) SetOnEnded(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEnded = fn
}

func (e *Element) SetOnError(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = fn
}

func (e *Element) SetRouter(audio.Router) {}

func (e *Element) Preload(context.Context, string) {}

// End simulates the current track finishing
func (e *Element) End() {
	e.mu.Lock()
	e.playing = false
	fn := e.onEnded
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Fail simulates the stream breaking mid-track
func (e *Element) Fail(err error) {
	e.mu.Lock()
	e.playing = false
	fn := e.onError
	e.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Source is a fixed playlist served from http://media.test/<Dir>/
type Source struct {
	Dir   string
	Names []string
	Err   error
}

// Fetch implements playlist.Source
func (s Source) Fetch(context.Context) ([]types.Track, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	tracks := make([]types.Track, 0, len(s.Names))
	for _, name := range s.Names {
		tracks = append(tracks, types.NewTrack(name, "http://media.test/"+s.Dir+"/"+name))
	}
	return tracks, nil
}
