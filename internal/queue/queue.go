// Package queue holds the active playlist and decides which track plays next.
package queue

import (
	"math/rand"
	"sync"
	"time"

	"github.com/austinkregel/local-media/grooved/internal/types"
)

// ChangeCallback is called when the queue state changes
type ChangeCallback func()

// Manager manages the active playlist and the current index
type Manager struct {
	mu       sync.RWMutex
	items    []types.Track
	index    int  // -1 when nothing from this playlist is current
	wrap     bool // sequential advance wraps instead of clamping
	rng      *rand.Rand
	onChange ChangeCallback
}

// NewManager creates a new queue manager
func NewManager() *Manager {
	return &Manager{
		items: make([]types.Track, 0),
		index: -1,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetRand replaces the shuffle random source
func (m *Manager) SetRand(r *rand.Rand) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rng = r
}

// SetOnChange sets a callback to be called when the queue state changes
func (m *Manager) SetOnChange(callback ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = callback
}

// notifyChange calls the onChange callback if set (must be called without lock held)
func (m *Manager) notifyChange() {
	m.mu.RLock()
	callback := m.onChange
	m.mu.RUnlock()
	if callback != nil {
		callback()
	}
}

// SetWrap selects wraparound (true) or clamping (false) at playlist boundaries
func (m *Manager) SetWrap(wrap bool) {
	m.mu.Lock()
	m.wrap = wrap
	m.mu.Unlock()
}

// Wrap reports whether sequential advance wraps
func (m *Manager) Wrap() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.wrap
}

// Set replaces the playlist. The index resets to -1.
func (m *Manager) Set(tracks []types.Track) {
	m.mu.Lock()
	m.items = make([]types.Track, len(tracks))
	copy(m.items, tracks)
	m.index = -1
	m.mu.Unlock()
	m.notifyChange()
}

// Clear empties the playlist
func (m *Manager) Clear() {
	m.Set(nil)
}

// Current returns the current track
func (m *Manager) Current() (types.Track, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.index < 0 || m.index >= len(m.items) {
		return types.Track{}, false
	}
	return m.items[m.index], true
}

// At returns the track at index
func (m *Manager) At(index int) (types.Track, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if index < 0 || index >= len(m.items) {
		return types.Track{}, false
	}
	return m.items[index], true
}

// SetIndex sets the current index. -1 detaches the queue from the playing
// track (pass-through or external sources).
func (m *Manager) SetIndex(index int) bool {
	m.mu.Lock()

	if index < -1 || index >= len(m.items) {
		m.mu.Unlock()
		return false
	}

	m.index = index
	m.mu.Unlock()
	m.notifyChange()
	return true
}

// IndexOf returns the index of the track with the given locator, or -1
func (m *Manager) IndexOf(locator string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, t := range m.items {
		if t.Locator == locator {
			return i
		}
	}
	return -1
}

// Position returns the current index and queue size
func (m *Manager) Position() (int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.index, len(m.items)
}

// Len returns the number of tracks
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Items returns a copy of the playlist
func (m *Manager) Items() []types.Track {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]types.Track, len(m.items))
	copy(items, m.items)
	return items
}

// Advance moves the index according to direction and policy and returns the
// resulting track. moved is false when the index did not change because a
// clamped boundary was hit; repeat-one reports moved=true since the track
// restarts. ok is false for an empty playlist.
func (m *Manager) Advance(dir types.Direction, policy types.AdvancePolicy) (track types.Track, moved bool, ok bool) {
	m.mu.Lock()

	n := len(m.items)
	if n == 0 {
		m.mu.Unlock()
		return types.Track{}, false, false
	}

	next := m.index
	switch policy {
	case types.RepeatOne:
		if next < 0 {
			next = 0
		}
		moved = true

	case types.ShuffleNoRepeat:
		next = m.pickShuffled(n)
		moved = true

	default:
		next, moved = m.step(dir, n)
	}

	m.index = next
	track = m.items[next]
	m.mu.Unlock()

	if moved {
		m.notifyChange()
	}
	return track, moved, true
}

// step applies sequential movement with clamp or wrap at the ends
func (m *Manager) step(dir types.Direction, n int) (int, bool) {
	if m.index < 0 {
		return 0, true
	}

	next := m.index + 1
	if dir == types.Previous {
		next = m.index - 1
	}

	switch {
	case next >= n:
		if !m.wrap {
			return m.index, false
		}
		next = 0
	case next < 0:
		if !m.wrap {
			return m.index, false
		}
		next = n - 1
	}
	return next, next != m.index
}

// pickShuffled returns a uniformly random index different from the current
// one whenever there is more than one track.
func (m *Manager) pickShuffled(n int) int {
	if n == 1 {
		return 0
	}
	if m.index < 0 || m.index >= n {
		return m.rng.Intn(n)
	}
	r := m.rng.Intn(n - 1)
	if r >= m.index {
		r++
	}
	return r
}
