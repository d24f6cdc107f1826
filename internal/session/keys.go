package session

import (
	"context"
	"fmt"
	"strings"
)

// Key is a keyboard control
type Key string

const (
	KeySpace Key = "space"
	KeyLeft  Key = "left"
	KeyRight Key = "right"
	KeyUp    Key = "up"
	KeyDown  Key = "down"
	KeyMute  Key = "m"
)

const (
	seekStep   = 10.0
	volumeStep = 0.1
)

// KeyEvent is one key press. Modifier is ctrl (or an equivalent) held down.
type KeyEvent struct {
	Key      Key  `json:"key"`
	Modifier bool `json:"modifier,omitempty"`
}

// ParseKey reads forms like "space", "right" or "ctrl+left"
func ParseKey(s string) (KeyEvent, error) {
	var ev KeyEvent
	s = strings.ToLower(strings.TrimSpace(s))
	if rest, ok := strings.CutPrefix(s, "ctrl+"); ok {
		ev.Modifier = true
		s = rest
	}

	switch Key(s) {
	case KeySpace, KeyLeft, KeyRight, KeyUp, KeyDown, KeyMute:
		ev.Key = Key(s)
	default:
		return KeyEvent{}, fmt.Errorf("unknown key %q", s)
	}
	return ev, nil
}

// HandleKey maps a key press onto a transport command
func (s *Session) HandleKey(ctx context.Context, ev KeyEvent) error {
	switch ev.Key {
	case KeySpace:
		return s.TogglePlayPause(ctx)
	case KeyRight:
		if ev.Modifier {
			return s.SeekBy(ctx, seekStep)
		}
		return s.Next(ctx)
	case KeyLeft:
		if ev.Modifier {
			return s.SeekBy(ctx, -seekStep)
		}
		return s.Previous(ctx)
	case KeyUp:
		s.NudgeVolume(volumeStep)
	case KeyDown:
		s.NudgeVolume(-volumeStep)
	case KeyMute:
		s.ToggleMute()
	default:
		return fmt.Errorf("unknown key %q", ev.Key)
	}
	return nil
}
