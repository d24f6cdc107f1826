// Package media mirrors the active grooved session onto the desktop's media
// controls (MPRIS on Linux) and turns media keys back into session calls.
// Other platforms get a NoOpSession.
package media

import (
	"time"

	"github.com/austinkregel/local-media/grooved/internal/types"
)

// PlaybackState is what the desktop shows in its play/pause indicator
type PlaybackState int

const (
	// StateStopped means no track is loaded
	StateStopped PlaybackState = iota
	StatePlaying
	StatePaused
)

// PlaybackStateOf derives the indicator state. A loaded but silent track is
// paused, never stopped.
func PlaybackStateOf(playing, loaded bool) PlaybackState {
	switch {
	case playing:
		return StatePlaying
	case loaded:
		return StatePaused
	default:
		return StateStopped
	}
}

// Metadata is the now-playing card
type Metadata struct {
	Title    string
	Artist   string
	Album    string
	Duration time.Duration
	// ArtURL is an absolute URL or a local file path
	ArtURL string
}

// LoopStatus uses the MPRIS names
type LoopStatus string

const (
	LoopNone     LoopStatus = "None"
	LoopTrack    LoopStatus = "Track"
	LoopPlaylist LoopStatus = "Playlist"
)

// LoopFor maps an advance policy onto a loop status. Shuffle never runs out
// of tracks and sequential play only loops when it wraps at the ends.
func LoopFor(p types.AdvancePolicy, wrap bool) LoopStatus {
	switch {
	case p == types.RepeatOne:
		return LoopTrack
	case p == types.ShuffleNoRepeat, wrap:
		return LoopPlaylist
	default:
		return LoopNone
	}
}

// Repeat reports whether a loop status requested from the desktop turns on
// repeat-one. Playlist looping is a config switch, not a transport toggle.
func (l LoopStatus) Repeat() bool {
	return l == LoopTrack
}

// Session is a desktop media integration
type Session interface {
	UpdateMetadata(metadata Metadata) error
	UpdatePlaybackState(state PlaybackState, position time.Duration) error
	UpdateShuffle(enabled bool) error
	UpdateLoopStatus(status LoopStatus) error
	UpdateVolume(volume float64) error

	SetCommandHandler(handler CommandHandler)

	Close() error
}

// Command is a request from the desktop. The value is the MPRIS method or
// property that produced it.
type Command string

const (
	CmdPlay      Command = "Play"
	CmdPause     Command = "Pause"
	CmdPlayPause Command = "PlayPause"
	CmdStop      Command = "Stop"
	CmdNext      Command = "Next"
	CmdPrevious  Command = "Previous"
	// CmdSeek carries the absolute target as a time.Duration
	CmdSeek          Command = "Seek"
	CmdSetShuffle    Command = "Shuffle"
	CmdSetLoopStatus Command = "LoopStatus"
	CmdSetVolume     Command = "Volume"
)

// CommandHandler receives desktop commands
type CommandHandler interface {
	OnCommand(cmd Command, data interface{}) error
}

// CommandHandlerFunc adapts a function to CommandHandler
type CommandHandlerFunc func(cmd Command, data interface{}) error

func (f CommandHandlerFunc) OnCommand(cmd Command, data interface{}) error {
	return f(cmd, data)
}

// NoOpSession stands in when no desktop integration is available
type NoOpSession struct{}

func NewNoOpSession() *NoOpSession {
	return &NoOpSession{}
}

func (s *NoOpSession) UpdateMetadata(Metadata) error                          { return nil }
func (s *NoOpSession) UpdatePlaybackState(PlaybackState, time.Duration) error { return nil }
func (s *NoOpSession) UpdateShuffle(bool) error                               { return nil }
func (s *NoOpSession) UpdateLoopStatus(LoopStatus) error                      { return nil }
func (s *NoOpSession) UpdateVolume(float64) error                             { return nil }
func (s *NoOpSession) SetCommandHandler(CommandHandler)                       {}
func (s *NoOpSession) Close() error                                           { return nil }
