package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austinkregel/local-media/grooved/internal/session"
	"github.com/austinkregel/local-media/grooved/internal/types"
)

type recordingSession struct {
	NoOpSession
	handler  CommandHandler
	metadata []Metadata
	states   []PlaybackState
	loops    []LoopStatus
	volumes  []float64
}

func (s *recordingSession) UpdateMetadata(m Metadata) error {
	s.metadata = append(s.metadata, m)
	return nil
}

func (s *recordingSession) UpdatePlaybackState(state PlaybackState, _ time.Duration) error {
	s.states = append(s.states, state)
	return nil
}

func (s *recordingSession) UpdateLoopStatus(l LoopStatus) error {
	s.loops = append(s.loops, l)
	return nil
}

func (s *recordingSession) UpdateVolume(v float64) error {
	s.volumes = append(s.volumes, v)
	return nil
}

func (s *recordingSession) SetCommandHandler(h CommandHandler) {
	s.handler = h
}

type fakePlayer struct {
	calls  []string
	seekTo float64
	repeat bool
	volume float64
}

func (p *fakePlayer) Play(context.Context) error { p.calls = append(p.calls, "play"); return nil }
func (p *fakePlayer) Pause()                     { p.calls = append(p.calls, "pause") }
func (p *fakePlayer) TogglePlayPause(context.Context) error {
	p.calls = append(p.calls, "toggle")
	return nil
}
func (p *fakePlayer) Next(context.Context) error { p.calls = append(p.calls, "next"); return nil }
func (p *fakePlayer) Previous(context.Context) error {
	p.calls = append(p.calls, "previous")
	return nil
}
func (p *fakePlayer) SeekTo(_ context.Context, s float64) error {
	p.seekTo = s
	return nil
}
func (p *fakePlayer) SetShuffle(bool)   {}
func (p *fakePlayer) SetRepeat(on bool) { p.repeat = on }
func (p *fakePlayer) SetVolume(v float64) float64 {
	p.volume = v
	return v
}

func playingStatus(locator string, position float64) *session.Status {
	return &session.Status{
		Track:    &types.Track{Locator: locator, Name: "Song"},
		Position: position,
		Duration: 180,
		Playing:  true,
		Volume:   0.8,
	}
}

func TestBridgeMirrorsTrackChanges(t *testing.T) {
	ms := &recordingSession{}
	b := NewBridge(ms, func() Player { return nil }, nil)
	b.findArt = func(string) string { return "" }

	start := time.Now()
	b.handle(session.Event{Type: session.EventTrackStarted, Status: playingStatus("http://m/a.mp3", 0), Time: start})
	b.handle(session.Event{Type: session.EventPositionUpdate, Status: playingStatus("http://m/a.mp3", 0.25), Time: start.Add(250 * time.Millisecond)})
	b.handle(session.Event{Type: session.EventPositionUpdate, Status: playingStatus("http://m/a.mp3", 0.5), Time: start.Add(500 * time.Millisecond)})

	require.Len(t, ms.metadata, 1)
	assert.Equal(t, "Song", ms.metadata[0].Title)
	assert.Equal(t, 180*time.Second, ms.metadata[0].Duration)
	assert.Equal(t, []PlaybackState{StatePlaying}, ms.states, "steady ticks are not forwarded")
	assert.Equal(t, []float64{0.8}, ms.volumes)

	b.handle(session.Event{Type: session.EventPositionUpdate, Status: playingStatus("http://m/a.mp3", 90), Time: start.Add(750 * time.Millisecond)})
	assert.Len(t, ms.states, 2, "a jump is reported")

	b.handle(session.Event{Type: session.EventTrackStarted, Status: playingStatus("http://m/b.mp3", 0), Time: start.Add(time.Second)})
	assert.Len(t, ms.metadata, 2)
}

func TestBridgeReportsRepeatAsLoopTrack(t *testing.T) {
	ms := &recordingSession{}
	b := NewBridge(ms, func() Player { return nil }, nil)
	b.findArt = func(string) string { return "" }

	st := playingStatus("http://m/a.mp3", 0)
	st.Repeat = true
	b.handle(session.Event{Type: session.EventStateChange, Status: st, Time: time.Now()})

	assert.Equal(t, []LoopStatus{LoopTrack}, ms.loops)

	st = playingStatus("http://m/a.mp3", 0)
	st.Wrap = true
	b.handle(session.Event{Type: session.EventStateChange, Status: st, Time: time.Now()})
	assert.Equal(t, []LoopStatus{LoopTrack, LoopPlaylist}, ms.loops)

	b.handle(session.Event{Type: session.EventStateChange, Status: st, Time: time.Now()})
	assert.Len(t, ms.loops, 2, "unchanged loop status is not resent")
}

func TestLoopFor(t *testing.T) {
	tests := []struct {
		policy types.AdvancePolicy
		wrap   bool
		want   LoopStatus
	}{
		{types.Sequential, false, LoopNone},
		{types.Sequential, true, LoopPlaylist},
		{types.RepeatOne, false, LoopTrack},
		{types.RepeatOne, true, LoopTrack},
		{types.ShuffleNoRepeat, false, LoopPlaylist},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LoopFor(tt.policy, tt.wrap), "%s wrap=%v", tt.policy, tt.wrap)
	}

	assert.True(t, LoopTrack.Repeat())
	assert.False(t, LoopPlaylist.Repeat())
	assert.False(t, LoopNone.Repeat())
}

func TestPlaybackStateOf(t *testing.T) {
	assert.Equal(t, StatePlaying, PlaybackStateOf(true, true))
	assert.Equal(t, StatePaused, PlaybackStateOf(false, true))
	assert.Equal(t, StateStopped, PlaybackStateOf(false, false))
}

func TestBridgeRoutesCommands(t *testing.T) {
	ms := &recordingSession{}
	p := &fakePlayer{}
	b := NewBridge(ms, func() Player { return p }, nil)
	require.Same(t, b, ms.handler)

	require.NoError(t, ms.handler.OnCommand(CmdPlayPause, nil))
	require.NoError(t, ms.handler.OnCommand(CmdStop, nil))
	require.NoError(t, ms.handler.OnCommand(CmdNext, nil))
	require.NoError(t, ms.handler.OnCommand(CmdSeek, 42*time.Second))
	require.NoError(t, ms.handler.OnCommand(CmdSetLoopStatus, LoopTrack))
	require.NoError(t, ms.handler.OnCommand(CmdSetVolume, 0.3))

	assert.Equal(t, []string{"toggle", "pause", "next"}, p.calls)
	assert.Equal(t, 42.0, p.seekTo)
	assert.True(t, p.repeat)
	assert.Equal(t, 0.3, p.volume)

	assert.Error(t, ms.handler.OnCommand(CmdSeek, "soon"))
}

func TestBridgeWithoutPlayer(t *testing.T) {
	ms := &recordingSession{}
	NewBridge(ms, func() Player { return nil }, nil)
	assert.Error(t, ms.handler.OnCommand(CmdPlay, nil))
}

func TestFindAlbumArt(t *testing.T) {
	root := t.TempDir()
	album := filepath.Join(root, "Artist", "Album")
	require.NoError(t, os.MkdirAll(album, 0o755))
	track := filepath.Join(album, "01.mp3")

	assert.Empty(t, FindAlbumArt(track))

	artist := filepath.Join(root, "Artist", "folder.jpg")
	require.NoError(t, os.WriteFile(artist, []byte("x"), 0o644))
	assert.Equal(t, artist, FindAlbumArt(track))

	cover := filepath.Join(album, "cover.png")
	require.NoError(t, os.WriteFile(cover, []byte("x"), 0o644))
	assert.Equal(t, cover, FindAlbumArt("file://"+track))

	assert.Empty(t, FindAlbumArt("http://media.test/Album/01.mp3"))
}
