package media

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/austinkregel/local-media/grooved/internal/session"
	"github.com/austinkregel/local-media/grooved/internal/types"
)

const (
	// Positions further than this from where playback should be are
	// reported as a seek
	seekTolerance  = time.Second
	commandTimeout = 10 * time.Second
)

// Player is the subset of a playback session the OS controls drive
type Player interface {
	Play(ctx context.Context) error
	Pause()
	TogglePlayPause(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	SeekTo(ctx context.Context, seconds float64) error
	SetShuffle(on bool)
	SetRepeat(on bool)
	SetVolume(v float64) float64
}

// Bridge mirrors session events onto an OS media session and routes the
// OS commands back to whichever player is active.
type Bridge struct {
	session Session
	player  func() Player
	logger  *zap.Logger
	findArt func(string) string

	locator  string
	duration float64
	state    PlaybackState
	position float64
	at       time.Time
	shuffle  bool
	loop     LoopStatus
	volume   float64
}

// NewBridge registers itself as s's command handler. player may return nil
// while no page is loaded.
func NewBridge(s Session, player func() Player, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bridge{
		session: s,
		player:  player,
		logger:  logger,
		findArt: FindAlbumArt,
		loop:    LoopNone,
		volume:  math.NaN(),
	}
	s.SetCommandHandler(b)
	return b
}

// Run forwards events until ctx is done or events is closed
func (b *Bridge) Run(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.handle(ev)
		}
	}
}

func (b *Bridge) handle(ev session.Event) {
	st := ev.Status
	if st == nil {
		return
	}

	if st.Track == nil {
		if b.locator != "" {
			b.locator = ""
			b.report(b.session.UpdateMetadata(Metadata{}))
		}
	} else if st.Track.Locator != b.locator || st.Duration != b.duration {
		b.locator = st.Track.Locator
		b.duration = st.Duration
		b.report(b.session.UpdateMetadata(b.metadata(st)))
	}

	state := PlaybackStateOf(st.Playing, st.Track != nil)
	if ev.Type != session.EventPositionUpdate || state != b.state || b.seeked(st.Position, ev.Time) {
		b.state = state
		b.position = st.Position
		b.at = ev.Time
		b.report(b.session.UpdatePlaybackState(state, seconds(st.Position)))
	}

	if st.Shuffle != b.shuffle {
		b.shuffle = st.Shuffle
		b.report(b.session.UpdateShuffle(st.Shuffle))
	}
	if loop := LoopFor(types.PolicyFromFlags(st.Repeat, st.Shuffle), st.Wrap); loop != b.loop {
		b.loop = loop
		b.report(b.session.UpdateLoopStatus(loop))
	}
	if st.Volume != b.volume {
		b.volume = st.Volume
		b.report(b.session.UpdateVolume(st.Volume))
	}
}

// seeked reports whether position disagrees with where the last reported
// state says playback should be by now.
func (b *Bridge) seeked(position float64, now time.Time) bool {
	expected := b.position
	if b.state == StatePlaying && !b.at.IsZero() {
		expected += now.Sub(b.at).Seconds()
	}
	return math.Abs(position-expected) > seekTolerance.Seconds()
}

func (b *Bridge) metadata(st *session.Status) Metadata {
	t := st.Track
	art := t.ArtworkURL
	if art == "" {
		art = b.findArt(t.Locator)
	}
	return Metadata{
		Title:    t.Name,
		Artist:   t.Artist,
		Duration: seconds(st.Duration),
		ArtURL:   art,
	}
}

func (b *Bridge) report(err error) {
	if err != nil {
		b.logger.Debug("media session update failed", zap.Error(err))
	}
}

// OnCommand implements CommandHandler
func (b *Bridge) OnCommand(cmd Command, data interface{}) error {
	p := b.player()
	if p == nil {
		return fmt.Errorf("no active player")
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	b.logger.Debug("media command", zap.String("command", string(cmd)))

	switch cmd {
	case CmdPlay:
		return p.Play(ctx)
	case CmdPause, CmdStop:
		p.Pause()
	case CmdPlayPause:
		return p.TogglePlayPause(ctx)
	case CmdNext:
		return p.Next(ctx)
	case CmdPrevious:
		return p.Previous(ctx)
	case CmdSeek:
		pos, ok := data.(time.Duration)
		if !ok {
			return fmt.Errorf("seek: unexpected %T", data)
		}
		return p.SeekTo(ctx, pos.Seconds())
	case CmdSetShuffle:
		on, ok := data.(bool)
		if !ok {
			return fmt.Errorf("shuffle: unexpected %T", data)
		}
		p.SetShuffle(on)
	case CmdSetLoopStatus:
		status, ok := data.(LoopStatus)
		if !ok {
			return fmt.Errorf("loop status: unexpected %T", data)
		}
		p.SetRepeat(status.Repeat())
	case CmdSetVolume:
		v, ok := data.(float64)
		if !ok {
			return fmt.Errorf("volume: unexpected %T", data)
		}
		p.SetVolume(v)
	default:
		return fmt.Errorf("unsupported command %s", cmd)
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
