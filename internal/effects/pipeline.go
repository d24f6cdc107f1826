// Package effects implements the optional enhancement chain that decoded
// audio can be routed through, with adaptive retuning of its EQ stages.
package effects

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"go.uber.org/zap"

	"github.com/austinkregel/local-media/grooved/internal/errs"
)

// MaxOutputGain is the highest linear output level. Values above 1 amplify.
const MaxOutputGain = 2.0

// State is the pipeline lifecycle state
type State int

const (
	Uninitialized State = iota
	Bypassed
	Engaged
	// Disabled is terminal: construction failed and audio goes direct
	Disabled
)

func (s State) String() string {
	switch s {
	case Bypassed:
		return "bypassed"
	case Engaged:
		return "engaged"
	case Disabled:
		return "disabled"
	default:
		return "uninitialized"
	}
}

// Config configures stage defaults and retune behavior
type Config struct {
	SampleRate     int
	RetuneInterval time.Duration
	GlideTau       time.Duration
	MaxBoostDB     float64
	FloorDB        float64
	// EngageOnInit starts engaged instead of bypassed
	EngageOnInit bool
}

// DefaultConfig returns the standard settings at sampleRate
func DefaultConfig(sampleRate int) Config {
	return Config{
		SampleRate:     sampleRate,
		RetuneInterval: 500 * time.Millisecond,
		GlideTau:       300 * time.Millisecond,
		MaxBoostDB:     6,
		FloorDB:        -6,
	}
}

func defaultParams(kind Kind) Params {
	switch kind {
	case LowShelf:
		return Params{Frequency: 250, Q: 0.7071}
	case Peaking:
		return Params{Frequency: 1000, Q: 1}
	case HighShelf:
		return Params{Frequency: 4000, Q: 0.7071}
	case Compressor:
		return Params{ThresholdDB: -24, Ratio: 4, AttackMs: 3, ReleaseMs: 250}
	case Reverb:
		return Params{DecaySec: 0.5, Mix: 0.15}
	case OutputGain:
		return Params{Gain: 1}
	default:
		return Params{}
	}
}

// Pipeline routes one source either straight to the output gain or through
// the full chain. The Pipeline itself is the stable output node.
type Pipeline struct {
	mu     sync.Mutex
	cfg    Config
	bounds Bounds
	state  State
	logger *zap.Logger

	// engageOnInit records toggles made before the first Connect
	engageOnInit bool
	volume       float64

	source   beep.Streamer
	tap      *Tap
	analyzer *Analyzer
	stages   []*Stage
	byKind   map[Kind]*Stage

	now func() time.Time
}

// New creates an uninitialized pipeline. Stages are built on first Connect.
func New(cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:          cfg,
		bounds:       Bounds{Floor: cfg.FloorDB, Ceiling: cfg.MaxBoostDB},
		logger:       logger,
		engageOnInit: cfg.EngageOnInit,
		volume:       1,
		now:          time.Now,
	}
}

// init builds every stage. Must be called with mu held.
func (p *Pipeline) init() error {
	if p.cfg.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", p.cfg.SampleRate)
	}
	if p.bounds.Floor > p.bounds.Ceiling {
		return fmt.Errorf("gain floor %.1f dB above ceiling %.1f dB", p.bounds.Floor, p.bounds.Ceiling)
	}

	sr := beep.SampleRate(p.cfg.SampleRate)
	p.byKind = make(map[Kind]*Stage, len(chainOrder))
	p.stages = make([]*Stage, 0, len(chainOrder))
	for _, kind := range chainOrder {
		s, err := newStage(kind, defaultParams(kind), sr)
		if err != nil {
			return fmt.Errorf("failed to build %s stage: %w", kind, err)
		}
		p.stages = append(p.stages, s)
		p.byKind[kind] = s
	}
	p.byKind[OutputGain].setLinearGain(p.volume)

	p.tap = NewTap(fftSize)
	p.analyzer = NewAnalyzer(p.cfg.SampleRate)

	// Engaged chain links are fixed; only the output gain input moves
	p.stages[0].connect(p.tap)
	for i := 1; i < len(p.stages)-1; i++ {
		p.stages[i].connect(p.stages[i-1])
	}

	if p.engageOnInit {
		p.state = Engaged
	} else {
		p.state = Bypassed
	}
	p.wire()
	return nil
}

// wire points the output gain at the tap (bypass) or the reverb (engaged)
func (p *Pipeline) wire() {
	out := p.byKind[OutputGain]
	if p.state == Engaged {
		out.connect(p.byKind[Reverb])
	} else {
		out.connect(p.tap)
	}
}

// Connect replaces the source, initializing the pipeline on first use.
// Reconnecting leaves no trace of the previous source. When construction
// fails the pipeline is permanently disabled and errs.ErrEffectsUnavailable
// is returned; callers should play src directly.
func (p *Pipeline) Connect(src beep.Streamer) (beep.Streamer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case Disabled:
		return src, errs.ErrEffectsUnavailable
	case Uninitialized:
		if err := p.init(); err != nil {
			p.state = Disabled
			p.stages, p.byKind = nil, nil
			p.logger.Warn("effects pipeline disabled", zap.Error(err))
			return src, fmt.Errorf("%w: %v", errs.ErrEffectsUnavailable, err)
		}
		p.logger.Info("effects pipeline initialized", zap.String("state", p.state.String()))
	}

	p.source = src
	p.tap.connect(src)
	if p.analyzer != nil {
		p.analyzer.Reset()
	}
	return p, nil
}

// Disconnect detaches the current source
func (p *Pipeline) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = nil
	if p.tap != nil {
		p.tap.connect(nil)
	}
}

// Toggle flips between engaged and bypassed and returns whether the chain is
// now engaged. Stages are never rebuilt.
func (p *Pipeline) Toggle() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case Disabled:
		return false, errs.ErrEffectsUnavailable
	case Uninitialized:
		p.engageOnInit = !p.engageOnInit
		return p.engageOnInit, nil
	case Engaged:
		p.state = Bypassed
	default:
		p.state = Engaged
	}
	p.wire()
	p.logger.Debug("effects toggled", zap.String("state", p.state.String()))
	return p.state == Engaged, nil
}

// State returns the lifecycle state
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Available reports false once construction has failed
func (p *Pipeline) Available() bool {
	return p.State() != Disabled
}

// Engaged reports whether the chain is (or will be, once initialized) in
// the signal path.
func (p *Pipeline) Engaged() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Uninitialized {
		return p.engageOnInit
	}
	return p.state == Engaged
}

// Wiring lists the stages between the source and the output, in order
func (p *Pipeline) Wiring() []Kind {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case Engaged:
		out := make([]Kind, len(chainOrder))
		copy(out, chainOrder)
		return out
	case Bypassed:
		return []Kind{OutputGain}
	default:
		return nil
	}
}

// Stages returns a snapshot of every stage descriptor in chain order
func (p *Pipeline) Stages() []Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Descriptor, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.descriptor()
	}
	return out
}

// SetVolume sets the output gain, clamped to [0, MaxOutputGain]
func (p *Pipeline) SetVolume(v float64) float64 {
	v = clamp(v, 0, MaxOutputGain)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = v
	if s, ok := p.byKind[OutputGain]; ok {
		s.setLinearGain(v)
	}
	return v
}

// Volume returns the output gain
func (p *Pipeline) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Stream implements beep.Streamer; it pulls through the current wiring
func (p *Pipeline) Stream(samples [][2]float64) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.source == nil || p.state == Disabled || p.state == Uninitialized {
		return 0, false
	}
	return p.byKind[OutputGain].Stream(samples)
}

// Err implements beep.Streamer
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.source == nil {
		return nil
	}
	return p.source.Err()
}

// Retune steers the three EQ gains toward targets derived from e, gliding
// over dt. It does nothing unless engaged.
func (p *Pipeline) Retune(e BandEnergy, dt time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Engaged {
		return
	}

	for _, band := range []struct {
		kind   Kind
		energy float64
	}{
		{LowShelf, e.Low},
		{Peaking, e.Mid},
		{HighShelf, e.High},
	} {
		s := p.byKind[band.kind]
		target := TargetGain(band.energy, p.cfg.MaxBoostDB, p.bounds)
		s.setGainDB(Glide(s.Params.GainDB, target, dt, p.cfg.GlideTau, p.bounds))
	}
}

// Run retunes on the configured interval until ctx is done
func (p *Pipeline) Run(ctx context.Context) {
	interval := p.cfg.RetuneInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := p.now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := p.now()
			dt := now.Sub(last)
			last = now
			p.retuneFromTap(dt)
		}
	}
}

func (p *Pipeline) retuneFromTap(dt time.Duration) {
	p.mu.Lock()
	engaged := p.state == Engaged
	tap, analyzer := p.tap, p.analyzer
	p.mu.Unlock()

	if !engaged || tap == nil {
		return
	}
	e := analyzer.Analyze(tap.Samples(fftSize))
	p.Retune(e, dt)
}
