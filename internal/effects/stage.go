package effects

import (
	"math"

	"github.com/gopxl/beep/v2"
	beepfx "github.com/gopxl/beep/v2/effects"
)

// Kind identifies a stage. The set is closed; stages are never added or
// reordered at runtime.
type Kind int

const (
	LowShelf Kind = iota
	Peaking
	HighShelf
	StereoPan
	Compressor
	Reverb
	OutputGain
)

var kindNames = map[Kind]string{
	LowShelf:   "low-shelf",
	Peaking:    "peaking",
	HighShelf:  "high-shelf",
	StereoPan:  "stereo-pan",
	Compressor: "dynamics-compressor",
	Reverb:     "convolution-reverb",
	OutputGain: "output-gain",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// MarshalText lets Kind appear as its name in JSON
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// chainOrder is the engaged topology, source side first
var chainOrder = []Kind{LowShelf, Peaking, HighShelf, StereoPan, Compressor, Reverb, OutputGain}

// Params holds every tunable. Each kind reads only its own fields.
type Params struct {
	// Filters
	Frequency float64 `json:"frequency,omitempty"`
	Q         float64 `json:"q,omitempty"`
	GainDB    float64 `json:"gainDb"`

	// Stereo pan in [-1, 1]
	Pan float64 `json:"pan,omitempty"`

	// Compressor
	ThresholdDB float64 `json:"thresholdDb,omitempty"`
	Ratio       float64 `json:"ratio,omitempty"`
	AttackMs    float64 `json:"attackMs,omitempty"`
	ReleaseMs   float64 `json:"releaseMs,omitempty"`

	// Reverb
	DecaySec float64 `json:"decaySec,omitempty"`
	Mix      float64 `json:"mix,omitempty"`

	// Output gain, linear
	Gain float64 `json:"gain,omitempty"`
}

// Descriptor is the read-only view of one stage
type Descriptor struct {
	Kind   Kind   `json:"kind"`
	Params Params `json:"params"`
}

// Stage is one processing unit. Dispatch is by Kind.
type Stage struct {
	Kind   Kind
	Params Params

	input      beep.Streamer
	sampleRate beep.SampleRate

	biquad *biquad
	comp   *compressor
	reverb *convolver
	pan    *beepfx.Pan
	gain   *beepfx.Gain
}

func newStage(kind Kind, p Params, sr beep.SampleRate) (*Stage, error) {
	s := &Stage{Kind: kind, Params: p, sampleRate: sr}
	switch kind {
	case LowShelf, Peaking, HighShelf:
		s.biquad = &biquad{}
		s.biquad.design(kind, float64(sr), p.Frequency, p.Q, p.GainDB)
	case StereoPan:
		s.pan = &beepfx.Pan{Pan: p.Pan}
	case Compressor:
		s.comp = newCompressor(float64(sr), p)
	case Reverb:
		c, err := newConvolver(float64(sr), p.DecaySec, p.Mix)
		if err != nil {
			return nil, err
		}
		s.reverb = c
	case OutputGain:
		s.gain = &beepfx.Gain{Gain: p.Gain - 1}
	}
	return s, nil
}

// connect sets the upstream node
func (s *Stage) connect(in beep.Streamer) {
	s.input = in
	switch s.Kind {
	case StereoPan:
		s.pan.Streamer = in
	case OutputGain:
		s.gain.Streamer = in
	}
}

// setGainDB retunes a filter stage, keeping its running state
func (s *Stage) setGainDB(db float64) {
	if s.biquad == nil {
		return
	}
	s.Params.GainDB = db
	s.biquad.design(s.Kind, float64(s.sampleRate), s.Params.Frequency, s.Params.Q, db)
}

// setLinearGain sets the output gain stage level
func (s *Stage) setLinearGain(g float64) {
	if s.gain == nil {
		return
	}
	s.Params.Gain = g
	s.gain.Gain = g - 1
}

// Stream implements beep.Streamer
func (s *Stage) Stream(samples [][2]float64) (int, bool) {
	switch s.Kind {
	case StereoPan:
		return s.pan.Stream(samples)
	case OutputGain:
		return s.gain.Stream(samples)
	}

	n, ok := s.input.Stream(samples)
	switch s.Kind {
	case LowShelf, Peaking, HighShelf:
		s.biquad.process(samples[:n])
	case Compressor:
		s.comp.process(samples[:n])
	case Reverb:
		s.reverb.process(samples[:n])
	}
	return n, ok
}

// Err implements beep.Streamer
func (s *Stage) Err() error {
	if s.input == nil {
		return nil
	}
	return s.input.Err()
}

func (s *Stage) descriptor() Descriptor {
	return Descriptor{Kind: s.Kind, Params: s.Params}
}

// biquad is an RBJ cookbook filter, direct form I, one state per channel
type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     [2]float64
}

func (f *biquad) design(kind Kind, fs, freq, q, gainDB float64) {
	if q <= 0 {
		q = 1 / math.Sqrt2
	}
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / fs
	cw, sw := math.Cos(w0), math.Sin(w0)
	alpha := sw / (2 * q)
	sa := 2 * math.Sqrt(a) * alpha

	var b0, b1, b2, a0, a1, a2 float64
	switch kind {
	case LowShelf:
		b0 = a * ((a + 1) - (a-1)*cw + sa)
		b1 = 2 * a * ((a - 1) - (a+1)*cw)
		b2 = a * ((a + 1) - (a-1)*cw - sa)
		a0 = (a + 1) + (a-1)*cw + sa
		a1 = -2 * ((a - 1) + (a+1)*cw)
		a2 = (a + 1) + (a-1)*cw - sa
	case HighShelf:
		b0 = a * ((a + 1) + (a-1)*cw + sa)
		b1 = -2 * a * ((a - 1) + (a+1)*cw)
		b2 = a * ((a + 1) + (a-1)*cw - sa)
		a0 = (a + 1) - (a-1)*cw + sa
		a1 = 2 * ((a - 1) - (a+1)*cw)
		a2 = (a + 1) - (a-1)*cw - sa
	default: // Peaking
		b0 = 1 + alpha*a
		b1 = -2 * cw
		b2 = 1 - alpha*a
		a0 = 1 + alpha/a
		a1 = -2 * cw
		a2 = 1 - alpha/a
	}

	f.b0, f.b1, f.b2 = b0/a0, b1/a0, b2/a0
	f.a1, f.a2 = a1/a0, a2/a0
}

func (f *biquad) process(samples [][2]float64) {
	for i := range samples {
		for ch := 0; ch < 2; ch++ {
			x := samples[i][ch]
			y := f.b0*x + f.b1*f.x1[ch] + f.b2*f.x2[ch] - f.a1*f.y1[ch] - f.a2*f.y2[ch]
			f.x2[ch], f.x1[ch] = f.x1[ch], x
			f.y2[ch], f.y1[ch] = f.y1[ch], y
			samples[i][ch] = y
		}
	}
}

// compressor is a feed-forward, stereo-linked RMS compressor
type compressor struct {
	threshold float64
	ratio     float64
	attack    float64
	release   float64
	rmsCoef   float64

	meanSquare float64
	envDB      float64
}

func newCompressor(fs float64, p Params) *compressor {
	coef := func(ms float64) float64 {
		if ms <= 0 {
			return 0
		}
		return math.Exp(-1 / (ms / 1000 * fs))
	}
	ratio := p.Ratio
	if ratio < 1 {
		ratio = 1
	}
	return &compressor{
		threshold: p.ThresholdDB,
		ratio:     ratio,
		attack:    coef(p.AttackMs),
		release:   coef(p.ReleaseMs),
		rmsCoef:   coef(5),
	}
}

func (c *compressor) process(samples [][2]float64) {
	for i := range samples {
		l, r := samples[i][0], samples[i][1]
		peak := math.Max(l*l, r*r)
		c.meanSquare = c.rmsCoef*c.meanSquare + (1-c.rmsCoef)*peak

		levelDB := 10 * math.Log10(c.meanSquare+1e-12)
		reduction := 0.0
		if over := levelDB - c.threshold; over > 0 {
			reduction = over * (1 - 1/c.ratio)
		}

		k := c.release
		if reduction > c.envDB {
			k = c.attack
		}
		c.envDB = k*c.envDB + (1-k)*reduction

		g := math.Pow(10, -c.envDB/20)
		samples[i][0] = l * g
		samples[i][1] = r * g
	}
}
