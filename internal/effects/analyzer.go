package effects

import (
	"math"
	"sync"

	"github.com/gopxl/beep/v2"
	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// FFT size - must be power of 2
	fftSize = 2048
	// Temporal smoothing between successive analyses
	smoothingFactor = 0.5

	lowBandMaxHz  = 250.0
	highBandMinHz = 4000.0
)

// BandEnergy is average normalized magnitude per band, each in [0, 1]
type BandEnergy struct {
	Low  float64 `json:"low"`
	Mid  float64 `json:"mid"`
	High float64 `json:"high"`
}

// Analyzer turns the latest tapped samples into three band energies
type Analyzer struct {
	mu         sync.Mutex
	fft        *fourier.FFT
	window     []float64
	windowed   []float64
	sampleRate float64
	smoothed   BandEnergy
}

// NewAnalyzer creates an analyzer for the given sample rate
func NewAnalyzer(sampleRate int) *Analyzer {
	// Hanning window
	window := make([]float64, fftSize)
	for i := range window {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(fftSize-1)))
	}

	return &Analyzer{
		fft:        fourier.NewFFT(fftSize),
		window:     window,
		windowed:   make([]float64, fftSize),
		sampleRate: float64(sampleRate),
	}
}

// Analyze computes band energies over the most recent fftSize samples
func (a *Analyzer) Analyze(samples []float64) BandEnergy {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Right-align so the newest samples are always included
	for i := range a.windowed {
		a.windowed[i] = 0
	}
	offset := fftSize - len(samples)
	if offset < 0 {
		samples = samples[-offset:]
		offset = 0
	}
	for i, s := range samples {
		a.windowed[offset+i] = s * a.window[offset+i]
	}

	coeffs := a.fft.Coefficients(nil, a.windowed)

	nyquist := fftSize / 2
	freqPerBin := a.sampleRate / float64(fftSize)

	var sum [3]float64
	var count [3]int
	for bin := 1; bin < nyquist; bin++ {
		freq := float64(bin) * freqPerBin

		band := 1
		switch {
		case freq < lowBandMaxHz:
			band = 0
		case freq > highBandMinHz:
			band = 2
		}

		re, im := real(coeffs[bin]), imag(coeffs[bin])
		magnitude := math.Sqrt(re*re + im*im)

		// -60 dB..0 dB mapped onto 0..1
		db := 20 * math.Log10(magnitude/float64(fftSize)+1e-10)
		sum[band] += clamp((db+60)/60, 0, 1)
		count[band]++
	}

	var e [3]float64
	for i := range e {
		if count[i] > 0 {
			e[i] = sum[i] / float64(count[i])
		}
	}

	a.smoothed.Low = smoothingFactor*a.smoothed.Low + (1-smoothingFactor)*e[0]
	a.smoothed.Mid = smoothingFactor*a.smoothed.Mid + (1-smoothingFactor)*e[1]
	a.smoothed.High = smoothingFactor*a.smoothed.High + (1-smoothingFactor)*e[2]
	return a.smoothed
}

// Reset clears the smoothing history
func (a *Analyzer) Reset() {
	a.mu.Lock()
	a.smoothed = BandEnergy{}
	a.mu.Unlock()
}

// Tap copies a mono mix of everything that flows through it into a ring
// buffer for analysis.
type Tap struct {
	s    beep.Streamer
	mu   sync.Mutex
	buf  []float64
	pos  int
	size int
}

// NewTap creates a tap with a ring buffer of bufSize samples
func NewTap(bufSize int) *Tap {
	return &Tap{
		buf:  make([]float64, bufSize),
		size: bufSize,
	}
}

func (t *Tap) connect(s beep.Streamer) {
	t.s = s
}

// Stream implements beep.Streamer
func (t *Tap) Stream(samples [][2]float64) (int, bool) {
	if t.s == nil {
		return 0, false
	}
	n, ok := t.s.Stream(samples)
	t.mu.Lock()
	for i := 0; i < n; i++ {
		t.buf[t.pos] = (samples[i][0] + samples[i][1]) / 2
		t.pos = (t.pos + 1) % t.size
	}
	t.mu.Unlock()
	return n, ok
}

// Err implements beep.Streamer
func (t *Tap) Err() error {
	if t.s == nil {
		return nil
	}
	return t.s.Err()
}

// Samples returns the last n samples in chronological order
func (t *Tap) Samples(n int) []float64 {
	if n > t.size {
		n = t.size
	}
	out := make([]float64, n)
	t.mu.Lock()
	start := (t.pos - n + t.size) % t.size
	for i := 0; i < n; i++ {
		out[i] = t.buf[(start+i)%t.size]
	}
	t.mu.Unlock()
	return out
}
