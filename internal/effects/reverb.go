package effects

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/dsp/fourier"
)

const reverbBlock = 1024

// convolver is an overlap-add FFT convolution reverb. It adds a fixed
// latency of one block to both the wet and dry paths.
type convolver struct {
	mix   float64
	fft   *fourier.FFT
	size  int
	irFFT [2][]complex128

	in      [2][]float64
	out     [][2]float64
	tail    [2][]float64
	fill    int
	readPos int

	seq   []float64
	coeff []complex128
}

func newConvolver(fs, decaySec, mix float64) (*convolver, error) {
	if decaySec <= 0 {
		decaySec = 0.5
	}
	irLen := int(decaySec * fs)
	if irLen < 1 {
		return nil, fmt.Errorf("reverb impulse too short at %v Hz", fs)
	}

	size := 1
	for size < reverbBlock+irLen-1 {
		size <<= 1
	}

	c := &convolver{
		mix:   clamp(mix, 0, 1),
		fft:   fourier.NewFFT(size),
		size:  size,
		out:   make([][2]float64, reverbBlock),
		seq:   make([]float64, size),
		coeff: make([]complex128, size/2+1),
	}

	// Decorrelated noise per channel decaying to -60 dB at decaySec
	rng := rand.New(rand.NewSource(1))
	k := math.Log(1000) / decaySec
	for ch := 0; ch < 2; ch++ {
		ir := make([]float64, size)
		var energy float64
		for i := 0; i < irLen; i++ {
			t := float64(i) / fs
			v := (rng.Float64()*2 - 1) * math.Exp(-k*t)
			ir[i] = v
			energy += v * v
		}
		norm := 1 / math.Sqrt(energy)
		for i := 0; i < irLen; i++ {
			ir[i] *= norm
		}
		c.irFFT[ch] = c.fft.Coefficients(nil, ir)
		c.in[ch] = make([]float64, reverbBlock)
		c.tail[ch] = make([]float64, size)
	}

	return c, nil
}

func (c *convolver) process(samples [][2]float64) {
	for i := range samples {
		c.in[0][c.fill] = samples[i][0]
		c.in[1][c.fill] = samples[i][1]
		samples[i] = c.out[c.fill]
		c.fill++
		if c.fill == reverbBlock {
			c.flush()
			c.fill = 0
		}
	}
}

// flush convolves one full input block and refills the output block
func (c *convolver) flush() {
	dry := 1 - c.mix
	for ch := 0; ch < 2; ch++ {
		for i := range c.seq {
			c.seq[i] = 0
		}
		copy(c.seq, c.in[ch])

		c.fft.Coefficients(c.coeff, c.seq)
		for i := range c.coeff {
			c.coeff[i] *= c.irFFT[ch][i]
		}
		wet := c.fft.Sequence(c.seq, c.coeff)

		scale := 1 / float64(c.size)
		tail := c.tail[ch]
		for i := range wet {
			tail[i] += wet[i] * scale
		}

		for i := 0; i < reverbBlock; i++ {
			c.out[i][ch] = dry*c.in[ch][i] + c.mix*tail[i]
		}

		// Shift the tail left by one block
		copy(tail, tail[reverbBlock:])
		for i := len(tail) - reverbBlock; i < len(tail); i++ {
			tail[i] = 0
		}
	}
}
