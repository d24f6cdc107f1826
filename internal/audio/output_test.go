package audio

import (
	"encoding/binary"
	"testing"
)

func TestEncodeFrames(t *testing.T) {
	tests := []struct {
		name     string
		volume   float64
		frames   [][2]float64
		expected []int16
	}{
		{
			name:     "full volume",
			volume:   1.0,
			frames:   [][2]float64{{0.5, -0.5}},
			expected: []int16{16383, -16383},
		},
		{
			name:     "half volume",
			volume:   0.5,
			frames:   [][2]float64{{0.5, -1}},
			expected: []int16{8191, -16383},
		},
		{
			name:     "zero volume",
			volume:   0.0,
			frames:   [][2]float64{{1, -1}},
			expected: []int16{0, 0},
		},
		{
			name:     "clipped",
			volume:   1.0,
			frames:   [][2]float64{{3, -3}},
			expected: []int16{32767, -32767},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, len(tt.frames)*frameBytes)
			encodeFrames(data, tt.frames, tt.volume)

			for i, want := range tt.expected {
				got := int16(binary.LittleEndian.Uint16(data[i*2:]))
				if got != want {
					t.Errorf("Sample %d: expected %d, got %d", i, want, got)
				}
			}
		})
	}
}

func TestDecodeFrames(t *testing.T) {
	src := []byte{0x00, 0x40, 0x00, 0xC0, 0xFF, 0x7F, 0x00, 0x80}
	dst := make([][2]float64, 4)

	n := decodeFrames(dst, src)
	if n != 2 {
		t.Fatalf("Expected 2 frames, got %d", n)
	}
	if dst[0] != [2]float64{0.5, -0.5} {
		t.Errorf("Unexpected first frame %v", dst[0])
	}
	if dst[1][1] != -1 {
		t.Errorf("Expected -1 for min sample, got %f", dst[1][1])
	}

	// Partial trailing frame is ignored
	if n := decodeFrames(dst, src[:6]); n != 1 {
		t.Errorf("Expected 1 frame, got %d", n)
	}
}

func TestSetVolumeClamp(t *testing.T) {
	o := &OtoOutput{volume: 1.0}

	o.SetVolume(-0.5)
	if o.volume != 0 {
		t.Errorf("Expected volume 0 for negative input, got %f", o.volume)
	}

	o.SetVolume(1.5)
	if o.volume != 1 {
		t.Errorf("Expected volume 1 for >1 input, got %f", o.volume)
	}

	o.SetVolume(0.75)
	if o.GetVolume() != 0.75 {
		t.Errorf("Expected volume 0.75, got %f", o.GetVolume())
	}
}

func TestReadPullsFromSource(t *testing.T) {
	o := &OtoOutput{volume: 1.0}

	ended := make(chan error, 1)
	o.Play(&sliceStream{data: [][2]float64{{0.5, 0.5}}}, func(err error) { ended <- err })

	p := make([]byte, 4*frameBytes)
	n, err := o.Read(p)
	if err != nil || n != len(p) {
		t.Fatalf("Read returned %d, %v", n, err)
	}
	if got := int16(binary.LittleEndian.Uint16(p)); got != 16383 {
		t.Errorf("Expected first sample 16383, got %d", got)
	}
	for i := frameBytes; i < len(p); i++ {
		if p[i] != 0 {
			t.Fatalf("Expected silence after the source, got %02X at %d", p[i], i)
		}
	}

	// The source is exhausted on the next pull
	if _, err := o.Read(p); err != nil {
		t.Fatal(err)
	}
	if err := <-ended; err != nil {
		t.Errorf("Expected clean end, got %v", err)
	}
}

func TestStopSuppressesDone(t *testing.T) {
	o := &OtoOutput{volume: 1.0}

	called := false
	o.Play(&sliceStream{}, func(error) { called = true })
	gen := o.gen
	o.Stop()

	o.finish(gen, nil)
	if called {
		t.Error("done must not fire for a stopped source")
	}
}
