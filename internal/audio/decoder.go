package audio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"

	"github.com/austinkregel/local-media/grooved/internal/types"
)

const (
	defaultSampleRate = 44100
	channels          = 2
	// s16le stereo
	frameBytes = channels * 2
)

// TrackInfo contains metadata extracted from a media source
type TrackInfo struct {
	Title    string        `json:"title"`
	Artist   string        `json:"artist,omitempty"`
	Album    string        `json:"album,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Stream is decoded audio from one source. Close stops decoding.
type Stream interface {
	beep.Streamer
	Close() error
}

// Opener starts decoding a locator and probes its metadata
type Opener interface {
	Open(ctx context.Context, locator string, start time.Duration, sampleRate int) (Stream, error)
	Probe(ctx context.Context, locator string) (*TrackInfo, error)
}

// FFmpegDecoder uses FFmpeg for audio decoding
type FFmpegDecoder struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegDecoder creates a new FFmpeg-based decoder
func NewFFmpegDecoder() (*FFmpegDecoder, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	return &FFmpegDecoder{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}, nil
}

// Open starts ffmpeg at start and waits for the first decoded frame, so a
// source that cannot be fetched or decoded fails here rather than later on
// the output goroutine. ctx bounds that wait only; the process runs until
// the stream ends or is closed.
func (d *FFmpegDecoder) Open(ctx context.Context, locator string, start time.Duration, sampleRate int) (Stream, error) {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}

	args := []string{"-nostdin", "-hide_banner", "-loglevel", "error"}
	if start > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", start.Seconds()))
	}
	args = append(args,
		"-i", locator,
		"-vn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(channels),
		"-ar", strconv.Itoa(sampleRate),
		"-",
	)

	s, err := startPCM(ctx, d.ffmpegPath, args...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// startPCM runs a process that writes s16le stereo to stdout and waits for
// its first frame.
func startPCM(ctx context.Context, name string, args ...string) (*pcmStream, error) {
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	s := &pcmStream{
		cmd:    cmd,
		cancel: cancel,
		r:      bufio.NewReaderSize(stdout, 64*1024),
	}
	cmd.Stderr = &s.stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start %s: %w", path.Base(name), err)
	}
	if err := s.prime(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// prime waits for the first frame so that bad sources fail Open rather than
// the first Stream call.
func (s *pcmStream) prime(ctx context.Context) error {
	primed := make(chan error, 1)
	go func() {
		s.readMu.Lock()
		defer s.readMu.Unlock()
		_, err := s.r.Peek(frameBytes)
		primed <- err
	}()

	select {
	case err := <-primed:
		if err != nil {
			waitErr := s.wait()
			s.cancel()
			return classify(s.stderr.String(), firstErr(waitErr, err))
		}
		return nil
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	}
}

// Probe reads duration and tags with ffprobe
func (d *FFmpegDecoder) Probe(ctx context.Context, locator string) (*TrackInfo, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		locator,
	}

	cmd := exec.CommandContext(ctx, d.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(output, locator)
}

func parseProbe(output []byte, locator string) (*TrackInfo, error) {
	var probeResult struct {
		Format struct {
			Duration string            `json:"duration"`
			Tags     map[string]string `json:"tags"`
		} `json:"format"`
	}

	if err := json.Unmarshal(output, &probeResult); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &TrackInfo{}
	for key, value := range probeResult.Format.Tags {
		switch strings.ToLower(key) {
		case "title":
			info.Title = value
		case "artist":
			info.Artist = value
		case "album":
			info.Album = value
		case "album_artist":
			if info.Artist == "" {
				info.Artist = value
			}
		}
	}

	if probeResult.Format.Duration != "" {
		if sec, err := strconv.ParseFloat(probeResult.Format.Duration, 64); err == nil && sec > 0 {
			info.Duration = time.Duration(sec * float64(time.Second))
		}
	}

	// Fallback to the file name
	if info.Title == "" {
		info.Title = types.DisplayName(path.Base(strings.SplitN(locator, "?", 2)[0]))
	}

	return info, nil
}

// pcmStream reads s16le frames from a running ffmpeg
type pcmStream struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	r      *bufio.Reader
	stderr bytes.Buffer
	buf    []byte

	// readMu is held for every read of r. Wait closes the pipe, so it
	// only runs once no read is in flight.
	readMu   sync.Mutex
	waitOnce sync.Once
	waitErr  error

	mu     sync.Mutex
	done   bool
	closed bool
	err    error
}

// Stream implements beep.Streamer
func (s *pcmStream) Stream(samples [][2]float64) (int, bool) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done {
		return 0, false
	}

	need := len(samples) * frameBytes
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	buf := s.buf[:need]

	n, err := io.ReadFull(s.r, buf)
	frames := decodeFrames(samples, buf[:n-n%frameBytes])
	if err != nil {
		s.finish(err)
		if frames == 0 {
			return 0, false
		}
	}
	return frames, true
}

// finish records why the stream ended. A clean ffmpeg exit is a natural end.
func (s *pcmStream) finish(readErr error) {
	waitErr := s.wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	if s.closed {
		return
	}
	if waitErr != nil {
		s.err = classify(s.stderr.String(), waitErr)
	} else if readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
		s.err = fmt.Errorf("%w: %v", ErrDecode, readErr)
	}
}

// Err implements beep.Streamer
func (s *pcmStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close kills ffmpeg and reaps it. Killing the process ends any blocked
// read with EOF; the reap waits for that read to return.
func (s *pcmStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.done = true
	s.mu.Unlock()

	s.cancel()
	s.readMu.Lock()
	defer s.readMu.Unlock()
	s.wait()
	return nil
}

func (s *pcmStream) wait() error {
	s.waitOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
	return s.waitErr
}

// decodeFrames converts s16le stereo bytes into samples in [-1, 1)
func decodeFrames(dst [][2]float64, src []byte) int {
	n := len(src) / frameBytes
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		l := int16(binary.LittleEndian.Uint16(src[i*frameBytes:]))
		r := int16(binary.LittleEndian.Uint16(src[i*frameBytes+2:]))
		dst[i][0] = float64(l) / 32768
		dst[i][1] = float64(r) / 32768
	}
	return n
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
