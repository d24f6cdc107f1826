package audio

import (
	"errors"
	"fmt"
	"strings"
)

// Play rejections. Decode and network failures are recoverable: the caller
// may skip to another track. An output refusal is not.
var (
	ErrAutoplayBlocked = errors.New("output refused to start playback")
	ErrDecode          = errors.New("media could not be decoded")
	ErrNetwork         = errors.New("media could not be fetched")
	ErrNoSource        = errors.New("no source loaded")
)

// IsRecoverable reports whether skipping to another track may succeed
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrDecode) || errors.Is(err, ErrNetwork)
}

// ffmpeg stderr fragments that point at the transport rather than the media
var networkMarkers = []string{
	"connection refused",
	"connection reset",
	"connection timed out",
	"failed to resolve",
	"network is unreachable",
	"no route to host",
	"server returned 4",
	"server returned 5",
	"http error",
	"end of file while reading",
}

// classify turns an ffmpeg failure into ErrNetwork or ErrDecode
func classify(stderr string, err error) error {
	detail := lastLine(stderr)
	if detail == "" && err != nil {
		detail = err.Error()
	}

	lower := strings.ToLower(stderr)
	for _, m := range networkMarkers {
		if strings.Contains(lower, m) {
			return fmt.Errorf("%w: %s", ErrNetwork, detail)
		}
	}
	return fmt.Errorf("%w: %s", ErrDecode, detail)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
