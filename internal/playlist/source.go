// Package playlist produces ordered track lists from media directories.
package playlist

import (
	"context"
	"fmt"
	"strings"

	"github.com/austinkregel/local-media/grooved/internal/types"
)

// DefaultExtension is the audio extension kept when none is configured
const DefaultExtension = ".mp3"

// Source produces the tracks of one media directory, order preserved
type Source interface {
	Fetch(ctx context.Context) ([]types.Track, error)
}

// Kind names a Source implementation
type Kind string

const (
	KindHTTP   Kind = "http"
	KindDir    Kind = "dir"
	KindBucket Kind = "bucket"
)

// Options holds settings shared by every Source kind
type Options struct {
	BaseURL   string // http: origin serving the directory listing
	Root      string // dir: local media root
	MediaDir  string
	Extension string
	Bucket    BucketOptions
}

// New builds the Source for kind
func New(kind Kind, opts Options) (Source, error) {
	if opts.Extension == "" {
		opts.Extension = DefaultExtension
	}
	switch kind {
	case "", KindHTTP:
		return NewHTTPSource(opts.BaseURL, opts.MediaDir, opts.Extension), nil
	case KindDir:
		return NewDirSource(opts.Root, opts.MediaDir, opts.Extension), nil
	case KindBucket:
		return NewBucketSource(opts.Bucket, opts.MediaDir, opts.Extension)
	default:
		return nil, fmt.Errorf("unknown playlist source %q", kind)
	}
}

// Filter returns the tracks whose name or listed ID contains query,
// ignoring case. An empty query returns every track.
func Filter(tracks []types.Track, query string) []types.Track {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return tracks
	}

	out := make([]types.Track, 0, len(tracks))
	for _, t := range tracks {
		if strings.Contains(strings.ToLower(t.Name), q) ||
			strings.Contains(strings.ToLower(types.DecodeSegment(t.ID)), q) {
			out = append(out, t)
		}
	}
	return out
}

func hasExtension(name, ext string) bool {
	return strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext))
}
