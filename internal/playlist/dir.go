package playlist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/austinkregel/local-media/grooved/internal/types"
)

// DirSource lists audio files in <root>/<mediaDir> on the local filesystem
type DirSource struct {
	dir       string
	extension string
}

// NewDirSource creates a local directory source
func NewDirSource(root, mediaDir, extension string) *DirSource {
	return &DirSource{
		dir:       filepath.Join(root, mediaDir),
		extension: extension,
	}
}

// Dir returns the directory being listed
func (s *DirSource) Dir() string {
	return s.dir
}

// Fetch lists the directory sorted by file name
func (s *DirSource) Fetch(_ context.Context) ([]types.Track, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read media directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !hasExtension(e.Name(), s.extension) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	abs, err := filepath.Abs(s.dir)
	if err != nil {
		abs = s.dir
	}

	tracks := make([]types.Track, len(names))
	for i, name := range names {
		tracks[i] = types.Track{
			ID:      name,
			Locator: filepath.Join(abs, name),
			Name:    types.DisplayName(name),
		}
	}
	return tracks, nil
}

// Watch re-fetches the directory whenever files are added, removed or
// renamed, and passes the new listing to onChange. Bursts of events within
// debounce are collapsed. Watch blocks until ctx is done.
func (s *DirSource) Watch(ctx context.Context, debounce time.Duration, logger *zap.Logger, onChange func([]types.Track)) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			tracks, err := s.Fetch(ctx)
			if err != nil {
				logger.Warn("failed to refresh media directory", zap.String("dir", s.dir), zap.Error(err))
				continue
			}
			logger.Debug("media directory changed", zap.String("dir", s.dir), zap.Int("tracks", len(tracks)))
			onChange(tracks)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", zap.Error(err))
		}
	}
}
