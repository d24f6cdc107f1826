package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/austinkregel/local-media/grooved/internal/effects"
	"github.com/austinkregel/local-media/grooved/internal/errs"
	"github.com/austinkregel/local-media/grooved/internal/kv"
	"github.com/austinkregel/local-media/grooved/internal/playlist"
	"github.com/austinkregel/local-media/grooved/internal/state"
	"github.com/austinkregel/local-media/grooved/internal/types"
)

const watchDebounce = 500 * time.Millisecond

// Page is one playlist view backed by a media directory
type Page struct {
	Name     string
	MediaDir string
	Source   playlist.Source
}

// Searcher is the remote search fallback
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]types.Track, error)
}

type watcher interface {
	Watch(ctx context.Context, debounce time.Duration, logger *zap.Logger, onChange func([]types.Track)) error
}

// AppOptions configures an App
type AppOptions struct {
	KeyPrefix     string
	DefaultVolume float64
	// ResumeOnStart applies the stored snapshot when a page loads
	ResumeOnStart bool
	SearchLimit   int
	Session       Options
}

// App holds the single audio element and swaps sessions as pages change
type App struct {
	mu       sync.Mutex
	element  Element
	store    kv.Store
	fx       *effects.Pipeline
	bus      *Bus
	searcher Searcher
	pages    []Page
	opts     AppOptions
	logger   *zap.Logger

	page        Page
	session     *Session
	stopWatcher context.CancelFunc
}

// NewApp creates an app with no page loaded. searcher and fx may be nil.
func NewApp(element Element, store kv.Store, fx *effects.Pipeline, searcher Searcher, pages []Page, opts AppOptions, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		element:  element,
		store:    store,
		fx:       fx,
		bus:      NewBus(),
		searcher: searcher,
		pages:    pages,
		opts:     opts,
		logger:   logger,
	}
}

// Bus returns the event bus shared by every session
func (a *App) Bus() *Bus {
	return a.bus
}

// Pages lists the configured pages
func (a *App) Pages() []Page {
	return a.pages
}

// Page returns the active page
func (a *App) Page() Page {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.page
}

// Session returns the active session, nil before the first Navigate
func (a *App) Session() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *App) lookup(name string) (Page, bool) {
	for _, p := range a.pages {
		if p.Name == name {
			return p, true
		}
	}
	return Page{}, false
}

// Navigate switches to the named page: the current session is snapshotted
// and closed, the page's playlist fetched, and the snapshot restored onto a
// new session.
func (a *App) Navigate(ctx context.Context, name string) error {
	page, ok := a.lookup(name)
	if !ok {
		return fmt.Errorf("page %q: %w", name, errs.ErrNotFound)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.closeSessionLocked(ctx)

	tracks, err := page.Source.Fetch(ctx)
	if err != nil {
		a.logger.Warn("failed to fetch playlist", zap.String("page", page.Name), zap.Error(err))
		tracks = nil
	}

	bridge := state.NewBridge(a.store, state.Options{
		KeyPrefix:     a.opts.KeyPrefix,
		MediaDir:      page.MediaDir,
		DefaultVolume: a.opts.DefaultVolume,
	}, a.logger.Named("state"))

	sessOpts := a.opts.Session
	sessOpts.Page = page.Name
	sess := New(a.element, bridge, a.fx, a.bus, a.logger.Named("session"), sessOpts)
	sess.SetPlaylist(tracks)
	sess.Start()

	a.page = page
	a.session = sess

	if w, ok := page.Source.(watcher); ok {
		watchCtx, cancel := context.WithCancel(context.Background())
		a.stopWatcher = cancel
		go func() {
			err := w.Watch(watchCtx, watchDebounce, a.logger.Named("watch"), sess.SetPlaylist)
			if err != nil {
				a.logger.Warn("playlist watch stopped", zap.String("page", page.Name), zap.Error(err))
			}
		}()
	}

	if len(tracks) == 0 {
		sess.publish(EventError, "No songs found")
	}

	snap, found := bridge.Load(ctx)
	if !a.opts.ResumeOnStart {
		found = false
	}
	rs := bridge.Restore(snap, found, tracks)
	a.logger.Info("page loaded",
		zap.String("page", page.Name),
		zap.Int("tracks", len(tracks)),
		zap.Bool("resumed", found))

	return sess.Restore(ctx, rs)
}

func (a *App) closeSessionLocked(ctx context.Context) {
	if a.stopWatcher != nil {
		a.stopWatcher()
		a.stopWatcher = nil
	}
	if a.session == nil {
		return
	}
	if err := a.session.Unload(ctx); err != nil {
		a.logger.Warn("failed to save playback state", zap.Error(err))
	}
	a.session.Close()
	a.session = nil
}

// Search filters the active playlist and falls back to the remote search
// when nothing local matches.
func (a *App) Search(ctx context.Context, query string) ([]types.Track, error) {
	sess := a.Session()
	if sess != nil {
		if local := playlist.Filter(sess.Playlist(), query); len(local) > 0 {
			return local, nil
		}
	}

	if a.searcher == nil || query == "" {
		return nil, nil
	}
	results, err := a.searcher.Search(ctx, query, a.opts.SearchLimit)
	if err != nil {
		a.logger.Warn("remote search failed", zap.String("query", query), zap.Error(err))
		return nil, err
	}
	return results, nil
}

// Close saves playback state and stops the active session
func (a *App) Close(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeSessionLocked(ctx)
	a.bus.Close()
}
