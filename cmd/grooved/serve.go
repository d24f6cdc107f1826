package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/austinkregel/local-media/grooved/internal/audio"
	"github.com/austinkregel/local-media/grooved/internal/config"
	"github.com/austinkregel/local-media/grooved/internal/effects"
	"github.com/austinkregel/local-media/grooved/internal/httpapi"
	"github.com/austinkregel/local-media/grooved/internal/ipc"
	"github.com/austinkregel/local-media/grooved/internal/kv"
	"github.com/austinkregel/local-media/grooved/internal/library"
	"github.com/austinkregel/local-media/grooved/internal/logger"
	"github.com/austinkregel/local-media/grooved/internal/media"
	"github.com/austinkregel/local-media/grooved/internal/playlist"
	"github.com/austinkregel/local-media/grooved/internal/search"
	"github.com/austinkregel/local-media/grooved/internal/session"
)

var startPage string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the playback daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&startPage, "page", "", "page to load on start (default: config defaultPage)")
	rootCmd.AddCommand(serveCmd)
}

func loadConfig() (*config.Config, error) {
	configMgr := config.NewManager(configDir)
	if err := configMgr.Load(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return configMgr.Get(), nil
}

// newSource builds the playlist backend a page is configured with
func newSource(cfg *config.Config, page config.Page) (playlist.Source, error) {
	return playlist.New(playlist.Kind(page.Source), playlist.Options{
		BaseURL:   cfg.BaseURL,
		Root:      cfg.MediaRoot,
		MediaDir:  page.MediaDir,
		Extension: cfg.Audio.Extension,
		Bucket: playlist.BucketOptions{
			Endpoint:  cfg.Storage.BucketEndpoint,
			Bucket:    cfg.Storage.BucketName,
			AccessKey: cfg.Storage.BucketAccessKey,
			SecretKey: cfg.Storage.BucketSecretKey,
			UseSSL:    cfg.Storage.BucketUseSSL,
		},
	})
}

func serve(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()
	log.Info("grooved starting", zap.String("version", Version), zap.String("configDir", configDir))

	store, err := kv.Open(kv.Options{
		Backend:   cfg.Storage.Backend,
		ConfigDir: configDir,
		Redis: kv.RedisOptions{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		},
		Logger: log.Named("kv"),
	})
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	pages := make([]session.Page, 0, len(cfg.Pages))
	for _, p := range cfg.Pages {
		src, err := newSource(cfg, p)
		if err != nil {
			return fmt.Errorf("page %s: %w", p.Name, err)
		}
		pages = append(pages, session.Page{Name: p.Name, MediaDir: p.MediaDir, Source: src})
	}

	decoder, err := audio.NewFFmpegDecoder()
	if err != nil {
		return fmt.Errorf("failed to initialize decoder: %w", err)
	}
	output, err := audio.NewOtoOutput(cfg.Audio.SampleRate)
	if err != nil {
		return fmt.Errorf("failed to initialize audio output: %w", err)
	}
	defer output.Close()

	element := audio.NewElement(decoder, output, log.Named("player"))
	defer element.Close()

	var fx *effects.Pipeline
	if cfg.Effects.Enabled {
		fx = effects.New(effects.Config{
			SampleRate:     output.SampleRate(),
			RetuneInterval: cfg.Effects.RetuneInterval.Std(),
			GlideTau:       cfg.Effects.GlideTau.Std(),
			MaxBoostDB:     cfg.Effects.MaxBoostDB,
			FloorDB:        cfg.Effects.FloorDB,
			EngageOnInit:   cfg.Effects.EngageOnStart,
		}, log.Named("effects"))
		go fx.Run(ctx)
	}

	var searcher session.Searcher
	if cfg.Search.Endpoint != "" {
		searcher = search.NewClient(cfg.Search.Endpoint)
	}

	app := session.NewApp(element, store, fx, searcher, pages, session.AppOptions{
		KeyPrefix:     cfg.Storage.KeyPrefix,
		DefaultVolume: cfg.Audio.DefaultVolume,
		ResumeOnStart: cfg.Behavior.ResumeOnStart,
		SearchLimit:   cfg.Search.Limit,
		Session: session.Options{
			Repeat:         cfg.Behavior.Repeat,
			Shuffle:        cfg.Behavior.Shuffle,
			Wrap:           cfg.Behavior.WrapAround,
			ErrorSkipDelay: cfg.Behavior.ErrorSkipDelay.Std(),
		},
	}, log.Named("app"))
	// Snapshot before the store closes
	defer app.Close(context.Background())

	lib := library.New(store, cfg.Storage.KeyPrefix, log.Named("library"))

	// The built-in server may be the listing origin, so it starts first
	if cfg.HTTP.Listen != "" {
		ln, err := net.Listen("tcp", cfg.HTTP.Listen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.HTTP.Listen, err)
		}
		httpSrv := httpapi.NewServer(app, lib, cfg.MediaRoot, log.Named("http"))
		go func() {
			if err := httpSrv.Serve(ctx, ln); err != nil {
				log.Error("http server stopped", zap.Error(err))
			}
		}()
	}

	mediaSession, err := media.NewSession()
	if err != nil {
		log.Warn("continuing without OS media integration", zap.Error(err))
		mediaSession = media.NewNoOpSession()
	}
	defer mediaSession.Close()

	bridge := media.NewBridge(mediaSession, func() media.Player {
		if sess := app.Session(); sess != nil {
			return sess
		}
		return nil
	}, log.Named("media"))
	go bridge.Run(ctx, app.Bus().Subscribe())

	page := startPage
	if page == "" {
		page = cfg.DefaultPage
	}
	if err := app.Navigate(ctx, page); err != nil {
		log.Warn("failed to load start page", zap.String("page", page), zap.Error(err))
	}

	server := ipc.NewServer(socketPath, app, lib, log.Named("ipc"))
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("IPC server error: %w", err)
	}

	log.Info("shutting down")
	return nil
}
