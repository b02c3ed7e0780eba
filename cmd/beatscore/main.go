// Command beatscore runs the resolved media cache and download manager
// behind the local control API, or performs one-shot downloads.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sqlbeats/beatscore/internal/api"
	"github.com/sqlbeats/beatscore/internal/config"
	"github.com/sqlbeats/beatscore/internal/download"
	"github.com/sqlbeats/beatscore/internal/mediacache"
	"github.com/sqlbeats/beatscore/internal/metadata"
	"github.com/sqlbeats/beatscore/internal/monitoring"
	"github.com/sqlbeats/beatscore/internal/network"
	"github.com/sqlbeats/beatscore/internal/offline"
	"github.com/sqlbeats/beatscore/internal/security"
	"github.com/sqlbeats/beatscore/internal/server"
	"github.com/sqlbeats/beatscore/internal/store"
	"go.uber.org/zap"
)

const version = "0.3.0"

// tokenEnv overrides the stored session token when set.
const tokenEnv = "BEATSCORE_TOKEN"

const usage = `usage: beatscore [-config path] <command> [args]

commands:
  serve                                       run the control API (default)
  get <songID> <storageKey> [title] [artist]  download one song
  login <token>                               store the session token
  logout                                      remove the stored session token
  version                                     print the version
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "beatscore: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("beatscore", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	configPath := fs.String("config", config.GetConfigPath(), "path to the config file")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cmd := "serve"
	rest := fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	switch cmd {
	case "version":
		fmt.Println(version)
		return nil
	case "login", "logout":
		cfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		return session(security.NewTokenStore(cfg.Storage.TokenFile), cmd, rest)
	case "serve", "get":
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(*configPath, cmd == "get")
	if err != nil {
		return err
	}
	defer a.close()

	if cmd == "get" {
		return a.get(ctx, rest)
	}
	return a.serve(ctx)
}

func session(tokens *security.TokenStore, cmd string, args []string) error {
	if cmd == "logout" {
		return tokens.Clear()
	}
	if len(args) != 1 || args[0] == "" {
		return errors.New("login requires exactly one token")
	}
	if err := tokens.Save(args[0]); err != nil {
		return err
	}
	fmt.Println("session token saved")
	return nil
}

type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *sql.DB
	cache     *mediacache.Cache
	downloads *download.Manager
	index     *store.OfflineIndex
	history   *store.History
	player    *store.PlayerStateStore
	tokens    security.TokenSource
}

// newApp wires every component from the config file. Quiet keeps log
// output off the terminal so a progress bar can own it.
func newApp(configPath string, quiet bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logCfg := monitoring.LogConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
		Version:    version,
	}
	if quiet {
		logCfg = logCfg.WithoutConsole()
	}
	logger, err := monitoring.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := store.InitDB(cfg.Storage.DBPath)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	signer := api.NewSignClient(api.SignerConfig{
		Endpoint:          cfg.Signing.Endpoint,
		RequestsPerSecond: cfg.Signing.RequestsPerSecond,
		Burst:             cfg.Signing.Burst,
		MaxRetries:        cfg.Signing.MaxRetries,
		Timeout:           time.Duration(cfg.Signing.Timeout) * time.Second,
	}, logger)

	cache := mediacache.New(signer, mediacache.Options{
		TTL:           cfg.CacheTTL(),
		SweepInterval: cfg.SweepInterval(),
		VerifyTimeout: time.Duration(cfg.Cache.VerifyTimeout) * time.Second,
		Logger:        logger,
	})

	var tagger *metadata.Tagger
	if cfg.Download.EmbedMetadata {
		tagger = metadata.NewTagger(&metadata.Config{
			EmbedArtwork: cfg.Download.ArtworkSize > 0,
			ArtworkSize:  cfg.Download.ArtworkSize,
		})
	}

	index := store.NewOfflineIndex(db)
	history := store.NewHistory(db)
	downloads := download.NewManager(cache, download.Options{
		Library:          offline.NewLibrary(cfg.Download.OfflineDir),
		Index:            index,
		History:          history,
		Tagger:           tagger,
		Client:           network.GetDownloadClient(time.Duration(cfg.Download.Timeout) * time.Second),
		Concurrency:      cfg.Download.ConcurrentDownloads,
		DefaultExtension: cfg.Download.DefaultExtension,
		Logger:           logger,
	})

	var envToken security.TokenSource
	if token := os.Getenv(tokenEnv); token != "" {
		envToken = security.StaticToken(token)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		cache:     cache,
		downloads: downloads,
		index:     index,
		history:   history,
		player:    store.NewPlayerStateStore(store.NewKVStore(db), time.Now),
		tokens:    security.Fallback(envToken, security.NewTokenStore(cfg.Storage.TokenFile)),
	}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func (a *app) serve(ctx context.Context) error {
	if err := a.cache.Start(ctx); err != nil {
		return err
	}
	defer a.cache.Stop()

	if err := a.downloads.Start(ctx); err != nil {
		return err
	}
	defer a.downloads.Stop()

	a.logger.Info("beatscore starting",
		zap.String("offline_dir", a.cfg.Download.OfflineDir),
		zap.Int("concurrent_downloads", a.cfg.Download.ConcurrentDownloads))

	srv := server.New(server.Deps{
		Cache:     a.cache,
		Downloads: a.downloads,
		Offline:   a.index,
		History:   a.history,
		Player:    a.player,
		Health:    monitoring.NewHealthChecker(version, a.db),
		Tokens:    a.tokens,
		Logger:    a.logger,
	})
	return srv.Run(ctx, a.cfg.ServerAddr())
}

// get downloads a single song in the foreground, drawing progress from the
// manager's change notifications.
func (a *app) get(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("get requires <songID> <storageKey>")
	}
	song := api.Song{ID: args[0], StoragePath: args[1]}
	if len(args) > 2 {
		song.Title = args[2]
	}
	if len(args) > 3 {
		song.Artist = args[3]
	}
	if !security.IsValidSongID(song.ID) {
		return fmt.Errorf("invalid song id %q", song.ID)
	}

	if err := a.cache.Start(ctx); err != nil {
		return err
	}
	defer a.cache.Stop()
	if err := a.downloads.Start(ctx); err != nil {
		return err
	}
	defer a.downloads.Stop()

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription(download.FileNameFor(song, download.ExtensionFor(song))),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetElapsedTime(false),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWriter(os.Stderr),
	)
	unsubscribe := a.downloads.AddListener(func(tasks map[string]download.Task) {
		task, ok := tasks[song.ID]
		if !ok {
			return
		}
		if task.Speed > 0 {
			bar.Describe(fmt.Sprintf("%s [%s]", task.FileName, download.FormatSpeed(task.Speed)))
		}
		_ = bar.Set(task.Progress)
	})
	defer unsubscribe()

	if !a.downloads.DownloadSong(ctx, song, a.tokens) {
		_ = bar.Clear()
		task, ok := a.downloads.GetDownloadStatus(song.ID)
		switch {
		case ok && task.Error != "":
			return errors.New(task.Error)
		case ctx.Err() != nil:
			return ctx.Err()
		}
		if path, exists := a.downloads.IsDownloaded(song.ID); exists {
			fmt.Printf("already downloaded: %s\n", path)
			return nil
		}
		return errors.New("download did not complete")
	}
	_ = bar.Finish()

	path, _ := a.downloads.IsDownloaded(song.ID)
	fmt.Printf("saved %s\n", path)
	return nil
}
