package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/brewvault/brewsync/internal/config"
	"github.com/brewvault/brewsync/internal/events"
	"github.com/brewvault/brewsync/internal/models"
	"github.com/brewvault/brewsync/internal/queue"
	"github.com/brewvault/brewsync/internal/remote"
	"github.com/brewvault/brewsync/internal/services/records"
	syncsvc "github.com/brewvault/brewsync/internal/services/sync"
	"github.com/brewvault/brewsync/internal/static"
	"github.com/brewvault/brewsync/internal/store"
	"github.com/brewvault/brewsync/internal/tombstone"
	"github.com/brewvault/brewsync/internal/transport"
)

var rootCmd = &cobra.Command{
	Use:   "brewsync",
	Short: "Offline-first sync for your brewing records",
	Long: `brewsync keeps recipes, brew sessions, and fermentation logs in a
local store that works fully offline, and synchronizes them with the
BrewVault service whenever a connection is available.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	cfgFile    string
	jsonOutput bool
	verbose    bool

	cfg    *config.Config
	logger *events.Logger
)

// app holds the wired service graph for one invocation.
type app struct {
	transport  *transport.DefaultTransport
	remote     *remote.Client
	store      store.Store
	queue      queue.Queue
	tombstones tombstone.Tracker
	static     *static.Cache
	checkpoint syncsvc.Checkpoint
	records    *records.Service
	sync       *syncsvc.Service
	engine     *syncsvc.Engine

	userDB   *sql.DB
	staticDB *sql.DB
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Config file (default searches ., ~/.config/brewsync, ~/.brewsync)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output machine-readable JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")

	cobra.OnInitialize(initConfig)
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if verbose {
		cfg.Log.Level = "debug"
	}
	logger = events.NewLogger(events.LogConfig{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
}

// tokenInfo is the persisted login session.
type tokenInfo struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

func tokenPath() string {
	if filepath.IsAbs(cfg.API.TokenFile) {
		return cfg.API.TokenFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return cfg.API.TokenFile
	}
	return filepath.Join(home, cfg.API.TokenFile)
}

func loadToken() (*tokenInfo, error) {
	data, err := os.ReadFile(tokenPath())
	if err != nil {
		return nil, err
	}
	var info tokenInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func saveToken(info *tokenInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	path := tokenPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

var userIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// userID derives the per-user storage namespace from the login email.
func userID(email string) string {
	return userIDSanitizer.ReplaceAllString(strings.ToLower(email), "_")
}

// buildApp wires the full service graph for the logged-in user.
func buildApp() (*app, error) {
	session, err := loadToken()
	if err != nil {
		return nil, fmt.Errorf("not logged in, run 'brewsync login' first")
	}

	t := transport.New(&cfg.API, logger)
	t.SetToken(session.Token)
	rc := remote.NewClient(t, logger)

	dataDir := cfg.Storage.DataDir
	if !filepath.IsAbs(dataDir) {
		if home, err := os.UserHomeDir(); err == nil {
			dataDir = filepath.Join(home, dataDir)
		}
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	storageCfg := cfg.Storage
	storageCfg.DataDir = dataDir

	userDB, err := store.OpenUserDB(storageCfg.UserDataPath(userID(session.Email)))
	if err != nil {
		return nil, fmt.Errorf("open user database: %w", err)
	}

	st, err := store.NewSQLiteStore(userDB, logger)
	if err != nil {
		return nil, err
	}
	q, err := queue.NewSQLiteQueue(userDB, queue.BackoffConfig{
		Base: cfg.Sync.RetryDelay,
		Max:  cfg.Sync.MaxRetryDelay,
	}, logger)
	if err != nil {
		return nil, err
	}
	tr, err := tombstone.NewSQLiteTracker(userDB, logger)
	if err != nil {
		return nil, err
	}
	cp, err := syncsvc.NewSQLiteCheckpoint(userDB, logger)
	if err != nil {
		return nil, err
	}

	staticDB, err := static.OpenStaticDB(storageCfg.StaticPath())
	if err != nil {
		return nil, fmt.Errorf("open static database: %w", err)
	}
	cache, err := static.NewCache(staticDB, rc, logger)
	if err != nil {
		return nil, err
	}

	engine := syncsvc.NewEngine(st, q, tr, rc, cp, &syncsvc.EngineConfig{
		BatchSize:     cfg.Sync.BatchSize,
		MaxConcurrent: cfg.Sync.MaxConcurrent,
		OpTimeout:     cfg.Sync.OpTimeout,
		Policy:        conflictPolicy(cfg.Sync.ConflictPolicy),
	}, logger)

	return &app{
		transport:  t,
		remote:     rc,
		store:      st,
		queue:      q,
		tombstones: tr,
		static:     cache,
		checkpoint: cp,
		records:    records.NewService(st, q, tr, cfg.Sync.MaxRetries, logger),
		sync:       syncsvc.NewService(engine, st, tr, cache, t, cp, cfg.Sync.Interval, logger),
		engine:     engine,
		userDB:     userDB,
		staticDB:   staticDB,
	}, nil
}

func conflictPolicy(name string) *models.ConflictResolution {
	switch name {
	case "local_wins":
		return &models.ConflictResolution{Strategy: models.ResolveLocalWins}
	case "remote_wins":
		return &models.ConflictResolution{Strategy: models.ResolveRemoteWins}
	default:
		return &models.ConflictResolution{Strategy: models.ResolveManual}
	}
}

func (a *app) Close() {
	_ = a.transport.Close()
	_ = a.store.Close()
	_ = a.userDB.Close()
	_ = a.staticDB.Close()
}

// Output helpers.

func printSuccess(format string, args ...interface{}) {
	color.Green(format, args...)
}

func printError(format string, args ...interface{}) {
	color.Red(format, args...)
}

func printWarning(format string, args ...interface{}) {
	color.Yellow(format, args...)
}

func printInfo(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		printError("encode output: %v", err)
		return
	}
	fmt.Println(string(data))
}
