package app

import (
	"database/sql"
	"fmt"
	"os"

	"waorganizer/internal/config"
	"waorganizer/internal/httpx"
	"waorganizer/internal/integrations/llm"
	"waorganizer/internal/organizer"
	"waorganizer/internal/settings"
	"waorganizer/internal/storage/sqlite"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func Main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "waorganizer",
		Short:        "Organize pasted WhatsApp messages with a generative model",
		SilenceUsage: true,
	}
	root.AddCommand(
		newServeCmd(),
		newOrganizeCmd(),
		newCountCmd(),
		newCheckCmd(),
		newSettingsCmd(),
		newHistoryCmd(),
	)
	return root
}

// runtime is everything a command needs after startup.
type runtime struct {
	cfg   config.Config
	db    *sql.DB
	store *settings.Store
	svc   *organizer.Service
}

func (rt *runtime) Close() {
	if rt.db != nil {
		rt.db.Close()
	}
}

func (rt *runtime) settings() settings.Settings {
	return rt.store.Load(settings.Defaults(rt.cfg))
}

func bootstrap() (*runtime, error) {
	cfg := config.LoadConfig()
	configureLogging(cfg)
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Printf(
		"Config loaded. Provider=%s Model=%s CounterMode=%s DefaultSort=%s PromptPath=%s ExportDir=%s Web=%s Slack=%t Retention=%dd ExternalHTTPTimeout=%s",
		cfg.LLMProvider,
		cfg.LLMModel,
		cfg.CounterMode,
		cfg.DefaultSortBy,
		cfg.LLMPromptPath,
		cfg.ExportDir,
		cfg.WebListenAddr,
		cfg.SlackConfigured(),
		cfg.HistoryRetentionDays,
		appliedHTTPTimeout,
	)

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init database %s: %w", cfg.DBPath, err)
	}
	log.Printf("Database initialized at %s", cfg.DBPath)

	return &runtime{
		cfg:   cfg,
		db:    db,
		store: settings.NewStore(db),
		svc:   organizer.NewService(cfg, db, llm.New(cfg)),
	}, nil
}

func configureLogging(cfg config.Config) {
	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
