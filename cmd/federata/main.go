package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/federata/federata/internal/catalog"
	"github.com/federata/federata/internal/database/common"
	"github.com/federata/federata/internal/engine"
	"github.com/federata/federata/pkg/config"
	"github.com/federata/federata/pkg/database"
	"github.com/federata/federata/pkg/encryption"
	"github.com/federata/federata/pkg/logger"
)

var version = "dev"

func main() {
	configFile := flag.String("config", "", "path to a YAML configuration file")
	archiveDir := flag.String("archive-dir", "", "directory for payload archives (overrides configuration)")
	logFile := flag.String("log-file", "", "log file path (overrides configuration)")
	flag.Parse()

	log := logger.New("federata", version)

	cfg := config.New()
	cfg.LoadEnvironment()
	if *configFile != "" {
		if err := cfg.LoadFile(*configFile); err != nil {
			log.Fatalf("Failed to load configuration file: %v", err)
		}
	}
	if *archiveDir != "" {
		cfg.Set("archive.dir", *archiveDir)
	}
	if *logFile != "" {
		cfg.Set("log.file", *logFile)
	}
	if path := cfg.Get("log.file"); path != "" {
		log.EnableFileOutput(path, cfg.GetInt("log.max_size_mb", 100), cfg.GetInt("log.max_backups", 5))
	}

	if err := run(cfg, log); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	serverID := cfg.Get("server.id")
	if serverID == "" {
		return fmt.Errorf("SERVER_ID must be set: it prefixes every tracking id this engine assigns")
	}

	key, err := encryption.LoadProcessKey()
	if err != nil {
		return fmt.Errorf("failed to load process key: %w", err)
	}
	secrets := encryption.NewSecretEncryptor(key)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, database.FromConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to connect to catalog database: %w", err)
	}
	defer db.Close()

	store := catalog.NewStore(db, log)
	if err := store.Bootstrap(ctx); err != nil {
		return err
	}

	if err := validateMembers(ctx, store); err != nil {
		return err
	}

	log.Infof("Starting federata engine, server id %s", serverID)
	e := engine.New(cfg, store, secrets, log)
	if err := e.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("Engine stopped")
	return nil
}

// validateMembers refuses to start when the catalog names a database family
// the engine cannot drive
func validateMembers(ctx context.Context, store *catalog.Store) error {
	members, err := store.ListMembers(ctx)
	if err != nil {
		return err
	}
	for _, m := range members {
		switch m.Family {
		case common.FamilyPostgres, common.FamilySQLServer:
		default:
			return fmt.Errorf("member %s has unknown database family %q", m.ID, m.Family)
		}
	}
	return nil
}
