package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nemonet1337/tireshop-ledger/internal/config"
	"github.com/nemonet1337/tireshop-ledger/pkg/inventory"
	"github.com/nemonet1337/tireshop-ledger/pkg/inventory/storage"
)

func main() {
	list := flag.Bool("list", false, "print the embedded migrations and exit")
	skipBootstrap := flag.Bool("skip-bootstrap", false, "apply the schema only, without seeding channels, settings and the admin user")
	flag.Parse()

	if *list {
		if err := printMigrations(); err != nil {
			log.Fatal(err)
		}
		return
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("ignoring .env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config: ", err)
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatal("init logger: ", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, !*skipBootstrap); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	logger.Info("database is up to date")
}

// run applies pending migrations, then seeds reference data
// ปรับโครงสร้างฐานข้อมูลและเตรียมข้อมูลตั้งต้น
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, bootstrap bool) error {
	store, err := storage.NewPostgreSQLStorage(cfg.DSN(), logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	if !bootstrap {
		return nil
	}
	manager := inventory.NewManager(store, logger, cfg.ManagerConfig())
	return manager.Bootstrap(ctx)
}

func printMigrations() error {
	ms, err := storage.Migrations()
	if err != nil {
		return err
	}
	for _, m := range ms {
		fmt.Printf("%s  %s\n", m.Checksum, m.Filename)
	}
	return nil
}
