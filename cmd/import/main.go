// Command import performs a one-shot migration of a legacy JSON inbox file
// into the database. The original file is left untouched.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/tempbox/tempbox-backend/internal/config"
	"github.com/tempbox/tempbox-backend/internal/database"
	"github.com/tempbox/tempbox-backend/internal/legacy"
	"github.com/tempbox/tempbox-backend/internal/repository"
)

func main() {
	file := flag.String("file", "inbox.json", "path to the legacy JSON inbox file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(*file, logger); err != nil {
		logger.Error("import failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(file string, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	importer := legacy.NewImporter(
		repository.NewMailboxRepository(db),
		repository.NewMessageRepository(db),
		logger,
	)

	result, err := importer.ImportFile(context.Background(), file)
	if err != nil {
		return err
	}

	for _, msg := range result.Errors {
		logger.Warn("import entry skipped", slog.String("reason", msg))
	}
	logger.Info("import complete",
		slog.Int("mailboxes", result.MailboxesImported),
		slog.Int("messages", result.MessagesImported),
	)
	return nil
}
