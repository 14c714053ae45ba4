package main

import (
	"flag"
	"fmt"
	"os"

	"runner-insights/core/repository"

	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	databaseURL := flag.String("database-url", os.Getenv("DATABASE_URL"), "postgres connection string")
	flag.Parse()

	logger := arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:       arbor_models.LogWriterTypeConsole,
		TimeFormat: "15:04:05",
	})

	if err := repository.Migrate(*databaseURL, *direction); err != nil {
		fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
		os.Exit(1)
	}
	logger.Info().Str("direction", *direction).Msg("Migrations applied")
}
