package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	appconfig "github.com/consultdeck/deckgen/config"
	core "github.com/consultdeck/deckgen/internal/deck/core"
	"github.com/consultdeck/deckgen/internal/deck/telemetry"
	srv "github.com/consultdeck/deckgen/internal/server"
	"github.com/consultdeck/deckgen/internal/store"
)

func main() {
	var root = &cobra.Command{Use: "deckgen"}
	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "", "config directory (contains deckgen.json)")

	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if serveAddr == "" {
				serveAddr = os.Getenv("DECKGEN_HTTP_ADDR")
			}
			return srv.Run(cfg, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")

	var migDir string
	var direction string
	var steps int
	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.LoadConfig(configPath)
			if err != nil {
				return err
			}
			return store.Migrate(migDir, cfg.Storage.Postgres.DSN(), direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	var length string
	var outJSON bool
	var generate = &cobra.Command{
		Use:   "generate [topic]",
		Short: "Generate a deck for a topic without the server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.LoadConfig(configPath)
			if err != nil {
				return err
			}
			topic := args[0]
			for _, a := range args[1:] {
				topic += " " + a
			}
			switch length {
			case core.LengthShort, core.LengthMedium, core.LengthLong:
			default:
				return fmt.Errorf("length must be short, medium or long")
			}

			tele := telemetry.New(cfg.Telemetry)
			pipeline := core.NewPipeline(cfg, core.NewRegistry(), nil, nil, tele)

			ctx, cancel := context.WithTimeout(context.Background(), cfg.General.MaxJobTime)
			defer cancel()
			result, err := pipeline.Run(ctx, uuid.NewString(), topic, length)
			if err != nil {
				return err
			}

			if outJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			fmt.Printf("deck: %s\n", result.ArtifactPath)
			fmt.Printf("overall score: %d after %d review passes\n", result.Quality.Overall, result.Quality.IterationsRun)
			for _, s := range result.Quality.Suggestions {
				fmt.Printf("  - %s\n", s)
			}
			return nil
		},
	}
	generate.Flags().StringVar(&length, "length", core.LengthMedium, "deck length: short, medium or long")
	generate.Flags().BoolVar(&outJSON, "json", false, "print the full result as JSON")

	root.AddCommand(serve, migrate, generate)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
