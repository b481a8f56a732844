package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"moderation-bot/bot"
	"moderation-bot/config"
	"moderation-bot/handlers"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
)

const programName = "moderation-bot"

func slogPrintf(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...),
		"component", programName,
	)
}

var (
	globalFlags = struct {
		debug bool
	}{}
	configFile   string
	schemaFile   string
	loadedConfig *config.Config
)

func commonRun(cfg *config.Config) *slog.Logger {
	logLevel := cfg.LogLevel
	addSource := false
	if globalFlags.debug {
		logLevel = slog.LevelDebug
		addSource = true
	}
	logger := slog.New(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource: addSource,
			Level:     logLevel,
		}),
	)
	slog.SetDefault(logger)
	// Toss the undo func
	if _, err := maxprocs.Set(maxprocs.Logger(slogPrintf)); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	return logger
}

func writeSchema(cfg *config.Config, path string) error {
	ddl, err := bot.Describe(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(ddl), 0o644); err != nil {
		return fmt.Errorf("failed to write schema: %w", err)
	}
	slog.Info("schema written", "component", programName, "path", path, "backend", cfg.Database.Backend)
	return nil
}

func run(cmd *cobra.Command, _ []string) error {
	cfg := loadedConfig
	logger := commonRun(cfg)

	if schemaFile != "" {
		return writeSchema(cfg, schemaFile)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	b, err := bot.New(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("error creating bot: %w", err)
	}
	defer b.Close()

	handlers.Register(b)
	return b.Run(cmd.Context())
}

func main() {
	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "Discord moderation bot with timed mutes and bans",
		RunE:         run,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&configFile, "conf", "", "path to config file")
	rootCmd.Flags().
		StringVar(&schemaFile, "writeschema", "", "write the database schema to this file and exit")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		loadedConfig = cfg
		return nil
	}

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
