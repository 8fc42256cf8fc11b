package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/palaystore/internal/config"
	"github.com/JonMunkholm/palaystore/internal/core"
	"github.com/JonMunkholm/palaystore/internal/logging"
	"github.com/JonMunkholm/palaystore/internal/schema"
	"github.com/JonMunkholm/palaystore/internal/store"
	"github.com/JonMunkholm/palaystore/internal/web"
)

// app is the state shared by every subcommand once the root pre-run has
// loaded configuration and opened the store.
type app struct {
	envFile  string
	dataFile string

	cfg   *config.Config
	store *store.Store
	log   *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "palaystore",
		Short:         "Flat-file store for palay and rice trading data",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.PersistentFlags().StringVar(&a.dataFile, "data", "", "data file path (overrides DATA_FILE)")

	root.AddCommand(
		a.newServeCommand(),
		a.newExportCommand(),
		a.newImportCommand(),
		a.newNormalizeCommand(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadWithEnvFiles(a.envFile)
	if err != nil {
		return err
	}
	if a.dataFile != "" {
		cfg.Storage.DataFile = a.dataFile
	}
	a.cfg = cfg

	// Logs go to stderr so export can write JSON to stdout.
	a.log = logging.Setup(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

	reg, err := schema.FromConfig(cfg.Storage.SchemaFile)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}

	st, err := store.New(cfg.Storage.DataFile, reg, store.WithLogger(a.log))
	if err != nil {
		return err
	}
	a.store = st

	a.log.Debug("configuration loaded", "config", cfg.String())
	return nil
}

func (a *app) newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := web.NewServer(a.store, a.cfg, a.log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.log.Info("server stopped")
	return nil
}

func (a *app) newExportCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the dataset as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.store.Load(cliContext(cmd))
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(ds, "", "  ")
			if err != nil {
				return fmt.Errorf("encode dataset: %w", err)
			}
			data = append(data, '\n')

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			a.log.Info("dataset exported", "output", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func (a *app) newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>",
		Short: "Replace the data file with a JSON dataset",
		Long: "Replace the data file with a JSON dataset, as produced by export. " +
			"Records without an id are given one.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			var ds core.Dataset
			if err := json.Unmarshal(data, &ds); err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}

			saved, err := a.store.Replace(cliContext(cmd), &ds)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported %d records into %s\n", countRecords(saved), a.store.Path())
			return nil
		},
	}
}

func (a *app) newNormalizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize",
		Short: "Rewrite the data file in canonical form",
		Long: "Load the data file and save it back, renaming legacy keys, " +
			"filling missing columns and sections, and fixing the section order.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := a.store.Rewrite(cliContext(cmd))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "normalized %s (%d records)\n", a.store.Path(), countRecords(ds))
			return nil
		},
	}
}

// cliContext tags the command context so store logs show the CLI as the
// source of a write.
func cliContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return core.ContextWithActor(ctx, core.Actor{Source: "cli"})
}

func countRecords(ds *core.Dataset) int {
	n := 0
	for _, recs := range ds.Lists {
		n += len(recs)
	}
	for _, values := range ds.Maps {
		n += len(values)
	}
	return n
}
