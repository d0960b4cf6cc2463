package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/systemshift/topicgraph/internal/config"
	"github.com/systemshift/topicgraph/internal/logger"
	"github.com/systemshift/topicgraph/internal/metrics"
	"github.com/systemshift/topicgraph/internal/server/api"
	"github.com/systemshift/topicgraph/internal/server/graph"
	"github.com/systemshift/topicgraph/internal/server/subscriptions"
	"github.com/systemshift/topicgraph/internal/topicmap/service"
	"github.com/systemshift/topicgraph/internal/topicmap/storage"
)

// flags override the environment
type flags struct {
	backend    string
	sqlitePath string
	env        string
	port       string
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "topicgraph",
		Short:         "Graph-backed semantic topic store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&f.backend, "backend", "", "graph backend (sqlite|neo4j)")
	root.PersistentFlags().StringVar(&f.sqlitePath, "db", "", "SQLite database path")
	root.PersistentFlags().StringVar(&f.env, "env", "", "environment (development|production)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), f)
		},
	}
	serve.Flags().StringVar(&f.port, "port", "", "HTTP port")

	importCmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import topic type descriptions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), f, args)
		},
	}

	types := &cobra.Command{
		Use:   "types [TYPE_ID]",
		Short: "List topic types, or print one type's description",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTypes(cmd.Context(), f, args)
		},
	}

	root.AddCommand(serve, importCmd, types)
	return root
}

func loadConfig(f *flags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if f.backend != "" {
		cfg.Backend = f.backend
	}
	if f.sqlitePath != "" {
		cfg.SQLitePath = f.sqlitePath
	}
	if f.env != "" {
		cfg.Env = f.env
	}
	if f.port != "" {
		cfg.Port = f.port
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("initialising logger: %w", err)
	}
	return cfg, nil
}

// openService connects the substrate and starts the service on it.
func openService(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*service.Service, error) {
	db, err := graph.Open(ctx, cfg.GraphOptions())
	if err != nil {
		return nil, fmt.Errorf("opening %s backend: %w", cfg.Backend, err)
	}
	engine, err := storage.Open(ctx, db, logger.Named("storage"))
	if err != nil {
		db.Close(ctx)
		return nil, err
	}
	svc, err := service.New(ctx, engine, service.Options{
		Logger:    logger.Named("service"),
		Metrics:   m,
		TypeFiles: cfg.TypeFiles,
	})
	if err != nil {
		engine.Close(ctx)
		return nil, err
	}
	return svc, nil
}

func runServe(ctx context.Context, f *flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Get()

	m := metrics.NewMetrics()
	svc, err := openService(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())

	subMgr := subscriptions.NewManager(svc.Subscriptions(), logger.Named("subscriptions"))
	if err := subMgr.Start(ctx); err != nil {
		return err
	}
	defer subMgr.Stop()
	svc.SetEventEmitter(subMgr.GetEmitter())

	// HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.New(svc, subMgr, logger.Named("http")).Routes(m),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting topicgraph server", zap.String("addr", srv.Addr), zap.String("backend", cfg.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}

func runImport(ctx context.Context, f *flags, files []string) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	defer logger.Sync()

	svc, err := openService(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())

	for _, path := range files {
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		types, err := svc.ImportTypes(ctx, file)
		file.Close()
		if err != nil {
			return fmt.Errorf("importing %s: %w", path, err)
		}
		for _, tt := range types {
			fmt.Printf("%s\t%d fields\n", tt.Identifier(), len(tt.DataFields))
		}
	}
	return nil
}

func runTypes(ctx context.Context, f *flags, args []string) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	defer logger.Sync()

	svc, err := openService(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())

	if len(args) == 1 {
		tt, err := svc.GetTopicType(ctx, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tt.Description())
	}

	ids, err := svc.TopicTypeIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}
