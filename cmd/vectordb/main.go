// Package main provides the VectorDB CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cianyyz/vectordb/pkg/config"
	"github.com/cianyyz/vectordb/pkg/server"
	"github.com/cianyyz/vectordb/pkg/vectordb"
	"github.com/cianyyz/vectordb/pkg/vlog"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vectordb",
		Short: "VectorDB - an in-memory vector database with an HTTP API",
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vectordb v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the VectorDB HTTP server",
		RunE:  runServe,
	}
	serveCmd.Flags().Int("port", 0, "HTTP port (overrides PORT env var and config file)")
	serveCmd.Flags().String("store", "", "snapshot file path (overrides config file)")
	serveCmd.Flags().String("config", "", "path to an optional YAML config file")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Port = port
	}
	if store, _ := cmd.Flags().GetString("store"); store != "" {
		cfg.StorePath = store
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := vlog.New(nil, vlog.ParseLevel(cfg.LogLevel))

	db, err := vectordb.Open(cfg.StorePath, log)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	srvConfig := &server.Config{
		Address:            cfg.Address,
		Port:               cfg.Port,
		ReadTimeout:        cfg.ReadTimeout,
		WriteTimeout:       cfg.WriteTimeout,
		IdleTimeout:        cfg.IdleTimeout,
		MaxRequestSize:     cfg.MaxRequestSize,
		EnableCORS:         cfg.EnableCORS,
		CORSOrigins:        cfg.CORSOrigins,
		DefaultSimilarityK: cfg.DefaultSimilarityK,
		DefaultMetadataK:   cfg.DefaultMetadataK,
	}

	srv, err := server.New(db, srvConfig, log)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	log.Infof("vectordb listening on %s (store=%s)", srv.Addr(), cfg.StorePath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Infof("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		return fmt.Errorf("stopping server: %w", err)
	}
	log.Infof("server stopped gracefully")
	return nil
}
