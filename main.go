// Command dirserve serves a directory tree over HTTP with default settings.
//
//	dirserve <address> <document-root>
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"example.com/dirserve/internal/app"
	"example.com/dirserve/internal/config"
	"example.com/dirserve/internal/logger"
)

func main() {
	cfg, err := configFromArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("%v\nUsage: %s <address> <document-root>", err, filepath.Base(os.Args[0]))
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	a.Log.Info("Starting server...", logger.LogFields{"address": *cfg.Server.Address, "root": cfg.DirServer.DocumentRoot})
	runErr := a.Server.Start()
	if err := a.Close(); err != nil {
		log.Printf("Error closing log files during shutdown: %v", err)
	}
	if runErr != nil {
		os.Exit(1)
	}
}

// configFromArgs builds a validated default configuration from the address
// and document root arguments.
func configFromArgs(args []string) (*config.Config, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("expected 2 arguments, got %d", len(args))
	}
	addr, root := args[0], args[1]
	if addr == "" {
		return nil, fmt.Errorf("address cannot be empty")
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve document root %q: %w", root, err)
	}

	cfg := config.NewDefaultConfig(absRoot)
	cfg.Server.Address = &addr
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
