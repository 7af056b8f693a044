// Command server runs dirserve from a configuration file.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/fatih/color"

	"example.com/dirserve/internal/app"
	"example.com/dirserve/internal/config"
	"example.com/dirserve/internal/logger"
)

type options struct {
	configPath string
	addr       string
	root       string
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	a.Log.Info("Logger initialized", logger.LogFields{"config": cfg.OriginalFilePath()})

	go func() {
		<-a.Server.Ready()
		printBanner(os.Stderr, cfg.DirServer.DocumentRoot, a.Server.URL())
	}()

	runErr := a.Server.Start()
	if err := a.Close(); err != nil {
		log.Printf("Error closing log files during shutdown: %v", err)
	}
	if runErr != nil {
		os.Exit(1)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var o options
	fs.StringVar(&o.configPath, "config", "", "Path to the configuration file (JSON, TOML or YAML)")
	fs.StringVar(&o.addr, "addr", "", "Listen address, overrides server.address")
	fs.StringVar(&o.root, "root", "", "Directory to serve, overrides dir_server.document_root")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if o.configPath == "" && o.root == "" {
		return o, errors.New("either -config or -root must be provided")
	}
	return o, nil
}

// loadConfig loads the configuration file, or builds a default one when only
// -root is given, and applies the command-line overrides.
func loadConfig(o options) (*config.Config, error) {
	var cfg *config.Config
	if o.configPath != "" {
		loaded, err := config.LoadConfig(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.NewDefaultConfig(o.root)
	}

	if o.root != "" {
		abs, err := filepath.Abs(o.root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve -root %q: %w", o.root, err)
		}
		cfg.DirServer.DocumentRoot = abs
	}
	if o.addr != "" {
		addr := o.addr
		cfg.Server.Address = &addr
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printBanner(w io.Writer, root, url string) {
	title := color.New(color.FgGreen, color.Bold)
	title.Fprintln(w, "dirserve")
	fmt.Fprintf(w, "  Serving %s\n", color.YellowString(root))
	fmt.Fprintf(w, "  Listening on %s\n", color.CyanString(url))
	fmt.Fprintln(w, "  Press Ctrl+C to stop")
}
