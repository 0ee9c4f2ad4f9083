package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/truth-ecosystem/truthd/internal/config"
	"github.com/truth-ecosystem/truthd/internal/daemon"
	"github.com/truth-ecosystem/truthd/internal/mcpserver"
)

var Version = "0.1.0"

func main() {
	cfgPath := flag.String("config", "", "path to truthd.yaml")
	mcpMode := flag.Bool("mcp", false, "run as an MCP server on stdio")
	flag.Parse()

	// ANSI gold: \033[38;5;178m  Reset: \033[0m
	gold := "\033[38;5;178m"
	reset := "\033[0m"
	dim := "\033[2m"

	if !*mcpMode {
		fmt.Printf(gold+`
     _____ _          _____          _   _
    |_   _| |__   ___|_   _| __ _   _| |_| |__
      | | | '_ \ / _ \ | || '__| | | | __| '_ \
      | | | | | |  __/ | || |  | |_| | |_| | | |
      |_| |_| |_|\___| |_||_|   \__,_|\__|_| |_|
`+reset+`
  `+dim+`The Truth ecosystem daemon  v%s`+reset+`
  `+gold+`━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━`+reset+`
`, Version)
	}

	// Resolve config path
	if *cfgPath == "" {
		home, _ := os.UserHomeDir()
		*cfgPath = filepath.Join(home, ".truthd", "truthd.yaml")
	}

	// TRUTHD_CONFIG carries inline YAML for containerized deploys where
	// mounting a config file is awkward; it takes precedence over the file.
	var cfg *config.Config
	var err error
	if inline := os.Getenv("TRUTHD_CONFIG"); inline != "" {
		cfg, err = config.LoadFromBytes([]byte(inline))
	} else {
		cfg, err = config.Load(*cfgPath)
	}
	if err != nil {
		log.Fatalf("[main] Failed to load config: %v", err)
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		log.Fatalf("[main] Failed to create data dir %s: %v", cfg.DataDir, err)
	}

	log.Printf("[main] Data dir: %s", cfg.DataDir)

	d, err := daemon.New(cfg)
	if err != nil {
		log.Fatalf("[main] Failed to create daemon: %v", err)
	}

	if err := d.Start(); err != nil {
		log.Fatalf("[main] Failed to start daemon: %v", err)
	}

	if *mcpMode {
		// Stdio belongs to the MCP client; logs already go to stderr.
		srv := mcpserver.New(Version, d, d.Chain(), d.Fetch(), d.Store(), d.Coordinator())
		if err := srv.Run(context.Background()); err != nil {
			log.Printf("[main] MCP server exited: %v", err)
		}
		d.Stop()
		return
	}

	// Block on signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[main] Received %s, shutting down...", sig)

	d.Stop()
	log.Println("[main] Goodbye.")
}
