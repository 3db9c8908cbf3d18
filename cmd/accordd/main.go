package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aiwatching/accord/internal/config"
	"github.com/aiwatching/accord/internal/daemon"
	"github.com/aiwatching/accord/internal/git"
	"github.com/aiwatching/accord/internal/scaffold"
)

func main() {
	// Exit with appropriate code
	os.Exit(run())
}

// run contains the main logic and returns an exit code.
// This separation makes the logic testable and ensures deferred functions run.
func run() int {
	once := flag.Bool("once", false, "Run a single tick and exit")
	interval := flag.Duration("interval", 0, "Override the configured tick interval")
	flag.Parse()

	root, err := os.Getwd()
	if err != nil {
		log.Printf("[ERROR] Failed to get working directory: %v", err)
		return 1
	}

	cfg, err := scaffold.Validate(root)
	if err != nil {
		log.Printf("[ERROR] Not an initialized accord repository: %v", err)
		return 1
	}

	if cfg.Daemon == nil {
		log.Printf("[ERROR] accord.yml has no daemon section; accordd needs one (see 'daemon:' in the starter config)")
		return 1
	}

	if *interval > 0 {
		cfg.Daemon.Interval = config.Duration(*interval)
	}

	hubRoot := cfg.HubRoot(root)
	engine := daemon.New(cfg, root, &git.CLI{Dir: hubRoot})

	if *once {
		log.Printf("[INFO] accordd running single tick owner=%s", cfg.Owner)
		if err := engine.Tick(context.Background()); err != nil {
			log.Printf("[ERROR] Tick failed: %v", err)
			return 1
		}
		return 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		log.Printf("[INFO] Received signal: %v", sig)
		cancel()
		// Let the in-flight tick finish before exiting
		<-engineDone
	case err := <-engineDone:
		if err != nil && err != context.Canceled {
			log.Printf("[ERROR] Engine stopped: %v", err)
			return 1
		}
	}

	log.Printf("[INFO] accordd stopped")
	return 0
}
