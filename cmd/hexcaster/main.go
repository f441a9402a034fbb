// Command hexcaster builds a shared library, runs it, and reloads it in
// place whenever the library on disk is rebuilt.
//
// Usage:
//
//	hexcaster [-config hexcaster.yaml] [-artifact ./preview.so] [-listen 127.0.0.1:7878] [args...]
//
// Exit status is 0 when the application asks to stop, 1 when the library
// cannot be loaded (at startup or during a reload) and 2 on a configuration
// error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/Stemt/hexcaster/internal/build"
	"github.com/Stemt/hexcaster/internal/config"
	"github.com/Stemt/hexcaster/internal/detector"
	"github.com/Stemt/hexcaster/internal/events"
	"github.com/Stemt/hexcaster/internal/loader"
	"github.com/Stemt/hexcaster/internal/procstat"
	"github.com/Stemt/hexcaster/internal/supervisor"
)

const (
	exitOK       = 0
	exitLoad     = 1
	exitConfig   = 2
	shutdownWait = 2 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	cfg, err := parseConfig(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitConfig
	}

	native := loader.NewNative(cfg.Symbols())
	defer func() {
		if err := native.Close(); err != nil {
			log.Printf("loader: %v", err)
		}
	}()
	for _, lib := range cfg.Preload {
		if err := native.Preload(lib); err != nil {
			log.Printf("loader: couldn't preload library: %v", err)
		}
	}

	return execute(cfg, native)
}

// parseConfig loads the config file and applies flag overrides on top.
func parseConfig(args []string, stderr io.Writer) (*config.Config, error) {
	fs := flag.NewFlagSet("hexcaster", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", config.DefaultPath, "Path to config file")
	artifact := fs.String("artifact", "", "Override the shared library to load")
	listen := fs.String("listen", "", "Serve reload events over WebSocket on this address")
	quiet := fs.Duration("quiet", 0, "Override the quiet period before a rewrite counts as finished")
	memStats := fs.Bool("memstats", false, "Log resident memory after every reload")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var cfg *config.Config
	var err error
	if *artifact != "" {
		cfg, err = config.LoadOrDefault(*configPath)
	} else {
		cfg, err = config.Load(*configPath)
	}
	if err != nil {
		return nil, err
	}

	if *artifact != "" {
		cfg.Artifact = *artifact
	}
	if *listen != "" {
		cfg.Events.Listen = *listen
	}
	if *quiet > 0 {
		cfg.Detector.QuietPeriod = *quiet
		if cfg.Detector.PollInterval > *quiet {
			cfg.Detector.PollInterval = *quiet
		}
	}
	if *memStats {
		cfg.Stats.Memory = true
	}
	cfg.Args = append(cfg.Args, fs.Args()...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// execute wires the supervisor for cfg on top of ld and runs it to
// completion, returning the process exit status.
func execute(cfg *config.Config, ld loader.Loader) int {
	var observers []supervisor.Observer

	if cfg.Events.Listen != "" {
		b := events.NewBroadcaster(cfg.Events.SendBuffer, 0)
		srv := events.NewServer(b)
		if err := srv.Start(cfg.Events.Listen); err != nil {
			log.Printf("events: %v, continuing without event feed", err)
		} else {
			observers = append(observers, b)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
				defer cancel()
				if err := srv.Shutdown(ctx); err != nil {
					log.Printf("events: shutdown: %v", err)
				}
			}()
		}
	}

	if cfg.Stats.Memory {
		if rep, err := procstat.NewSelfReporter(); err != nil {
			log.Printf("%v, memory stats disabled", err)
		} else {
			observers = append(observers, rep)
		}
	}

	opts := supervisor.Options{
		Artifact:  cfg.Artifact,
		Args:      append([]string{cfg.Artifact}, cfg.Args...),
		Loader:    ld,
		Detector:  detector.New(cfg.Detector.QuietPeriod, cfg.Detector.PollInterval),
		Observers: observers,
	}
	if cfg.RebuildEnabled() {
		opts.Rebuilder = &build.Trigger{
			Artifact: cfg.Artifact,
			Sources:  cfg.Build.Sources,
			Builder: &build.Command{
				Args: cfg.Build.Command,
				Dir:  cfg.Build.Dir,
				Env:  cfg.Build.Env,
			},
		}
	}

	sup, err := supervisor.New(opts)
	if err != nil {
		log.Printf("%v", err)
		return exitConfig
	}
	// Run has already logged the failure.
	if err := sup.Run(context.Background()); err != nil {
		return exitLoad
	}
	return exitOK
}
