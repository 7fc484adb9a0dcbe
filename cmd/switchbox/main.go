// switchbox runs ETL jobs as compose services.
//
// It has three modes. Without APIMODE it boots its own compose deployment
// (the ui and api services) and exits. With APIMODE it serves the job API.
// Invoked as "switchbox after-run <container> <workdir> <command...>" it is
// the detached supervisor that runs a follow-up command once a container
// stops.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"switchbox/internal/afterrun"
	"switchbox/internal/compose"
	"switchbox/internal/config"
	"switchbox/internal/docker"
	"switchbox/pkg/backoff"
	"syscall"
	"time"
)

// logFileName is the service's own log under SWITCHBOX_LOG_DIR.
const logFileName = "switchbox.log"

func main() {
	if err := config.LoadDotEnv(config.GetEnv("SWITCHBOX_ENV_FILE", ".env")); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load env file: %v\n", err)
		os.Exit(1)
	}
	cfg := config.LoadServiceConfig()

	closeLog, err := setupLogging(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	var runErr error
	switch {
	case len(os.Args) > 1 && os.Args[1] == afterrun.Subcommand:
		runErr = runAfterRun(cfg, os.Args[2:])
	case cfg.APIMode:
		runErr = runAPI(cfg)
	default:
		runErr = boot(cfg)
	}
	if runErr != nil {
		slog.Error("Service failed", "error", runErr)
		closeLog()
		os.Exit(1)
	}
	closeLog()
}

// setupLogging installs a JSON slog handler on stdout, teed to the log
// directory when one is configured.
func setupLogging(cfg *config.ServiceConfig) (func(), error) {
	level := cfg.SlogLevel()
	if cfg.Debug {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stdout
	closeLog := func() {}
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(filepath.Join(cfg.LogDir, logFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		w = io.MultiWriter(os.Stdout, f)
		closeLog = func() { _ = f.Close() }
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
	return closeLog, nil
}

// boot starts the ui and api services of the switchbox deployment itself.
func boot(cfg *config.ServiceConfig) error {
	ctx := context.Background()

	c := compose.New(compose.Options{
		ProjectDir:  cfg.ProjectDir,
		ProjectName: cfg.ProjectName,
		Command:     cfg.ComposeCommand,
		DefaultEnv:  map[string]string{"TRAEFIK_PORT": cfg.Port},
	})

	for _, service := range []string{"ui", "api"} {
		slog.Info("Starting service", "service", service, "projectDir", cfg.ProjectDir)
		if _, err := c.Up(ctx, service, nil); err != nil {
			return fmt.Errorf("start %s: %w", service, err)
		}
	}
	slog.Info("Background services started; exiting")
	return nil
}

// runAfterRun is the body of the detached supervisor process.
func runAfterRun(cfg *config.ServiceConfig, args []string) error {
	spec, err := afterrun.ParseArgs(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dockerClient, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer dockerClient.Close()

	runner := &afterrun.Runner{
		Waiter:       dockerClient,
		Backoff:      &backoff.Config{Initial: time.Second, Max: cfg.AfterRunBackoffMax},
		WaitAttempts: cfg.AfterRunWaitAttempts,
	}
	return runner.Run(ctx, spec)
}
