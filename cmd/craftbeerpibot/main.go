package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"github.com/guysoft/craftbeerpibot/internal/app"
	"github.com/guysoft/craftbeerpibot/internal/command"
	"github.com/guysoft/craftbeerpibot/internal/config"
	"github.com/guysoft/craftbeerpibot/internal/logging"
	"github.com/guysoft/craftbeerpibot/internal/service"
	"github.com/guysoft/craftbeerpibot/internal/storage"
	"github.com/guysoft/craftbeerpibot/internal/telegram"
	"github.com/guysoft/craftbeerpibot/internal/timezone"
)

type Opts struct {
	Config  string `short:"c" long:"config" env:"CRAFTBEERPIBOT_CONFIG" default:"config.ini" description:"path to the INI config file"`
	Debug   bool   `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool   `short:"V" long:"version" description:"show version info"`
}

var revision = "unknown"

func main() {
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "craftbeerpibot: %v\n", err)
	}

	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "craftbeerpibot: %v\n", err)
		os.Exit(1)
	}
}

// loadDotEnv seeds the environment from path. A missing file is not an
// error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

func run(opts Opts) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}
	if opts.Debug {
		cfg.LogLevel = "debug"
	}

	logger, err := logging.New(cfg, os.Stdout)
	if err != nil {
		return err
	}
	logger.Info("starting craftbeerpibot", "version", revision, "config", cfg.Path)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := telegram.WaitForConnectivity(ctx, logger, cfg.ConnectivityURL, telegram.ConnectivityTimeout, telegram.ConnectivityDelay); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	store, err := storage.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	telegramAPI := telegram.NewAPI(cfg.APIBaseURL, cfg.BotToken, cfg.RequestTimeout, cfg.PollingInterval)
	runner := command.NewRunner()
	sessions := service.NewSessionStore(cfg.SessionIdleTimeout)
	flow := service.NewTimezoneFlow(logger, telegramAPI, runner, store, timezone.Default(), sessions, service.TimezoneFlowOptions{
		ZoneInfoDir:    cfg.ZoneInfoDir,
		Script:         cfg.TimezoneScript,
		ElevateCommand: cfg.ElevateCommand,
	})
	bot := service.NewBotService(logger, telegramAPI, runner, store, flow, service.BotOptions{
		TelemetryLogDir:     cfg.TelemetryLogDir,
		TelemetryLogPattern: cfg.TelemetryLogPattern,
	})

	errCh := make(chan error, 2)

	var server *app.HealthServer
	if cfg.HealthPort > 0 {
		server = app.NewHealthServer(cfg, logger, sessions, store)
		go func() {
			errCh <- server.ListenAndServe()
		}()
		logger.Info("health server listening", "port", cfg.HealthPort)
	}

	if err := telegramAPI.DeleteWebhook(ctx); err != nil {
		logger.Warn("delete webhook failed before polling", "error", err)
	}
	if me, err := telegramAPI.GetMe(ctx); err != nil {
		bot.HandleError(err)
	} else {
		logger.Info("bot started", "username", me.Username)
	}

	go func() {
		errCh <- telegramAPI.PollUpdates(ctx, bot.HandleUpdate, bot.HandleError)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		if server != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil && !app.IsServerClosed(err) {
				return err
			}
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, context.Canceled) || app.IsServerClosed(err) {
			return nil
		}
		return err
	}
}
